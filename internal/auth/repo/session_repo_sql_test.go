package repo

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

var (
	sessionCols = []string{"id", "token", "user_id", "expires_at", "revoked", "device_info", "ip_address", "created_at", "updated_at"}
	ownerCols   = []string{"u_email", "u_name", "u_password_hash", "u_password_salt", "u_created_at", "u_updated_at"}
)

func newMockSessionRepo(t *testing.T, now time.Time) (*SessionRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewSessionRepo(sqlx.NewDb(db, "postgres")).WithClock(func() time.Time { return now }), mock
}

func TestSessionRepoSQL_CreateUsesClock(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r, mock := newMockSessionRepo(t, now)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)).
		WithArgs(sqlmock.AnyArg(), "tok", "u1", now.Add(time.Hour), false, nil, "10.0.0.1", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s := &auth.Session{Token: "tok", UserID: "u1", ExpiresAt: now.Add(time.Hour), IPAddress: strPtr("10.0.0.1")}
	if err := r.Create(context.Background(), s); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID == "" || !s.CreatedAt.Equal(now) || !s.UpdatedAt.Equal(now) {
		t.Errorf("session = %+v, want stamps at %v", s, now)
	}
}

func TestSessionRepoSQL_FindValidByTokenJoinsOwner(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r, mock := newMockSessionRepo(t, now)
	ctx := context.Background()
	find := regexp.QuoteMeta(`FROM sessions s JOIN users u ON u.id = s.user_id WHERE s.token=$1 AND s.revoked=false`)

	rows := sqlmock.NewRows(append(append([]string{}, sessionCols...), ownerCols...)).
		AddRow("s1", "tok", "u1", now.Add(time.Hour), false, "curl/8", nil, now, now,
			"ada@example.com", "Ada", "$2a$04$hash", "$2a$04$salt", now, now)
	mock.ExpectQuery(find).WithArgs("tok").WillReturnRows(rows)

	got, err := r.FindValidByToken(ctx, "tok")
	if err != nil || got == nil {
		t.Fatalf("FindValidByToken = %+v, %v", got, err)
	}
	if got.ID != "s1" || got.UserID != "u1" || !got.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("session = %+v", got)
	}
	if got.DeviceInfo == nil || *got.DeviceInfo != "curl/8" || got.IPAddress != nil {
		t.Errorf("optional fields = %v / %v", got.DeviceInfo, got.IPAddress)
	}
	if got.User == nil || got.User.ID != "u1" || got.User.Email != "ada@example.com" || got.User.PasswordHash != "$2a$04$hash" {
		t.Errorf("owner = %+v", got.User)
	}

	mock.ExpectQuery(find).WithArgs("gone").
		WillReturnRows(sqlmock.NewRows(append(append([]string{}, sessionCols...), ownerCols...)))
	if got, err := r.FindValidByToken(ctx, "gone"); err != nil || got != nil {
		t.Errorf("missing token = %+v, %v", got, err)
	}

	mock.ExpectQuery(find).WithArgs("tok").WillReturnError(errors.New("connection refused"))
	if _, err := r.FindValidByToken(ctx, "tok"); !errors.Is(err, database.ErrUnavailable) {
		t.Errorf("driver failure = %v, want ErrUnavailable", err)
	}
}

func TestSessionRepoSQL_RevokeIsCompareAndSwap(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r, mock := newMockSessionRepo(t, now)
	ctx := context.Background()
	revoke := regexp.QuoteMeta(`UPDATE sessions SET revoked=true, updated_at=NOW() WHERE token=$1 AND revoked=false RETURNING ` + sessionColumns)

	mock.ExpectQuery(revoke).WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow("s1", "tok", "u1", now.Add(time.Hour), true, nil, nil, now, now))
	got, err := r.Revoke(ctx, "tok")
	if err != nil || got == nil || got.ID != "s1" || got.UserID != "u1" || !got.Revoked {
		t.Fatalf("Revoke = %+v, %v", got, err)
	}

	// the losing caller matches no row
	mock.ExpectQuery(revoke).WithArgs("tok").WillReturnRows(sqlmock.NewRows(sessionCols))
	if got, err := r.Revoke(ctx, "tok"); err != nil || got != nil {
		t.Errorf("second Revoke = %+v, %v", got, err)
	}

	mock.ExpectQuery(revoke).WithArgs("tok").WillReturnError(errors.New("connection refused"))
	if _, err := r.Revoke(ctx, "tok"); !errors.Is(err, database.ErrUnavailable) {
		t.Errorf("driver failure = %v, want ErrUnavailable", err)
	}
}

func TestSessionRepoSQL_ListRevokeAllPurge(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r, mock := newMockSessionRepo(t, now)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+sessionColumns+` FROM sessions WHERE user_id=$1 ORDER BY created_at DESC`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(sessionCols).
			AddRow("s2", "b", "u1", now.Add(time.Hour), false, nil, nil, now.Add(time.Second), now).
			AddRow("s1", "a", "u1", now.Add(time.Hour), true, nil, nil, now, now))
	list, err := r.FindByUserID(ctx, "u1")
	if err != nil || len(list) != 2 || list[0].Token != "b" || !list[1].Revoked {
		t.Fatalf("FindByUserID = %+v, %v", list, err)
	}

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET revoked=true, updated_at=NOW() WHERE user_id=$1 AND revoked=false`)).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	if n, err := r.RevokeAllForUser(ctx, "u1"); err != nil || n != 3 {
		t.Errorf("RevokeAllForUser = %d, %v", n, err)
	}

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sessions WHERE expires_at < $1`)).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 2))
	if n, err := r.PurgeExpired(ctx); err != nil || n != 2 {
		t.Errorf("PurgeExpired = %d, %v", n, err)
	}

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sessions WHERE revoked=true`)).
		WillReturnError(errors.New("connection refused"))
	if _, err := r.PurgeRevoked(ctx); !errors.Is(err, database.ErrUnavailable) {
		t.Errorf("PurgeRevoked failure = %v, want ErrUnavailable", err)
	}
}
