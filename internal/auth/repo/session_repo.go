package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

const sessionColumns = `id, token, user_id, expires_at, revoked, device_info, ip_address, created_at, updated_at`

// SessionRepo stores sessions in Postgres using sqlx.
type SessionRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewSessionRepo(db *sqlx.DB) *SessionRepo { return &SessionRepo{db: db, now: time.Now} }

// WithClock sets the clock used for creation stamps and PurgeExpired.
func (r *SessionRepo) WithClock(now func() time.Time) *SessionRepo {
	r.now = now
	return r
}

func (r *SessionRepo) Create(ctx context.Context, s *auth.Session) error {
	if s.ID == "" {
		s.ID = utilities.NewKSUID()
	}
	now := r.now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	const q = `INSERT INTO sessions (` + sessionColumns + `)
		VALUES (:id, :token, :user_id, :expires_at, :revoked, :device_info, :ip_address, :created_at, :updated_at)`
	ctx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()
	if _, err := r.db.NamedExecContext(ctx, q, s); err != nil {
		return database.Unavailable("create session", err)
	}
	return nil
}

// sessionWithUser is one row of the sessions/users join.
type sessionWithUser struct {
	auth.Session
	UEmail        string    `db:"u_email"`
	UName         string    `db:"u_name"`
	UPasswordHash string    `db:"u_password_hash"`
	UPasswordSalt string    `db:"u_password_salt"`
	UCreatedAt    time.Time `db:"u_created_at"`
	UUpdatedAt    time.Time `db:"u_updated_at"`
}

// FindValidByToken returns the non-revoked session with its owner, or nil.
func (r *SessionRepo) FindValidByToken(ctx context.Context, token string) (*auth.Session, error) {
	const q = `SELECT s.id, s.token, s.user_id, s.expires_at, s.revoked, s.device_info, s.ip_address,
			s.created_at, s.updated_at,
			u.email AS u_email, u.name AS u_name, u.password_hash AS u_password_hash,
			u.password_salt AS u_password_salt, u.created_at AS u_created_at, u.updated_at AS u_updated_at
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.token=$1 AND s.revoked=false`
	row, err := database.GetOne[sessionWithUser](ctx, r.db, q, token)
	if err != nil {
		return nil, database.Unavailable("find session", err)
	}
	if row == nil {
		return nil, nil
	}
	s := row.Session
	s.User = &entity.User{
		ID:           s.UserID,
		Email:        row.UEmail,
		Name:         row.UName,
		PasswordHash: row.UPasswordHash,
		PasswordSalt: row.UPasswordSalt,
		CreatedAt:    row.UCreatedAt,
		UpdatedAt:    row.UUpdatedAt,
	}
	return &s, nil
}

func (r *SessionRepo) FindByUserID(ctx context.Context, userID string) ([]*auth.Session, error) {
	rows, err := database.Select[auth.Session](ctx, r.db,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, database.Unavailable("list sessions", err)
	}
	out := make([]*auth.Session, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// Revoke only touches a non-revoked row, so concurrent callers cannot both win.
// The loser sees no row and gets nil.
func (r *SessionRepo) Revoke(ctx context.Context, token string) (*auth.Session, error) {
	s, err := database.GetOne[auth.Session](ctx, r.db,
		`UPDATE sessions SET revoked=true, updated_at=NOW() WHERE token=$1 AND revoked=false RETURNING `+sessionColumns, token)
	if err != nil {
		return nil, database.Unavailable("revoke session", err)
	}
	return s, nil
}

func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	n, err := database.Exec(ctx, r.db,
		`UPDATE sessions SET revoked=true, updated_at=NOW() WHERE user_id=$1 AND revoked=false`, userID)
	if err != nil {
		return 0, database.Unavailable("revoke user sessions", err)
	}
	return n, nil
}

func (r *SessionRepo) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := database.Exec(ctx, r.db, `DELETE FROM sessions WHERE expires_at < $1`, r.now().UTC())
	if err != nil {
		return 0, database.Unavailable("purge expired sessions", err)
	}
	return n, nil
}

func (r *SessionRepo) PurgeRevoked(ctx context.Context) (int64, error) {
	n, err := database.Exec(ctx, r.db, `DELETE FROM sessions WHERE revoked=true`)
	if err != nil {
		return 0, database.Unavailable("purge revoked sessions", err)
	}
	return n, nil
}

var _ auth.SessionStore = (*SessionRepo)(nil)
