package auth

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

type memUsers struct {
	mu      sync.Mutex
	byID    map[string]*entity.User
	getErr  error
	skipPre bool // GetByEmail always misses, to exercise the unique index path
}

func newMemUsers() *memUsers { return &memUsers{byID: map[string]*entity.User{}} }

func (m *memUsers) Create(_ context.Context, u *entity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.byID {
		if x.Email == u.Email {
			return userrepo.ErrDuplicateEmail
		}
	}
	u.ID = utilities.NewKSUID()
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.skipPre {
		return nil, nil
	}
	for _, u := range m.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memUsers) delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
}

// memSessions mimics the Postgres session store, including the owner join
// when users is set.
type memSessions struct {
	mu      sync.Mutex
	rows    map[string]*Session
	users   *memUsers
	now     func() time.Time
	seq     int
	failAll error
}

func newMemSessions(users *memUsers, now func() time.Time) *memSessions {
	return &memSessions{rows: map[string]*Session{}, users: users, now: now}
}

func (m *memSessions) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}
	if _, dup := m.rows[s.Token]; dup {
		return errors.New("duplicate token")
	}
	// strictly increasing creation times keep newest-first ordering stable
	m.seq++
	s.CreatedAt = m.now().Add(time.Duration(m.seq) * time.Millisecond)
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.rows[s.Token] = &cp
	return nil
}

func (m *memSessions) FindValidByToken(ctx context.Context, token string) (*Session, error) {
	m.mu.Lock()
	if m.failAll != nil {
		m.mu.Unlock()
		return nil, m.failAll
	}
	row, ok := m.rows[token]
	if !ok || row.Revoked {
		m.mu.Unlock()
		return nil, nil
	}
	cp := *row
	m.mu.Unlock()
	if m.users != nil {
		u, _ := m.users.GetByID(ctx, cp.UserID)
		cp.User = u
	}
	return &cp, nil
}

func (m *memSessions) FindByUserID(_ context.Context, userID string) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	var out []*Session
	for _, row := range m.rows {
		if row.UserID == userID {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memSessions) Revoke(_ context.Context, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	row, ok := m.rows[token]
	if !ok || row.Revoked {
		return nil, nil
	}
	row.Revoked = true
	cp := *row
	return &cp, nil
}

func (m *memSessions) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, row := range m.rows {
		if row.UserID == userID && !row.Revoked {
			row.Revoked = true
			n++
		}
	}
	return n, nil
}

func (m *memSessions) PurgeExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := m.now()
	for k, row := range m.rows {
		if row.Expired(now) {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) PurgeRevoked(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, row := range m.rows {
		if row.Revoked {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) expire(token string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[token].ExpiresAt = at
}

func (m *memSessions) get(token string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[token]; ok {
		cp := *row
		return &cp
	}
	return nil
}

type testHasher struct{}

func (testHasher) Hash(pw string) (string, string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	if err != nil {
		return "", "", err
	}
	return string(h), string(h[:29]), nil
}

func (testHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

var errStoreDown = database.Unavailable("query", errors.New("connection refused"))

type fixture struct {
	svc      *Service
	users    *memUsers
	sessions *memSessions
	clock    *testClock
	issuer   *TokenIssuer
}

func newFixture(opts ...Option) *fixture {
	clk := newTestClock()
	users := newMemUsers()
	sessions := newMemSessions(users, clk.Now)
	iss := NewTokenIssuer("test-secret", 15*time.Minute, 7*24*time.Hour).WithClock(clk.Now)
	return &fixture{
		svc:      NewService(users, sessions, iss, testHasher{}, nil, opts...),
		users:    users,
		sessions: sessions,
		clock:    clk,
		issuer:   iss,
	}
}
