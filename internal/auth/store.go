package auth

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

// CredentialStore persists user accounts. Lookups return nil, nil when absent.
type CredentialStore interface {
	// Create assigns id and timestamps. A taken email yields repo.ErrDuplicateEmail.
	Create(ctx context.Context, u *entity.User) error
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByID(ctx context.Context, id string) (*entity.User, error)
}

// SessionStore persists refresh-token sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	// FindValidByToken returns the non-revoked session for token, with its
	// owner when available. Expiry is not checked here.
	FindValidByToken(ctx context.Context, token string) (*Session, error)
	// FindByUserID returns every session of the user, newest first.
	FindByUserID(ctx context.Context, userID string) ([]*Session, error)
	// Revoke flips revoked for a non-revoked session and returns it, or nil
	// when there was nothing to revoke. At most one concurrent caller gets
	// the session back.
	Revoke(ctx context.Context, token string) (*Session, error)
	// RevokeAllForUser revokes every non-revoked session of the user.
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	PurgeExpired(ctx context.Context) (int64, error)
	PurgeRevoked(ctx context.Context) (int64, error)
}

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(pw string) (hash string, salt string, err error)
	Verify(hash, pw string) bool
}
