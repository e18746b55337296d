package auth

import (
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

// Session is the persisted record behind one issued refresh token.
type Session struct {
	ID         string    `db:"id"`
	Token      string    `db:"token"`
	UserID     string    `db:"user_id"`
	ExpiresAt  time.Time `db:"expires_at"`
	Revoked    bool      `db:"revoked"`
	DeviceInfo *string   `db:"device_info"`
	IPAddress  *string   `db:"ip_address"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`

	// User is the owning account when the store could join it.
	User *entity.User `db:"-"`
}

// Expired reports whether now is past the stored expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Valid reports !revoked && now <= expiry.
func (s *Session) Valid(now time.Time) bool {
	return !s.Revoked && !s.Expired(now)
}

// SessionView is the client-visible part of a session. The token value is never exposed.
type SessionView struct {
	ID         string    `json:"id"`
	DeviceInfo *string   `json:"deviceInfo"`
	IPAddress  *string   `json:"ipAddress"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (s *Session) View() SessionView {
	return SessionView{
		ID:         s.ID,
		DeviceInfo: s.DeviceInfo,
		IPAddress:  s.IPAddress,
		CreatedAt:  s.CreatedAt,
		ExpiresAt:  s.ExpiresAt,
	}
}

// TokenPair is returned by every successful login, registration or refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// AuthResult is the register/login response.
type AuthResult struct {
	TokenPair
	User entity.PublicView `json:"user"`
}
