package auth

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestParseExpiry(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"7d", 7 * 24 * time.Hour, true},
		{"24h", 24 * time.Hour, true},
		{"60m", time.Hour, true},
		{"0m", 0, true},
		{"15s", 0, false},
		{"7 d", 0, false},
		{"d", 0, false},
		{"-1d", 0, false},
		{"1.5h", 0, false},
		{"", 0, false},
		{"99999999999999999d", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseExpiry(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParseExpiry(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestTokenIssuer_AccessRoundTrip(t *testing.T) {
	clk := newTestClock()
	iss := NewTokenIssuer("secret", 15*time.Minute, 0).WithClock(clk.Now)
	u := &entity.User{ID: "u1", Email: "a@x.com"}

	tok, err := iss.IssueAccessToken(u)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	claims, err := iss.VerifyAccessToken(tok)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if claims.UserID != "u1" || claims.Email != "a@x.com" || claims.Type != TokenTypeAccess {
		t.Errorf("claims = %+v", claims)
	}
	if claims.ExpiresAt.Time.Sub(clk.Now()) != 15*time.Minute {
		t.Errorf("exp = %v", claims.ExpiresAt.Time)
	}
}

func TestTokenIssuer_AccessExpired(t *testing.T) {
	clk := newTestClock()
	iss := NewTokenIssuer("secret", 15*time.Minute, 0).WithClock(clk.Now)
	tok, _ := iss.IssueAccessToken(&entity.User{ID: "u1"})

	clk.Advance(16 * time.Minute)
	if _, err := iss.VerifyAccessToken(tok); err != ErrInvalidToken {
		t.Fatalf("expired token: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenIssuer_RejectsForeignAndMalformed(t *testing.T) {
	iss := NewTokenIssuer("secret", 0, 0)
	other := NewTokenIssuer("other-secret", 0, 0)
	tok, _ := other.IssueAccessToken(&entity.User{ID: "u1"})

	for name, in := range map[string]string{
		"wrong key": tok,
		"garbage":   "invalid-token",
		"empty":     "",
	} {
		if _, err := iss.VerifyAccessToken(in); err != ErrInvalidToken {
			t.Errorf("%s: want ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestTokenIssuer_RejectsWrongType(t *testing.T) {
	iss := NewTokenIssuer("secret", 0, 0)
	claims := AccessClaims{
		UserID: "u1",
		Type:   "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := iss.VerifyAccessToken(tok); err != ErrInvalidToken {
		t.Fatalf("type=refresh: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenIssuer_RejectsNoneAlg(t *testing.T) {
	iss := NewTokenIssuer("secret", 0, 0)
	claims := AccessClaims{
		UserID:           "u1",
		Type:             TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := iss.VerifyAccessToken(tok); err != ErrInvalidToken {
		t.Fatalf("alg=none: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenIssuer_RefreshToken(t *testing.T) {
	iss := NewTokenIssuer("secret", 0, 0)
	a, err := iss.IssueRefreshToken()
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	raw, err := hex.DecodeString(a)
	if err != nil || len(raw) < 32 {
		t.Fatalf("refresh token should be >= 256 bits of hex, got %q", a)
	}
	b, _ := iss.IssueRefreshToken()
	if a == b {
		t.Error("refresh tokens should be unique")
	}
}

func TestTokenIssuer_Defaults(t *testing.T) {
	clk := newTestClock()
	iss := NewTokenIssuer("secret", 0, -1).WithClock(clk.Now)
	if iss.AccessTTL() != DefaultAccessTTL || iss.RefreshTTL() != DefaultRefreshTTL {
		t.Errorf("ttl defaults = %v / %v", iss.AccessTTL(), iss.RefreshTTL())
	}
	if got := iss.RefreshExpiry(); !got.Equal(clk.Now().Add(7 * 24 * time.Hour)) {
		t.Errorf("RefreshExpiry = %v", got)
	}
}
