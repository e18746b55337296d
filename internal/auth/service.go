package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/events"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

var (
	ErrEmailAlreadyExists  = errors.New("user with this email already exists")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrRefreshTokenInvalid covers a session that fails the validity check
	// after lookup. Stores only return non-revoked rows, so it is not expected.
	ErrRefreshTokenInvalid = errors.New("refresh token is invalid")
	ErrUserNotFound        = errors.New("user not found")
)

const (
	maxDeviceInfoLen = 500
	maxIPAddressLen  = 45
)

// RegisterInput is a new account plus the client that asked for it.
type RegisterInput struct {
	Email      string
	Name       string
	Password   string
	DeviceInfo string
	IPAddress  string
}

type LoginInput struct {
	Email      string
	Password   string
	DeviceInfo string
	IPAddress  string
}

type RefreshInput struct {
	RefreshToken string
	DeviceInfo   string
	IPAddress    string
}

// Service coordinates credentials, sessions and tokens.
type Service struct {
	users     CredentialStore
	sessions  SessionStore
	issuer    *TokenIssuer
	hasher    PasswordHasher
	logger    *zap.SugaredLogger
	publisher events.Publisher
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	dummyOnce sync.Once
	dummyHash string
}

// Option configures optional collaborators.
type Option func(*Service)

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(users CredentialStore, sessions SessionStore, issuer *TokenIssuer, hasher PasswordHasher, logger *zap.SugaredLogger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Service{
		users:     users,
		sessions:  sessions,
		issuer:    issuer,
		hasher:    hasher,
		logger:    logger,
		publisher: events.Nop{},
		tracer:    otel.Tracer("github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register creates the account and opens its first session.
func (s *Service) Register(ctx context.Context, in RegisterInput) (res *AuthResult, err error) {
	ctx, done := s.begin(ctx, "register")
	defer func() { done(err) }()

	existing, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyExists
	}

	hash, salt, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	u := &entity.User{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		PasswordSalt: salt,
	}
	if err := s.users.Create(ctx, u); err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, userrepo.ErrDuplicateEmail) {
			return nil, ErrEmailAlreadyExists
		}
		return nil, err
	}

	pair, sess, err := s.issuePair(ctx, u, in.DeviceInfo, in.IPAddress)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("user registered", "user_id", u.ID)
	s.publish(ctx, events.Event{Type: events.UserRegistered, UserID: u.ID, SessionID: sess.ID, IPAddress: in.IPAddress})
	return &AuthResult{TokenPair: *pair, User: u.Public()}, nil
}

// Login authenticates by email and password. Unknown email and wrong password
// are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, in LoginInput) (res *AuthResult, err error) {
	ctx, done := s.begin(ctx, "login")
	defer func() { done(err) }()

	u, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		// keep the response time close to a real password check
		s.hasher.Verify(s.dummy(), in.Password)
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(u.PasswordHash, in.Password) {
		s.logger.Infow("login rejected", "user_id", u.ID)
		return nil, ErrInvalidCredentials
	}

	pair, sess, err := s.issuePair(ctx, u, in.DeviceInfo, in.IPAddress)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("user logged in", "user_id", u.ID, "session_id", sess.ID)
	s.publish(ctx, events.Event{Type: events.UserLoggedIn, UserID: u.ID, SessionID: sess.ID, IPAddress: in.IPAddress})
	return &AuthResult{TokenPair: *pair, User: u.Public()}, nil
}

// Refresh rotates the presented refresh token. The old session is revoked
// before the new one is created; of two concurrent refreshes with the same
// token, exactly one succeeds.
func (s *Service) Refresh(ctx context.Context, in RefreshInput) (pair *TokenPair, err error) {
	ctx, done := s.begin(ctx, "refresh")
	defer func() { done(err) }()

	if in.RefreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	sess, err := s.sessions.FindValidByToken(ctx, in.RefreshToken)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrInvalidRefreshToken
	}

	now := s.issuer.Now()
	if sess.Expired(now) {
		if _, err := s.sessions.Revoke(ctx, in.RefreshToken); err != nil {
			return nil, err
		}
		s.publish(ctx, events.Event{Type: events.SessionExpired, UserID: sess.UserID, SessionID: sess.ID})
		return nil, ErrRefreshTokenExpired
	}
	if !sess.Valid(now) {
		return nil, ErrRefreshTokenInvalid
	}

	u := sess.User
	if u == nil {
		if u, err = s.users.GetByID(ctx, sess.UserID); err != nil {
			return nil, err
		}
	}
	if u == nil {
		return nil, ErrUserNotFound
	}

	claimed, err := s.sessions.Revoke(ctx, in.RefreshToken)
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return nil, ErrInvalidRefreshToken
	}

	pair, next, err := s.issuePair(ctx, u, in.DeviceInfo, in.IPAddress)
	if err != nil {
		return nil, err
	}
	s.logger.Debugw("session rotated", "user_id", u.ID, "from", sess.ID, "to", next.ID)
	s.publish(ctx, events.Event{Type: events.SessionRefreshed, UserID: u.ID, SessionID: next.ID, IPAddress: in.IPAddress})
	return pair, nil
}

// Logout revokes the session behind refreshToken.
func (s *Service) Logout(ctx context.Context, refreshToken string) (err error) {
	ctx, done := s.begin(ctx, "logout")
	defer func() { done(err) }()

	if refreshToken == "" {
		return ErrInvalidRefreshToken
	}
	sess, err := s.sessions.Revoke(ctx, refreshToken)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrInvalidRefreshToken
	}
	s.logger.Infow("session revoked", "user_id", sess.UserID, "session_id", sess.ID)
	s.publish(ctx, events.Event{Type: events.SessionRevoked, UserID: sess.UserID, SessionID: sess.ID})
	return nil
}

// LogoutAll revokes every session of userID. It reports whether any was revoked.
func (s *Service) LogoutAll(ctx context.Context, userID string) (ok bool, err error) {
	ctx, done := s.begin(ctx, "logout_all")
	defer func() { done(err) }()

	n, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if n > 0 {
		s.logger.Infow("all sessions revoked", "user_id", userID, "count", n)
		s.publish(ctx, events.Event{Type: events.SessionsRevokedAll, UserID: userID, Count: n})
	}
	return n > 0, nil
}

// ListActiveSessions returns the user's valid sessions, newest first.
func (s *Service) ListActiveSessions(ctx context.Context, userID string) (views []SessionView, err error) {
	ctx, done := s.begin(ctx, "list_sessions")
	defer func() { done(err) }()

	all, err := s.sessions.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.issuer.Now()
	views = make([]SessionView, 0, len(all))
	for _, sess := range all {
		if sess.Valid(now) {
			views = append(views, sess.View())
		}
	}
	return views, nil
}

// PurgeExpired deletes sessions past their expiry.
func (s *Service) PurgeExpired(ctx context.Context) (n int64, err error) {
	ctx, done := s.begin(ctx, "purge_expired")
	defer func() { done(err) }()

	n, err = s.sessions.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	s.metrics.Purged("expired", n)
	return n, nil
}

// PurgeRevoked deletes revoked sessions.
func (s *Service) PurgeRevoked(ctx context.Context) (n int64, err error) {
	ctx, done := s.begin(ctx, "purge_revoked")
	defer func() { done(err) }()

	n, err = s.sessions.PurgeRevoked(ctx)
	if err != nil {
		return 0, err
	}
	s.metrics.Purged("revoked", n)
	return n, nil
}

func (s *Service) issuePair(ctx context.Context, u *entity.User, device, ip string) (*TokenPair, *Session, error) {
	access, err := s.issuer.IssueAccessToken(u)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := s.issuer.IssueRefreshToken()
	if err != nil {
		return nil, nil, err
	}
	sess := &Session{
		ID:         utilities.NewKSUID(),
		Token:      refresh,
		UserID:     u.ID,
		ExpiresAt:  s.issuer.RefreshExpiry(),
		DeviceInfo: optional(device, maxDeviceInfoLen),
		IPAddress:  optional(ip, maxIPAddressLen),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, sess, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, _, err := s.hasher.Hash("pitchfork-dummy-password")
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warnw("publish event failed", "type", e.Type, "error", err)
	}
}

// begin opens a span for op; the returned func records the outcome.
func (s *Service) begin(ctx context.Context, op string) (context.Context, func(error)) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "auth."+op)
	return ctx, func(err error) {
		result := metrics.ResultOK
		if err != nil {
			result = errorKind(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		span.SetAttributes(attribute.String("auth.result", result))
		span.End()
		s.metrics.Observe(op, result, started)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrEmailAlreadyExists):
		return "email_exists"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrInvalidRefreshToken), errors.Is(err, ErrRefreshTokenInvalid):
		return "invalid_refresh_token"
	case errors.Is(err, ErrRefreshTokenExpired):
		return "refresh_token_expired"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	default:
		return metrics.ResultError
	}
}

func optional(v string, max int) *string {
	if v == "" {
		return nil
	}
	if r := []rune(v); len(r) > max {
		v = string(r[:max])
	}
	return &v
}
