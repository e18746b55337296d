package auth

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/validator"
)

// Handler exposes the auth endpoints.
type Handler struct {
	svc      *Service
	validate *validator.Validator
	logger   *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, validate: validator.New(), logger: logger}
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=100"`
	Password string `json:"password" validate:"required,min=6,maxbytes=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest is the body of refresh and logout.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Register(r.Context(), RegisterInput{
		Email:      req.Email,
		Name:       req.Name,
		Password:   req.Password,
		DeviceInfo: r.UserAgent(),
		IPAddress:  clientIP(r),
	})
	if err != nil {
		h.fail(w, "register", err, http.StatusBadRequest)
		return
	}
	utilities.WriteJSON(w, http.StatusCreated, map[string]any{
		"message":      "User registered successfully",
		"user":         res.User,
		"accessToken":  res.AccessToken,
		"refreshToken": res.RefreshToken,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		DeviceInfo: r.UserAgent(),
		IPAddress:  clientIP(r),
	})
	if err != nil {
		h.fail(w, "login", err, http.StatusUnauthorized)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]any{
		"message":      "Login successful",
		"user":         res.User,
		"accessToken":  res.AccessToken,
		"refreshToken": res.RefreshToken,
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.svc.Refresh(r.Context(), RefreshInput{
		RefreshToken: req.RefreshToken,
		DeviceInfo:   r.UserAgent(),
		IPAddress:    clientIP(r),
	})
	if err != nil {
		h.fail(w, "refresh", err, http.StatusUnauthorized)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]any{
		"message":      "Token refreshed successfully",
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		h.fail(w, "logout", err, http.StatusBadRequest)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// LogoutAll requires RequireAccessToken in front of it.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		utilities.WriteError(w, http.StatusUnauthorized, "Access token required")
		return
	}
	revoked, err := h.svc.LogoutAll(r.Context(), claims.UserID)
	if err != nil {
		h.fail(w, "logout all", err, http.StatusBadRequest)
		return
	}
	msg := "No active sessions"
	if revoked {
		msg = "Logged out from all devices"
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// Sessions requires RequireAccessToken in front of it.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		utilities.WriteError(w, http.StatusUnauthorized, "Access token required")
		return
	}
	views, err := h.svc.ListActiveSessions(r.Context(), claims.UserID)
	if err != nil {
		h.fail(w, "list sessions", err, http.StatusInternalServerError)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		utilities.WriteError(w, http.StatusBadRequest, []string{"invalid payload"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.Errors
		if errors.As(err, &verrs) {
			utilities.WriteError(w, http.StatusBadRequest, []string(verrs))
			return false
		}
		utilities.WriteError(w, http.StatusBadRequest, []string{"invalid payload"})
		return false
	}
	return true
}

// fail maps err to a response. Domain errors use the endpoint's status,
// storage outages 503, anything else 500.
func (h *Handler) fail(w http.ResponseWriter, op string, err error, status int) {
	switch {
	case errors.Is(err, database.ErrUnavailable):
		h.logger.Errorw(op+" failed", "err", err)
		utilities.WriteError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	case errors.Is(err, ErrEmailAlreadyExists),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidRefreshToken),
		errors.Is(err, ErrRefreshTokenExpired),
		errors.Is(err, ErrRefreshTokenInvalid),
		errors.Is(err, ErrUserNotFound):
		h.logger.Debugw(op+" rejected", "err", err)
		utilities.WriteError(w, status, err.Error())
	default:
		h.logger.Errorw(op+" failed", "err", err)
		utilities.WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// clientIP strips the port chi's RealIP leaves on RemoteAddr when no proxy
// header was present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
