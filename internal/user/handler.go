package user

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/validator"
)

// Handler exposes the profile endpoints. Every route sits behind
// auth.RequireAccessToken.
type Handler struct {
	svc      *UserService
	validate *validator.Validator
	logger   *zap.SugaredLogger
}

func NewHandler(svc *UserService, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, validate: validator.New(), logger: logger}
}

// UpdateRequest carries optional profile changes.
type UpdateRequest struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	Name     *string `json:"name" validate:"omitempty,min=1,max=100"`
	Password *string `json:"password" validate:"omitempty,min=6,maxbytes=72"`
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		utilities.WriteError(w, http.StatusUnauthorized, "Access token required")
		return
	}
	h.show(w, r, claims.UserID)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.show(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request, id string) {
	u, err := h.svc.Profile(r.Context(), id)
	if err != nil {
		h.fail(w, "get profile", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]any{"user": u.Public()})
}

// Update changes the caller's own profile only.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		utilities.WriteError(w, http.StatusUnauthorized, "Access token required")
		return
	}
	id := chi.URLParam(r, "id")
	if id != claims.UserID {
		utilities.WriteError(w, http.StatusForbidden, "Cannot update another user")
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid update payload", "err", err)
		utilities.WriteError(w, http.StatusBadRequest, []string{"invalid payload"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.Errors
		if errors.As(err, &verrs) {
			utilities.WriteError(w, http.StatusBadRequest, []string(verrs))
			return
		}
		utilities.WriteError(w, http.StatusBadRequest, []string{"invalid payload"})
		return
	}

	u, err := h.svc.UpdateProfile(r.Context(), id, UpdateInput{Email: req.Email, Name: req.Name, Password: req.Password})
	if err != nil {
		h.fail(w, "update profile", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]any{"message": "User updated successfully", "user": u.Public()})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		utilities.WriteError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, ErrEmailTaken):
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrUnavailable):
		h.logger.Errorw(op+" failed", "err", err)
		utilities.WriteError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		h.logger.Errorw(op+" failed", "err", err)
		utilities.WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}
