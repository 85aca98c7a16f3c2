package http

import (
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/memora-app/memora/pkg/errors"
	"github.com/memora-app/memora/pkg/httputil"
	"github.com/memora-app/memora/pkg/middleware"

	"github.com/memora-app/memora/internal/domain"
	"github.com/memora-app/memora/internal/service"
)

// AccountHandler handles HTTP requests for the authenticated user's account.
type AccountHandler struct {
	service *service.AuthService
	cookies CookieConfig
	logger  *slog.Logger
}

// NewAccountHandler creates a new account HTTP handler.
func NewAccountHandler(svc *service.AuthService, cookies CookieConfig, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{service: svc, cookies: cookies, logger: logger}
}

// UserResponse is the public view of a user account.
type UserResponse struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	PictureURL    string    `json:"picture_url,omitempty"`
	Provider      string    `json:"provider"`
	CreatedAt     time.Time `json:"created_at"`
}

func newUserResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:            user.ID,
		Username:      user.Username,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		PictureURL:    user.PictureURL,
		Provider:      string(user.Provider()),
		CreatedAt:     user.CreatedAt,
	}
}

// GetProfile handles GET /api/v1/users/me
func (h *AccountHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, r, apperrors.Unauthorized("user not authenticated"), h.logger)
		return
	}

	user, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: newUserResponse(user)})
}

// DeleteAccount handles DELETE /api/v1/users/me
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, r, apperrors.Unauthorized("user not authenticated"), h.logger)
		return
	}

	if err := h.service.DeleteAccount(r.Context(), userID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	clearSessionCookies(w, h.cookies)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"status": "deleted"},
	})
}
