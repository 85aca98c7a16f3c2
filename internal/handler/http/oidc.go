package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/memora-app/memora/pkg/httputil"

	"github.com/memora-app/memora/internal/oidc"
	"github.com/memora-app/memora/internal/service"
)

// FlowCoordinator drives the provider side of the federated login flow.
type FlowCoordinator interface {
	Begin() (oidc.FlowState, string, error)
	Exchange(ctx context.Context, code string, flow oidc.FlowState) (*oidc.Identity, error)
}

// OIDCHandler handles the federated login endpoints. Errors during the
// browser flow surface as redirects back to the frontend login page, not as
// JSON, because the user agent is mid-navigation.
type OIDCHandler struct {
	coordinator FlowCoordinator
	codec       *oidc.FlowCookieCodec
	service     *service.AuthService
	cookies     CookieConfig
	frontendURL string
	logger      *slog.Logger
}

// NewOIDCHandler creates a new federated login handler.
func NewOIDCHandler(
	coordinator FlowCoordinator,
	codec *oidc.FlowCookieCodec,
	svc *service.AuthService,
	cookies CookieConfig,
	frontendURL string,
	logger *slog.Logger,
) *OIDCHandler {
	return &OIDCHandler{
		coordinator: coordinator,
		codec:       codec,
		service:     svc,
		cookies:     cookies,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// Begin handles GET /api/v1/auth/oidc/google. It seals the per-flow secrets
// into a cookie and redirects to the provider.
func (h *OIDCHandler) Begin(w http.ResponseWriter, r *http.Request) {
	flow, authURL, err := h.coordinator.Begin()
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	sealed, err := h.codec.Encode(flow)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	setFlowCookie(w, h.cookies, sealed)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles GET /api/v1/auth/oidc/google/callback. The flow cookie is
// single use: it is cleared before anything else can fail.
func (h *OIDCHandler) Callback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(CookieOIDCFlow)
	clearFlowCookie(w, h.cookies)
	if err != nil || cookie.Value == "" {
		h.redirectError(w, r, "login_failed")
		return
	}

	flow, err := h.codec.Decode(cookie.Value)
	if err != nil {
		h.logger.WarnContext(r.Context(), "federated callback with bad flow cookie")
		h.redirectError(w, r, "login_failed")
		return
	}

	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		h.logger.InfoContext(r.Context(), "provider returned an error",
			slog.String("error", providerErr))
		h.redirectError(w, r, "login_failed")
		return
	}

	state := query.Get("state")
	if subtle.ConstantTimeCompare([]byte(state), []byte(flow.State)) != 1 {
		h.logger.WarnContext(r.Context(), "federated callback state mismatch")
		h.redirectError(w, r, "login_failed")
		return
	}

	identity, err := h.coordinator.Exchange(r.Context(), query.Get("code"), flow)
	if err != nil {
		if errors.Is(err, oidc.ErrEmailUnverified) {
			h.redirectError(w, r, "email_unverified")
			return
		}
		h.logger.ErrorContext(r.Context(), "federated code exchange failed",
			slog.String("error", err.Error()))
		h.redirectError(w, r, "login_failed")
		return
	}

	_, tokens, err := h.service.LoginFederated(r.Context(), service.FederatedIdentity{
		ExternalID: identity.ExternalID,
		Email:      identity.Email,
		Name:       identity.Name,
		PictureURL: identity.PictureURL,
	}, sessionMeta(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "federated login failed",
			slog.String("error", err.Error()))
		h.redirectError(w, r, "login_failed")
		return
	}

	setSessionCookies(w, h.cookies, tokens)
	http.Redirect(w, r, h.frontendURL, http.StatusFound)
}

func (h *OIDCHandler) redirectError(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, h.frontendURL+"/login?error="+code, http.StatusFound)
}
