package http

import (
	"net/http"
	"time"

	"github.com/memora-app/memora/internal/domain"
)

// Cookie names used by the session and the federated login flow.
const (
	CookieAccess   = "access-session"
	CookieRefresh  = "refresh-session"
	CookieOIDCFlow = "oidc-flow"
)

// CookieConfig controls the attributes of the cookies the service sets.
type CookieConfig struct {
	Domain     string
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	FlowTTL    time.Duration
}

// setSessionCookies installs both session cookies. HttpOnly keeps them away
// from scripts; SameSite=Lax still sends them on top-level navigation, which
// the federated callback redirect relies on.
func setSessionCookies(w http.ResponseWriter, cfg CookieConfig, tokens *domain.TokenPair) {
	http.SetCookie(w, sessionCookie(cfg, CookieAccess, tokens.AccessToken, cfg.AccessTTL))
	http.SetCookie(w, sessionCookie(cfg, CookieRefresh, tokens.RefreshToken, cfg.RefreshTTL))
}

// clearSessionCookies expires both session cookies.
func clearSessionCookies(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, expiredCookie(cfg, CookieAccess))
	http.SetCookie(w, expiredCookie(cfg, CookieRefresh))
}

func setFlowCookie(w http.ResponseWriter, cfg CookieConfig, value string) {
	http.SetCookie(w, sessionCookie(cfg, CookieOIDCFlow, value, cfg.FlowTTL))
}

func clearFlowCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, expiredCookie(cfg, CookieOIDCFlow))
}

func sessionCookie(cfg CookieConfig, name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func expiredCookie(cfg CookieConfig, name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
