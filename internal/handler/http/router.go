package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memora-app/memora/pkg/health"
	"github.com/memora-app/memora/pkg/middleware"

	"github.com/memora-app/memora/internal/auth"
	"github.com/memora-app/memora/internal/oidc"
	"github.com/memora-app/memora/internal/service"
)

// RouterConfig carries everything the router wires together.
type RouterConfig struct {
	Service *service.AuthService
	Issuer  *auth.TokenIssuer

	// Coordinator may be nil when no federated provider is configured; the
	// oidc routes are then not mounted.
	Coordinator FlowCoordinator
	FlowCodec   *oidc.FlowCookieCodec

	Health  *health.Handler
	Limiter *middleware.RateLimiter

	Cookies     CookieConfig
	CORS        middleware.CORSConfig
	TimingFloor time.Duration
	FrontendURL string

	Logger *slog.Logger
}

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.Tracing("memora-auth"))
	r.Use(middleware.PrometheusMetrics("auth"))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	authHandler := NewAuthHandler(cfg.Service, cfg.Cookies, cfg.Logger)
	accountHandler := NewAccountHandler(cfg.Service, cfg.Cookies, cfg.Logger)

	// Token validator bridging the session middleware to the token issuer.
	tokenValidator := func(token string) (*middleware.Claims, error) {
		claims, err := cfg.Issuer.Verify(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{UserID: claims.UserID, Email: claims.Email}, nil
	}
	sessionAuth := middleware.Auth(tokenValidator, CookieAccess)

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		// Endpoints that trigger outbound mail: tightest budget plus a
		// constant response-time floor.
		r.Group(func(r chi.Router) {
			r.Use(cfg.Limiter.Limit(middleware.TierSensitive))
			r.Use(middleware.MinResponseTime(cfg.TimingFloor))

			r.Post("/request-password-reset", authHandler.RequestPasswordReset)
			r.Post("/resend-verification", authHandler.ResendVerification)
		})

		// Endpoints that accept or guess a password: auth budget, still
		// behind the response-time floor.
		r.Group(func(r chi.Router) {
			r.Use(cfg.Limiter.Limit(middleware.TierAuth))
			r.Use(middleware.MinResponseTime(cfg.TimingFloor))

			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/reset-password", authHandler.ResetPassword)
		})

		// Session maintenance and token redemption: the secrets are high
		// entropy, guessing is not a realistic threat, so no timing floor.
		r.Group(func(r chi.Router) {
			r.Use(cfg.Limiter.Limit(middleware.TierGeneral))

			r.Post("/refresh", authHandler.Refresh)
			r.Post("/logout", authHandler.Logout)
			r.Post("/verify-email", authHandler.VerifyEmail)
		})

		// Authenticated credential change still verifies a password.
		r.Group(func(r chi.Router) {
			r.Use(cfg.Limiter.Limit(middleware.TierAuth))
			r.Use(middleware.MinResponseTime(cfg.TimingFloor))
			r.Use(sessionAuth)

			r.Post("/change-password", authHandler.ChangePassword)
		})

		if cfg.Coordinator != nil {
			oidcHandler := NewOIDCHandler(cfg.Coordinator, cfg.FlowCodec, cfg.Service, cfg.Cookies, cfg.FrontendURL, cfg.Logger)
			r.Group(func(r chi.Router) {
				r.Use(cfg.Limiter.Limit(middleware.TierGeneral))

				r.Get("/oidc/google", oidcHandler.Begin)
				r.Get("/oidc/google/callback", oidcHandler.Callback)
			})
		}
	})

	r.Route("/api/v1/users", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(cfg.Limiter.Limit(middleware.TierGeneral))
		r.Use(sessionAuth)

		r.Get("/me", accountHandler.GetProfile)
		r.Delete("/me", accountHandler.DeleteAccount)
	})

	return r
}
