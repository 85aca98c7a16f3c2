package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memora-app/memora/pkg/database"
	"github.com/memora-app/memora/pkg/health"
	"github.com/memora-app/memora/pkg/httpclient"
	pkgkafka "github.com/memora-app/memora/pkg/kafka"
	"github.com/memora-app/memora/pkg/middleware"
	"github.com/memora-app/memora/pkg/tracing"

	"github.com/memora-app/memora/internal/auth"
	"github.com/memora-app/memora/internal/config"
	"github.com/memora-app/memora/internal/event"
	handler "github.com/memora-app/memora/internal/handler/http"
	"github.com/memora-app/memora/internal/oidc"
	"github.com/memora-app/memora/internal/repository/postgres"
	"github.com/memora-app/memora/internal/service"
	"github.com/memora-app/memora/internal/worker"
	"github.com/memora-app/memora/migrations"
)

// flowCookieTTL bounds how long a federated login redirect may stay pending.
const flowCookieTTL = 10 * time.Minute

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	sweeper        *worker.Sweeper
	limiter        *middleware.RateLimiter
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "memora-auth",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := database.DefaultPostgresConfig()
	pgCfg.Host = cfg.PostgresHost
	pgCfg.Port = cfg.PostgresPort
	pgCfg.User = cfg.PostgresUser
	pgCfg.Password = cfg.PostgresPass
	pgCfg.DBName = cfg.PostgresDB
	pgCfg.SSLMode = cfg.PostgresSSL
	pgCfg.MaxConns = int32(cfg.DBMaxConns)

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, "auth")

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Initialize Kafka producer.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Build the dependency graph.
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL)
	hasher := auth.NewPasswordHasher(cfg.BcryptCost, cfg.HashWorkers)
	userRepo := postgres.NewUserRepository(pool)
	refreshTokenRepo := postgres.NewRefreshTokenRepository(pool)
	actionTokenRepo := postgres.NewActionTokenRepository(pool)
	eventProducer := event.NewProducer(producer, logger)
	authService := service.NewAuthService(
		userRepo,
		refreshTokenRepo,
		actionTokenRepo,
		issuer,
		hasher,
		eventProducer,
		service.TokenTTLs{
			Refresh:       cfg.RefreshTokenTTL,
			VerifyEmail:   cfg.VerifyTokenTTL,
			ResetPassword: cfg.ResetTokenTTL,
		},
		logger,
	)

	// Federated login is optional: without a configured provider the
	// routes are simply not mounted.
	var (
		coordinator handler.FlowCoordinator
		flowCodec   *oidc.FlowCookieCodec
	)
	if cfg.FederationEnabled() {
		cookieKey, err := cfg.CookieKey()
		if err != nil {
			pool.Close()
			return nil, err
		}
		flowCodec, err = oidc.NewFlowCookieCodec(cookieKey, flowCookieTTL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("init flow cookie codec: %w", err)
		}

		providerClient := httpclient.NewCircuitBreakerClient(
			httpclient.New(httpclient.DefaultConfig()),
			httpclient.DefaultCircuitBreakerConfig("oidc-provider"),
			logger,
		)
		coord, err := oidc.NewCoordinator(ctx, oidc.Config{
			IssuerURL:    cfg.OIDCIssuerURL,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
			HTTPClient:   providerClient.HTTPClient(),
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("init oidc provider: %w", err)
		}
		coordinator = coord
		logger.Info("federated login enabled", slog.String("issuer", cfg.OIDCIssuerURL))
	}

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	limiter := middleware.NewRateLimiter(nil)
	sweeper := worker.NewSweeper(refreshTokenRepo, actionTokenRepo, cfg.CleanupInterval, logger)

	// HTTP router.
	router := handler.NewRouter(handler.RouterConfig{
		Service:     authService,
		Issuer:      issuer,
		Coordinator: coordinator,
		FlowCodec:   flowCodec,
		Health:      healthHandler,
		Limiter:     limiter,
		Cookies: handler.CookieConfig{
			Domain:     cfg.CookieDomain,
			Secure:     cfg.SecureCookies(),
			AccessTTL:  cfg.AccessTokenTTL,
			RefreshTTL: cfg.RefreshTokenTTL,
			FlowTTL:    flowCookieTTL,
		},
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowCredentials: true,
			Environment:      cfg.Environment,
		},
		TimingFloor: cfg.TimingFloor(),
		FrontendURL: cfg.FrontendOrigin,
		Logger:      logger,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		producer:       producer,
		httpServer:     httpServer,
		sweeper:        sweeper,
		limiter:        limiter,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and background workers, blocking until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	go a.sweeper.Run(workerCtx)
	go a.limiter.Start(workerCtx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	stopWorkers()
	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Close Kafka producer.
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 4. Close PostgreSQL pool.
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
