package config

import (
	"encoding/base64"
	"fmt"
	"time"

	pkgconfig "github.com/memora-app/memora/pkg/config"
)

// defaultJWTSecret is only acceptable in development.
const defaultJWTSecret = "change-this-to-a-secure-secret"

// Config holds all configuration for the auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"AUTH_HTTP_PORT" envDefault:"8001"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"memora"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"memora_secret"`
	PostgresDB   string `env:"AUTH_DB_NAME" envDefault:"auth_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns   int    `env:"AUTH_DB_MAX_CONNS" envDefault:"10"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Tokens
	JWTSecret       string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"24h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	VerifyTokenTTL  time.Duration `env:"VERIFY_TOKEN_TTL" envDefault:"48h"`
	ResetTokenTTL   time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`

	// Password hashing
	BcryptCost  int `env:"BCRYPT_COST" envDefault:"12"`
	HashWorkers int `env:"HASH_WORKERS" envDefault:"4"`

	// Cookies. The encryption key seals the federated-flow cookie and must
	// be 32 bytes, base64 encoded.
	CookieDomain        string `env:"COOKIE_DOMAIN"`
	CookieEncryptionKey string `env:"COOKIE_ENCRYPTION_KEY"`

	// Federated login (Google). Federation stays disabled until all four
	// values are set.
	OIDCIssuerURL    string `env:"OIDC_ISSUER_URL" envDefault:"https://accounts.google.com"`
	OIDCClientID     string `env:"OIDC_CLIENT_ID"`
	OIDCClientSecret string `env:"OIDC_CLIENT_SECRET"`
	OIDCRedirectURL  string `env:"OIDC_REDIRECT_URL"`

	// Frontend
	FrontendOrigin string `env:"FRONTEND_ORIGIN" envDefault:"http://localhost:3000"`

	// Abuse controls
	TimingFloorMS   int           `env:"TIMING_FLOOR_MS" envDefault:"250"`
	CleanupInterval time.Duration `env:"TOKEN_CLEANUP_INTERVAL" envDefault:"1h"`

	// Tracing
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}

	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port: %d", cfg.HTTPPort)
	}
	if cfg.BcryptCost < 10 || cfg.BcryptCost > 18 {
		return nil, fmt.Errorf("BCRYPT_COST must be between 10 and 18, got %d", cfg.BcryptCost)
	}
	if cfg.HashWorkers < 1 {
		return nil, fmt.Errorf("HASH_WORKERS must be positive, got %d", cfg.HashWorkers)
	}
	if cfg.CleanupInterval <= 0 {
		return nil, fmt.Errorf("TOKEN_CLEANUP_INTERVAL must be positive, got %s", cfg.CleanupInterval)
	}
	if cfg.FederationEnabled() {
		if _, err := cfg.CookieKey(); err != nil {
			return nil, err
		}
	}

	// Outside development, secrets must be explicitly set and strong.
	if cfg.Environment != "development" {
		if cfg.JWTSecret == defaultJWTSecret {
			return nil, fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", cfg.Environment)
		}
		if len(cfg.JWTSecret) < 32 {
			return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(cfg.JWTSecret))
		}
		for _, origin := range cfg.CORSAllowedOrigins {
			if origin == "*" {
				return nil, fmt.Errorf("CORS_ALLOWED_ORIGINS must list explicit origins in %q mode", cfg.Environment)
			}
		}
	}

	return cfg, nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}

// FederationEnabled reports whether the federated login flow is fully
// configured.
func (c *Config) FederationEnabled() bool {
	return c.OIDCIssuerURL != "" && c.OIDCClientID != "" &&
		c.OIDCClientSecret != "" && c.OIDCRedirectURL != ""
}

// CookieKey decodes the flow-cookie encryption key.
func (c *Config) CookieKey() ([]byte, error) {
	if c.CookieEncryptionKey == "" {
		return nil, fmt.Errorf("COOKIE_ENCRYPTION_KEY must be set when federated login is configured")
	}
	key, err := base64.StdEncoding.DecodeString(c.CookieEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("COOKIE_ENCRYPTION_KEY is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("COOKIE_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// TimingFloor returns the minimum response time for credential endpoints.
func (c *Config) TimingFloor() time.Duration {
	return time.Duration(c.TimingFloorMS) * time.Millisecond
}

// SecureCookies reports whether cookies should carry the Secure attribute.
// Only plain-HTTP local development goes without it.
func (c *Config) SecureCookies() bool {
	return c.Environment != "development"
}
