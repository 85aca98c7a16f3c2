package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode"

	apperrors "github.com/memora-app/memora/pkg/errors"

	"github.com/memora-app/memora/internal/auth"
	"github.com/memora-app/memora/internal/domain"
	"github.com/memora-app/memora/internal/event"
	"github.com/memora-app/memora/internal/repository"
)

// minPasswordLength is the minimum password length required.
const minPasswordLength = 8

// TokenTTLs holds the lifetimes of every credential the service issues.
type TokenTTLs struct {
	Refresh       time.Duration
	VerifyEmail   time.Duration
	ResetPassword time.Duration
}

// AuthService implements the authentication and session lifecycle:
// registration, login, federated sign-in, refresh rotation, action tokens,
// and account operations.
type AuthService struct {
	users         repository.UserRepository
	refreshTokens repository.RefreshTokenRepository
	actionTokens  repository.ActionTokenRepository
	issuer        *auth.TokenIssuer
	passwords     *auth.PasswordHasher
	events        *event.Producer
	ttls          TokenTTLs
	logger        *slog.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(
	users repository.UserRepository,
	refreshTokens repository.RefreshTokenRepository,
	actionTokens repository.ActionTokenRepository,
	issuer *auth.TokenIssuer,
	passwords *auth.PasswordHasher,
	events *event.Producer,
	ttls TokenTTLs,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:         users,
		refreshTokens: refreshTokens,
		actionTokens:  actionTokens,
		issuer:        issuer,
		passwords:     passwords,
		events:        events,
		ttls:          ttls,
		logger:        logger,
	}
}

// issueSession mints an access token and opens a new refresh session for the
// user. Only the digest of the refresh secret is stored.
func (s *AuthService) issueSession(ctx context.Context, user *domain.User, meta domain.SessionMeta) (*domain.TokenPair, error) {
	accessToken, err := s.issuer.Mint(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	secret, err := auth.NewSecret()
	if err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}

	expiresAt := time.Now().UTC().Add(s.ttls.Refresh)
	if err := s.refreshTokens.Create(ctx, user.ID, auth.HashSecret(secret), meta, expiresAt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: secret,
	}, nil
}

// issueActionToken generates a fresh single-use secret for (user, purpose),
// superseding prior unused ones, and returns the plaintext secret for
// delivery.
func (s *AuthService) issueActionToken(ctx context.Context, userID string, purpose domain.TokenPurpose, ttl time.Duration) (secret string, expiresAt time.Time, err error) {
	secret, err = auth.NewSecret()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate action token: %w", err)
	}

	expiresAt = time.Now().UTC().Add(ttl)
	if err := s.actionTokens.Issue(ctx, userID, purpose, auth.HashSecret(secret), expiresAt); err != nil {
		return "", time.Time{}, fmt.Errorf("store action token: %w", err)
	}

	return secret, expiresAt, nil
}

// validatePassword checks that the password meets minimum complexity
// requirements. Validation messages may be specific: they reveal nothing
// about any account.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return apperrors.InvalidInput("password must contain at least one uppercase letter, one lowercase letter, and one digit")
	}

	return nil
}
