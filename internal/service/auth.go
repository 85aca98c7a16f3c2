package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/memora-app/memora/pkg/errors"

	"github.com/memora-app/memora/internal/auth"
	"github.com/memora-app/memora/internal/domain"
	"github.com/memora-app/memora/internal/repository"
)

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginInput holds the parameters for password login.
type LoginInput struct {
	Email    string
	Password string
	Meta     domain.SessionMeta
}

// Register creates a new unverified user account and issues an email
// verification token. No session is opened: the account cannot log in until
// the email is verified. Conflicts are returned to the handler, which
// normalizes them into the same generic success response.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	if input.Username == "" {
		return nil, apperrors.InvalidInput("username is required")
	}
	if input.Email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(ctx, input.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:            uuid.New().String(),
		Username:      input.Username,
		Email:         input.Email,
		EmailVerified: false,
		Credential:    domain.PasswordCredential{Hash: hash},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrUsernameTaken):
			return nil, apperrors.AlreadyExists("user", "username", input.Username)
		case errors.Is(err, repository.ErrEmailTaken):
			return nil, apperrors.AlreadyExists("user", "email", input.Email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	secret, expiresAt, err := s.issueActionToken(ctx, user.ID, domain.PurposeVerifyEmail, s.ttls.VerifyEmail)
	if err != nil {
		return nil, err
	}

	s.events.PublishUserRegistered(ctx, user)
	s.events.PublishVerificationRequested(ctx, user.ID, user.Email, secret, expiresAt)

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return user, nil
}

// Login authenticates a user with email and password and opens a session.
// Every credential failure collapses to the same generic AuthFailure so the
// response cannot confirm whether the email is registered.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*domain.User, *domain.TokenPair, error) {
	if input.Email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}
	if input.Password == "" {
		return nil, nil, apperrors.InvalidInput("password is required")
	}

	user, err := s.users.GetByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, apperrors.Unauthorized("invalid email or password")
		}
		return nil, nil, fmt.Errorf("look up user: %w", err)
	}

	hash, hasPassword := user.PasswordHash()
	if !hasPassword {
		// Federated-only account; a password can never match it.
		return nil, nil, apperrors.Unauthorized("invalid email or password")
	}

	ok, err := s.passwords.Verify(ctx, input.Password, hash)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, apperrors.Unauthorized("invalid email or password")
	}

	if !user.EmailVerified {
		// The real cause stays server side; admitting the address exists but
		// is unverified would confirm the registration.
		s.logger.WarnContext(ctx, "login rejected, email not verified", slog.String("user_id", user.ID))
		return nil, nil, apperrors.Unauthorized("invalid email or password")
	}

	tokens, err := s.issueSession(ctx, user, input.Meta)
	if err != nil {
		return nil, nil, err
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))

	return user, tokens, nil
}

// Refresh rotates a refresh session: the presented secret is spent and a new
// one issued atomically, then a fresh access token is minted. Presenting an
// unknown or already-rotated secret fails generically, but its occurrence is
// logged as a possible theft signal.
func (s *AuthService) Refresh(ctx context.Context, refreshSecret string) (*domain.TokenPair, error) {
	if refreshSecret == "" {
		return nil, apperrors.Unauthorized("invalid refresh token")
	}

	newSecret, err := auth.NewSecret()
	if err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}

	expiresAt := time.Now().UTC().Add(s.ttls.Refresh)
	userID, err := s.refreshTokens.Rotate(ctx, auth.HashSecret(refreshSecret), auth.HashSecret(newSecret), expiresAt)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			// Unknown secret or reuse of an already-rotated one; the two are
			// structurally indistinguishable, which is exactly the point.
			s.logger.WarnContext(ctx, "refresh token unknown or already rotated")
			return nil, apperrors.Unauthorized("invalid refresh token")
		case errors.Is(err, repository.ErrTokenExpired):
			s.logger.InfoContext(ctx, "expired refresh token presented")
			return nil, apperrors.Unauthorized("invalid refresh token")
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user for refresh: %w", err)
	}

	accessToken, err := s.issuer.Mint(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	s.logger.InfoContext(ctx, "session refreshed", slog.String("user_id", user.ID))

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newSecret,
	}, nil
}

// Logout revokes the refresh session behind the presented secret. A missing
// or dead secret is a no-op: logout always succeeds.
func (s *AuthService) Logout(ctx context.Context, refreshSecret string) error {
	if refreshSecret == "" {
		return nil
	}

	if err := s.refreshTokens.Delete(ctx, auth.HashSecret(refreshSecret)); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	return nil
}

// GetProfile retrieves a user by their ID.
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("user", userID)
		}
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	return user, nil
}

// DeleteAccount removes the user's account. Tokens and stats cascade in the
// database; existence is not a secret here since only the owner can call it.
func (s *AuthService) DeleteAccount(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("user", userID)
		}
		return fmt.Errorf("get user for delete: %w", err)
	}

	if err := s.users.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	s.events.PublishUserDeleted(ctx, user.ID, user.Email)

	s.logger.InfoContext(ctx, "account deleted", slog.String("user_id", userID))

	return nil
}
