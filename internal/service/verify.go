package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/memora-app/memora/pkg/errors"

	"github.com/memora-app/memora/internal/auth"
	"github.com/memora-app/memora/internal/domain"
)

// VerifyResult distinguishes the two success outcomes of email verification.
// The caller may say "verified" or "already verified"; what it may never say
// is why a token was rejected.
type VerifyResult int

const (
	// VerifiedNow means the token was consumed and the flag flipped.
	VerifiedNow VerifyResult = iota
	// AlreadyVerified means the token was valid but the address had been
	// verified before (e.g. via a federated login in the meantime).
	AlreadyVerified
)

// VerifyEmail consumes a verification token and marks the owning account's
// email as verified.
func (s *AuthService) VerifyEmail(ctx context.Context, tokenSecret string) (VerifyResult, error) {
	if tokenSecret == "" {
		return 0, apperrors.Unauthorized("invalid or expired verification token")
	}

	userID, err := s.actionTokens.Consume(ctx, auth.HashSecret(tokenSecret), domain.PurposeVerifyEmail)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return 0, apperrors.Unauthorized("invalid or expired verification token")
		}
		return 0, fmt.Errorf("consume verification token: %w", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get user for verification: %w", err)
	}

	if user.EmailVerified {
		return AlreadyVerified, nil
	}

	user.EmailVerified = true
	if err := s.users.Update(ctx, user); err != nil {
		return 0, fmt.Errorf("mark email verified: %w", err)
	}

	s.logger.InfoContext(ctx, "email verified", slog.String("user_id", user.ID))

	return VerifiedNow, nil
}

// ResendVerification issues a fresh verification token for the account behind
// the email, superseding any earlier one. Unknown and already-verified
// addresses return nil so the response is identical in every case.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	if email == "" {
		return apperrors.InvalidInput("email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.InfoContext(ctx, "verification resend requested for unknown email")
			return nil
		}
		return fmt.Errorf("look up user: %w", err)
	}

	if user.EmailVerified {
		s.logger.InfoContext(ctx, "verification resend for already-verified account",
			slog.String("user_id", user.ID))
		return nil
	}

	secret, expiresAt, err := s.issueActionToken(ctx, user.ID, domain.PurposeVerifyEmail, s.ttls.VerifyEmail)
	if err != nil {
		return err
	}

	s.events.PublishVerificationRequested(ctx, user.ID, user.Email, secret, expiresAt)

	s.logger.InfoContext(ctx, "verification email resent", slog.String("user_id", user.ID))

	return nil
}
