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

// RequestPasswordReset issues a reset token for the account behind the email
// and hands it to the mailer. It returns nil for unknown emails and for
// federated-only accounts; the caller's response is identical either way, and
// the true cause is only logged.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if email == "" {
		return apperrors.InvalidInput("email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.InfoContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("look up user: %w", err)
	}

	if _, hasPassword := user.PasswordHash(); !hasPassword {
		s.logger.InfoContext(ctx, "password reset requested for federated-only account",
			slog.String("user_id", user.ID))
		return nil
	}

	secret, expiresAt, err := s.issueActionToken(ctx, user.ID, domain.PurposeResetPassword, s.ttls.ResetPassword)
	if err != nil {
		return err
	}

	s.events.PublishPasswordResetRequested(ctx, user.ID, user.Email, secret, expiresAt)

	s.logger.InfoContext(ctx, "password reset requested", slog.String("user_id", user.ID))

	return nil
}

// ResetPassword consumes a reset token and replaces the account's password.
// Every refresh session is revoked so a stolen token cannot outlive the
// reset. Token failures are generic: expired, consumed, superseded, and
// never-existed are indistinguishable to the caller.
func (s *AuthService) ResetPassword(ctx context.Context, tokenSecret, newPassword string) error {
	if tokenSecret == "" {
		return apperrors.Unauthorized("invalid or expired reset token")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	userID, err := s.actionTokens.Consume(ctx, auth.HashSecret(tokenSecret), domain.PurposeResetPassword)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.Unauthorized("invalid or expired reset token")
		}
		return fmt.Errorf("consume reset token: %w", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user for password reset: %w", err)
	}

	hash, err := s.passwords.Hash(ctx, newPassword)
	if err != nil {
		return err
	}

	user.SetPassword(hash)
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("update user password: %w", err)
	}

	if err := s.refreshTokens.DeleteAllForUser(ctx, user.ID); err != nil {
		return fmt.Errorf("revoke sessions after password reset: %w", err)
	}

	s.logger.InfoContext(ctx, "password reset completed", slog.String("user_id", user.ID))

	return nil
}

// ChangePassword lets an authenticated user replace their password. All
// refresh sessions are revoked, forcing re-login everywhere.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return apperrors.InvalidInput("current password is required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if currentPassword == newPassword {
		return apperrors.InvalidInput("new password must be different from current password")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user for password change: %w", err)
	}

	hash, hasPassword := user.PasswordHash()
	if !hasPassword {
		return apperrors.InvalidInput("account has no password; sign in with your identity provider")
	}

	ok, err := s.passwords.Verify(ctx, currentPassword, hash)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Unauthorized("current password is incorrect")
	}

	newHash, err := s.passwords.Hash(ctx, newPassword)
	if err != nil {
		return err
	}

	user.SetPassword(newHash)
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("update user password: %w", err)
	}

	if err := s.refreshTokens.DeleteAllForUser(ctx, user.ID); err != nil {
		return fmt.Errorf("revoke sessions after password change: %w", err)
	}

	s.logger.InfoContext(ctx, "password changed", slog.String("user_id", user.ID))

	return nil
}
