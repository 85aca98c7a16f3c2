package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/memora-app/memora/pkg/errors"
	"github.com/memora-app/memora/pkg/slug"

	"github.com/memora-app/memora/internal/domain"
	"github.com/memora-app/memora/internal/repository"
)

// FederatedIdentity is the assertion handed over by the federated flow
// coordinator after a successful provider handshake. The email has been
// verified by the provider.
type FederatedIdentity struct {
	ExternalID string
	Email      string
	Name       string
	PictureURL string
}

// LoginFederated resolves the canonical user for a federated identity
// assertion and opens a session for it, exactly as the password-login path
// does.
func (s *AuthService) LoginFederated(ctx context.Context, identity FederatedIdentity, meta domain.SessionMeta) (*domain.User, *domain.TokenPair, error) {
	user, err := s.ResolveFederated(ctx, identity)
	if err != nil {
		return nil, nil, err
	}

	tokens, err := s.issueSession(ctx, user, meta)
	if err != nil {
		return nil, nil, err
	}

	s.logger.InfoContext(ctx, "federated login", slog.String("user_id", user.ID))

	return user, tokens, nil
}

// ResolveFederated merges or creates the user record for a federated
// identity assertion:
//
//  1. an account already linked to the external id wins;
//  2. otherwise an account with a matching email is linked to the external
//     id (the provider has verified the email, so the takeover risk is
//     accepted);
//  3. otherwise a new account is created with a username derived from the
//     display name or the email local-part.
//
// Creation races (another request registering the same email between lookup
// and insert) restart the resolution, so the loop always converges on the
// account that won.
func (s *AuthService) ResolveFederated(ctx context.Context, identity FederatedIdentity) (*domain.User, error) {
	if identity.ExternalID == "" || identity.Email == "" {
		return nil, apperrors.InvalidInput("federated identity is incomplete")
	}

	for {
		user, err := s.users.GetByExternalID(ctx, identity.ExternalID)
		if err == nil {
			return s.refreshPicture(ctx, user, identity.PictureURL)
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("look up user by external id: %w", err)
		}

		user, err = s.users.GetByEmail(ctx, identity.Email)
		if err == nil {
			return s.linkAccount(ctx, user, identity)
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("look up user by email: %w", err)
		}

		user, err = s.createFederated(ctx, identity)
		if err == nil {
			return user, nil
		}
		if errors.Is(err, repository.ErrEmailTaken) {
			// Lost a race against a concurrent registration; resolve again
			// so the new account gets linked instead.
			continue
		}
		return nil, err
	}
}

// linkAccount attaches the federated identity to an existing account found by
// email and refreshes the profile picture if the provider supplied a new one.
func (s *AuthService) linkAccount(ctx context.Context, user *domain.User, identity FederatedIdentity) (*domain.User, error) {
	changed := false

	if _, linked := user.ExternalID(); !linked {
		user.LinkExternalID(identity.ExternalID)
		user.EmailVerified = true
		changed = true
		s.logger.InfoContext(ctx, "linked federated identity to existing account",
			slog.String("user_id", user.ID))
	}

	if identity.PictureURL != "" && identity.PictureURL != user.PictureURL {
		user.PictureURL = identity.PictureURL
		changed = true
	}

	if changed {
		if err := s.users.Update(ctx, user); err != nil {
			return nil, fmt.Errorf("link federated identity: %w", err)
		}
	}

	return user, nil
}

// refreshPicture updates the stored profile picture when the provider reports
// a new one.
func (s *AuthService) refreshPicture(ctx context.Context, user *domain.User, pictureURL string) (*domain.User, error) {
	if pictureURL == "" || pictureURL == user.PictureURL {
		return user, nil
	}

	user.PictureURL = pictureURL
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("refresh profile picture: %w", err)
	}

	return user, nil
}

// createFederated creates a new account for a first-time federated login.
// Username conflicts append an incrementing numeric suffix and retry; each
// attempt is a full round trip, so contention on one base name degrades
// gracefully instead of failing at some arbitrary cap.
func (s *AuthService) createFederated(ctx context.Context, identity FederatedIdentity) (*domain.User, error) {
	base := usernameBase(identity)

	for i := 0; ; i++ {
		username := base
		if i > 0 {
			username = fmt.Sprintf("%s%d", base, i)
		}

		now := time.Now().UTC()
		user := &domain.User{
			ID:            uuid.New().String(),
			Username:      username,
			Email:         identity.Email,
			EmailVerified: true,
			PictureURL:    identity.PictureURL,
			Credential:    domain.FederatedCredential{ExternalID: identity.ExternalID},
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		err := s.users.Create(ctx, user)
		if err == nil {
			s.logger.InfoContext(ctx, "user created from federated identity",
				slog.String("user_id", user.ID),
				slog.String("username", user.Username),
			)
			return user, nil
		}
		if errors.Is(err, repository.ErrUsernameTaken) {
			continue
		}
		return nil, fmt.Errorf("create federated user: %w", err)
	}
}

// usernameBase derives a username from the display name, falling back to the
// email local-part, falling back to a constant.
func usernameBase(identity FederatedIdentity) string {
	if base := slug.Generate(identity.Name); base != "" {
		return base
	}

	localPart, _, _ := strings.Cut(identity.Email, "@")
	if base := slug.Generate(localPart); base != "" {
		return base
	}

	return "learner"
}
