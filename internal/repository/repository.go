package repository

import (
	"context"
	"errors"
	"time"

	"github.com/memora-app/memora/internal/domain"
)

// Sentinel errors that callers need to tell apart from plain "not found".
var (
	// ErrUsernameTaken signals a unique-constraint conflict on username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrEmailTaken signals a unique-constraint conflict on email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrTokenExpired signals that a refresh token row existed but was past
	// its expiry; the row has been deleted.
	ErrTokenExpired = errors.New("token expired")
)

// UserRepository defines the interface for user persistence operations.
type UserRepository interface {
	// Create inserts a new user and its companion statistics row in one
	// transaction. Unique-constraint conflicts are reported as
	// ErrUsernameTaken or ErrEmailTaken.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by their email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetByExternalID retrieves a user by their federated identity
	// provider's subject id.
	GetByExternalID(ctx context.Context, externalID string) (*domain.User, error)

	// Update modifies an existing user.
	Update(ctx context.Context, user *domain.User) error

	// Delete removes a user; tokens and statistics cascade.
	Delete(ctx context.Context, id string) error
}

// RefreshTokenRepository persists refresh sessions. Rows are deleted, never
// soft-revoked, so at most one row per session lineage exists at any time.
type RefreshTokenRepository interface {
	// Create stores a new refresh token digest with device metadata.
	Create(ctx context.Context, userID, tokenHash string, meta domain.SessionMeta, expiresAt time.Time) error

	// Rotate atomically replaces the row matching oldHash with a new row
	// holding newHash and a fresh expiry, returning the owning user id. The
	// matching row is locked for the duration of the transaction, so two
	// concurrent rotations of the same secret cannot both succeed. An
	// unknown or already-rotated digest yields apperrors.ErrNotFound; an
	// expired row is deleted and yields ErrTokenExpired.
	Rotate(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (string, error)

	// Delete removes the row matching the digest. Deleting an absent row is
	// not an error.
	Delete(ctx context.Context, tokenHash string) error

	// DeleteAllForUser removes every refresh session owned by the user.
	DeleteAllForUser(ctx context.Context, userID string) error

	// DeleteExpired removes rows past expiry, returning how many were swept.
	DeleteExpired(ctx context.Context) (int64, error)
}

// ActionTokenRepository persists single-use action tokens (email
// verification, password reset).
type ActionTokenRepository interface {
	// Issue stores a new token digest for (user, purpose), superseding all
	// earlier unused tokens of the same purpose in the same transaction.
	Issue(ctx context.Context, userID string, purpose domain.TokenPurpose, tokenHash string, expiresAt time.Time) error

	// Consume atomically marks the matching unused, unexpired token as used
	// and returns the owning user id. The check and the mark happen in one
	// statement, so concurrent consumers of the same token cannot both
	// succeed. Any non-match yields apperrors.ErrNotFound.
	Consume(ctx context.Context, tokenHash string, purpose domain.TokenPurpose) (string, error)

	// DeleteExpired removes rows past expiry, returning how many were swept.
	DeleteExpired(ctx context.Context) (int64, error)
}
