package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/memora-app/memora/pkg/errors"

	"github.com/memora-app/memora/internal/domain"
	"github.com/memora-app/memora/internal/repository"
)

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, username, email, email_verified, password_hash, provider, external_id, picture_url, created_at, updated_at`

// Create inserts a new user and its companion statistics row in a single
// transaction, so an account never exists without stats.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	passwordHash, externalID := credentialColumns(u.Credential)

	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, username, email, email_verified, password_hash, provider, external_id, picture_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID,
		u.Username,
		u.Email,
		u.EmailVerified,
		passwordHash,
		string(u.Provider()),
		externalID,
		u.PictureURL,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if conflictErr := userConflict(err, u); conflictErr != nil {
			return conflictErr
		}
		return fmt.Errorf("insert user: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO user_stats (user_id, cards_reviewed, review_streak, created_at)
		VALUES ($1, 0, 0, $2)`,
		u.ID, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a user by their ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail retrieves a user by their email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// GetByExternalID retrieves a user by their federated subject id.
func (r *UserRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = $1`, externalID)
}

// Update modifies an existing user in the database.
func (r *UserRepository) Update(ctx context.Context, u *domain.User) error {
	u.UpdatedAt = time.Now().UTC()
	passwordHash, externalID := credentialColumns(u.Credential)

	ct, err := r.db.Exec(ctx, `
		UPDATE users
		SET username = $1, email = $2, email_verified = $3, password_hash = $4,
		    provider = $5, external_id = $6, picture_url = $7, updated_at = $8
		WHERE id = $9`,
		u.Username,
		u.Email,
		u.EmailVerified,
		passwordHash,
		string(u.Provider()),
		externalID,
		u.PictureURL,
		u.UpdatedAt,
		u.ID,
	)
	if err != nil {
		if conflictErr := userConflict(err, u); conflictErr != nil {
			return conflictErr
		}
		return fmt.Errorf("update user: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", u.ID)
	}

	return nil
}

// Delete removes a user; refresh tokens, action tokens, and stats cascade via
// foreign keys.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	ct, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}

	return nil
}

// scanUser executes a query expected to return a single user row.
func (r *UserRepository) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	var (
		u            domain.User
		passwordHash *string
		provider     string
		externalID   *string
	)

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.EmailVerified,
		&passwordHash,
		&provider,
		&externalID,
		&u.PictureURL,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	cred, err := credentialFromColumns(passwordHash, externalID)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	u.Credential = cred

	return &u, nil
}

// credentialColumns flattens a credential variant into the two nullable
// columns the users table stores.
func credentialColumns(c domain.Credential) (passwordHash, externalID *string) {
	switch v := c.(type) {
	case domain.PasswordCredential:
		return &v.Hash, nil
	case domain.FederatedCredential:
		return nil, &v.ExternalID
	case domain.LinkedCredential:
		return &v.Hash, &v.ExternalID
	default:
		return nil, nil
	}
}

// credentialFromColumns rebuilds the credential variant from the stored
// columns. A row with neither column set violates the schema invariant and is
// reported as corrupt rather than silently creating a credential-less user.
func credentialFromColumns(passwordHash, externalID *string) (domain.Credential, error) {
	switch {
	case passwordHash != nil && externalID != nil:
		return domain.LinkedCredential{Hash: *passwordHash, ExternalID: *externalID}, nil
	case passwordHash != nil:
		return domain.PasswordCredential{Hash: *passwordHash}, nil
	case externalID != nil:
		return domain.FederatedCredential{ExternalID: *externalID}, nil
	default:
		return nil, errors.New("user row has neither password hash nor external id")
	}
}

// userConflict maps a unique violation to the field-specific sentinel, or nil
// when err is not a unique violation.
func userConflict(err error, u *domain.User) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return nil
	}
	hint := constraint
	if hint == "" {
		hint = err.Error()
	}
	if strings.Contains(hint, "username") {
		return fmt.Errorf("user %q: %w", u.Username, repository.ErrUsernameTaken)
	}
	return fmt.Errorf("user %q: %w", u.Email, repository.ErrEmailTaken)
}
