package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/memora-app/memora/pkg/errors"

	"github.com/memora-app/memora/internal/domain"
)

// ActionTokenRepository implements repository.ActionTokenRepository using
// PostgreSQL.
type ActionTokenRepository struct {
	db DB
}

// NewActionTokenRepository creates a new PostgreSQL-backed action token repository.
func NewActionTokenRepository(db DB) *ActionTokenRepository {
	return &ActionTokenRepository{db: db}
}

// Issue stores a new token digest for (user, purpose). All earlier unused
// tokens of the same purpose are removed in the same transaction, keeping at
// most one valid token per purpose per user.
func (r *ActionTokenRepository) Issue(ctx context.Context, userID string, purpose domain.TokenPurpose, tokenHash string, expiresAt time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		DELETE FROM action_tokens
		WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL`,
		userID, string(purpose),
	)
	if err != nil {
		return fmt.Errorf("supersede action tokens: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO action_tokens (user_id, purpose, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		userID, string(purpose), tokenHash, expiresAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert action token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// Consume marks the matching unused, unexpired token as used and returns the
// owning user id. Match, validity check, and the used_at write happen in one
// statement, so two concurrent consumers of the same token cannot both
// succeed: the second sees zero rows.
func (r *ActionTokenRepository) Consume(ctx context.Context, tokenHash string, purpose domain.TokenPurpose) (string, error) {
	var userID string
	err := r.db.QueryRow(ctx, `
		UPDATE action_tokens
		SET used_at = $1
		WHERE token_hash = $2 AND purpose = $3 AND used_at IS NULL AND expires_at > $1
		RETURNING user_id`,
		time.Now().UTC(), tokenHash, string(purpose),
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.ErrNotFound
		}
		return "", fmt.Errorf("consume action token: %w", err)
	}

	return userID, nil
}

// DeleteExpired sweeps rows past expiry, used and unused alike.
func (r *ActionTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	ct, err := r.db.Exec(ctx, `DELETE FROM action_tokens WHERE expires_at <= $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired action tokens: %w", err)
	}

	return ct.RowsAffected(), nil
}
