package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/memora-app/memora/pkg/errors"

	"github.com/memora-app/memora/internal/domain"
	"github.com/memora-app/memora/internal/repository"
)

// RefreshTokenRepository implements repository.RefreshTokenRepository using
// PostgreSQL. Rotation is the hot path: it runs inside a single transaction
// with the matching row locked, so exactly one of any number of concurrent
// rotations of the same secret wins.
type RefreshTokenRepository struct {
	db DB
}

// NewRefreshTokenRepository creates a new PostgreSQL-backed refresh token repository.
func NewRefreshTokenRepository(db DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create stores a new refresh token digest with device metadata.
func (r *RefreshTokenRepository) Create(ctx context.Context, userID, tokenHash string, meta domain.SessionMeta, expiresAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, user_agent, ip, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, tokenHash, meta.UserAgent, meta.IP, expiresAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

// Rotate replaces the row matching oldHash with a new row holding newHash,
// all inside one transaction:
//
//  1. lock the matching row (SELECT ... FOR UPDATE);
//  2. no row: the secret is unknown or already rotated — the reuse signal;
//  3. expired row: delete it and report expiry;
//  4. otherwise delete the old row, insert the replacement, and commit.
//
// A crash at any point before commit leaves the old row intact; there is no
// state in which two rows for the same lineage are live.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (string, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		userID    string
		userAgent string
		ip        string
		rowExpiry time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT user_id, user_agent, ip, expires_at
		FROM refresh_tokens
		WHERE token_hash = $1
		FOR UPDATE`,
		oldHash,
	).Scan(&userID, &userAgent, &ip, &rowExpiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.ErrNotFound
		}
		return "", fmt.Errorf("lock refresh token: %w", err)
	}

	if time.Now().UTC().After(rowExpiry) {
		if _, err := tx.Exec(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, oldHash); err != nil {
			return "", fmt.Errorf("delete expired refresh token: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return "", fmt.Errorf("commit expiry cleanup: %w", err)
		}
		return "", repository.ErrTokenExpired
	}

	if _, err := tx.Exec(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, oldHash); err != nil {
		return "", fmt.Errorf("delete rotated refresh token: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, user_agent, ip, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, newHash, userAgent, ip, expiresAt, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert rotated refresh token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit rotation: %w", err)
	}

	return userID, nil
}

// Delete removes the row matching the digest. Absent rows are not an error:
// logout with a dead token is a no-op.
func (r *RefreshTokenRepository) Delete(ctx context.Context, tokenHash string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}

	return nil
}

// DeleteAllForUser removes every refresh session owned by the user.
func (r *RefreshTokenRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete refresh tokens for user: %w", err)
	}

	return nil
}

// DeleteExpired sweeps rows past expiry. It only ever touches rows the live
// rotation path would reject anyway, so it is safe to run concurrently with
// traffic.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	ct, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}

	return ct.RowsAffected(), nil
}
