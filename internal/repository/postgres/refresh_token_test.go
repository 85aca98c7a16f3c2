package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/memora-app/memora/pkg/errors"

	"github.com/memora-app/memora/internal/domain"
	"github.com/memora-app/memora/internal/repository"
)

func newRefreshTestFixture(t *testing.T) (*RefreshTokenRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := NewRefreshTokenRepository(mock)
	return repo, mock
}

func TestRefreshTokenRepository_Create(t *testing.T) {
	repo, mock := newRefreshTestFixture(t)
	defer mock.Close()

	expiresAt := time.Now().UTC().Add(24 * time.Hour)
	meta := domain.SessionMeta{UserAgent: "firefox", IP: "203.0.113.7"}

	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs("u-1", "digest-old", "firefox", "203.0.113.7", expiresAt, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Create(context.Background(), "u-1", "digest-old", meta, expiresAt)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepository_Rotate_Success(t *testing.T) {
	repo, mock := newRefreshTestFixture(t)
	defer mock.Close()

	rowExpiry := time.Now().UTC().Add(time.Hour)
	newExpiry := time.Now().UTC().Add(24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT user_id, user_agent, ip, expires_at FROM refresh_tokens").
		WithArgs("digest-old").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "user_agent", "ip", "expires_at"}).
			AddRow("u-1", "firefox", "203.0.113.7", rowExpiry))
	mock.ExpectExec("DELETE FROM refresh_tokens").
		WithArgs("digest-old").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs("u-1", "digest-new", "firefox", "203.0.113.7", newExpiry, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	userID, err := repo.Rotate(context.Background(), "digest-old", "digest-new", newExpiry)
	require.NoError(t, err)
	assert.Equal(t, "u-1", userID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepository_Rotate_UnknownDigest(t *testing.T) {
	repo, mock := newRefreshTestFixture(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT user_id, user_agent, ip, expires_at FROM refresh_tokens").
		WithArgs("digest-reused").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	userID, err := repo.Rotate(context.Background(), "digest-reused", "digest-new", time.Now().Add(time.Hour))
	assert.Empty(t, userID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepository_Rotate_Expired(t *testing.T) {
	repo, mock := newRefreshTestFixture(t)
	defer mock.Close()

	rowExpiry := time.Now().UTC().Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT user_id, user_agent, ip, expires_at FROM refresh_tokens").
		WithArgs("digest-old").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "user_agent", "ip", "expires_at"}).
			AddRow("u-1", "firefox", "203.0.113.7", rowExpiry))
	mock.ExpectExec("DELETE FROM refresh_tokens").
		WithArgs("digest-old").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	userID, err := repo.Rotate(context.Background(), "digest-old", "digest-new", time.Now().Add(time.Hour))
	assert.Empty(t, userID)
	assert.ErrorIs(t, err, repository.ErrTokenExpired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepository_Delete_AbsentRowIsNoop(t *testing.T) {
	repo, mock := newRefreshTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM refresh_tokens").
		WithArgs("digest-gone").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := repo.Delete(context.Background(), "digest-gone")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepository_DeleteAllForUser(t *testing.T) {
	repo, mock := newRefreshTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM refresh_tokens WHERE user_id").
		WithArgs("u-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	err := repo.DeleteAllForUser(context.Background(), "u-1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepository_DeleteExpired(t *testing.T) {
	repo, mock := newRefreshTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM refresh_tokens WHERE expires_at").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := repo.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
