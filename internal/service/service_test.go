package service

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"

	"github.com/memora-app/memora/internal/auth"
	"github.com/memora-app/memora/internal/domain"
	"github.com/memora-app/memora/internal/event"
)

// --- Mock User Repository ---

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) Update(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// --- Mock Refresh Token Repository ---

type mockRefreshTokenRepository struct {
	mock.Mock
}

func (m *mockRefreshTokenRepository) Create(ctx context.Context, userID, tokenHash string, meta domain.SessionMeta, expiresAt time.Time) error {
	args := m.Called(ctx, userID, tokenHash, meta, expiresAt)
	return args.Error(0)
}

func (m *mockRefreshTokenRepository) Rotate(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (string, error) {
	args := m.Called(ctx, oldHash, newHash, expiresAt)
	return args.String(0), args.Error(1)
}

func (m *mockRefreshTokenRepository) Delete(ctx context.Context, tokenHash string) error {
	args := m.Called(ctx, tokenHash)
	return args.Error(0)
}

func (m *mockRefreshTokenRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockRefreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// --- Mock Action Token Repository ---

type mockActionTokenRepository struct {
	mock.Mock
}

func (m *mockActionTokenRepository) Issue(ctx context.Context, userID string, purpose domain.TokenPurpose, tokenHash string, expiresAt time.Time) error {
	args := m.Called(ctx, userID, purpose, tokenHash, expiresAt)
	return args.Error(0)
}

func (m *mockActionTokenRepository) Consume(ctx context.Context, tokenHash string, purpose domain.TokenPurpose) (string, error) {
	args := m.Called(ctx, tokenHash, purpose)
	return args.String(0), args.Error(1)
}

func (m *mockActionTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// --- Test Helpers ---

const testJWTSecret = "test-secret-key-for-testing-only"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(
	t *testing.T,
	userRepo *mockUserRepository,
	refreshRepo *mockRefreshTokenRepository,
	actionRepo *mockActionTokenRepository,
) *AuthService {
	t.Helper()
	logger := newTestLogger()
	issuer := auth.NewTokenIssuer(testJWTSecret, 15*time.Minute)
	hasher := auth.NewPasswordHasher(bcrypt.MinCost, 2)
	// A nil transport makes every publish a logged no-op.
	producer := event.NewProducer(nil, logger)
	return NewAuthService(userRepo, refreshRepo, actionRepo, issuer, hasher, producer, TokenTTLs{
		Refresh:       7 * 24 * time.Hour,
		VerifyEmail:   48 * time.Hour,
		ResetPassword: time.Hour,
	}, logger)
}

// hashForTest creates a bcrypt hash with the minimum cost for fast tests.
func hashForTest(password string) string {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}

func verifiedUser(password string) *domain.User {
	now := time.Now().UTC()
	return &domain.User{
		ID:            "u-1",
		Username:      "ada",
		Email:         "ada@example.com",
		EmailVerified: true,
		Credential:    domain.PasswordCredential{Hash: hashForTest(password)},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
