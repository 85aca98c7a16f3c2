package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/memora-app/memora/pkg/errors"
	"github.com/memora-app/memora/pkg/middleware"

	"github.com/memora-app/memora/internal/auth"
	"github.com/memora-app/memora/internal/domain"
	"github.com/memora-app/memora/internal/event"
	"github.com/memora-app/memora/internal/repository"
	"github.com/memora-app/memora/internal/service"
)

// ============================================================================
// Mock Repositories
// ============================================================================

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) Update(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type mockRefreshRepo struct {
	mock.Mock
}

func (m *mockRefreshRepo) Create(ctx context.Context, userID, tokenHash string, meta domain.SessionMeta, expiresAt time.Time) error {
	args := m.Called(ctx, userID, tokenHash, meta, expiresAt)
	return args.Error(0)
}

func (m *mockRefreshRepo) Rotate(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (string, error) {
	args := m.Called(ctx, oldHash, newHash, expiresAt)
	return args.String(0), args.Error(1)
}

func (m *mockRefreshRepo) Delete(ctx context.Context, tokenHash string) error {
	args := m.Called(ctx, tokenHash)
	return args.Error(0)
}

func (m *mockRefreshRepo) DeleteAllForUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockRefreshRepo) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type mockActionRepo struct {
	mock.Mock
}

func (m *mockActionRepo) Issue(ctx context.Context, userID string, purpose domain.TokenPurpose, tokenHash string, expiresAt time.Time) error {
	args := m.Called(ctx, userID, purpose, tokenHash, expiresAt)
	return args.Error(0)
}

func (m *mockActionRepo) Consume(ctx context.Context, tokenHash string, purpose domain.TokenPurpose) (string, error) {
	args := m.Called(ctx, tokenHash, purpose)
	return args.String(0), args.Error(1)
}

func (m *mockActionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// ============================================================================
// Fixtures
// ============================================================================

const handlerTestSecret = "handler-test-secret-0123456789abcdef"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testCookieConfig() CookieConfig {
	return CookieConfig{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		FlowTTL:    10 * time.Minute,
	}
}

type handlerFixture struct {
	handler     *AuthHandler
	userRepo    *mockUserRepo
	refreshRepo *mockRefreshRepo
	actionRepo  *mockActionRepo
	service     *service.AuthService
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	logger := testLogger()
	userRepo := new(mockUserRepo)
	refreshRepo := new(mockRefreshRepo)
	actionRepo := new(mockActionRepo)
	svc := service.NewAuthService(
		userRepo, refreshRepo, actionRepo,
		auth.NewTokenIssuer(handlerTestSecret, 15*time.Minute),
		auth.NewPasswordHasher(bcrypt.MinCost, 2),
		event.NewProducer(nil, logger),
		service.TokenTTLs{Refresh: 7 * 24 * time.Hour, VerifyEmail: 48 * time.Hour, ResetPassword: time.Hour},
		logger,
	)
	return &handlerFixture{
		handler:     NewAuthHandler(svc, testCookieConfig(), logger),
		userRepo:    userRepo,
		refreshRepo: refreshRepo,
		actionRepo:  actionRepo,
		service:     svc,
	}
}

func bcryptForTest(password string) string {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}

func storedUser(password string) *domain.User {
	now := time.Now().UTC()
	return &domain.User{
		ID:            "u-1",
		Username:      "ada",
		Email:         "ada@example.com",
		EmailVerified: true,
		Credential:    domain.PasswordCredential{Hash: bcryptForTest(password)},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func postJSON(t *testing.T, target string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type messageEnvelope struct {
	Data  map[string]string `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeMessage(t *testing.T, w *httptest.ResponseRecorder) messageEnvelope {
	t.Helper()
	var env messageEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func cookieByName(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ============================================================================
// Register
// ============================================================================

func TestRegisterHandler_GenericSuccess(t *testing.T) {
	f := newHandlerFixture(t)

	f.userRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.User")).Return(nil)
	f.actionRepo.On("Issue", mock.Anything, mock.AnythingOfType("string"), domain.PurposeVerifyEmail,
		mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).Return(nil)

	w := httptest.NewRecorder()
	f.handler.Register(w, postJSON(t, "/api/v1/auth/register", RegisterRequest{
		Username: "ada",
		Email:    "ada@example.com",
		Password: "SecurePass123",
	}))

	assert.Equal(t, http.StatusOK, w.Code)
	env := decodeMessage(t, w)
	assert.Equal(t, registrationAccepted, env.Data["message"])
}

func TestRegisterHandler_ConflictBodyIdentical(t *testing.T) {
	// The response for a duplicate email must be byte-identical to the
	// success response.
	success := newHandlerFixture(t)
	success.userRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	success.actionRepo.On("Issue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	conflict := newHandlerFixture(t)
	conflict.userRepo.On("Create", mock.Anything, mock.Anything).Return(repository.ErrEmailTaken)

	body := RegisterRequest{Username: "ada", Email: "ada@example.com", Password: "SecurePass123"}

	wSuccess := httptest.NewRecorder()
	success.handler.Register(wSuccess, postJSON(t, "/api/v1/auth/register", body))

	wConflict := httptest.NewRecorder()
	conflict.handler.Register(wConflict, postJSON(t, "/api/v1/auth/register", body))

	assert.Equal(t, http.StatusOK, wSuccess.Code)
	assert.Equal(t, http.StatusOK, wConflict.Code)
	assert.Equal(t, wSuccess.Body.String(), wConflict.Body.String())
}

func TestRegisterHandler_InvalidBody(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	f.handler.Register(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.userRepo.AssertNotCalled(t, "Create")
}

func TestRegisterHandler_ValidationFailure(t *testing.T) {
	f := newHandlerFixture(t)

	w := httptest.NewRecorder()
	f.handler.Register(w, postJSON(t, "/api/v1/auth/register", RegisterRequest{
		Username: "ab", // below min=3
		Email:    "not-an-email",
		Password: "SecurePass123",
	}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.userRepo.AssertNotCalled(t, "Create")
}

// ============================================================================
// Login
// ============================================================================

func TestLoginHandler_SetsSessionCookies(t *testing.T) {
	f := newHandlerFixture(t)

	f.userRepo.On("GetByEmail", mock.Anything, "ada@example.com").Return(storedUser("SecurePass123"), nil)
	f.refreshRepo.On("Create", mock.Anything, "u-1", mock.AnythingOfType("string"),
		mock.AnythingOfType("domain.SessionMeta"), mock.AnythingOfType("time.Time")).Return(nil)

	w := httptest.NewRecorder()
	f.handler.Login(w, postJSON(t, "/api/v1/auth/login", LoginRequest{
		Email:    "ada@example.com",
		Password: "SecurePass123",
	}))

	require.Equal(t, http.StatusOK, w.Code)

	resp := w.Result()
	access := cookieByName(resp, CookieAccess)
	refresh := cookieByName(resp, CookieRefresh)
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	assert.True(t, access.HttpOnly)
	assert.True(t, refresh.HttpOnly)
	assert.NotEmpty(t, access.Value)
	assert.NotEmpty(t, refresh.Value)

	var env struct {
		Data AuthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "ada", env.Data.User.Username)
	assert.Equal(t, "Bearer", env.Data.Tokens.TokenType)
	assert.Equal(t, refresh.Value, env.Data.Tokens.RefreshToken)
}

func TestLoginHandler_FailureSetsNoCookies(t *testing.T) {
	f := newHandlerFixture(t)

	f.userRepo.On("GetByEmail", mock.Anything, "ada@example.com").Return(nil, apperrors.ErrNotFound)

	w := httptest.NewRecorder()
	f.handler.Login(w, postJSON(t, "/api/v1/auth/login", LoginRequest{
		Email:    "ada@example.com",
		Password: "SecurePass123",
	}))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, w.Result().Cookies())

	env := decodeMessage(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid email or password", env.Error.Message)
}

// ============================================================================
// Refresh / Logout
// ============================================================================

func TestRefreshHandler_FromCookie(t *testing.T) {
	f := newHandlerFixture(t)

	presented := "opaque-refresh-secret"
	f.refreshRepo.On("Rotate", mock.Anything, auth.HashSecret(presented), mock.AnythingOfType("string"),
		mock.AnythingOfType("time.Time")).Return("u-1", nil)
	f.userRepo.On("GetByID", mock.Anything, "u-1").Return(storedUser("SecurePass123"), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: CookieRefresh, Value: presented})

	w := httptest.NewRecorder()
	f.handler.Refresh(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	refresh := cookieByName(w.Result(), CookieRefresh)
	require.NotNil(t, refresh)
	assert.NotEqual(t, presented, refresh.Value, "rotation must replace the cookie value")
	assert.Positive(t, refresh.MaxAge)
}

func TestRefreshHandler_FromBody(t *testing.T) {
	f := newHandlerFixture(t)

	presented := "opaque-refresh-secret"
	f.refreshRepo.On("Rotate", mock.Anything, auth.HashSecret(presented), mock.AnythingOfType("string"),
		mock.AnythingOfType("time.Time")).Return("u-1", nil)
	f.userRepo.On("GetByID", mock.Anything, "u-1").Return(storedUser("SecurePass123"), nil)

	w := httptest.NewRecorder()
	f.handler.Refresh(w, postJSON(t, "/api/v1/auth/refresh", RefreshRequest{RefreshToken: presented}))

	assert.Equal(t, http.StatusOK, w.Code)
	f.refreshRepo.AssertExpectations(t)
}

func TestRefreshHandler_InvalidSecretClearsCookies(t *testing.T) {
	f := newHandlerFixture(t)

	f.refreshRepo.On("Rotate", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("string"),
		mock.AnythingOfType("time.Time")).Return("", apperrors.ErrNotFound)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: CookieRefresh, Value: "stolen-or-reused"})

	w := httptest.NewRecorder()
	f.handler.Refresh(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	refresh := cookieByName(w.Result(), CookieRefresh)
	require.NotNil(t, refresh)
	assert.Empty(t, refresh.Value)
	assert.Negative(t, refresh.MaxAge, "the dead cookie must be expired")
}

func TestLogoutHandler_RevokesAndClears(t *testing.T) {
	f := newHandlerFixture(t)

	secret := "opaque-refresh-secret"
	f.refreshRepo.On("Delete", mock.Anything, auth.HashSecret(secret)).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: CookieRefresh, Value: secret})

	w := httptest.NewRecorder()
	f.handler.Logout(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	refresh := cookieByName(w.Result(), CookieRefresh)
	require.NotNil(t, refresh)
	assert.Negative(t, refresh.MaxAge)
	f.refreshRepo.AssertExpectations(t)
}

func TestLogoutHandler_WithoutSession(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	w := httptest.NewRecorder()
	f.handler.Logout(w, req)

	assert.Equal(t, http.StatusOK, w.Code, "logout is always a success")
	f.refreshRepo.AssertNotCalled(t, "Delete")
}

// ============================================================================
// Email verification and password reset
// ============================================================================

func TestVerifyEmailHandler_Messages(t *testing.T) {
	tests := []struct {
		name    string
		stored  func() *domain.User
		message string
	}{
		{
			name: "first verification",
			stored: func() *domain.User {
				u := storedUser("SecurePass123")
				u.EmailVerified = false
				return u
			},
			message: "email verified",
		},
		{
			name:    "already verified",
			stored:  func() *domain.User { return storedUser("SecurePass123") },
			message: "email already verified",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			stored := tt.stored()

			f.actionRepo.On("Consume", mock.Anything, mock.AnythingOfType("string"), domain.PurposeVerifyEmail).
				Return("u-1", nil)
			f.userRepo.On("GetByID", mock.Anything, "u-1").Return(stored, nil)
			f.userRepo.On("Update", mock.Anything, stored).Return(nil).Maybe()

			w := httptest.NewRecorder()
			f.handler.VerifyEmail(w, postJSON(t, "/api/v1/auth/verify-email", VerifyEmailRequest{Token: "token"}))

			assert.Equal(t, http.StatusOK, w.Code)
			env := decodeMessage(t, w)
			assert.Equal(t, tt.message, env.Data["message"])
		})
	}
}

func TestVerifyEmailHandler_InvalidToken(t *testing.T) {
	f := newHandlerFixture(t)

	f.actionRepo.On("Consume", mock.Anything, mock.AnythingOfType("string"), domain.PurposeVerifyEmail).
		Return("", apperrors.ErrNotFound)

	w := httptest.NewRecorder()
	f.handler.VerifyEmail(w, postJSON(t, "/api/v1/auth/verify-email", VerifyEmailRequest{Token: "bad"}))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestPasswordResetHandler_GenericResponse(t *testing.T) {
	// Known and unknown emails produce the same body.
	known := newHandlerFixture(t)
	known.userRepo.On("GetByEmail", mock.Anything, "ada@example.com").Return(storedUser("SecurePass123"), nil)
	known.actionRepo.On("Issue", mock.Anything, "u-1", domain.PurposeResetPassword,
		mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).Return(nil)

	unknown := newHandlerFixture(t)
	unknown.userRepo.On("GetByEmail", mock.Anything, "ada@example.com").Return(nil, apperrors.ErrNotFound)

	wKnown := httptest.NewRecorder()
	known.handler.RequestPasswordReset(wKnown, postJSON(t, "/api/v1/auth/request-password-reset",
		RequestPasswordResetRequest{Email: "ada@example.com"}))

	wUnknown := httptest.NewRecorder()
	unknown.handler.RequestPasswordReset(wUnknown, postJSON(t, "/api/v1/auth/request-password-reset",
		RequestPasswordResetRequest{Email: "ada@example.com"}))

	assert.Equal(t, http.StatusOK, wKnown.Code)
	assert.Equal(t, http.StatusOK, wUnknown.Code)
	assert.Equal(t, wKnown.Body.String(), wUnknown.Body.String())
}

func TestResetPasswordHandler_Success(t *testing.T) {
	f := newHandlerFixture(t)

	stored := storedUser("OldPassword1")
	f.actionRepo.On("Consume", mock.Anything, mock.AnythingOfType("string"), domain.PurposeResetPassword).
		Return("u-1", nil)
	f.userRepo.On("GetByID", mock.Anything, "u-1").Return(stored, nil)
	f.userRepo.On("Update", mock.Anything, stored).Return(nil)
	f.refreshRepo.On("DeleteAllForUser", mock.Anything, "u-1").Return(nil)

	w := httptest.NewRecorder()
	f.handler.ResetPassword(w, postJSON(t, "/api/v1/auth/reset-password", ResetPasswordRequest{
		Token:       "reset-token",
		NewPassword: "NewPassword1",
	}))

	assert.Equal(t, http.StatusOK, w.Code)
	f.refreshRepo.AssertCalled(t, "DeleteAllForUser", mock.Anything, "u-1")
}

// ============================================================================
// ChangePassword (session-authenticated)
// ============================================================================

func TestChangePasswordHandler_ClearsCookies(t *testing.T) {
	f := newHandlerFixture(t)

	stored := storedUser("OldPassword1")
	f.userRepo.On("GetByID", mock.Anything, "u-1").Return(stored, nil)
	f.userRepo.On("Update", mock.Anything, stored).Return(nil)
	f.refreshRepo.On("DeleteAllForUser", mock.Anything, "u-1").Return(nil)

	// Run through the real session middleware so the handler reads the user
	// id the same way it does in production.
	validate := func(token string) (*middleware.Claims, error) {
		return &middleware.Claims{UserID: "u-1", Email: "ada@example.com"}, nil
	}
	protected := middleware.Auth(validate, CookieAccess)(http.HandlerFunc(f.handler.ChangePassword))

	req := postJSON(t, "/api/v1/auth/change-password", ChangePasswordRequest{
		CurrentPassword: "OldPassword1",
		NewPassword:     "NewPassword1",
	})
	req.AddCookie(&http.Cookie{Name: CookieAccess, Value: "session-token"})

	w := httptest.NewRecorder()
	protected.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	access := cookieByName(w.Result(), CookieAccess)
	require.NotNil(t, access)
	assert.Negative(t, access.MaxAge, "all sessions are revoked, including this one")
}

func TestChangePasswordHandler_MissingSession(t *testing.T) {
	f := newHandlerFixture(t)

	w := httptest.NewRecorder()
	f.handler.ChangePassword(w, postJSON(t, "/api/v1/auth/change-password", ChangePasswordRequest{
		CurrentPassword: "OldPassword1",
		NewPassword:     "NewPassword1",
	}))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	f.userRepo.AssertNotCalled(t, "GetByID")
}
