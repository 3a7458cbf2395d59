package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/skillbridge/auth-service/internal/audit"
	"github.com/skillbridge/auth-service/internal/domain"
	"github.com/skillbridge/auth-service/internal/guard"
	"github.com/skillbridge/auth-service/internal/password"
	"github.com/skillbridge/auth-service/internal/service"
	"github.com/skillbridge/auth-service/internal/token"
	apperrors "github.com/skillbridge/auth-service/pkg/errors"
	"github.com/skillbridge/auth-service/pkg/middleware"
)

// ============================================================================
// Mock Repositories
// ============================================================================

type mockAccountRepo struct {
	mock.Mock
}

func (m *mockAccountRepo) Create(ctx context.Context, account *domain.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *mockAccountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *mockAccountRepo) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *mockAccountRepo) RecordLoginFailure(ctx context.Context, id string, threshold int, lockout time.Duration) (*domain.Account, error) {
	args := m.Called(ctx, id, threshold, lockout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *mockAccountRepo) RecordLoginSuccess(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockAccountRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	args := m.Called(ctx, id, passwordHash)
	return args.Error(0)
}

func (m *mockAccountRepo) CompletePasswordReset(ctx context.Context, accountID, passwordHash, resetTokenID string) error {
	args := m.Called(ctx, accountID, passwordHash, resetTokenID)
	return args.Error(0)
}

func (m *mockAccountRepo) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

type mockTokenRepo struct {
	mock.Mock
}

func (m *mockTokenRepo) Create(ctx context.Context, t *domain.AuthToken) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *mockTokenRepo) Redeem(ctx context.Context, tokenHash string, kind domain.TokenKind) (*domain.AuthToken, error) {
	args := m.Called(ctx, tokenHash, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AuthToken), args.Error(1)
}

func (m *mockTokenRepo) RevokeAllForAccount(ctx context.Context, accountID string, kind domain.TokenKind) error {
	args := m.Called(ctx, accountID, kind)
	return args.Error(0)
}

func (m *mockTokenRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// ============================================================================
// Test Helpers
// ============================================================================

const testAccountID = "550e8400-e29b-41d4-a716-446655440001"

func handlerTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func handlerTestCodec() *token.Codec {
	return token.NewCodec("access-secret", "refresh-secret", 15*time.Minute, 168*time.Hour)
}

func handlerTestService(accounts *mockAccountRepo, tokens *mockTokenRepo) *service.AuthService {
	logger := handlerTestLogger()
	g := guard.New(accounts, 5, 15*time.Minute, logger)
	return service.NewAuthService(accounts, tokens, password.NewHasher(bcrypt.MinCost), handlerTestCodec(), g, audit.NopSink{}, service.NopResetNotifier{}, logger, time.Hour)
}

// setupAuthRouter mirrors the production public auth routes.
func setupAuthRouter(handler *AuthHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/signup", handler.Signup)
		r.Post("/login", handler.Login)
		r.Post("/refresh", handler.Refresh)
		r.Post("/logout", handler.Logout)
		r.Post("/forgot-password", handler.ForgotPassword)
		r.Post("/reset-password", handler.ResetPassword)
	})
	return r
}

// fakeTokenValidator always succeeds with the given account ID.
func fakeTokenValidator(accountID string) middleware.TokenValidator {
	return func(token string) (*middleware.Claims, error) {
		return &middleware.Claims{UserID: accountID, Email: "test@example.com", Role: "student"}, nil
	}
}

func setupAccountRouter(handler *AccountHandler, accountID string) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/api/v1/accounts", func(r chi.Router) {
		r.Use(middleware.Auth(fakeTokenValidator(accountID)))
		r.Get("/me", handler.Me)
	})
	return r
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var resp response
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	return resp
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func hashFor(t *testing.T, plain string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func sampleAccount(t *testing.T) *domain.Account {
	now := time.Now().UTC()
	return &domain.Account{
		ID:           testAccountID,
		Email:        "test@example.com",
		FullName:     "Test Account",
		PasswordHash: hashFor(t, "Str0ng!pass"),
		Role:         domain.RoleStudent,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ============================================================================
// Signup
// ============================================================================

func TestSignupHandler_Created(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	accounts.On("Create", mock.Anything, mock.Anything).Return(nil)
	tokens.On("Create", mock.Anything, mock.Anything).Return(nil)

	rec := postJSON(t, router, "/api/v1/auth/signup", SignupRequest{
		Email:           "new@example.com",
		Password:        "Str0ng!pass",
		ConfirmPassword: "Str0ng!pass",
		FullName:        "New Account",
		Role:            "student",
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := rec.Body.String()
	resp := decodeResponse(t, rec)
	assert.Nil(t, resp.Error)
	assert.NotNil(t, resp.Data)
	assert.Contains(t, body, "access_token")
	assert.Contains(t, body, "refresh_token")
	accounts.AssertExpectations(t)

	// The password hash must never appear in the response body.
	assert.NotContains(t, body, "password")
}

func TestSignupHandler_ConfirmationMismatch(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	rec := postJSON(t, router, "/api/v1/auth/signup", SignupRequest{
		Email:           "new@example.com",
		Password:        "Str0ng!pass",
		ConfirmPassword: "Other!Pass1",
		FullName:        "New Account",
		Role:            "student",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
	accounts.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSignupHandler_AdminRoleForbidden(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	rec := postJSON(t, router, "/api/v1/auth/signup", SignupRequest{
		Email:           "new@example.com",
		Password:        "Str0ng!pass",
		ConfirmPassword: "Str0ng!pass",
		FullName:        "New Account",
		Role:            "admin",
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "FORBIDDEN", resp.Error.Code)
}

func TestSignupHandler_WeakPasswordListsViolations(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	rec := postJSON(t, router, "/api/v1/auth/signup", SignupRequest{
		Email:           "new@example.com",
		Password:        "weak",
		ConfirmPassword: "weak",
		FullName:        "New Account",
		Role:            "student",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "VALIDATION_FAILED", resp.Error.Code)
	assert.NotEmpty(t, resp.Error.Violations)
}

func TestSignupHandler_InvalidEmail(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	rec := postJSON(t, router, "/api/v1/auth/signup", SignupRequest{
		Email:           "not-an-email",
		Password:        "Str0ng!pass",
		ConfirmPassword: "Str0ng!pass",
		FullName:        "New Account",
		Role:            "student",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestSignupHandler_InvalidJSON(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================================================
// Login
// ============================================================================

func TestLoginHandler_Success(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	account := sampleAccount(t)
	accounts.On("GetByEmail", mock.Anything, account.Email).Return(account, nil)
	accounts.On("RecordLoginSuccess", mock.Anything, account.ID).Return(nil)
	tokens.On("Create", mock.Anything, mock.Anything).Return(nil)

	rec := postJSON(t, router, "/api/v1/auth/login", LoginRequest{
		Email:    account.Email,
		Password: "Str0ng!pass",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_token")
	assert.Contains(t, rec.Body.String(), "refresh_token")
	accounts.AssertExpectations(t)
}

func TestLoginHandler_InvalidCredentials(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	accounts.On("GetByEmail", mock.Anything, "nobody@example.com").
		Return(nil, apperrors.ErrNotFound)

	rec := postJSON(t, router, "/api/v1/auth/login", LoginRequest{
		Email:    "nobody@example.com",
		Password: "whatever",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "INVALID_CREDENTIALS", resp.Error.Code)
	assert.Equal(t, "invalid email or password", resp.Error.Message)
}

func TestLoginHandler_LockedAccountReturns423(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	account := sampleAccount(t)
	lockedUntil := time.Now().Add(10 * time.Minute)
	account.LockedUntil = &lockedUntil
	accounts.On("GetByEmail", mock.Anything, account.Email).Return(account, nil)

	rec := postJSON(t, router, "/api/v1/auth/login", LoginRequest{
		Email:    account.Email,
		Password: "Str0ng!pass",
	})

	assert.Equal(t, http.StatusLocked, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "ACCOUNT_LOCKED", resp.Error.Code)
}

func TestLoginHandler_SuspendedAccountReturns403(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	account := sampleAccount(t)
	account.Status = domain.StatusSuspended
	accounts.On("GetByEmail", mock.Anything, account.Email).Return(account, nil)

	rec := postJSON(t, router, "/api/v1/auth/login", LoginRequest{
		Email:    account.Email,
		Password: "Str0ng!pass",
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "ACCOUNT_NOT_ACTIVE", resp.Error.Code)
}

// ============================================================================
// Refresh / Logout
// ============================================================================

func signedRefreshToken(t *testing.T, accountID string) (string, string) {
	t.Helper()
	signed, err := handlerTestCodec().GenerateRefreshToken(accountID, "tok-rec-1")
	require.NoError(t, err)
	return signed, token.Hash(signed)
}

func TestRefreshHandler_Success(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	account := sampleAccount(t)
	signed, hash := signedRefreshToken(t, account.ID)
	record := &domain.AuthToken{ID: "tok-rec-1", AccountID: account.ID, Kind: domain.TokenKindRefresh}

	tokens.On("Redeem", mock.Anything, hash, domain.TokenKindRefresh).Return(record, nil)
	accounts.On("GetByID", mock.Anything, account.ID).Return(account, nil)
	tokens.On("Create", mock.Anything, mock.Anything).Return(nil)

	rec := postJSON(t, router, "/api/v1/auth/refresh", RefreshRequest{RefreshToken: signed})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_token")
}

func TestRefreshHandler_ReplayReturns401(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	signed, hash := signedRefreshToken(t, testAccountID)
	tokens.On("Redeem", mock.Anything, hash, domain.TokenKindRefresh).
		Return(nil, apperrors.TokenUsed())
	tokens.On("RevokeAllForAccount", mock.Anything, testAccountID, domain.TokenKindRefresh).
		Return(nil)

	rec := postJSON(t, router, "/api/v1/auth/refresh", RefreshRequest{RefreshToken: signed})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "TOKEN_ALREADY_USED", resp.Error.Code)
	tokens.AssertExpectations(t)
}

func TestRefreshHandler_GarbageToken(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	rec := postJSON(t, router, "/api/v1/auth/refresh", RefreshRequest{RefreshToken: "garbage"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "TOKEN_MALFORMED", resp.Error.Code)
}

func TestLogoutHandler_Success(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	signed, _ := signedRefreshToken(t, testAccountID)
	tokens.On("RevokeAllForAccount", mock.Anything, testAccountID, domain.TokenKindRefresh).
		Return(nil)

	rec := postJSON(t, router, "/api/v1/auth/logout", RefreshRequest{RefreshToken: signed})

	assert.Equal(t, http.StatusOK, rec.Code)
	tokens.AssertExpectations(t)
}

// ============================================================================
// Password reset
// ============================================================================

func TestForgotPasswordHandler_AlwaysAccepted(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	accounts.On("GetByEmail", mock.Anything, "nobody@example.com").
		Return(nil, apperrors.ErrNotFound)

	rec := postJSON(t, router, "/api/v1/auth/forgot-password", ForgotPasswordRequest{
		Email: "nobody@example.com",
	})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	// The body must not hint whether the email exists, or carry a token.
	assert.NotContains(t, rec.Body.String(), "token")
}

func TestForgotPasswordHandler_KnownEmailSameResponse(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	account := sampleAccount(t)
	accounts.On("GetByEmail", mock.Anything, account.Email).Return(account, nil)
	tokens.On("RevokeAllForAccount", mock.Anything, account.ID, domain.TokenKindPasswordReset).Return(nil)
	tokens.On("Create", mock.Anything, mock.Anything).Return(nil)

	rec := postJSON(t, router, "/api/v1/auth/forgot-password", ForgotPasswordRequest{
		Email: account.Email,
	})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotContains(t, rec.Body.String(), "token")
}

func TestResetPasswordHandler_Success(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	record := &domain.AuthToken{ID: "reset-1", AccountID: testAccountID, Kind: domain.TokenKindPasswordReset}
	tokens.On("Redeem", mock.Anything, token.Hash("the-reset-token"), domain.TokenKindPasswordReset).
		Return(record, nil)
	accounts.On("CompletePasswordReset", mock.Anything, testAccountID, mock.AnythingOfType("string"), "reset-1").
		Return(nil)

	rec := postJSON(t, router, "/api/v1/auth/reset-password", ResetPasswordRequest{
		Token:           "the-reset-token",
		NewPassword:     "N3w!Passw0rd",
		ConfirmPassword: "N3w!Passw0rd",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	accounts.AssertExpectations(t)
}

func TestResetPasswordHandler_ExpiredToken(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAuthHandler(handlerTestService(accounts, tokens), handlerTestLogger())
	router := setupAuthRouter(handler)

	tokens.On("Redeem", mock.Anything, token.Hash("stale"), domain.TokenKindPasswordReset).
		Return(nil, apperrors.TokenExpired())

	rec := postJSON(t, router, "/api/v1/auth/reset-password", ResetPasswordRequest{
		Token:           "stale",
		NewPassword:     "N3w!Passw0rd",
		ConfirmPassword: "N3w!Passw0rd",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "TOKEN_EXPIRED", resp.Error.Code)
}

// ============================================================================
// Me
// ============================================================================

func TestMeHandler_Success(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAccountHandler(handlerTestService(accounts, tokens))
	router := setupAccountRouter(handler, testAccountID)

	account := sampleAccount(t)
	accounts.On("GetByID", mock.Anything, testAccountID).Return(account, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/me", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Nil(t, resp.Error)
	assert.NotContains(t, rec.Body.String(), account.PasswordHash)
}

func TestMeHandler_Unauthorized(t *testing.T) {
	accounts := new(mockAccountRepo)
	tokens := new(mockTokenRepo)
	handler := NewAccountHandler(handlerTestService(accounts, tokens))

	r := chi.NewRouter()
	r.Get("/api/v1/accounts/me", handler.Me)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/me", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)
}
