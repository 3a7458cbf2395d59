package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillbridge/auth-service/internal/domain"
	"github.com/skillbridge/auth-service/pkg/database"
	apperrors "github.com/skillbridge/auth-service/pkg/errors"
)

func newAccountTestFixture(t *testing.T) (*AccountRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	repo := NewAccountRepository(mock)
	return repo, mock
}

func sampleAccount() *domain.Account {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Account{
		ID:           "acc-1234",
		Email:        "alice@example.com",
		FullName:     "Alice Smith",
		PasswordHash: "hash-abc",
		Role:         domain.RoleStudent,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// accountColumnNames returns the 12 column names scanned by scanAccount.
func accountColumnNames() []string {
	return []string{
		"id", "email", "full_name", "password_hash", "role", "status",
		"failed_login_attempts", "locked_until", "last_login_at",
		"created_at", "updated_at", "deleted_at",
	}
}

func accountRow(a *domain.Account) *pgxmock.Rows {
	return pgxmock.NewRows(accountColumnNames()).AddRow(
		a.ID, a.Email, a.FullName, a.PasswordHash, a.Role, a.Status,
		a.FailedLoginAttempts, a.LockedUntil, a.LastLoginAt,
		a.CreatedAt, a.UpdatedAt, a.DeletedAt,
	)
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestAccountRepository_Create_Success(t *testing.T) {
	repo, mock := newAccountTestFixture(t)
	defer mock.Close()

	a := sampleAccount()

	mock.ExpectExec("INSERT INTO accounts").
		WithArgs(
			a.ID, a.Email, a.FullName, a.PasswordHash, a.Role, a.Status,
			a.FailedLoginAttempts, a.CreatedAt, a.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Create(context.Background(), a)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_Create_DuplicateEmail(t *testing.T) {
	repo, mock := newAccountTestFixture(t)
	defer mock.Close()

	a := sampleAccount()

	mock.ExpectExec("INSERT INTO accounts").
		WithArgs(
			a.ID, a.Email, a.FullName, a.PasswordHash, a.Role, a.Status,
			a.FailedLoginAttempts, a.CreatedAt, a.UpdatedAt,
		).
		WillReturnError(fmt.Errorf("ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)"))

	err := repo.Create(context.Background(), a)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyExists), "expected ErrAlreadyExists, got: %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// GetByID / GetByEmail
// ---------------------------------------------------------------------------

func TestAccountRepository_GetByID_Success(t *testing.T) {
	repo, mock := newAccountTestFixture(t)
	defer mock.Close()

	a := sampleAccount()

	mock.ExpectQuery("SELECT .+ FROM accounts WHERE id =").
		WithArgs(a.ID).
		WillReturnRows(accountRow(a))

	got, err := repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.Email, got.Email)
	assert.Equal(t, a.Role, got.Role)
	assert.Equal(t, a.Status, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newAccountTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM accounts WHERE id =").
		WithArgs("missing-id").
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByID(context.Background(), "missing-id")
	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound), "expected ErrNotFound, got: %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_GetByEmail_Success(t *testing.T) {
	repo, mock := newAccountTestFixture(t)
	defer mock.Close()

	a := sampleAccount()

	mock.ExpectQuery("SELECT .+ FROM accounts WHERE email =").
		WithArgs(a.Email).
		WillReturnRows(accountRow(a))

	got, err := repo.GetByEmail(context.Background(), a.Email)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.Email, got.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_GetByEmail_NotFound(t *testing.T) {
	repo, mock := newAccountTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM accounts WHERE email =").
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByEmail(context.Background(), "nobody@example.com")
	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// RecordLoginFailure / RecordLoginSuccess
// ---------------------------------------------------------------------------

func TestAccountRepository_RecordLoginFailure_BelowThreshold(t *testing.T) {
	repo, mock := newAccountTestFixture(t)
	defer mock.Close()

	a := sampleAccount()
	a.FailedLoginAttempts = 1

	mock.ExpectQuery("UPDATE accounts").
		WithArgs(a.ID, 5, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(accountRow(a))

	got, err := repo.RecordLoginFailure(context.Background(), a.ID, 5, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailedLoginAttempts)
	assert.Nil(t, got.LockedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_RecordLoginFailure_ReachesThreshold(t *testing.T) {
	repo, mock := newAccountTestFixture(t)
	defer mock.Close()

	a := sampleAccount()
	a.FailedLoginAttempts = 5
	lockedUntil := time.Now().UTC().Add(15 * time.Minute).Truncate(time.Microsecond)
	a.LockedUntil = &lockedUntil

	mock.ExpectQuery("UPDATE accounts").
		WithArgs(a.ID, 5, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(accountRow(a))

	got, err := repo.RecordLoginFailure(context.Background(), a.ID, 5, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5, got.FailedLoginAttempts)
	require.NotNil(t, got.LockedUntil)
	assert.Equal(t, lockedUntil, *got.LockedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_RecordLoginFailure_CounterCappedAtThreshold(t *testing.T) {
	repo, mock := newAccountTestFixture(t)
	defer mock.Close()

	a := sampleAccount()
	a.FailedLoginAttempts = 5
	lockedUntil := time.Now().UTC().Add(15 * time.Minute).Truncate(time.Microsecond)
	a.LockedUntil = &lockedUntil

	// Failures past the threshold must not push the counter beyond it.
	mock.ExpectQuery(`LEAST\(failed_login_attempts \+ 1, \$2\)`).
		WithArgs(a.ID, 5, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(accountRow(a))

	got, err := repo.RecordLoginFailure(context.Background(), a.ID, 5, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5, got.FailedLoginAttempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_RecordLoginFailure_NotFound(t *testing.T) {
	repo, mock := newAccountTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("UPDATE accounts").
		WithArgs("missing-id", 5, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.RecordLoginFailure(context.Background(), "missing-id", 5, 15*time.Minute)
	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_RecordLoginSuccess(t *testing.T) {
	repo, mock := newAccountTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE accounts").
		WithArgs("acc-1234", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.RecordLoginSuccess(context.Background(), "acc-1234")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_RecordLoginSuccess_NotFound(t *testing.T) {
	repo, mock := newAccountTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE accounts").
		WithArgs("missing-id", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.RecordLoginSuccess(context.Background(), "missing-id")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// UpdatePassword / CompletePasswordReset
// ---------------------------------------------------------------------------

func TestAccountRepository_UpdatePassword(t *testing.T) {
	repo, mock := newAccountTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE accounts").
		WithArgs("acc-1234", "new-hash", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.UpdatePassword(context.Background(), "acc-1234", "new-hash")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_CompletePasswordReset_Success(t *testing.T) {
	repo, mock := newAccountTestFixture(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts").
		WithArgs("acc-1234", "new-hash", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM auth_tokens").
		WithArgs("tok-9", domain.TokenKindPasswordReset).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("UPDATE auth_tokens").
		WithArgs("acc-1234", domain.TokenKindRefresh, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectCommit()

	err := repo.CompletePasswordReset(context.Background(), "acc-1234", "new-hash", "tok-9")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_CompletePasswordReset_AccountGone(t *testing.T) {
	repo, mock := newAccountTestFixture(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts").
		WithArgs("missing-id", "new-hash", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := repo.CompletePasswordReset(context.Background(), "missing-id", "new-hash", "tok-9")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// UpdateStatus
// ---------------------------------------------------------------------------

func TestAccountRepository_UpdateStatus(t *testing.T) {
	repo, mock := newAccountTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE accounts").
		WithArgs("acc-1234", domain.StatusSuspended, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.UpdateStatus(context.Background(), "acc-1234", domain.StatusSuspended)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_UpdateStatus_DeletedStampsDeletedAt(t *testing.T) {
	repo, mock := newAccountTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE accounts SET status = .+, deleted_at =").
		WithArgs("acc-1234", domain.StatusDeleted, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.UpdateStatus(context.Background(), "acc-1234", domain.StatusDeleted)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
