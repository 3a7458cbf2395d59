package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/skillbridge/auth-service/internal/domain"
	apperrors "github.com/skillbridge/auth-service/pkg/errors"
)

const accountColumns = `id, email, full_name, password_hash, role, status, failed_login_attempts, locked_until, last_login_at, created_at, updated_at, deleted_at`

// AccountRepository implements repository.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db DB
}

// NewAccountRepository creates a new PostgreSQL-backed account repository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account into the database.
func (r *AccountRepository) Create(ctx context.Context, a *domain.Account) error {
	query := `
		INSERT INTO accounts (id, email, full_name, password_hash, role, status, failed_login_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		a.ID,
		a.Email,
		a.FullName,
		a.PasswordHash,
		a.Role,
		a.Status,
		a.FailedLoginAttempts,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("account", "email", a.Email)
		}
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

// GetByID retrieves an account by its ID.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM accounts
		WHERE id = $1 AND deleted_at IS NULL`, accountColumns)

	return r.scanAccount(ctx, query, id)
}

// GetByEmail retrieves a non-deleted account by its email address.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM accounts
		WHERE email = $1 AND deleted_at IS NULL`, accountColumns)

	return r.scanAccount(ctx, query, email)
}

// RecordLoginFailure increments the failed login counter, capped at
// threshold, and sets the lock expiry once the counter reaches it. The
// increment and the lock decision happen in a single statement so
// concurrent failures cannot race past the threshold.
func (r *AccountRepository) RecordLoginFailure(ctx context.Context, id string, threshold int, lockout time.Duration) (*domain.Account, error) {
	query := fmt.Sprintf(`
		UPDATE accounts
		SET failed_login_attempts = LEAST(failed_login_attempts + 1, $2),
		    locked_until = CASE WHEN failed_login_attempts + 1 >= $2 THEN $3 ELSE locked_until END,
		    updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING %s`, accountColumns)

	now := time.Now().UTC()
	return r.scanAccount(ctx, query, id, threshold, now.Add(lockout), now)
}

// RecordLoginSuccess resets the failed login counter, clears any lock, and
// stamps the last login time.
func (r *AccountRepository) RecordLoginSuccess(ctx context.Context, id string) error {
	query := `
		UPDATE accounts
		SET failed_login_attempts = 0, locked_until = NULL, last_login_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`

	ct, err := r.db.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record login success: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("account", id)
	}

	return nil
}

// UpdatePassword replaces the account's password hash.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `
		UPDATE accounts
		SET password_hash = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL`

	ct, err := r.db.Exec(ctx, query, id, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("account", id)
	}

	return nil
}

// CompletePasswordReset updates the password hash, consumes the reset token
// record, and revokes every refresh token for the account within a single
// transaction, so a crash between the steps cannot leave a session alive
// under the old credentials.
func (r *AccountRepository) CompletePasswordReset(ctx context.Context, accountID, passwordHash, resetTokenID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()

	ct, err := tx.Exec(ctx,
		`UPDATE accounts SET password_hash = $2, failed_login_attempts = 0, locked_until = NULL, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`,
		accountID, passwordHash, now,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("account", accountID)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM auth_tokens WHERE id = $1 AND kind = $2`,
		resetTokenID, domain.TokenKindPasswordReset,
	)
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE auth_tokens SET used = true, used_at = $3 WHERE account_id = $1 AND kind = $2 AND NOT used`,
		accountID, domain.TokenKindRefresh, now,
	)
	if err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// UpdateStatus transitions the account to the given status.
func (r *AccountRepository) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	now := time.Now().UTC()

	var ct pgconn.CommandTag
	var err error
	if status == domain.StatusDeleted {
		ct, err = r.db.Exec(ctx,
			`UPDATE accounts SET status = $2, deleted_at = $3, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`,
			id, status, now,
		)
	} else {
		ct, err = r.db.Exec(ctx,
			`UPDATE accounts SET status = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`,
			id, status, now,
		)
	}
	if err != nil {
		return fmt.Errorf("update account status: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("account", id)
	}

	return nil
}

// scanAccount is a helper that executes a query expected to return a single account row.
func (r *AccountRepository) scanAccount(ctx context.Context, query string, args ...any) (*domain.Account, error) {
	var a domain.Account

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&a.ID,
		&a.Email,
		&a.FullName,
		&a.PasswordHash,
		&a.Role,
		&a.Status,
		&a.FailedLoginAttempts,
		&a.LockedUntil,
		&a.LastLoginAt,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	return &a, nil
}
