package repository

import (
	"context"
	"time"

	"github.com/skillbridge/auth-service/internal/domain"
)

// AccountRepository defines the interface for account persistence operations.
type AccountRepository interface {
	// Create inserts a new account into the store.
	Create(ctx context.Context, account *domain.Account) error

	// GetByID retrieves an account by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Account, error)

	// GetByEmail retrieves a non-deleted account by its email address.
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)

	// RecordLoginFailure increments the failed login counter, never past
	// threshold, and once the counter reaches threshold sets the lock
	// expiry lockout from now. The updated account is returned.
	RecordLoginFailure(ctx context.Context, id string, threshold int, lockout time.Duration) (*domain.Account, error)

	// RecordLoginSuccess resets the failed login counter, clears any lock,
	// and stamps the last login time.
	RecordLoginSuccess(ctx context.Context, id string) error

	// UpdatePassword replaces the account's password hash.
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// CompletePasswordReset atomically updates the password hash, consumes
	// the reset token record, and revokes every refresh token for the
	// account, so no session issued before the reset survives it.
	CompletePasswordReset(ctx context.Context, accountID, passwordHash, resetTokenID string) error

	// UpdateStatus transitions the account to the given status. Approval,
	// suspension, and deletion decisions come from admin tooling outside
	// this service; nothing in the auth flows changes a status.
	UpdateStatus(ctx context.Context, id string, status domain.Status) error
}

// TokenRepository defines the interface for auth token persistence operations.
type TokenRepository interface {
	// Create stores a new token record.
	Create(ctx context.Context, token *domain.AuthToken) error

	// Redeem atomically marks the token matching the given hash and kind
	// as used and returns it. A token that is missing, already used, or
	// expired yields a distinguishing error instead.
	Redeem(ctx context.Context, tokenHash string, kind domain.TokenKind) (*domain.AuthToken, error)

	// RevokeAllForAccount marks every unused token of the given kind for
	// the account as used.
	RevokeAllForAccount(ctx context.Context, accountID string, kind domain.TokenKind) error

	// DeleteExpired removes token records that expired before the cutoff.
	// The server process runs this on a timer; see AuthService.PurgeExpiredTokens.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
