package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/skillbridge/auth-service/internal/domain"
	"github.com/skillbridge/auth-service/internal/repository"
	apperrors "github.com/skillbridge/auth-service/pkg/errors"
)

const (
	// DefaultThreshold is the number of consecutive failed logins that
	// triggers a lock.
	DefaultThreshold = 5

	// DefaultLockout is how long a triggered lock lasts.
	DefaultLockout = 15 * time.Minute
)

// Guard enforces the failed-login lockout policy. The counter only resets
// on a successful login; a lock expiring by itself leaves the counter in
// place, so one more bad password after the window re-locks the account
// immediately.
type Guard struct {
	accounts  repository.AccountRepository
	threshold int
	lockout   time.Duration
	logger    *slog.Logger
}

// New creates a guard over the given account repository. Non-positive
// threshold or lockout values fall back to the defaults.
func New(accounts repository.AccountRepository, threshold int, lockout time.Duration, logger *slog.Logger) *Guard {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if lockout <= 0 {
		lockout = DefaultLockout
	}
	return &Guard{
		accounts:  accounts,
		threshold: threshold,
		lockout:   lockout,
		logger:    logger,
	}
}

// CheckLocked returns an error carrying the remaining lock time when the
// account is currently locked, and nil otherwise.
func (g *Guard) CheckLocked(account *domain.Account) error {
	if account.LockedUntil == nil {
		return nil
	}

	remaining := time.Until(*account.LockedUntil)
	if remaining <= 0 {
		return nil
	}

	return apperrors.AccountLocked(int64(remaining.Round(time.Second).Seconds()))
}

// RecordFailure counts a failed login attempt. It runs on a detached
// context so an abandoned request cannot skip the bookkeeping, and it
// returns whether this failure locked the account. Persistence errors are
// logged and swallowed; a counting failure must not mask the login error
// the caller is about to return.
func (g *Guard) RecordFailure(ctx context.Context, accountID string) (locked bool) {
	ctx = context.WithoutCancel(ctx)

	account, err := g.accounts.RecordLoginFailure(ctx, accountID, g.threshold, g.lockout)
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to record login failure",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
		return false
	}

	if account.LockedUntil != nil && time.Now().Before(*account.LockedUntil) {
		g.logger.WarnContext(ctx, "account locked after repeated login failures",
			slog.String("account_id", accountID),
			slog.Int("failed_attempts", account.FailedLoginAttempts),
			slog.Time("locked_until", *account.LockedUntil),
		)
		return true
	}

	return false
}

// RecordSuccess resets the failure counter and stamps the login time.
func (g *Guard) RecordSuccess(ctx context.Context, accountID string) error {
	if err := g.accounts.RecordLoginSuccess(ctx, accountID); err != nil {
		return apperrors.Wrap(err, "record login success")
	}
	return nil
}
