package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/skillbridge/auth-service/internal/domain"
	apperrors "github.com/skillbridge/auth-service/pkg/errors"
)

const tokenColumns = `id, account_id, token_hash, kind, expires_at, used, used_at, ip, user_agent, created_at`

// TokenRepository implements repository.TokenRepository using PostgreSQL.
type TokenRepository struct {
	db DB
}

// NewTokenRepository creates a new PostgreSQL-backed token repository.
func NewTokenRepository(db DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create stores a new token record in the database.
func (r *TokenRepository) Create(ctx context.Context, t *domain.AuthToken) error {
	query := `
		INSERT INTO auth_tokens (id, account_id, token_hash, kind, expires_at, used, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		t.ID,
		t.AccountID,
		t.TokenHash,
		t.Kind,
		t.ExpiresAt,
		t.Used,
		t.IP,
		t.UserAgent,
		t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("token", "hash", t.ID)
		}
		return fmt.Errorf("insert token: %w", err)
	}

	return nil
}

// Redeem marks the live token matching the hash and kind as used and
// returns it. The check and the flip happen in one UPDATE, so two
// concurrent presentations of the same token can never both succeed. When
// the UPDATE matches nothing, a follow-up lookup tells the caller whether
// the token was unknown, expired, or already spent.
func (r *TokenRepository) Redeem(ctx context.Context, tokenHash string, kind domain.TokenKind) (*domain.AuthToken, error) {
	query := fmt.Sprintf(`
		UPDATE auth_tokens
		SET used = true, used_at = $3
		WHERE token_hash = $1 AND kind = $2 AND NOT used AND expires_at > $3
		RETURNING %s`, tokenColumns)

	now := time.Now().UTC()

	t, err := r.scanToken(ctx, query, tokenHash, kind, now)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	return nil, r.classifyMiss(ctx, tokenHash, kind, now)
}

// classifyMiss explains why a redeem matched no row.
func (r *TokenRepository) classifyMiss(ctx context.Context, tokenHash string, kind domain.TokenKind, now time.Time) error {
	var used bool
	var expiresAt time.Time

	err := r.db.QueryRow(ctx,
		`SELECT used, expires_at FROM auth_tokens WHERE token_hash = $1 AND kind = $2`,
		tokenHash, kind,
	).Scan(&used, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("classify token miss: %w", err)
	}

	if used {
		return apperrors.TokenUsed()
	}
	if now.After(expiresAt) {
		return apperrors.TokenExpired()
	}
	return apperrors.ErrNotFound
}

// RevokeAllForAccount marks every unused token of the given kind for the
// account as used.
func (r *TokenRepository) RevokeAllForAccount(ctx context.Context, accountID string, kind domain.TokenKind) error {
	query := `
		UPDATE auth_tokens
		SET used = true, used_at = $3
		WHERE account_id = $1 AND kind = $2 AND NOT used`

	_, err := r.db.Exec(ctx, query, accountID, kind, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("revoke tokens for account: %w", err)
	}

	return nil
}

// DeleteExpired removes token records that expired before the cutoff.
func (r *TokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := r.db.Exec(ctx, `DELETE FROM auth_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}

	return ct.RowsAffected(), nil
}

// scanToken is a helper that executes a query expected to return a single token row.
func (r *TokenRepository) scanToken(ctx context.Context, query string, args ...any) (*domain.AuthToken, error) {
	var t domain.AuthToken

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&t.ID,
		&t.AccountID,
		&t.TokenHash,
		&t.Kind,
		&t.ExpiresAt,
		&t.Used,
		&t.UsedAt,
		&t.IP,
		&t.UserAgent,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan token: %w", err)
	}

	return &t, nil
}
