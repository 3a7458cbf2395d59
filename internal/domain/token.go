package domain

import (
	"time"
)

// TokenKind distinguishes the two classes of stored single-use tokens.
type TokenKind string

const (
	TokenKindRefresh       TokenKind = "refresh"
	TokenKindPasswordReset TokenKind = "password_reset"
)

// AuthToken is the persisted record of a single-use opaque token. Only the
// SHA-256 hash of the presented token string is stored; the plaintext leaves
// the process exactly once, at issuance.
type AuthToken struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	TokenHash string     `json:"-"`
	Kind      TokenKind  `json:"kind"`
	ExpiresAt time.Time  `json:"expires_at"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	IP        string     `json:"ip,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Expired reports whether the record is past its expiry at the given instant.
func (t *AuthToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
