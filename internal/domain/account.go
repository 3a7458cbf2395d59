package domain

import (
	"time"
)

// Account represents a registered account. Protection counters and the
// password hash are never serialized to clients.
type Account struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	FullName            string     `json:"full_name"`
	PasswordHash        string     `json:"-"`
	Role                Role       `json:"role"`
	Status              Status     `json:"status"`
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	DeletedAt           *time.Time `json:"-"`
}

// Deleted reports whether the account has been soft-deleted. Deleted rows
// are kept for history and never returned to callers.
func (a *Account) Deleted() bool {
	return a.DeletedAt != nil || a.Status == StatusDeleted
}

// TokenPair holds an access and refresh token pair together with the access
// token validity window in seconds.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}
