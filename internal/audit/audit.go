package audit

import (
	"context"
	"time"
)

// Outcome classifies how an audited operation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Action names for the authentication trail.
const (
	ActionSignup        = "signup"
	ActionLogin         = "login"
	ActionRefresh       = "refresh"
	ActionLogout        = "logout"
	ActionResetRequest  = "password_reset_request"
	ActionResetConfirm  = "password_reset_confirm"
	ActionAccountLocked = "account_locked"
	ActionTokenReplay   = "token_replay"
)

// Event is one entry in the authentication audit trail. AccountID may be
// empty when the attempt never resolved to an account, such as a login
// against an unknown email.
type Event struct {
	AccountID string    `json:"account_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	Action    string    `json:"action"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives audit events. Implementations must be safe for concurrent
// use. Append failures are the sink's problem to surface; the auth flows
// never fail because the trail is down.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// NopSink discards every event. Used in tests and when no broker is
// configured.
type NopSink struct{}

func (NopSink) Append(ctx context.Context, event Event) error { return nil }
