package domain

// Status is the lifecycle state of an account. Only active accounts may
// complete a login.
type Status string

const (
	StatusPendingVerification Status = "pending_verification"
	StatusPendingApproval     Status = "pending_approval"
	StatusActive              Status = "active"
	StatusSuspended           Status = "suspended"
	StatusDeleted             Status = "deleted"
)

// LoginBlockedReason maps a non-active status to the message shown to a user
// whose credentials were otherwise correct. Legitimate pending users should
// understand why they cannot yet log in.
func (s Status) LoginBlockedReason() string {
	switch s {
	case StatusActive:
		return ""
	case StatusPendingVerification:
		return "account email has not been verified yet"
	case StatusPendingApproval:
		return "account is awaiting approval"
	case StatusSuspended:
		return "account has been suspended"
	case StatusDeleted:
		return "account has been deleted"
	default:
		return "account is not active"
	}
}
