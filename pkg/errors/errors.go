package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrAlreadyExists    = errors.New("resource already exists")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrInternal         = errors.New("internal error")
	ErrAccountLocked    = errors.New("account locked")
	ErrAccountNotActive = errors.New("account not active")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenMalformed   = errors.New("token malformed")
	ErrTokenUsed        = errors.New("token already used")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
	Status     int      `json:"-"`
	Err        error    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// AlreadyExists creates a 409 error.
func AlreadyExists(resource, field, value string) *AppError {
	return &AppError{
		Code:    "ALREADY_EXISTS",
		Message: fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		Status:  http.StatusConflict,
		Err:     ErrAlreadyExists,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// ValidationFailed creates a 400 error carrying every violated rule, so the
// caller can display all problems at once rather than just the first.
func ValidationFailed(violations []string) *AppError {
	return &AppError{
		Code:       "VALIDATION_FAILED",
		Message:    strings.Join(violations, "; "),
		Violations: violations,
		Status:     http.StatusBadRequest,
		Err:        ErrInvalidInput,
	}
}

// InvalidCredentials creates a 401 error. The message is identical for an
// unknown email and a wrong password to prevent account enumeration.
func InvalidCredentials() *AppError {
	return &AppError{
		Code:    "INVALID_CREDENTIALS",
		Message: "invalid email or password",
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// AccountLocked creates a 423 error including the remaining lockout time.
func AccountLocked(remainingSeconds int64) *AppError {
	return &AppError{
		Code:    "ACCOUNT_LOCKED",
		Message: fmt.Sprintf("account is locked, try again in %d seconds", remainingSeconds),
		Status:  http.StatusLocked,
		Err:     ErrAccountLocked,
	}
}

// AccountNotActive creates a 403 error with a status-specific reason so
// legitimate pending users understand why they cannot yet log in.
func AccountNotActive(reason string) *AppError {
	return &AppError{
		Code:    "ACCOUNT_NOT_ACTIVE",
		Message: reason,
		Status:  http.StatusForbidden,
		Err:     ErrAccountNotActive,
	}
}

// TokenExpired creates a 401 error for a stale but otherwise well-formed token.
func TokenExpired() *AppError {
	return &AppError{
		Code:    "TOKEN_EXPIRED",
		Message: "token has expired",
		Status:  http.StatusUnauthorized,
		Err:     ErrTokenExpired,
	}
}

// TokenMalformed creates a 401 error for an invalid or tampered token.
func TokenMalformed() *AppError {
	return &AppError{
		Code:    "TOKEN_MALFORMED",
		Message: "token is invalid",
		Status:  http.StatusUnauthorized,
		Err:     ErrTokenMalformed,
	}
}

// TokenUsed creates a 401 error for a token that was already redeemed.
// Callers must treat this as a possible replay or compromise signal, not as
// a stale token.
func TokenUsed() *AppError {
	return &AppError{
		Code:    "TOKEN_ALREADY_USED",
		Message: "token has already been used, please log in again",
		Status:  http.StatusUnauthorized,
		Err:     ErrTokenUsed,
	}
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// Internal creates a 500 error. The wrapped cause is logged server-side and
// never serialized to the client.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenMalformed), errors.Is(err, ErrTokenUsed):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrAccountNotActive):
		return http.StatusForbidden
	case errors.Is(err, ErrAccountLocked):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}
