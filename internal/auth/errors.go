package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrEmailNotVerified    = errors.New("email not verified")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshRevoked      = errors.New("refresh token revoked")
)

// FieldError reports a single failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries field-level detail for a 400 response.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	return e.Errors[0].Message
}

// ConflictError reports a duplicate email or username at registration.
// Revealing which field conflicts is an accepted enumeration trade-off.
type ConflictError struct {
	Field   string
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// InvalidCredentialsError covers unknown identities and wrong passwords
// with one indistinguishable message.
type InvalidCredentialsError struct {
	RemainingAttempts int
}

func (e *InvalidCredentialsError) Error() string { return "Invalid credentials" }

// LockedError reports a locked identity and when the lock expires.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("Account is locked. Try again in %d minutes.", e.Minutes())
}

func (e *LockedError) Minutes() int {
	minutes := int(time.Until(e.Until).Minutes()) + 1
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// RateLimitedError is returned when an attempt budget is exhausted.
type RateLimitedError struct {
	Message           string
	RemainingAttempts int
	RetryAfter        time.Duration
}

func (e *RateLimitedError) Error() string { return e.Message }

// CodeRequiredError signals the login second factor: the password checked
// out and an email code is pending. ResendIn is seconds until a new code
// may be requested.
type CodeRequiredError struct {
	Message  string
	ResendIn int
}

func (e *CodeRequiredError) Error() string { return e.Message }

// AuthError is a generic, deliberately vague authentication failure.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }
