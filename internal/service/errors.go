package service

import (
	"errors"
	"fmt"
)

// Authentication/authorization failures. Handlers map these to 401 except
// ErrMissingSecret, which means the server itself is not configured (503).
var (
	ErrNotConnected        = errors.New("calendar account not connected")
	ErrTokenExchangeFailed = errors.New("authorization code exchange failed")
	ErrRefreshFailed       = errors.New("credential refresh failed")
	ErrInvalidState        = errors.New("invalid authorization state")
	ErrMissingSecret       = errors.New("calendar sync is not configured")
)

// ValidationError marks malformed caller input. It is always returned before
// any I/O happens.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// authError wraps a provider error with its auth-failure class so callers can
// classify with errors.Is without losing the cause.
func authError(class, cause error) error {
	return fmt.Errorf("%w: %v", class, cause)
}
