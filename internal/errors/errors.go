package errors

import (
	"github.com/pkg/errors"
)

// Common error types for the session lifecycle
var (
	// Caller errors
	ErrLoginInProgress      = errors.New("login already in progress")
	ErrAlreadyAuthenticated = errors.New("session already authenticated")
	ErrNotAuthenticated     = errors.New("session not authenticated")
	ErrTransitionInFlight   = errors.New("session transition in flight")
	ErrAlreadyInitialised   = errors.New("session already initialised")

	// Gateway outcome errors
	ErrUnauthenticated     = errors.New("not authenticated")
	ErrMalformedResponse   = errors.New("malformed gateway response")
	ErrNoRefreshCredential = errors.New("no refresh credential")
	ErrTransient           = errors.New("transient gateway failure")

	// Lifecycle errors
	ErrStaleResponse  = errors.New("stale response discarded")
	ErrSessionExpired = errors.New("session expired")

	// Credential store errors
	ErrNoCredential = errors.New("no credential")
)

// Wrap annotates err with message and the stack at the call site.
// It returns nil when err is nil.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf is Wrap with a format specifier.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error with the supplied message and the stack at the call site
func New(text string) error {
	return errors.New(text)
}

// Errorf formats according to a format specifier and records the stack
func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}
