package errors

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/pkg/errors"
)

// Kind is the normalized category of a gateway failure. State transition
// decisions are made on the Kind, never on the raw transport error.
type Kind int

const (
	// KindNone means no error.
	KindNone Kind = iota
	// KindTransient covers connection resets, aborts, timeouts and 5xx answers.
	KindTransient
	// KindAuthentication covers 401/403 and explicit credential rejections.
	KindAuthentication
	// KindMalformed covers answers missing expected fields.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransient:
		return "transient"
	case KindAuthentication:
		return "authentication"
	case KindMalformed:
		return "malformed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// StatusError is a status-coded failure returned by a gateway call.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
}

// NewStatusError builds a StatusError for op.
func NewStatusError(op string, statusCode int, message string) *StatusError {
	return &StatusError{Op: op, StatusCode: statusCode, Message: message}
}

// KindOf normalizes err. Anything that cannot be recognised as transient is
// treated as an authentication failure so that a session is never assumed
// valid on an unexpected answer.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, ErrMalformedResponse) {
		return KindMalformed
	}
	if errors.Is(err, ErrUnauthenticated) {
		return KindAuthentication
	}
	if errors.Is(err, ErrTransient) {
		return KindTransient
	}

	var se *StatusError
	if errors.As(err, &se) {
		return kindOfStatus(se.StatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return KindTransient
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNABORTED) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindAuthentication
}

func kindOfStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuthentication
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return KindTransient
	case code >= 500:
		return KindTransient
	}
	return KindAuthentication
}

// IsTransient reports whether err normalizes to KindTransient.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// UserMessage returns the presentation-safe message for a failed login.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindNone:
		return ""
	case KindTransient:
		return "The authentication service is unavailable, please try again."
	case KindMalformed:
		return "The authentication service returned an unexpected answer."
	}
	return "Invalid email or password."
}
