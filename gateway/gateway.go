// Package gateway is the Remote Auth Gateway contract: the five calls a tab
// makes to the authentication backend, and the wire format of the
// same-origin auth proxy that serves them.
package gateway

import (
	"context"

	"github.com/jrsteele09/election-session/internal/errors"
	"github.com/jrsteele09/election-session/users"
)

// Proxy routes, relative to the portal origin.
const (
	RouteProbe   = "/api/auth/probe"
	RouteLogin   = "/api/auth/login"
	RouteRefresh = "/api/auth/refresh"
	RouteVerify  = "/api/auth/verify"
	RouteMe      = "/api/auth/me"
	RouteLogout  = "/api/auth/logout"
	RouteHealth  = "/healthz"
)

// Gateway is the Remote Auth Gateway. Failures are returned as errors that
// internal/errors.KindOf can classify.
type Gateway interface {
	Login(ctx context.Context, email, password string) (*Result, error)
	Refresh(ctx context.Context, refreshCredential string) (*Result, error)
	// Verify reports false (with a nil error) when the backend answers
	// "not authenticated".
	Verify(ctx context.Context) (bool, error)
	GetProfile(ctx context.Context) (*users.Principal, error)
	Logout(ctx context.Context) error
}

// Result is a successful login or refresh answer.
type Result struct {
	AccessCredential  string           `json:"accessToken"`
	RefreshCredential string           `json:"refreshToken,omitempty"`
	Principal         *users.Principal `json:"user"`
}

// ValidateLogin rejects a login answer missing any part of the session.
func (r *Result) ValidateLogin() error {
	if r == nil {
		return errors.Wrap(errors.ErrMalformedResponse, "empty login answer")
	}
	if r.AccessCredential == "" || r.RefreshCredential == "" {
		return errors.Wrap(errors.ErrMalformedResponse, "login answer missing credentials")
	}
	if err := r.Principal.Validate(); err != nil {
		return errors.Wrapf(errors.ErrMalformedResponse, "login answer: %v", err)
	}
	return nil
}

// ValidateRefresh rejects a refresh answer without an access credential or
// principal. The refresh credential is optional.
func (r *Result) ValidateRefresh() error {
	if r == nil {
		return errors.Wrap(errors.ErrMalformedResponse, "empty refresh answer")
	}
	if r.AccessCredential == "" {
		return errors.Wrap(errors.ErrMalformedResponse, "refresh answer missing access credential")
	}
	if err := r.Principal.Validate(); err != nil {
		return errors.Wrapf(errors.ErrMalformedResponse, "refresh answer: %v", err)
	}
	return nil
}

// LoginRequest is the body of RouteLogin.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the body of RouteRefresh. An empty credential tells the
// proxy to use the refresh cookie.
type RefreshRequest struct {
	RefreshCredential string `json:"refreshToken,omitempty"`
}

// VerifyResponse is the body of RouteVerify.
type VerifyResponse struct {
	Valid bool `json:"valid"`
}

// ProbeResponse is the body of RouteProbe.
type ProbeResponse struct {
	HasCredential bool `json:"hasCredential"`
}

// ErrorResponse is the body of every non-2xx proxy answer.
type ErrorResponse struct {
	Error string `json:"error"`
}
