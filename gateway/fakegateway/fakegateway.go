// Package fakegateway is a scripted in-memory gateway.Gateway for tests and
// the simulate command. Accounts are checked with bcrypt and access
// credentials are real HS256 JWTs, so expiry metadata behaves as in
// production.
package fakegateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/election-session/gateway"
	"github.com/jrsteele09/election-session/internal/clock"
	"github.com/jrsteele09/election-session/internal/errors"
	"github.com/jrsteele09/election-session/users"
)

// Op names a gateway call for counters, scripted errors and hooks.
type Op string

const (
	OpLogin   Op = "login"
	OpRefresh Op = "refresh"
	OpVerify  Op = "verify"
	OpProfile Op = "profile"
	OpLogout  Op = "logout"
)

// Hook runs at the start of a call, before any scripted answer. n is the
// 1-based call number for that op. A hook may block on ctx.
type Hook func(ctx context.Context, n int)

type account struct {
	hash      string
	principal users.Principal
}

// Gateway is the fake.
type Gateway struct {
	clock      clock.Clock
	signingKey []byte
	accessTTL  time.Duration

	mu           sync.Mutex
	accounts     map[string]account
	refreshes    map[string]string // refresh credential -> principal id
	current      *users.Principal
	calls        map[Op]int
	errs         map[Op]error
	hooks        map[Op]Hook
	valid        bool
	omitRotation bool
}

var _ gateway.Gateway = (*Gateway)(nil)

// Option configures the fake.
type Option func(*Gateway)

// WithClock sets the clock used for credential expiry.
func WithClock(c clock.Clock) Option {
	return func(g *Gateway) {
		g.clock = c
	}
}

// WithAccessTTL sets the lifetime of minted access credentials.
func WithAccessTTL(d time.Duration) Option {
	return func(g *Gateway) {
		g.accessTTL = d
	}
}

// New creates a fake with no accounts.
func New(options ...Option) *Gateway {
	g := &Gateway{
		clock:      clock.New(),
		signingKey: []byte(uuid.NewString()),
		accessTTL:  20 * time.Minute,
		accounts:   make(map[string]account),
		refreshes:  make(map[string]string),
		calls:      make(map[Op]int),
		errs:       make(map[Op]error),
		hooks:      make(map[Op]Hook),
		valid:      true,
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// AddUser registers an account. An empty principal id is generated.
func (g *Gateway) AddUser(email, password string, p users.Principal) (users.Principal, error) {
	hash, err := users.HashPassword(password)
	if err != nil {
		return users.Principal{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Email = email

	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts[email] = account{hash: hash, principal: p}
	return p, nil
}

// SetError scripts the error returned by every following op call. A nil
// err clears it.
func (g *Gateway) SetError(op Op, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.errs, op)
		return
	}
	g.errs[op] = err
}

// SetHook installs h for op. A nil h removes it.
func (g *Gateway) SetHook(op Op, h Hook) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h == nil {
		delete(g.hooks, op)
		return
	}
	g.hooks[op] = h
}

// SetValid scripts the verify answer.
func (g *Gateway) SetValid(valid bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.valid = valid
}

// OmitRefreshRotation makes refresh answers carry no refresh credential.
func (g *Gateway) OmitRefreshRotation(omit bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.omitRotation = omit
}

// Calls returns the number of op calls made so far.
func (g *Gateway) Calls(op Op) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// Revoke drops the backend session, as an administrator would.
func (g *Gateway) Revoke() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = nil
	g.refreshes = make(map[string]string)
}

func (g *Gateway) Login(ctx context.Context, email, password string) (*gateway.Result, error) {
	if err := g.begin(ctx, OpLogin); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	acc, ok := g.accounts[email]
	if !ok || !users.CheckPasswordHash(password, acc.hash) {
		return nil, errors.NewStatusError("fakegateway.login", http.StatusUnauthorized, "invalid credentials")
	}
	p := acc.principal
	g.current = &p
	return g.issueLocked(p, true)
}

func (g *Gateway) Refresh(ctx context.Context, refreshCredential string) (*gateway.Result, error) {
	if err := g.begin(ctx, OpRefresh); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if refreshCredential == "" {
		return nil, errors.ErrNoRefreshCredential
	}
	id, ok := g.refreshes[refreshCredential]
	if !ok {
		return nil, errors.NewStatusError("fakegateway.refresh", http.StatusUnauthorized, "unknown refresh credential")
	}
	p, ok := g.principalLocked(id)
	if !ok {
		return nil, errors.NewStatusError("fakegateway.refresh", http.StatusUnauthorized, "account removed")
	}
	rotate := !g.omitRotation
	if rotate {
		delete(g.refreshes, refreshCredential)
	}
	res, err := g.issueLocked(p, rotate)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (g *Gateway) Verify(ctx context.Context) (bool, error) {
	if err := g.begin(ctx, OpVerify); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.valid && g.current != nil, nil
}

func (g *Gateway) GetProfile(ctx context.Context) (*users.Principal, error) {
	if err := g.begin(ctx, OpProfile); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return nil, errors.NewStatusError("fakegateway.profile", http.StatusUnauthorized, "no session")
	}
	return g.current.Clone(), nil
}

func (g *Gateway) Logout(ctx context.Context) error {
	if err := g.begin(ctx, OpLogout); err != nil {
		return err
	}
	g.Revoke()
	return nil
}

// SignedIn seeds a backend session for p without a login call, as if a
// previous browsing session left valid cookies behind. It returns the
// issued credentials.
func (g *Gateway) SignedIn(p users.Principal) (*gateway.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.principalLocked(p.ID); !ok {
		g.accounts[p.Email] = account{principal: p}
	}
	g.current = &p
	return g.issueLocked(p, true)
}

func (g *Gateway) begin(ctx context.Context, op Op) error {
	g.mu.Lock()
	g.calls[op]++
	n := g.calls[op]
	hook := g.hooks[op]
	g.mu.Unlock()

	if hook != nil {
		hook(ctx, n)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errs[op]
}

func (g *Gateway) principalLocked(id string) (users.Principal, bool) {
	for _, acc := range g.accounts {
		if acc.principal.ID == id {
			return acc.principal, true
		}
	}
	return users.Principal{}, false
}

func (g *Gateway) issueLocked(p users.Principal, withRefresh bool) (*gateway.Result, error) {
	now := g.clock.Now()
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  p.ID,
		"role": string(p.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(g.accessTTL).Unix(),
		"jti":  uuid.NewString(),
	}).SignedString(g.signingKey)
	if err != nil {
		return nil, err
	}

	res := &gateway.Result{AccessCredential: access, Principal: p.Clone()}
	if withRefresh {
		res.RefreshCredential = uuid.NewString()
		g.refreshes[res.RefreshCredential] = p.ID
	}
	return res, nil
}
