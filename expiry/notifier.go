// Package expiry surfaces the inactivity warning and forced expiry to the
// presentation layer. It owns no session decision: extend and dismiss are
// forwarded to the session manager.
package expiry

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/election-session/events"
	"github.com/jrsteele09/election-session/internal/clock"
	"github.com/jrsteele09/election-session/internal/errors"
	"github.com/jrsteele09/election-session/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Phase is what the presentation layer shows.
type Phase string

const (
	PhaseNormal  Phase = "normal"
	PhaseWarning Phase = "warning"
	PhaseExpired Phase = "expired"
)

// Status is the notifier output. Remaining counts down to the inactivity
// deadline while in PhaseWarning.
type Status struct {
	Phase     Phase
	Remaining time.Duration
	Reason    events.Reason
}

// Controller is the part of sessions.Manager the notifier forwards to.
type Controller interface {
	Extend(ctx context.Context) error
	Logout(ctx context.Context) error
	ExpireNow(ctx context.Context, reason events.Reason) error
	InactivityDeadline() (time.Time, bool)
}

// SessionSource publishes session snapshots.
type SessionSource interface {
	Subscribe(fn func(sessions.Snapshot)) (unsubscribe func())
}

// Notifier computes the expiry phase.
type Notifier struct {
	controller  Controller
	clock       clock.Clock
	warningLead time.Duration
	markerTTL   time.Duration
	log         zerolog.Logger

	mu           sync.Mutex
	status       Status
	reconnected  time.Time
	hasReconnect bool
	nextSub      uint64
	subs         map[uint64]func(Status)
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithClock sets the clock (primarily for testing)
func WithClock(c clock.Clock) Option {
	return func(n *Notifier) {
		n.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(n *Notifier) {
		n.log = l
	}
}

// WithWarningLead sets how long before the inactivity deadline the
// warning shows.
func WithWarningLead(d time.Duration) Option {
	return func(n *Notifier) {
		n.warningLead = d
	}
}

// WithReconnectTTL sets how long a successful extend suppresses a warning
// or expiry.
func WithReconnectTTL(d time.Duration) Option {
	return func(n *Notifier) {
		n.markerTTL = d
	}
}

func NewNotifier(controller Controller, options ...Option) (*Notifier, error) {
	if controller == nil {
		return nil, errors.New("[expiry.NewNotifier] controller is required")
	}
	n := &Notifier{
		controller:  controller,
		clock:       clock.New(),
		warningLead: 5 * time.Minute,
		markerTTL:   5 * time.Second,
		log:         log.Logger.With().Str("component", "expiry").Logger(),
		status:      Status{Phase: PhaseNormal},
		subs:        make(map[uint64]func(Status)),
	}
	for _, opt := range options {
		opt(n)
	}
	return n, nil
}

// Watch listens for session-expired events on bus and, when src is not
// nil, clears the expired phase once a new session starts.
func (n *Notifier) Watch(bus *events.Bus, src SessionSource) (teardown func()) {
	releases := []func(){bus.Subscribe(n.onExpired)}
	if src != nil {
		releases = append(releases, src.Subscribe(n.onSession))
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			for _, release := range releases {
				release()
			}
		})
	}
}

// Status returns the last computed status.
func (n *Notifier) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// Evaluate recomputes the phase from the inactivity deadline.
func (n *Notifier) Evaluate() Status {
	deadline, armed := n.controller.InactivityDeadline()

	n.mu.Lock()
	if n.status.Phase == PhaseExpired {
		st := n.status
		n.mu.Unlock()
		return st
	}
	next := Status{Phase: PhaseNormal}
	if armed {
		remaining := deadline.Sub(n.clock.Now())
		if remaining < 0 {
			remaining = 0
		}
		next.Remaining = remaining
		if remaining <= n.warningLead && !n.markerFreshLocked() {
			next.Phase = PhaseWarning
		}
	}
	return n.setLocked(next)
}

// Extend asks for a session extension. On success the notifier returns to
// normal and a reconnect marker is set; on failure the session is expired.
func (n *Notifier) Extend(ctx context.Context) error {
	err := n.controller.Extend(ctx)
	if err == nil {
		n.mu.Lock()
		n.reconnected = n.clock.Now()
		n.hasReconnect = true
		n.mu.Unlock()
		n.Evaluate()
		return nil
	}

	n.log.Info().Err(err).Msg("extend failed, expiring session")
	if expErr := n.controller.ExpireNow(ctx, events.ReasonTokenRefreshFailed); expErr != nil &&
		!errors.Is(expErr, errors.ErrNotAuthenticated) && !errors.Is(expErr, errors.ErrTransitionInFlight) {
		n.log.Warn().Err(expErr).Msg("forced expiry did not run")
	}
	n.mu.Lock()
	n.setLocked(Status{Phase: PhaseExpired, Reason: events.ReasonTokenRefreshFailed})
	return err
}

// Dismiss closes the warning or expiry notice by logging out.
func (n *Notifier) Dismiss(ctx context.Context) error {
	err := n.controller.Logout(ctx)
	if errors.Is(err, errors.ErrNotAuthenticated) {
		err = nil
	}
	n.mu.Lock()
	n.setLocked(Status{Phase: PhaseNormal})
	return err
}

// Subscribe registers fn for every phase change.
func (n *Notifier) Subscribe(fn func(Status)) (unsubscribe func()) {
	n.mu.Lock()
	n.nextSub++
	id := n.nextSub
	n.subs[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// Run re-evaluates every interval of the notifier's clock until ctx is
// done, driving a countdown display.
func (n *Notifier) Run(ctx context.Context, interval time.Duration) error {
	tick := make(chan struct{}, 1)
	fire := func() {
		select {
		case tick <- struct{}{}:
		default:
		}
	}
	timer := n.clock.AfterFunc(interval, fire)
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-tick:
			n.Evaluate()
			timer = n.clock.AfterFunc(interval, fire)
		}
	}
}

func (n *Notifier) onExpired(e events.SessionExpired) {
	n.mu.Lock()
	if n.markerFreshLocked() {
		n.mu.Unlock()
		n.log.Debug().Str("reason", string(e.Reason)).Msg("expiry suppressed by recent reconnect")
		return
	}
	n.setLocked(Status{Phase: PhaseExpired, Reason: e.Reason})
}

func (n *Notifier) onSession(s sessions.Snapshot) {
	if !s.Authenticated() {
		return
	}
	n.mu.Lock()
	if n.status.Phase != PhaseExpired {
		n.mu.Unlock()
		return
	}
	n.setLocked(Status{Phase: PhaseNormal})
}

func (n *Notifier) markerFreshLocked() bool {
	return n.hasReconnect && n.clock.Now().Sub(n.reconnected) < n.markerTTL
}

// setLocked stores st, releases the lock and notifies subscribers when the
// phase changed.
func (n *Notifier) setLocked(st Status) Status {
	changed := st.Phase != n.status.Phase
	n.status = st
	var fns []func(Status)
	if changed {
		for _, fn := range n.subs {
			fns = append(fns, fn)
		}
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
	return st
}
