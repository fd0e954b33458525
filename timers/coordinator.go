// Package timers owns the three session timers: periodic silent refresh,
// periodic verify and the inactivity countdown. It is a scheduling primitive
// only; every firing is reported to a Handler as a named Trigger.
package timers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/election-session/debounce"
	"github.com/jrsteele09/election-session/internal/clock"
	"github.com/jrsteele09/election-session/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Trigger names the timer that fired.
type Trigger int

const (
	TriggerRefresh Trigger = iota + 1
	TriggerVerify
	TriggerInactivity
)

func (t Trigger) String() string {
	switch t {
	case TriggerRefresh:
		return "refresh"
	case TriggerVerify:
		return "verify"
	case TriggerInactivity:
		return "inactivity"
	}
	return fmt.Sprintf("trigger(%d)", int(t))
}

// Handler receives timer firings. A returned error is logged and the timer
// keeps its schedule.
type Handler func(ctx context.Context, t Trigger) error

// Intervals configures the timer set.
type Intervals struct {
	Refresh    time.Duration
	Verify     time.Duration
	Inactivity time.Duration
}

// Coordinator starts, resets and stops the timer set as one unit.
type Coordinator struct {
	clock       clock.Clock
	intervals   Intervals
	handler     Handler
	callTimeout time.Duration
	log         zerolog.Logger

	mu         sync.Mutex
	running    bool
	gen        uint64
	refresh    clock.Timer
	verify     clock.Timer
	inactivity *debounce.Debouncer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock (primarily for testing)
func WithClock(c clock.Clock) Option {
	return func(tc *Coordinator) {
		tc.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(tc *Coordinator) {
		tc.log = l
	}
}

// WithCallTimeout bounds the context handed to the Handler.
func WithCallTimeout(d time.Duration) Option {
	return func(tc *Coordinator) {
		tc.callTimeout = d
	}
}

// New creates a stopped Coordinator.
func New(intervals Intervals, handler Handler, options ...Option) (*Coordinator, error) {
	if handler == nil {
		return nil, errors.New("[timers.New] handler is required")
	}
	if intervals.Refresh <= 0 || intervals.Verify <= 0 || intervals.Inactivity <= 0 {
		return nil, errors.Errorf("[timers.New] all intervals must be positive: %+v", intervals)
	}

	tc := &Coordinator{
		clock:       clock.New(),
		intervals:   intervals,
		handler:     handler,
		callTimeout: 10 * time.Second,
		log:         log.Logger.With().Str("component", "timers").Logger(),
	}
	for _, opt := range options {
		opt(tc)
	}
	tc.inactivity = debounce.NewDebouncer(tc.clock, intervals.Inactivity, tc.onInactivity)
	return tc, nil
}

// Start arms all three timers. Calling it while running restarts the set,
// so no handle from the previous run survives.
func (tc *Coordinator) Start() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.stopLocked()
	tc.running = true
	gen := tc.gen
	tc.refresh = tc.schedule(gen, TriggerRefresh, tc.intervals.Refresh)
	tc.verify = tc.schedule(gen, TriggerVerify, tc.intervals.Verify)
	tc.inactivity.Trigger()
}

// Reset restarts the inactivity countdown. It is a no-op while stopped or
// once the countdown has fired. A countdown whose deadline has already
// passed by the clock, as when a host suspend held its timer back, fires
// now instead of restarting.
func (tc *Coordinator) Reset() {
	tc.mu.Lock()
	if !tc.running || !tc.inactivity.Pending() {
		tc.mu.Unlock()
		return
	}
	// Round(0) compares wall readings; the monotonic clock stops during suspend.
	if deadline, ok := tc.inactivity.Deadline(); ok && !tc.clock.Now().Round(0).Before(deadline.Round(0)) {
		tc.mu.Unlock()
		tc.log.Info().Time("deadline", deadline).Msg("inactivity deadline passed before its timer fired")
		tc.inactivity.Flush()
		return
	}
	tc.inactivity.Trigger()
	tc.mu.Unlock()
}

// Stop cancels all three timers. Safe to call any number of times.
func (tc *Coordinator) Stop() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.stopLocked()
}

// Running reports whether the timer set is armed.
func (tc *Coordinator) Running() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.running
}

// InactivityDeadline returns when the inactivity timer will fire.
func (tc *Coordinator) InactivityDeadline() (time.Time, bool) {
	return tc.inactivity.Deadline()
}

func (tc *Coordinator) stopLocked() {
	tc.gen++
	if tc.refresh != nil {
		tc.refresh.Stop()
		tc.refresh = nil
	}
	if tc.verify != nil {
		tc.verify.Stop()
		tc.verify = nil
	}
	tc.inactivity.Cancel()
	tc.running = false
}

func (tc *Coordinator) schedule(gen uint64, trigger Trigger, every time.Duration) clock.Timer {
	return tc.clock.AfterFunc(every, func() { tc.firePeriodic(gen, trigger, every) })
}

func (tc *Coordinator) firePeriodic(gen uint64, trigger Trigger, every time.Duration) {
	tc.mu.Lock()
	if !tc.running || gen != tc.gen {
		tc.mu.Unlock()
		return
	}
	// Re-arm before dispatching so a failing handler never ends the schedule.
	next := tc.schedule(gen, trigger, every)
	if trigger == TriggerRefresh {
		tc.refresh = next
	} else {
		tc.verify = next
	}
	tc.mu.Unlock()

	tc.dispatch(trigger)
}

func (tc *Coordinator) onInactivity() {
	tc.mu.Lock()
	running := tc.running
	tc.mu.Unlock()
	if !running {
		return
	}
	tc.dispatch(TriggerInactivity)
}

func (tc *Coordinator) dispatch(trigger Trigger) {
	ctx, cancel := context.WithTimeout(context.Background(), tc.callTimeout)
	defer cancel()
	if err := tc.handler(ctx, trigger); err != nil {
		tc.log.Warn().Err(err).Stringer("trigger", trigger).Msg("timer handler failed, keeping schedule")
	}
}
