// Package activity turns raw interaction events into throttled resets of
// the inactivity timer.
package activity

import (
	"sync"
	"time"

	"github.com/jrsteele09/election-session/debounce"
	"github.com/jrsteele09/election-session/internal/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Kind is an interaction category.
type Kind string

const (
	KindPointerPress     Kind = "pointerdown"
	KindKeyPress         Kind = "keydown"
	KindScroll           Kind = "scroll"
	KindTouch            Kind = "touchstart"
	KindFocusRegain      Kind = "focus"
	KindVisibilityRegain Kind = "visible"
)

// Qualifying reports whether k counts as user activity.
func (k Kind) Qualifying() bool {
	switch k {
	case KindPointerPress, KindKeyPress, KindScroll, KindTouch, KindFocusRegain, KindVisibilityRegain:
		return true
	}
	return false
}

// Event is one observed interaction.
type Event struct {
	Kind Kind
}

// Resetter is the inactivity reset hook, satisfied by timers.Coordinator.
type Resetter interface {
	Reset()
}

// Source delivers events to a listener until the returned release func is
// called.
type Source interface {
	Listen(fn func(Event)) (release func())
}

// Monitor owns the Activity Timestamp.
type Monitor struct {
	clock       clock.Clock
	resetter    Resetter
	throttle    *debounce.Throttle
	longAbsence time.Duration
	log         zerolog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock (primarily for testing)
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Monitor) {
		m.log = l
	}
}

// NewMonitor creates a Monitor. throttle is the minimum spacing between two
// resets; longAbsence is the gap after which a visibility regain bypasses
// the throttle.
func NewMonitor(resetter Resetter, throttle, longAbsence time.Duration, options ...Option) *Monitor {
	m := &Monitor{
		clock:       clock.New(),
		resetter:    resetter,
		longAbsence: longAbsence,
		log:         log.Logger.With().Str("component", "activity").Logger(),
	}
	for _, opt := range options {
		opt(m)
	}
	m.throttle = debounce.NewThrottle(m.clock, throttle)
	return m
}

// Observe handles one event and reports whether it reset the inactivity
// timer.
func (m *Monitor) Observe(e Event) bool {
	if !e.Kind.Qualifying() {
		return false
	}

	if e.Kind == KindVisibilityRegain {
		last, seen := m.throttle.Last()
		if !seen || m.clock.Now().Sub(last) >= m.longAbsence {
			m.throttle.Force()
			m.log.Debug().Msg("visibility regained after long absence")
			m.resetter.Reset()
			return true
		}
	}

	if !m.throttle.Allow() {
		return false
	}
	m.resetter.Reset()
	return true
}

// LastActivity returns the Activity Timestamp.
func (m *Monitor) LastActivity() (time.Time, bool) {
	return m.throttle.Last()
}

// Activate starts listening on every source. The returned teardown releases
// all of them and is safe to call more than once.
func (m *Monitor) Activate(sources ...Source) (teardown func()) {
	releases := make([]func(), 0, len(sources))
	for _, s := range sources {
		releases = append(releases, s.Listen(func(e Event) { m.Observe(e) }))
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
