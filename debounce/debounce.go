// Package debounce holds the two rate-shaping primitives shared by the
// session components.
//
// Throttle is leading edge: the first signal in a window passes, the rest
// are dropped. Debouncer is trailing edge: the callback runs once the window
// elapses without a new Trigger, and can be flushed or cancelled.
package debounce

import (
	"sync"
	"time"

	"github.com/jrsteele09/election-session/internal/clock"
)

// Throttle admits at most one signal per window.
type Throttle struct {
	clock  clock.Clock
	window time.Duration

	mu   sync.Mutex
	last time.Time
	seen bool
}

// NewThrottle creates a throttle with the given window.
func NewThrottle(c clock.Clock, window time.Duration) *Throttle {
	return &Throttle{clock: clock.OrDefault(c), window: window}
}

// Allow records and admits the signal when at least window has elapsed
// since the last admitted one.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	if t.seen && now.Sub(t.last) < t.window {
		return false
	}
	t.last = now
	t.seen = true
	return true
}

// Force records a signal regardless of the window.
func (t *Throttle) Force() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = t.clock.Now()
	t.seen = true
	return t.last
}

// Last returns the time of the last admitted signal.
func (t *Throttle) Last() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.seen
}

// Reset forgets the last admitted signal.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = time.Time{}
	t.seen = false
}

// Debouncer runs fn once window has elapsed since the latest Trigger.
type Debouncer struct {
	clock  clock.Clock
	window time.Duration
	fn     func()

	mu       sync.Mutex
	timer    clock.Timer
	gen      uint64
	deadline time.Time
}

// NewDebouncer creates a trailing-edge debouncer.
func NewDebouncer(c clock.Clock, window time.Duration, fn func()) *Debouncer {
	return &Debouncer{clock: clock.OrDefault(c), window: window, fn: fn}
}

// Trigger (re)arms the debouncer. Constant time: one Stop and one AfterFunc.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.gen++
	gen := d.gen
	d.deadline = d.clock.Now().Add(d.window)
	d.timer = d.clock.AfterFunc(d.window, func() { d.fire(gen) })
}

// Cancel drops the pending call. It reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	pending := d.timer != nil
	d.stopLocked()
	d.gen++
	return pending
}

// Flush runs the pending call immediately. It reports whether one ran.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.timer == nil {
		d.mu.Unlock()
		return false
	}
	d.stopLocked()
	d.gen++
	d.mu.Unlock()

	d.fn()
	return true
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Deadline returns when the pending call will run.
func (d *Debouncer) Deadline() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer == nil {
		return time.Time{}, false
	}
	return d.deadline, true
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	// A Stop that lost the race against the runtime timer leaves a stale
	// callback behind; the generation check drops it.
	if gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.deadline = time.Time{}
	d.mu.Unlock()

	d.fn()
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.deadline = time.Time{}
}
