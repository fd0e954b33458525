// Package fakeclock provides a manually advanced clock for tests.
package fakeclock

import (
	"sync"
	"time"

	"github.com/jrsteele09/election-session/internal/clock"
)

var _ clock.Clock = (*Clock)(nil)

// Clock only moves when Advance is called. Callbacks that become due run
// synchronously on the goroutine calling Advance, in due order.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	nextID uint64
	timers map[uint64]*timer
}

type timer struct {
	c   *Clock
	id  uint64
	due time.Time
	f   func()
}

// New creates a fake clock starting at start.
func New(start time.Time) *Clock {
	return &Clock{
		now:    start,
		timers: make(map[uint64]*timer),
	}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	t := &timer{c: c, id: c.nextID, due: c.now.Add(d), f: f}
	c.timers[t.id] = t
	return t
}

// Advance moves the clock forward by d, firing every callback that becomes
// due along the way. Callbacks may schedule new timers; those fire too if
// they fall inside the window.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.earliestLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		delete(c.timers, next.id)
		c.now = next.due
		c.mu.Unlock()

		next.f()
	}
}

// Pending returns the number of scheduled, unfired callbacks.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *Clock) earliestLocked(target time.Time) *timer {
	var next *timer
	for _, t := range c.timers {
		if t.due.After(target) {
			continue
		}
		if next == nil || t.due.Before(next.due) || (t.due.Equal(next.due) && t.id < next.id) {
			next = t
		}
	}
	return next
}

func (t *timer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if _, ok := t.c.timers[t.id]; !ok {
		return false
	}
	delete(t.c.timers, t.id)
	return true
}
