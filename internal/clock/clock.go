package clock

import "time"

// Clock abstracts wall-clock reads and scheduled callbacks so timer driven
// components can be tested deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the callback
	// already fired or the timer was already stopped.
	Stop() bool
}

type realClock struct{}

var _ Clock = realClock{}

// New returns a Clock backed by the time package.
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// OrDefault returns c, or the real clock when c is nil.
func OrDefault(c Clock) Clock {
	if c == nil {
		return New()
	}
	return c
}
