// Package events is the Session Expiry event bus. The state machine
// dispatches, the presentation layer listens.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Name is the only event name carried on the bus.
const Name = "session-expired"

// Reason says why a session was forcibly ended.
type Reason string

const (
	ReasonUserInactivity     Reason = "user_inactivity"
	ReasonTokenRefreshFailed Reason = "token_refresh_failed"
	ReasonUnknown            Reason = "unknown"
)

// SessionExpired is the payload of a session-expired event.
type SessionExpired struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Reason      Reason    `json:"reason"`
	At          time.Time `json:"at"`
	PrincipalID string    `json:"principalId,omitempty"`
}

// NewSessionExpired builds an event with a fresh id.
func NewSessionExpired(reason Reason, at time.Time, principalID string) SessionExpired {
	return SessionExpired{
		ID:          uuid.New(),
		Name:        Name,
		Reason:      reason,
		At:          at,
		PrincipalID: principalID,
	}
}

// Bus delivers events synchronously, in subscription order, outside of
// its own lock so listeners may subscribe or unsubscribe from a callback.
type Bus struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []listener
}

type listener struct {
	id uint64
	fn func(SessionExpired)
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns its unsubscribe func.
func (b *Bus) Subscribe(fn func(SessionExpired)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listener{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, l := range b.listeners {
				if l.id == id {
					b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Dispatch delivers e to every current listener.
func (b *Bus) Dispatch(e SessionExpired) {
	b.mu.Lock()
	fns := make([]func(SessionExpired), len(b.listeners))
	for i, l := range b.listeners {
		fns[i] = l.fn
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
