// Package crosstab propagates logout and forced-expiry decisions between
// browsing contexts that share one credential store.
package crosstab

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// ChannelName is the fixed broadcast channel every tab joins.
	ChannelName = "election-admin:auth"
	// LogoutKey is the only key carried on the channel.
	LogoutKey = "auth:logout"
)

// Kind is the closed message set of the channel.
type Kind string

const (
	KindLogout       Kind = "logout"
	KindUnauthorized Kind = "unauthorized"
)

func (k Kind) Valid() bool {
	return k == KindLogout || k == KindUnauthorized
}

// Signal is the wire payload. Value is the sender's clock in epoch
// milliseconds.
type Signal struct {
	Key    string `json:"key"`
	Value  int64  `json:"value"`
	Kind   Kind   `json:"kind"`
	Origin string `json:"origin,omitempty"`
}

// At returns Value as a time.
func (s Signal) At() time.Time {
	return time.UnixMilli(s.Value)
}

// Validate rejects signals outside the closed message set.
func (s Signal) Validate() error {
	if s.Key != LogoutKey {
		return fmt.Errorf("unexpected signal key %q", s.Key)
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("unexpected signal kind %q", s.Kind)
	}
	return nil
}

// Channel is a broadcast transport. Subscribers receive every published
// signal, their own included.
type Channel interface {
	Publish(ctx context.Context, sig Signal) error
	Subscribe(fn func(Signal)) (release func(), err error)
}

// LocalHub is an in-process Channel. Delivery is synchronous.
type LocalHub struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[uint64]func(Signal)
}

var _ Channel = (*LocalHub)(nil)

func NewLocalHub() *LocalHub {
	return &LocalHub{listeners: make(map[uint64]func(Signal))}
}

func (h *LocalHub) Publish(_ context.Context, sig Signal) error {
	h.mu.RLock()
	fns := make([]func(Signal), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(sig)
	}
	return nil
}

func (h *LocalHub) Subscribe(fn func(Signal)) (func(), error) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.listeners[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}, nil
}

// Subscribers returns the number of attached listeners.
func (h *LocalHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}
