package activity

import "sync"

// Feed is an in-process Source. Producers (HTTP heartbeats, terminal input)
// Publish; every listener receives each event synchronously.
type Feed struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[uint64]func(Event)
}

var _ Source = (*Feed)(nil)

func NewFeed() *Feed {
	return &Feed{listeners: make(map[uint64]func(Event))}
}

func (f *Feed) Listen(fn func(Event)) func() {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *Feed) Publish(e Event) {
	f.mu.RLock()
	fns := make([]func(Event), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Listeners returns the number of attached listeners.
func (f *Feed) Listeners() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners)
}
