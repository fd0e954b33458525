package credentials

import (
	"sync"
)

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu      sync.RWMutex
	access  string
	refresh string
	attrs   Attributes
	set     bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new, empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SetCredentials(access, refresh string, attrs Attributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.access = access
	if refresh != "" {
		s.refresh = refresh
	}
	s.attrs = attrs
	s.set = true
	return nil
}

func (s *MemoryStore) ClearCredentials() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.access = ""
	s.refresh = ""
	s.attrs = Attributes{}
	s.set = false
	return nil
}

func (s *MemoryStore) AccessCredential() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access, s.access != ""
}

func (s *MemoryStore) RefreshCredential() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh, s.refresh != ""
}

func (s *MemoryStore) HasCredential() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access != "" || s.refresh != ""
}

func (s *MemoryStore) Attributes() (Attributes, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attrs, s.set
}
