package storage

import (
	"sync"

	"github.com/gravitational/trace"
)

// MemoryStore is an in-memory Store for tests and short-lived processes.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

var _ Store = &MemoryStore{}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the value stored under key, or trace.NotFound.
func (s *MemoryStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.values[key]
	if !ok {
		return "", trace.NotFound("key %q is not set", key)
	}
	return value, nil
}

// Set writes value under key, replacing any previous value.
func (s *MemoryStore) Set(key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// Remove deletes the value stored under key. Removing an absent key is not an
// error.
func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}
