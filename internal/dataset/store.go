package dataset

import "sync"

// Store holds the current dataset. The zero value is empty and ready to use.
type Store struct {
	mu      sync.RWMutex
	current *Dataset
}

// Put replaces the current dataset.
func (s *Store) Put(ds *Dataset) {
	s.mu.Lock()
	s.current = ds
	s.mu.Unlock()
}

// Get returns the current dataset, or false when none is loaded.
func (s *Store) Get() (*Dataset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current != nil
}

// Clear drops the current dataset.
func (s *Store) Clear() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}
