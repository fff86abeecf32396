package storage

import (
	"sync"

	"netinfo/internal/models"
)

// ProbeStorage persists reachability probe samples to disk.
type ProbeStorage struct {
	mu      sync.RWMutex
	path    string
	history []models.ProbeResult
}

// NewProbeStorage initialises storage and loads existing samples if present.
func NewProbeStorage(path string) (*ProbeStorage, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	store := &ProbeStorage{path: path}
	if err := readJSON(path, &store.history); err != nil {
		return nil, err
	}
	return store, nil
}

// History returns a copy of the persisted samples.
func (s *ProbeStorage) History() []models.ProbeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return tail(s.history, 0)
}

// Replace overwrites the stored history with the provided samples.
func (s *ProbeStorage) Replace(entries []models.ProbeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = make([]models.ProbeResult, len(entries))
	copy(s.history, entries)
	return writeJSONAtomic(s.path, s.history)
}
