package storage

import (
	"sync"

	"netinfo/internal/models"
)

// TransitionStorage persists every dispatched snapshot to disk, newest last.
type TransitionStorage struct {
	mu         sync.RWMutex
	path       string
	maxEntries int
	history    []models.Transition
}

// NewTransitionStorage creates a storage instance and loads existing history if present.
// maxEntries <= 0 keeps everything.
func NewTransitionStorage(path string, maxEntries int) (*TransitionStorage, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	s := &TransitionStorage{path: path, maxEntries: maxEntries}
	if err := readJSON(path, &s.history); err != nil {
		return nil, err
	}
	s.history = trim(s.history, maxEntries)
	return s, nil
}

// Append adds a transition and persists the history.
func (s *TransitionStorage) Append(entry models.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = trim(append(s.history, entry), s.maxEntries)
	return writeJSONAtomic(s.path, s.history)
}

// Latest returns the most recent transition if it exists.
func (s *TransitionStorage) Latest() (models.Transition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return models.Transition{}, false
	}
	return s.history[len(s.history)-1], true
}

// History returns up to limit of the newest transitions, oldest first.
// limit <= 0 returns everything.
func (s *TransitionStorage) History(limit int) []models.Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return tail(s.history, limit)
}
