package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/goop/pkg/domain"
)

// Store implements ports.CheckpointStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.Checkpoint
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.Checkpoint),
	}
}

// Save persists the checkpoint in memory.
func (s *Store) Save(_ context.Context, sessionID string, cp *domain.Checkpoint) error {
	// Deep copy to ensure isolation, similar to serialization
	copied := cp.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = copied
	return nil
}

// Load retrieves the checkpoint from memory.
func (s *Store) Load(_ context.Context, sessionID string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.data[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	// Copy on read so callers can't mutate the store through the pointer
	return cp.Clone(), nil
}

// Delete removes the checkpoint.
func (s *Store) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// List returns stored sessions, sorted.
func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.data))
	for id := range s.data {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)
	return sessions, nil
}
