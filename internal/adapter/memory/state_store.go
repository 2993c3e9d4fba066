// Package memory provides concurrency-safe in-memory implementations of the
// repository interfaces. Suitable for tests and single-instance deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/railzway-connect/internal/domain"
	"github.com/smallbiznis/railzway-connect/internal/domain/oauth"
	"github.com/smallbiznis/railzway-connect/internal/repository"
)

// StateStore is the in-memory single-use authorization state store.
type StateStore struct {
	mu      sync.Mutex
	entries map[string]stateEntry
}

type stateEntry struct {
	data      oauth.AuthorizationState
	expiresAt time.Time
}

var _ repository.StateStore = (*StateStore)(nil)

// NewStateStore creates an empty state store.
func NewStateStore() *StateStore {
	return &StateStore{entries: make(map[string]stateEntry)}
}

// Save inserts the entry, replacing any previous entry for the same state.
func (s *StateStore) Save(_ context.Context, state string, data oauth.AuthorizationState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[state] = stateEntry{data: data, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Consume loads and deletes under one lock so concurrent exchange attempts on
// the same state resolve to exactly one winner.
func (s *StateStore) Consume(_ context.Context, state string) (*oauth.AuthorizationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[state]
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(s.entries, state)
	if time.Now().After(entry.expiresAt) {
		return nil, domain.ErrNotFound
	}
	data := entry.data
	return &data, nil
}

// Sweep removes entries created before the cutoff.
func (s *StateStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for state, entry := range s.entries {
		if entry.data.CreatedAt.Before(cutoff) {
			delete(s.entries, state)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of live entries.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
