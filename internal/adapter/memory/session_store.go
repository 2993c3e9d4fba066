package memory

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/railzway-connect/internal/domain"
	"github.com/smallbiznis/railzway-connect/internal/repository"
)

// SessionStore is the in-memory session record store.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.SessionRecord
}

var _ repository.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]domain.SessionRecord)}
}

func (s *SessionStore) Put(_ context.Context, rec domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.SessionID] = rec
	return nil
}

func (s *SessionStore) Get(_ context.Context, sessionID string) (*domain.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := rec
	copied.Permissions = append([]string(nil), rec.Permissions...)
	return &copied, nil
}

func (s *SessionStore) Touch(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	rec.LastAccessedAt = at
	s.sessions[sessionID] = rec
	return nil
}

func (s *SessionStore) Delete(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	return ok, nil
}

func (s *SessionStore) ListByUser(_ context.Context, userID string) ([]domain.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SessionRecord
	for _, rec := range s.sessions {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *SessionStore) DeleteByUser(_ context.Context, userID string) ([]domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []domain.SessionRecord
	for id, rec := range s.sessions {
		if rec.UserID == userID {
			removed = append(removed, rec)
			delete(s.sessions, id)
		}
	}
	return removed, nil
}

func (s *SessionStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.sessions {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}
