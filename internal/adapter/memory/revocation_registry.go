package memory

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/railzway-connect/internal/repository"
)

// RevocationRegistry is the in-memory revoked token id set.
type RevocationRegistry struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
}

var _ repository.RevocationRegistry = (*RevocationRegistry)(nil)

// NewRevocationRegistry creates an empty registry.
func NewRevocationRegistry() *RevocationRegistry {
	return &RevocationRegistry{revoked: make(map[string]time.Time)}
}

// Revoke marks the token id invalid until its recorded expiry passes.
// Idempotent; the later expiry wins on repeat calls.
func (r *RevocationRegistry) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.revoked[jti]; !ok || expiresAt.After(current) {
		r.revoked[jti] = expiresAt
	}
	return nil
}

func (r *RevocationRegistry) IsRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.revoked[jti]
	return ok, nil
}

// Sweep evicts ids whose underlying token expiry has passed; such tokens can
// no longer validate regardless of revocation.
func (r *RevocationRegistry) Sweep(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for jti, expiresAt := range r.revoked {
		if now.After(expiresAt) {
			delete(r.revoked, jti)
			removed++
		}
	}
	return removed, nil
}
