package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/railzway-connect/internal/domain"
	"github.com/smallbiznis/railzway-connect/internal/domain/oauth"
)

// StateStore holds single-use authorization states keyed by state value.
type StateStore interface {
	// Save inserts the state entry with a TTL. At most one live entry may
	// exist per state value.
	Save(ctx context.Context, state string, data oauth.AuthorizationState, ttl time.Duration) error
	// Consume atomically loads and deletes the entry. Two concurrent calls on
	// the same state must yield exactly one hit; the loser (and any replay)
	// gets domain.ErrNotFound.
	Consume(ctx context.Context, state string) (*oauth.AuthorizationState, error)
	// Sweep removes entries created before the cutoff and reports the count.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// SessionStore persists live session records.
type SessionStore interface {
	Put(ctx context.Context, rec domain.SessionRecord) error
	Get(ctx context.Context, sessionID string) (*domain.SessionRecord, error)
	// Touch updates LastAccessedAt on a live record.
	Touch(ctx context.Context, sessionID string, at time.Time) error
	// Delete removes the record and reports whether it existed.
	Delete(ctx context.Context, sessionID string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]domain.SessionRecord, error)
	// DeleteByUser removes every session for the user and returns the removed
	// records so their token ids can be revoked.
	DeleteByUser(ctx context.Context, userID string) ([]domain.SessionRecord, error)
	// Sweep removes records created before the cutoff and reports the count.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// RevocationRegistry is the set of token ids considered permanently invalid.
// Entries carry the token expiry so the sweep can evict ids that can no longer
// validate anyway.
type RevocationRegistry interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}
