package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/railzway-connect/internal/domain"
	"github.com/smallbiznis/railzway-connect/internal/domain/oauth"
	"github.com/smallbiznis/railzway-connect/internal/repository"
)

const statePrefix = "oauth:state:"

// RedisStateStore implements the single-use StateStore backed by Redis.
// GETDEL gives the atomic consume semantics: of two concurrent exchange
// attempts on the same state, exactly one observes the payload.
type RedisStateStore struct {
	client redis.UniversalClient
}

var _ repository.StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore constructs a Redis-backed state store.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// Save stores the encoded state payload with TTL.
func (s *RedisStateStore) Save(ctx context.Context, state string, data oauth.AuthorizationState, ttl time.Duration) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, statePrefix+state, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// Consume atomically loads and deletes the state payload.
func (s *RedisStateStore) Consume(ctx context.Context, state string) (*oauth.AuthorizationState, error) {
	bytes, err := s.client.GetDel(ctx, statePrefix+state).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("consume state: %w", err)
	}
	var data oauth.AuthorizationState
	if err := json.Unmarshal(bytes, &data); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &data, nil
}

// Sweep is a no-op: Redis expires state keys natively via their TTL.
func (s *RedisStateStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
