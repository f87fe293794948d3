package redis

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// IDEMPOTENCY STORE
// ══════════════════════════════════════════════════════════════════════════════

// IdempotencyStore claims client event ids with SETNX so that a replayed
// event is recognised across instances.
type IdempotencyStore struct {
	cache *Cache
}

// NewIdempotencyStore creates an IdempotencyStore.
func NewIdempotencyStore(cache *Cache) *IdempotencyStore {
	return &IdempotencyStore{cache: cache}
}

// Claim reserves the event id of a user for ttl.
// It returns false when the id is already claimed.
func (s *IdempotencyStore) Claim(ctx context.Context, userID, eventID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = TTLIdempotencyKey
	}
	return s.cache.SetNX(ctx, IdempotencyKey(userID, eventID), time.Now().UTC(), ttl)
}

// Release frees a claim so the event can be delivered again.
func (s *IdempotencyStore) Release(ctx context.Context, userID, eventID string) error {
	return s.cache.Delete(ctx, IdempotencyKey(userID, eventID))
}
