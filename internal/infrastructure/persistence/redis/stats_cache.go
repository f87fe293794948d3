package redis

import (
	"context"
	"errors"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATS CACHE
// ══════════════════════════════════════════════════════════════════════════════

// StatsCache keeps serialized progress snapshots keyed by user.
type StatsCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewStatsCache creates a StatsCache. A non-positive ttl means TTLStatsCache.
func NewStatsCache(cache *Cache, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = TTLStatsCache
	}
	return &StatsCache{cache: cache, ttl: ttl}
}

// Get loads the snapshot of a user into dest. Returns false on a miss.
func (s *StatsCache) Get(ctx context.Context, userID string, dest interface{}) (bool, error) {
	err := s.cache.Get(ctx, StatsKey(userID), dest)
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Set stores the snapshot of a user.
func (s *StatsCache) Set(ctx context.Context, userID string, value interface{}) error {
	return s.cache.Set(ctx, StatsKey(userID), value, s.ttl)
}

// Invalidate drops the snapshot of a user.
func (s *StatsCache) Invalidate(ctx context.Context, userID string) error {
	return s.cache.Delete(ctx, StatsKey(userID))
}
