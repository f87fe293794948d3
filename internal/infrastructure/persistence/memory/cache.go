package memory

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/learnmatch/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATS CACHE
// ══════════════════════════════════════════════════════════════════════════════

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// StatsCache is a TTL cache of serialized snapshots. Values are stored as
// JSON so callers never share memory with the cache.
type StatsCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	clock   timeutil.Clock
}

// NewStatsCache creates a StatsCache. A nil clock means the wall clock.
func NewStatsCache(ttl time.Duration, clock timeutil.Clock) *StatsCache {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &StatsCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

// Get loads the snapshot of a user into dest. Returns false on a miss.
func (c *StatsCache) Get(_ context.Context, userID string, dest interface{}) (bool, error) {
	c.mu.Lock()
	e, ok := c.entries[userID]
	if ok && !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, userID)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores the snapshot of a user.
func (c *StatsCache) Set(_ context.Context, userID string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = cacheEntry{data: data, expiresAt: c.clock.Now().Add(c.ttl)}
	return nil
}

// Invalidate drops the snapshot of a user.
func (c *StatsCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	return nil
}

// PruneExpired drops expired snapshots and returns how many were removed.
func (c *StatsCache) PruneExpired(_ context.Context) (int, error) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for userID, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, userID)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of cached snapshots, expired ones included.
func (c *StatsCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ══════════════════════════════════════════════════════════════════════════════
// IDEMPOTENCY STORE
// ══════════════════════════════════════════════════════════════════════════════

// IdempotencyStore claims event ids in process memory.
type IdempotencyStore struct {
	mu     sync.Mutex
	claims map[string]time.Time
	clock  timeutil.Clock
}

// NewIdempotencyStore creates an IdempotencyStore. A nil clock means the wall clock.
func NewIdempotencyStore(clock timeutil.Clock) *IdempotencyStore {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &IdempotencyStore{
		claims: make(map[string]time.Time),
		clock:  clock,
	}
}

// Claim reserves the event id of a user for ttl.
// It returns false when the id is already claimed.
func (s *IdempotencyStore) Claim(_ context.Context, userID, eventID string, ttl time.Duration) (bool, error) {
	key := userID + ":" + eventID
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiresAt, ok := s.claims[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	s.claims[key] = now.Add(ttl)
	return true, nil
}

// Release frees a claim.
func (s *IdempotencyStore) Release(_ context.Context, userID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, userID+":"+eventID)
	return nil
}

// PruneExpired drops expired claims and returns how many were removed.
func (s *IdempotencyStore) PruneExpired(_ context.Context) (int, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, expiresAt := range s.claims {
		if !now.Before(expiresAt) {
			delete(s.claims, key)
			removed++
		}
	}
	return removed, nil
}
