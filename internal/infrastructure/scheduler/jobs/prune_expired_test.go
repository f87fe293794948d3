package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnmatch/progression/internal/infrastructure/persistence/memory"
	"github.com/learnmatch/progression/pkg/timeutil"
)

type failingPruner struct{}

func (failingPruner) PruneExpired(context.Context) (int, error) { return 0, errors.New("locked") }

func TestPruneExpiredJob(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	cache := memory.NewStatsCache(time.Minute, timeutil.FixedClock{At: now.Add(-time.Hour)})
	require.NoError(t, cache.Set(ctx, "u-1", 1))
	require.NoError(t, cache.Set(ctx, "u-2", 2))

	claims := memory.NewIdempotencyStore(timeutil.FixedClock{At: now})
	_, err := claims.Claim(ctx, "u-1", "e-1", time.Hour)
	require.NoError(t, err)

	job := NewPruneExpiredJob(nil).
		Add("stats_cache", cache).
		Add("idempotency", claims)

	require.NoError(t, job.Run(ctx))

	// The cache clock is fixed in the past, so its entries are still live.
	stats := job.LastRun()
	assert.Equal(t, 0, stats.Removed["stats_cache"])
	assert.Equal(t, 0, stats.Removed["idempotency"])
	assert.False(t, stats.FinishedAt.IsZero())
	assert.Equal(t, "prune_expired", job.Name())
}

func TestPruneExpiredJob_RemovesExpired(t *testing.T) {
	ctx := context.Background()
	clock := &movingClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}

	cache := memory.NewStatsCache(time.Minute, clock)
	require.NoError(t, cache.Set(ctx, "u-1", 1))
	clock.now = clock.now.Add(time.Hour)

	job := NewPruneExpiredJob(nil).Add("stats_cache", cache)
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 1, job.LastRun().Removed["stats_cache"])
	assert.Zero(t, cache.Len())
}

func TestPruneExpiredJob_ContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	cache := memory.NewStatsCache(time.Minute, nil)

	job := NewPruneExpiredJob(nil).
		Add("broken", failingPruner{}).
		Add("stats_cache", cache)

	err := job.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: locked")

	_, ok := job.LastRun().Removed["stats_cache"]
	assert.True(t, ok, "later targets still run")
}

type movingClock struct {
	now time.Time
}

func (c *movingClock) Now() time.Time { return c.now }
