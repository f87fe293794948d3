package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnmatch/progression/internal/domain/progress"
	"github.com/learnmatch/progression/internal/domain/shared"
	"github.com/learnmatch/progression/internal/infrastructure/persistence/memory"
	"github.com/learnmatch/progression/pkg/timeutil"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func testCalendar() *timeutil.Calendar {
	return timeutil.NewCalendar(timeutil.FixedClock{At: testNow}, time.UTC)
}

type flags map[string]bool

func (f flags) Enabled(feature, _ string) bool { return f[feature] }

func seed(t *testing.T, store *memory.Store, userID string, mutate func(r *progress.Record)) {
	t.Helper()
	rec, err := progress.NewRecord(userID, testNow)
	require.NoError(t, err)
	mutate(rec)
	rec.Level = progress.DeriveLevel(rec.Experience)
	require.NoError(t, store.Save(context.Background(), rec, nil))
}

func TestGetStats_LazilyCreatesRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	h := NewGetStatsHandler(store, testCalendar(), nil, nil, nil)

	stats, err := h.Handle(ctx, GetStatsQuery{UserID: "u-1"})
	require.NoError(t, err)

	assert.Equal(t, "u-1", stats.UserID)
	assert.Zero(t, stats.Experience)
	assert.Equal(t, 1, stats.Level)
	assert.Equal(t, 100, stats.XPToNextLevel)
	assert.Empty(t, stats.Badges)
	assert.Equal(t, 1, store.Len())

	_, err = h.Handle(ctx, GetStatsQuery{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestGetStats_ReportsRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, "u-1", func(r *progress.Record) {
		r.Experience = 450
		r.Streak = progress.Streak{Current: 3, Longest: 5, LastActiveDate: "2026-03-10"}
		r.Badges[progress.BadgeStreakStarter] = true
		r.Badges[progress.BadgeFirstStep] = true
		r.CompletedResourceCount = 2
	})
	h := NewGetStatsHandler(store, testCalendar(), nil, nil, nil)

	stats, err := h.Handle(ctx, GetStatsQuery{UserID: "u-1"})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Level)
	assert.Equal(t, 150, stats.XPToNextLevel)
	assert.Equal(t, 50, stats.LevelProgress)
	assert.Equal(t, StreakDTO{Current: 3, Longest: 5, LastActiveDate: "2026-03-10"}, stats.Streak)
	assert.Equal(t, []string{"first_step", "streak_starter"}, stats.Badges)
	assert.Equal(t, 2, stats.BadgeCount)
}

func TestGetStats_UsesCacheWhenEnabled(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, "u-1", func(r *progress.Record) { r.Experience = 20 })
	cache := memory.NewStatsCache(time.Minute, timeutil.FixedClock{At: testNow})

	h := NewGetStatsHandler(store, testCalendar(), cache, flags{FeatureStatsCache: true}, nil)

	first, err := h.Handle(ctx, GetStatsQuery{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, 20, first.Experience)

	// The store is unavailable, the cached snapshot is still served.
	store.FailWith = shared.ErrStoreUnavailable
	second, err := h.Handle(ctx, GetStatsQuery{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, first.Experience, second.Experience)

	require.NoError(t, cache.Invalidate(ctx, "u-1"))
	_, err = h.Handle(ctx, GetStatsQuery{UserID: "u-1"})
	assert.True(t, shared.IsUnavailable(err))
}

type movingClock struct {
	now time.Time
}

func (c *movingClock) Now() time.Time { return c.now }

func TestGetStats_DailyLoginAvailability(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, "u-1", func(r *progress.Record) { r.LastLoginDate = "2026-03-10" })
	seed(t, store, "u-2", func(r *progress.Record) { r.LastLoginDate = "2026-03-09" })
	h := NewGetStatsHandler(store, testCalendar(), nil, nil, nil)

	today, err := h.Handle(ctx, GetStatsQuery{UserID: "u-1"})
	require.NoError(t, err)
	assert.False(t, today.DailyLoginAvailable)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), today.NextDayAt)

	yesterday, err := h.Handle(ctx, GetStatsQuery{UserID: "u-2"})
	require.NoError(t, err)
	assert.True(t, yesterday.DailyLoginAvailable)
}

func TestGetStats_CachedSnapshotExpiresAtDayBoundary(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, "u-1", func(r *progress.Record) { r.LastLoginDate = "2026-03-10" })

	clock := &movingClock{now: time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)}
	cache := memory.NewStatsCache(time.Hour, clock)
	h := NewGetStatsHandler(store, timeutil.NewCalendar(clock, time.UTC), cache, flags{FeatureStatsCache: true}, nil)

	before, err := h.Handle(ctx, GetStatsQuery{UserID: "u-1"})
	require.NoError(t, err)
	assert.False(t, before.DailyLoginAvailable)

	clock.now = clock.now.Add(2 * time.Minute)
	after, err := h.Handle(ctx, GetStatsQuery{UserID: "u-1"})
	require.NoError(t, err)
	assert.True(t, after.DailyLoginAvailable, "snapshot from the previous day is not served")
	assert.Equal(t, time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC), after.NextDayAt)
}

func TestGetStats_CacheFlagOff(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	cache := memory.NewStatsCache(time.Minute, timeutil.FixedClock{At: testNow})
	h := NewGetStatsHandler(store, testCalendar(), cache, flags{}, nil)

	_, err := h.Handle(ctx, GetStatsQuery{UserID: "u-1"})
	require.NoError(t, err)

	var dst StatsDTO
	found, err := cache.Get(ctx, "u-1", &dst)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetStats_Validation(t *testing.T) {
	h := NewGetStatsHandler(memory.NewStore(), testCalendar(), nil, nil, nil)
	_, err := h.Handle(context.Background(), GetStatsQuery{UserID: "  "})
	assert.ErrorIs(t, err, shared.ErrEmptyUserID)
}

func TestGetBadgeBoard(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, "u-1", func(r *progress.Record) {
		r.Experience = 1200
		r.CompletedResourceCount = 4
		r.Streak = progress.Streak{Current: 2, Longest: 2}
		r.Badges[progress.BadgeFirstStep] = true
		r.Badges[progress.BadgeExpert] = true
	})
	h := NewGetBadgeBoardHandler(store, testCalendar())

	board, err := h.Handle(ctx, GetBadgeBoardQuery{UserID: "u-1"})
	require.NoError(t, err)

	assert.Equal(t, len(progress.Badges()), board.Total)
	assert.Equal(t, 2, board.BadgeCount)

	byID := make(map[string]BadgeStatusDTO, len(board.Badges))
	for _, b := range board.Badges {
		byID[b.ID] = b
	}
	assert.True(t, byID["expert"].Earned)
	assert.Equal(t, 100, byID["expert"].Percent)
	assert.Equal(t, 1200, byID["expert"].Current)

	assert.False(t, byID["dedicated_learner"].Earned)
	assert.Equal(t, 40, byID["dedicated_learner"].Percent)

	assert.Equal(t, 2, byID["week_warrior"].Current)
	assert.Equal(t, 28, byID["week_warrior"].Percent)
}

func TestGetBadgeBoard_UnknownUserIsNotCreated(t *testing.T) {
	store := memory.NewStore()
	h := NewGetBadgeBoardHandler(store, testCalendar())

	board, err := h.Handle(context.Background(), GetBadgeBoardQuery{UserID: "ghost"})
	require.NoError(t, err)
	assert.Zero(t, board.BadgeCount)
	assert.Zero(t, store.Len())
}

func TestListBadges(t *testing.T) {
	badges := ListBadges()
	require.Len(t, badges, 7)
	assert.Equal(t, "first_step", badges[0].ID)
	assert.Equal(t, 1, badges[0].Target)
	assert.Equal(t, "path_completer", badges[len(badges)-1].ID)
}

func TestGetXPHistory(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	rec, err := progress.NewRecord("u-1", testNow)
	require.NoError(t, err)
	var entries []progress.HistoryEntry
	for i := 0; i < 30; i++ {
		entries = append(entries, progress.HistoryEntry{
			UserID:     "u-1",
			Amount:     1,
			Reason:     progress.ReasonPathwayOpened,
			OldXP:      i,
			NewXP:      i + 1,
			EventKind:  progress.KindPathwayOpened,
			OccurredAt: testNow.Add(time.Duration(i) * time.Minute),
		})
	}
	rec.Experience = 30
	require.NoError(t, store.Save(ctx, rec, entries))

	h := NewGetXPHistoryHandler(store)

	page, err := h.Handle(ctx, GetXPHistoryQuery{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, progress.DefaultHistoryLimit, page.Limit)
	require.Len(t, page.Entries, progress.DefaultHistoryLimit)
	assert.Equal(t, 30, page.Entries[0].NewXP, "newest first")

	small, err := h.Handle(ctx, GetXPHistoryQuery{UserID: "u-1", Limit: 5})
	require.NoError(t, err)
	assert.Len(t, small.Entries, 5)

	big, err := h.Handle(ctx, GetXPHistoryQuery{UserID: "u-1", Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, progress.MaxHistoryLimit, big.Limit)
	assert.Len(t, big.Entries, 30)

	_, err = h.Handle(ctx, GetXPHistoryQuery{UserID: "u-1", Limit: -1})
	assert.True(t, shared.IsValidation(err))
}

func TestLevelInfo(t *testing.T) {
	tests := []struct {
		xp       int
		level    int
		start    int
		next     int
		toNext   int
		progress int
	}{
		{0, 1, 0, 100, 100, 0},
		{99, 1, 0, 100, 1, 99},
		{100, 2, 100, 300, 200, 0},
		{299, 2, 100, 300, 1, 99},
		{300, 3, 300, 600, 300, 0},
		{600, 4, 600, 900, 300, 0},
		{1050, 5, 900, 1200, 150, 50},
	}
	for _, tt := range tests {
		info, err := LevelInfo(tt.xp)
		require.NoError(t, err)
		assert.Equal(t, tt.level, info.Level, "xp=%d", tt.xp)
		assert.Equal(t, tt.start, info.LevelStart, "xp=%d", tt.xp)
		assert.Equal(t, tt.next, info.NextLevelAt, "xp=%d", tt.xp)
		assert.Equal(t, tt.toNext, info.XPToNextLevel, "xp=%d", tt.xp)
		assert.Equal(t, tt.progress, info.LevelProgress, "xp=%d", tt.xp)
	}

	_, err := LevelInfo(-1)
	assert.ErrorIs(t, err, shared.ErrNegativeXP)
}
