package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnmatch/progression/internal/domain/progress"
	"github.com/learnmatch/progression/internal/domain/shared"
	"github.com/learnmatch/progression/internal/infrastructure/messaging"
	"github.com/learnmatch/progression/internal/infrastructure/persistence/memory"
	"github.com/learnmatch/progression/pkg/retry"
	"github.com/learnmatch/progression/pkg/timeutil"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func testCalendar() *timeutil.Calendar {
	return timeutil.NewCalendar(timeutil.FixedClock{At: testNow}, time.UTC)
}

// conflictingRepo fails the first n saves with a version conflict.
type conflictingRepo struct {
	*memory.Store
	mu        sync.Mutex
	conflicts int
	saves     int
}

func (r *conflictingRepo) Save(ctx context.Context, rec *progress.Record, history []progress.HistoryEntry) error {
	r.mu.Lock()
	r.saves++
	fail := r.conflicts > 0
	if fail {
		r.conflicts--
	}
	r.mu.Unlock()

	if fail {
		return shared.ErrVersionConflict
	}
	return r.Store.Save(ctx, rec, history)
}

type recordingMetrics struct {
	mu        sync.Mutex
	xp        map[string]int
	levelUps  int
	badges    []string
	outcomes  []string
	conflicts int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{xp: make(map[string]int)}
}

func (m *recordingMetrics) AddXP(reason string, amount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.xp[reason] += amount
}

func (m *recordingMetrics) IncLevelUp() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levelUps++
}

func (m *recordingMetrics) IncBadgeUnlocked(badge string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.badges = append(m.badges, badge)
}

func (m *recordingMetrics) ObserveLearningEvent(_, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) IncStoreConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

type featureSet map[string]bool

func (f featureSet) Enabled(feature, _ string) bool {
	on, ok := f[feature]
	return !ok || on
}

type countingInvalidator struct {
	mu    sync.Mutex
	users []string
}

func (c *countingInvalidator) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = append(c.users, userID)
	return nil
}

func newSyncBus(t *testing.T) (*messaging.InMemoryEventBus, func() []shared.EventType) {
	t.Helper()
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{AsyncMode: false})
	t.Cleanup(func() { _ = bus.Close() })

	var (
		mu   sync.Mutex
		seen []shared.EventType
	)
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.EventType())
		return nil
	}))
	return bus, func() []shared.EventType {
		mu.Lock()
		defer mu.Unlock()
		return append([]shared.EventType(nil), seen...)
	}
}

func TestUpdater_FirstEventCreatesRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	bus, published := newSyncBus(t)
	metrics := newRecordingMetrics()
	cache := &countingInvalidator{}

	u := NewUpdater(store, testCalendar(), nil,
		WithPublisher(bus),
		WithMetrics(metrics),
		WithStatsInvalidator(cache),
	)

	res, err := u.Update(ctx, "u-1", "", progress.ArticleComplete{ResourceID: "a-1"})
	require.NoError(t, err)

	assert.False(t, res.Duplicate)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, progress.XPArticleComplete, res.Outcome.XPGained)
	assert.Equal(t, []progress.BadgeID{progress.BadgeFirstStep}, res.Outcome.UnlockedBadges)

	stored, err := store.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 8, stored.Experience)
	assert.Equal(t, int64(1), stored.Version)
	assert.True(t, stored.HasBadge(progress.BadgeFirstStep))

	history, err := store.ListHistory(ctx, "u-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, progress.ReasonArticle, history[0].Reason)

	assert.ElementsMatch(t, []shared.EventType{
		shared.EventXPGained,
		shared.EventResourceCompleted,
		shared.EventBadgeUnlocked,
	}, published())
	assert.Equal(t, []string{"u-1"}, cache.users)
	assert.Equal(t, 8, metrics.xp[progress.ReasonArticle])
	assert.Equal(t, []string{string(progress.BadgeFirstStep)}, metrics.badges)
	assert.Equal(t, []string{outcomeApplied}, metrics.outcomes)
}

func TestUpdater_NoopSkipsSave(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	cache := &countingInvalidator{}
	u := NewUpdater(store, testCalendar(), nil, WithStatsInvalidator(cache))

	_, err := u.Update(ctx, "u-1", "", progress.DailyLogin{})
	require.NoError(t, err)

	res, err := u.Update(ctx, "u-1", "", progress.DailyLogin{})
	require.NoError(t, err)
	assert.False(t, res.Outcome.Changed)
	assert.Equal(t, progress.XPDailyLogin, res.Record.Experience)

	stored, err := store.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version, "second login on the same day is not persisted")
	assert.Len(t, cache.users, 1)
}

func TestUpdater_RetriesOnVersionConflict(t *testing.T) {
	ctx := context.Background()
	repo := &conflictingRepo{Store: memory.NewStore(), conflicts: 2}
	metrics := newRecordingMetrics()
	u := NewUpdater(repo, testCalendar(), nil, WithMetrics(metrics))

	res, err := u.Update(ctx, "u-1", "", progress.XPAward{Amount: 40})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, repo.saves)
	assert.Equal(t, 2, metrics.conflicts)
	assert.Equal(t, 40, res.Record.Experience)
	assert.Equal(t, 40, metrics.xp[progress.ReasonManual])
}

func TestUpdater_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	repo := &conflictingRepo{Store: memory.NewStore(), conflicts: 100}
	u := NewUpdater(repo, testCalendar(), nil, WithConfig(UpdaterConfig{MaxAttempts: 3}))

	_, err := u.Update(ctx, "u-1", "", progress.XPAward{Amount: 5})
	require.Error(t, err)

	assert.ErrorIs(t, err, shared.ErrVersionConflict)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.True(t, shared.IsConflict(err))
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
	assert.Equal(t, 3, repo.saves)
}

func TestUpdater_ConcurrentUpdatesAreSerialized(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	u := NewUpdater(store, testCalendar(), nil, WithConfig(UpdaterConfig{MaxAttempts: 50}))

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := u.Update(ctx, "u-1", "", progress.XPAward{Amount: 10})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := store.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, writers*10, stored.Experience)
	assert.Equal(t, progress.DeriveLevel(writers*10), stored.Level)

	history, err := store.ListHistory(ctx, "u-1", progress.MaxHistoryLimit)
	require.NoError(t, err)
	assert.Len(t, history, writers)
}

func TestUpdater_DuplicateEventID(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	metrics := newRecordingMetrics()
	u := NewUpdater(store, testCalendar(), nil,
		WithIdempotency(memory.NewIdempotencyStore(timeutil.FixedClock{At: testNow})),
		WithMetrics(metrics),
	)

	first, err := u.Update(ctx, "u-1", "evt-1", progress.PathComplete{PathID: "p-1"})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := u.Update(ctx, "u-1", "evt-1", progress.PathComplete{PathID: "p-1"})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	stored, err := store.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, progress.XPPathComplete, stored.Experience)
	assert.Equal(t, 1, stored.CompletedPathCount)
	assert.Equal(t, []string{outcomeApplied, outcomeDuplicate}, metrics.outcomes)

	// The same id for another user is independent.
	other, err := u.Update(ctx, "u-2", "evt-1", progress.PathComplete{PathID: "p-1"})
	require.NoError(t, err)
	assert.False(t, other.Duplicate)
}

func TestUpdater_ReleasesClaimOnFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	u := NewUpdater(store, testCalendar(), nil,
		WithIdempotency(memory.NewIdempotencyStore(timeutil.FixedClock{At: testNow})),
	)

	store.FailWith = shared.ErrStoreUnavailable
	_, err := u.Update(ctx, "u-1", "evt-1", progress.XPAward{Amount: 10})
	require.Error(t, err)
	assert.True(t, shared.IsUnavailable(err))

	store.FailWith = nil
	res, err := u.Update(ctx, "u-1", "evt-1", progress.XPAward{Amount: 10})
	require.NoError(t, err)
	assert.False(t, res.Duplicate, "a failed attempt must not consume the event id")
	assert.Equal(t, 10, res.Record.Experience)
}

func TestUpdater_IdempotencyFeatureOff(t *testing.T) {
	ctx := context.Background()
	u := NewUpdater(memory.NewStore(), testCalendar(), nil,
		WithIdempotency(memory.NewIdempotencyStore(timeutil.FixedClock{At: testNow})),
		WithFeatures(featureSet{FeatureIdempotency: false}),
	)

	for i := 0; i < 2; i++ {
		res, err := u.Update(ctx, "u-1", "evt-1", progress.XPAward{Amount: 1})
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
	}
}

func TestUpdater_PathwayFeatureOff(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	u := NewUpdater(store, testCalendar(), nil, WithFeatures(featureSet{FeaturePathwayXP: false}))

	res, err := u.Update(ctx, "u-1", "", progress.PathwayOpened{ResourceID: "r-1"})
	require.NoError(t, err)
	assert.False(t, res.Outcome.Changed)
	assert.Zero(t, store.Len())
	require.NotNil(t, res.Record, "a gated event still reports the current state")
	assert.Equal(t, 1, res.Record.Level)

	_, err = u.Update(ctx, "u-1", "", progress.XPAward{Amount: 320})
	require.NoError(t, err)

	res, err = u.Update(ctx, "u-1", "", progress.PathwayOpened{ResourceID: "r-1"})
	require.NoError(t, err)
	assert.Equal(t, 320, res.Record.Experience)
	assert.Equal(t, 3, res.Record.Level)
	assert.Equal(t, 3, res.Outcome.OldLevel)
}

func TestUpdater_PublishingFeatureOff(t *testing.T) {
	ctx := context.Background()
	bus, published := newSyncBus(t)
	u := NewUpdater(memory.NewStore(), testCalendar(), nil,
		WithPublisher(bus),
		WithFeatures(featureSet{FeatureEventPublishing: false}),
	)

	_, err := u.Update(ctx, "u-1", "", progress.XPAward{Amount: 150})
	require.NoError(t, err)
	assert.Empty(t, published())
}

func TestUpdater_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	metrics := newRecordingMetrics()
	u := NewUpdater(store, testCalendar(), nil, WithMetrics(metrics))

	_, err := u.Update(ctx, " ", "", progress.DailyLogin{})
	assert.ErrorIs(t, err, shared.ErrEmptyUserID)

	_, err = u.Update(ctx, "u-1", "", progress.XPAward{Amount: -1})
	assert.ErrorIs(t, err, shared.ErrNegativeXP)
	assert.True(t, shared.IsValidation(err))

	_, err = u.Update(ctx, "u-1", "", progress.VideoProgress{ResourceID: "v-1", Percent: 101})
	assert.ErrorIs(t, err, shared.ErrInvalidPercent)

	_, err = u.Update(ctx, "u-1", "", nil)
	assert.ErrorIs(t, err, shared.ErrUnknownEvent)

	assert.Zero(t, store.Len())
	assert.Equal(t, []string{outcomeRejected, outcomeRejected, outcomeRejected, outcomeRejected}, metrics.outcomes)
}
