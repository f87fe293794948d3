package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnmatch/progression/internal/domain/progress"
	"github.com/learnmatch/progression/internal/domain/shared"
	"github.com/learnmatch/progression/internal/infrastructure/persistence/memory"
)

func TestAwardXPHandler(t *testing.T) {
	ctx := context.Background()
	h := NewAwardXPHandler(NewUpdater(memory.NewStore(), testCalendar(), nil))

	change, err := h.Handle(ctx, AwardXPCommand{UserID: "u-1", Amount: 120})
	require.NoError(t, err)

	assert.Equal(t, progress.KindXPAward, change.Kind)
	assert.Equal(t, 120, change.Experience)
	assert.Equal(t, 2, change.Level)
	assert.Equal(t, 1, change.OldLevel)
	assert.True(t, change.LeveledUp)
	assert.Equal(t, 180, change.XPToNextLevel)
	assert.Equal(t, 10, change.LevelProgress)
	require.Len(t, change.Awards, 1)
	assert.Equal(t, progress.ReasonManual, change.Awards[0].Reason)
}

func TestAwardXPHandler_ZeroAmountIsNoop(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	h := NewAwardXPHandler(NewUpdater(store, testCalendar(), nil))

	change, err := h.Handle(ctx, AwardXPCommand{UserID: "u-1", Amount: 0, Reason: "nothing"})
	require.NoError(t, err)
	assert.False(t, change.Changed)
	assert.Zero(t, change.Experience)
	assert.Equal(t, 1, change.Level)
	assert.Zero(t, store.Len())
}

func TestAwardXPHandler_RejectsOverflow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	h := NewAwardXPHandler(NewUpdater(store, testCalendar(), nil))

	_, err := h.Handle(ctx, AwardXPCommand{UserID: "u-1", Amount: progress.MaxXP})
	require.NoError(t, err)

	_, err = h.Handle(ctx, AwardXPCommand{UserID: "u-1", Amount: 1})
	require.ErrorIs(t, err, shared.ErrXPOverflow)
	assert.True(t, shared.IsValidation(err))

	rec, err := store.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, progress.MaxXP, rec.Experience)
}

func TestAwardXPHandler_DuplicateReportsCurrentState(t *testing.T) {
	ctx := context.Background()
	h := NewAwardXPHandler(NewUpdater(memory.NewStore(), testCalendar(), nil,
		WithIdempotency(memory.NewIdempotencyStore(nil)),
	))

	first, err := h.Handle(ctx, AwardXPCommand{UserID: "u-1", Amount: 150, EventID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Level)

	replay, err := h.Handle(ctx, AwardXPCommand{UserID: "u-1", Amount: 150, EventID: "e1"})
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.False(t, replay.Changed)
	assert.Zero(t, replay.XPGained)
	assert.Equal(t, 150, replay.Experience)
	assert.Equal(t, 2, replay.Level)
	assert.Equal(t, 2, replay.OldLevel)
	assert.Equal(t, 150, replay.XPToNextLevel)
}

func TestAwardXPCommand_Validate(t *testing.T) {
	assert.ErrorIs(t, AwardXPCommand{Amount: 1}.Validate(), shared.ErrEmptyUserID)
	assert.ErrorIs(t, AwardXPCommand{UserID: "u", Amount: -5}.Validate(), shared.ErrNegativeXP)
	assert.NoError(t, AwardXPCommand{UserID: "u", Amount: 0}.Validate())
}

func TestRecordLearningEventCommand_Event(t *testing.T) {
	tests := []struct {
		name string
		cmd  RecordLearningEventCommand
		want progress.LearningEvent
	}{
		{
			name: "video",
			cmd:  RecordLearningEventCommand{Kind: progress.KindVideoProgress, ResourceID: " v-1 ", Percent: 55},
			want: progress.VideoProgress{ResourceID: "v-1", Percent: 55},
		},
		{
			name: "article",
			cmd:  RecordLearningEventCommand{Kind: progress.KindArticleComplete, ResourceID: "a-1"},
			want: progress.ArticleComplete{ResourceID: "a-1"},
		},
		{
			name: "path",
			cmd:  RecordLearningEventCommand{Kind: progress.KindPathComplete, ResourceID: "p-1"},
			want: progress.PathComplete{PathID: "p-1"},
		},
		{
			name: "login",
			cmd:  RecordLearningEventCommand{Kind: progress.KindDailyLogin},
			want: progress.DailyLogin{},
		},
		{
			name: "pathway",
			cmd:  RecordLearningEventCommand{Kind: progress.KindPathwayOpened, ResourceID: "r-1"},
			want: progress.PathwayOpened{ResourceID: "r-1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cmd.Event()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := RecordLearningEventCommand{Kind: progress.KindXPAward}.Event()
	assert.ErrorIs(t, err, shared.ErrUnknownEvent)
}

func TestRecordLearningEventHandler_VideoSession(t *testing.T) {
	ctx := context.Background()
	h := NewRecordLearningEventHandler(NewUpdater(memory.NewStore(), testCalendar(), nil))

	watch := func(pct float64) *ProgressChange {
		t.Helper()
		change, err := h.Handle(ctx, RecordLearningEventCommand{
			UserID:     "u-1",
			Kind:       progress.KindVideoProgress,
			ResourceID: "v-1",
			Percent:    pct,
		})
		require.NoError(t, err)
		return change
	}

	assert.Zero(t, watch(5).XPGained)
	assert.Equal(t, 4, watch(45).XPGained)
	assert.False(t, watch(30).Changed, "lower progress is ignored")

	done := watch(100)
	assert.Equal(t, 10, done.XPGained, "tier already paid, only completion is awarded")
	assert.True(t, done.Completed)
	assert.Equal(t, 14, done.Experience)
	assert.Contains(t, done.UnlockedBadges, progress.BadgeFirstStep)

	assert.False(t, watch(100).Changed)
}

func TestRecordLearningEventHandler_RejectsInvalid(t *testing.T) {
	ctx := context.Background()
	h := NewRecordLearningEventHandler(NewUpdater(memory.NewStore(), testCalendar(), nil))

	_, err := h.Handle(ctx, RecordLearningEventCommand{UserID: "u-1", Kind: "quiz"})
	assert.ErrorIs(t, err, shared.ErrUnknownEvent)

	_, err = h.Handle(ctx, RecordLearningEventCommand{UserID: "u-1", Kind: progress.KindPathwayOpened})
	assert.ErrorIs(t, err, shared.ErrEmptyResourceID)
	assert.True(t, shared.IsValidation(err))
}
