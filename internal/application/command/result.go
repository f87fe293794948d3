package command

import (
	"github.com/learnmatch/progression/internal/domain/progress"
)

// ProgressChange is what a write command reports back to its caller.
type ProgressChange struct {
	UserID string
	Kind   progress.EventKind

	// Duplicate is true when the event id was seen before and nothing ran.
	Duplicate bool

	// Changed is false for no-op events (repeated login, lower video percent).
	Changed bool

	Awards   []progress.Award
	XPGained int

	Experience int
	Level      int
	OldLevel   int
	LeveledUp  bool

	XPToNextLevel int
	LevelProgress int

	UnlockedBadges []progress.BadgeID
	Streak         progress.Streak
	StreakChanged  bool
	Completed      bool
}

func newProgressChange(kind progress.EventKind, r *UpdateResult) *ProgressChange {
	c := &ProgressChange{
		UserID:    r.UserID,
		Kind:      kind,
		Duplicate: r.Duplicate,
	}

	if rec := r.Record; rec != nil {
		c.Experience = rec.Experience
		c.Level = rec.Level
		c.OldLevel = rec.Level
		c.XPToNextLevel = rec.XPToNextLevel()
		c.LevelProgress = rec.LevelProgress()
		c.Streak = rec.Streak
	}
	if r.Duplicate {
		return c
	}

	out := r.Outcome
	c.Changed = out.Changed
	c.Awards = out.Awards
	c.XPGained = out.XPGained
	if out.OldLevel > 0 {
		c.OldLevel = out.OldLevel
	}
	c.LeveledUp = out.LeveledUp
	c.UnlockedBadges = out.UnlockedBadges
	c.StreakChanged = out.StreakChanged
	c.Completed = out.Completed
	return c
}
