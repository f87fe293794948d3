package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/learnmatch/progression/pkg/timeutil"
)

func TestStreakAdvance(t *testing.T) {
	today := timeutil.Date("2026-10-19")

	tests := []struct {
		name    string
		before  Streak
		want    Streak
		changed bool
	}{
		{
			name:    "no prior data",
			before:  Streak{},
			want:    Streak{Current: 1, Longest: 1, LastActiveDate: today},
			changed: true,
		},
		{
			name:    "consecutive day",
			before:  Streak{Current: 2, Longest: 2, LastActiveDate: "2026-10-18"},
			want:    Streak{Current: 3, Longest: 3, LastActiveDate: today},
			changed: true,
		},
		{
			name:    "consecutive day keeps better longest",
			before:  Streak{Current: 2, Longest: 9, LastActiveDate: "2026-10-18"},
			want:    Streak{Current: 3, Longest: 9, LastActiveDate: today},
			changed: true,
		},
		{
			name:    "same day",
			before:  Streak{Current: 4, Longest: 5, LastActiveDate: today},
			want:    Streak{Current: 4, Longest: 5, LastActiveDate: today},
			changed: false,
		},
		{
			name:    "gap resets",
			before:  Streak{Current: 6, Longest: 6, LastActiveDate: "2026-10-15"},
			want:    Streak{Current: 1, Longest: 6, LastActiveDate: today},
			changed: true,
		},
		{
			name:    "gap from one stays unchanged",
			before:  Streak{Current: 1, Longest: 1, LastActiveDate: "2026-10-01"},
			want:    Streak{Current: 1, Longest: 1, LastActiveDate: today},
			changed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := tt.before.Advance(today)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
			assert.GreaterOrEqual(t, got.Longest, got.Current)
		})
	}
}

func TestStreakBonus(t *testing.T) {
	assert.Equal(t, 15, StreakBonus(3, true))
	assert.Equal(t, 30, StreakBonus(7, true))
	assert.Zero(t, StreakBonus(3, false))
	assert.Zero(t, StreakBonus(7, false))
	assert.Zero(t, StreakBonus(4, true))
	assert.Zero(t, StreakBonus(14, true))
}
