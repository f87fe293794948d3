package query

import (
	"github.com/learnmatch/progression/internal/domain/progress"
	"github.com/learnmatch/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL INFO
// Чистый расчёт уровня по опыту, без обращения к хранилищу.
// ══════════════════════════════════════════════════════════════════════════════

// LevelInfoDTO - уровень и прогресс для заданного опыта.
type LevelInfoDTO struct {
	Experience int `json:"experience"`
	Level      int `json:"level"`

	// LevelStart, NextLevelAt - границы полосы текущего уровня.
	LevelStart  int `json:"level_start"`
	NextLevelAt int `json:"next_level_at"`

	XPToNextLevel int `json:"xp_to_next_level"`
	LevelProgress int `json:"level_progress"`
}

// LevelInfo рассчитывает уровень для xp. Отрицательный опыт отклоняется.
func LevelInfo(xp int) (LevelInfoDTO, error) {
	if xp < 0 {
		return LevelInfoDTO{}, shared.ErrNegativeXP
	}
	level := progress.DeriveLevel(xp)
	return LevelInfoDTO{
		Experience:    xp,
		Level:         level,
		LevelStart:    progress.LevelThreshold(level),
		NextLevelAt:   progress.LevelThreshold(level + 1),
		XPToNextLevel: progress.XPForNextLevel(xp, level),
		LevelProgress: progress.LevelProgressPercent(xp, level),
	}, nil
}
