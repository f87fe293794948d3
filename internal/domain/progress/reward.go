package progress

import (
	"fmt"
	"math"
)

// ══════════════════════════════════════════════════════════════════════════════
// ТАБЛИЦА НАГРАД
// ══════════════════════════════════════════════════════════════════════════════

const (
	// XPArticleComplete - завершение статьи или другого не-видео ресурса.
	XPArticleComplete = 8

	// XPPathComplete - завершение учебной траектории.
	XPPathComplete = 50

	// XPDailyLogin - первый вход за календарный день.
	XPDailyLogin = 5

	// XPStreakThreeDays - серия достигла ровно 3 дней.
	XPStreakThreeDays = 15

	// XPStreakSevenDays - серия достигла ровно 7 дней.
	XPStreakSevenDays = 30

	// XPPathwayOpened - открытие сгенерированной траектории (раз в день на ресурс).
	XPPathwayOpened = 1

	// VideoTierPercent - порог первой награды за видео.
	VideoTierPercent = 10.0

	// VideoCompletePercent - видео досмотрено.
	VideoCompletePercent = 100.0

	// videoTierCap - максимальная награда за порог просмотра.
	videoTierCap = 10
)

// Причины начислений, попадающие в журнал.
const (
	ReasonVideoCompleted = "Completed video"
	ReasonArticle        = "Completed article"
	ReasonPath           = "Completed learning path"
	ReasonDailyLogin     = "Daily login bonus"
	ReasonStreakBonus    = "Streak bonus"
	ReasonPathwayOpened  = "Opened learning pathway"
	ReasonManual         = "Manual award"
)

// VideoTierXP возвращает награду за просмотр p процентов: min(floor(p/10), 10).
func VideoTierXP(percent float64) int {
	if percent <= 0 {
		return 0
	}
	return min(int(math.Floor(percent/10)), videoTierCap)
}

// VideoCompletionXP - награда за досмотр видео до конца.
func VideoCompletionXP() int {
	return VideoTierXP(VideoCompletePercent)
}

// videoWatchedReason формирует причину для порога просмотра.
func videoWatchedReason(percent float64) string {
	return fmt.Sprintf("Watched %d%% of video", int(math.Round(percent)))
}
