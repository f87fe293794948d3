package progress

// ══════════════════════════════════════════════════════════════════════════════
// УРОВНИ
// ══════════════════════════════════════════════════════════════════════════════
//
// Уровень 1: [0, 100)
// Уровень 2: [100, 300)
// Уровень 3: [300, 600)
// Уровень n ≥ 4: [600 + (n-4)·300, 600 + (n-3)·300)

const (
	// MinLevel - начальный уровень.
	MinLevel = 1

	// levelStepAfterThree - ширина полосы для уровней начиная с 4.
	levelStepAfterThree = 300

	// levelFourThreshold - порог опыта для уровня 4.
	levelFourThreshold = 600

	// MaxXP - верхняя граница опыта. Значение точно представимо числом JSON.
	MaxXP = 1<<53 - 1
)

// earlyThresholds - пороги для уровней 1-3.
var earlyThresholds = [...]int{0, 100, 300}

// LevelThreshold возвращает минимальный опыт для указанного уровня.
// Для level < 1 возвращает 0.
func LevelThreshold(level int) int {
	if level <= MinLevel {
		return 0
	}
	if level <= len(earlyThresholds) {
		return earlyThresholds[level-1]
	}
	return levelFourThreshold + (level-4)*levelStepAfterThree
}

// DeriveLevel вычисляет уровень по опыту. Отрицательный опыт считается нулём.
// Функция монотонна: больший опыт никогда не даёт меньший уровень.
func DeriveLevel(xp int) int {
	switch {
	case xp < earlyThresholds[1]:
		return 1
	case xp < earlyThresholds[2]:
		return 2
	case xp < levelFourThreshold:
		return 3
	default:
		return 4 + (xp-levelFourThreshold)/levelStepAfterThree
	}
}

// XPForNextLevel возвращает, сколько опыта осталось до следующего уровня:
// xp + XPForNextLevel(xp, level) == LevelThreshold(level+1).
func XPForNextLevel(xp, level int) int {
	return LevelThreshold(level+1) - xp
}

// LevelProgressPercent возвращает долю текущей полосы уровня, уже набранную
// игроком, в процентах [0, 100].
func LevelProgressPercent(xp, level int) int {
	floor := LevelThreshold(level)
	band := LevelThreshold(level+1) - floor
	if band <= 0 {
		return 0
	}
	pct := (xp - floor) * 100 / band
	return clampPercent(pct)
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
