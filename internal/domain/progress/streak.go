package progress

import "github.com/learnmatch/progression/pkg/timeutil"

// ══════════════════════════════════════════════════════════════════════════════
// СЕРИЯ ДНЕЙ
// ══════════════════════════════════════════════════════════════════════════════

// Advance пересчитывает серию для активности в день today.
// Возвращает новую серию и признак изменения Current.
//
//   - нет данных        → 1/1
//   - последний день вчера → Current+1, Longest = max
//   - последний день сегодня → без изменений
//   - иначе (разрыв)    → Current = 1, Longest сохраняется
func (s Streak) Advance(today timeutil.Date) (Streak, bool) {
	next := s
	next.LastActiveDate = today

	switch {
	case s.LastActiveDate.IsZero():
		next.Current = 1
	case s.LastActiveDate == today:
		// уже учтён
	case s.LastActiveDate.IsYesterdayOf(today):
		next.Current = s.Current + 1
	default:
		next.Current = 1
	}

	if next.Longest < next.Current {
		next.Longest = next.Current
	}
	return next, next.Current != s.Current
}

// StreakBonus возвращает бонус за достижение серии ровно 3 или 7 дней.
// Бонус начисляется только на переходе (changed == true).
func StreakBonus(current int, changed bool) int {
	if !changed {
		return 0
	}
	switch current {
	case 3:
		return XPStreakThreeDays
	case 7:
		return XPStreakSevenDays
	default:
		return 0
	}
}
