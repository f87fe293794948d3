package progress

// ══════════════════════════════════════════════════════════════════════════════
// ЗНАЧКИ
// ══════════════════════════════════════════════════════════════════════════════

// BadgeID - идентификатор значка.
type BadgeID string

const (
	BadgeFirstStep        BadgeID = "first_step"
	BadgeStreakStarter    BadgeID = "streak_starter"
	BadgeFocusedLearner   BadgeID = "focused_learner"
	BadgeDedicatedLearner BadgeID = "dedicated_learner"
	BadgeExpert           BadgeID = "expert"
	BadgeWeekWarrior      BadgeID = "week_warrior"
	BadgePathCompleter    BadgeID = "path_completer"
)

// String реализует fmt.Stringer.
func (id BadgeID) String() string {
	return string(id)
}

// BadgeDefinition - статическое описание значка.
// Значок разблокируется, когда метрика записи достигает Target.
type BadgeDefinition struct {
	ID          BadgeID
	Name        string
	Description string
	Icon        string
	Requirement string

	// Target - порог метрики для разблокировки.
	Target int

	metric func(r *Record) int
}

// Measure возвращает текущее значение метрики значка для записи.
func (d BadgeDefinition) Measure(r *Record) int {
	return d.metric(r)
}

// Satisfied возвращает true, если запись удовлетворяет условию значка.
func (d BadgeDefinition) Satisfied(r *Record) bool {
	return d.metric(r) >= d.Target
}

func completedResources(r *Record) int { return r.CompletedResourceCount }
func currentStreak(r *Record) int      { return r.Streak.Current }
func fullVideos(r *Record) int         { return r.FullVideoCount() }
func experience(r *Record) int         { return r.Experience }
func completedPaths(r *Record) int     { return r.CompletedPathCount }

// catalog - таблица значков. Порядок важен: в нём значки проверяются
// и возвращаются клиенту.
var catalog = []BadgeDefinition{
	{
		ID:          BadgeFirstStep,
		Name:        "First Step",
		Description: "You've started your journey!",
		Icon:        "🧩",
		Requirement: "Complete first resource",
		Target:      1,
		metric:      completedResources,
	},
	{
		ID:          BadgeStreakStarter,
		Name:        "Streak Starter",
		Description: "Consistency pays off!",
		Icon:        "🔥",
		Requirement: "Maintain a 3-day streak",
		Target:      3,
		metric:      currentStreak,
	},
	{
		ID:          BadgeFocusedLearner,
		Name:        "Focused Learner",
		Description: "Focused and steady progress",
		Icon:        "🎯",
		Requirement: "Watch 10 full videos",
		Target:      10,
		metric:      fullVideos,
	},
	{
		ID:          BadgeDedicatedLearner,
		Name:        "Dedicated Learner",
		Description: "Committed to growth",
		Icon:        "📚",
		Requirement: "Complete 10 resources",
		Target:      10,
		metric:      completedResources,
	},
	{
		ID:          BadgeExpert,
		Name:        "Expert",
		Description: "A true master of learning",
		Icon:        "🏆",
		Requirement: "Reach 1000 XP",
		Target:      1000,
		metric:      experience,
	},
	{
		ID:          BadgeWeekWarrior,
		Name:        "Week Warrior",
		Description: "7 days strong!",
		Icon:        "⚡",
		Requirement: "Maintain a 7-day streak",
		Target:      7,
		metric:      currentStreak,
	},
	{
		ID:          BadgePathCompleter,
		Name:        "Path Completer",
		Description: "You finished a full learning path!",
		Icon:        "🎓",
		Requirement: "Complete your first learning path",
		Target:      1,
		metric:      completedPaths,
	},
}

// Badges возвращает копию каталога значков.
func Badges() []BadgeDefinition {
	out := make([]BadgeDefinition, len(catalog))
	copy(out, catalog)
	return out
}

// LookupBadge ищет значок по идентификатору.
func LookupBadge(id BadgeID) (BadgeDefinition, bool) {
	for _, def := range catalog {
		if def.ID == id {
			return def, true
		}
	}
	return BadgeDefinition{}, false
}

// EvaluateBadges проверяет все ещё не полученные значки по порядку каталога,
// выставляет флаги и возвращает только что разблокированные.
// Полученный значок никогда не снимается.
func EvaluateBadges(r *Record) []BadgeID {
	r.ensureMaps()
	var unlocked []BadgeID
	for _, def := range catalog {
		if r.Badges[def.ID] {
			continue
		}
		if def.Satisfied(r) {
			r.Badges[def.ID] = true
			unlocked = append(unlocked, def.ID)
		}
	}
	return unlocked
}

// BadgeStatus - состояние значка для доски значков.
type BadgeStatus struct {
	BadgeDefinition

	// Earned - значок получен.
	Earned bool

	// Current - текущее значение метрики (без ограничения сверху).
	Current int

	// Percent - прогресс к Target в процентах [0, 100].
	Percent int
}

// BadgeBoard возвращает состояние всех значков в порядке каталога.
func BadgeBoard(r *Record) []BadgeStatus {
	board := make([]BadgeStatus, 0, len(catalog))
	for _, def := range catalog {
		current := def.Measure(r)
		pct := 100
		if def.Target > 0 {
			pct = clampPercent(current * 100 / def.Target)
		}
		earned := r.Badges[def.ID]
		if earned {
			pct = 100
		}
		board = append(board, BadgeStatus{
			BadgeDefinition: def,
			Earned:          earned,
			Current:         current,
			Percent:         pct,
		})
	}
	return board
}
