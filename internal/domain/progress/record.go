package progress

import (
	"strings"
	"time"

	"github.com/learnmatch/progression/internal/domain/shared"
	"github.com/learnmatch/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ЗАПИСЬ ПРОГРЕССА
// ══════════════════════════════════════════════════════════════════════════════

// Streak - серия дней активности.
type Streak struct {
	// Current - текущая серия подряд идущих дней.
	Current int

	// Longest - лучшая серия. Всегда Longest >= Current.
	Longest int

	// LastActiveDate - последний день, за который серия пересчитывалась.
	LastActiveDate timeutil.Date
}

// Record - запись прогресса одного пользователя.
// Создаётся лениво при первом обращении и никогда не удаляется сервисом.
type Record struct {
	// UserID - стабильный идентификатор пользователя.
	UserID string

	// Experience - накопленный опыт. Никогда не уменьшается.
	Experience int

	// Level - всегда равен DeriveLevel(Experience).
	Level int

	// Streak - серия дней активности.
	Streak Streak

	// Badges - полученные значки. Флаг никогда не сбрасывается.
	Badges map[BadgeID]bool

	// VideoProgress - максимальный досмотренный процент по каждому видео.
	VideoProgress map[string]float64

	// CompletedResources - множество завершённых ресурсов (если id известен).
	CompletedResources map[string]bool

	// CompletedResourceCount - число завершённых ресурсов.
	CompletedResourceCount int

	// CompletedPathCount - число завершённых учебных траекторий.
	CompletedPathCount int

	// LastLoginDate - день последнего ежедневного входа.
	LastLoginDate timeutil.Date

	// PathwayOpens - день последней награды за открытие траектории по ресурсу.
	PathwayOpens map[string]timeutil.Date

	// Version - версия для оптимистичной блокировки. 0 - ещё не сохранена.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRecord создаёт пустую запись: нулевые счётчики, уровень 1.
func NewRecord(userID string, now time.Time) (*Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, shared.ErrEmptyUserID
	}
	rec := &Record{
		UserID:    userID,
		Level:     MinLevel,
		CreatedAt: now,
		UpdatedAt: now,
	}
	rec.ensureMaps()
	return rec, nil
}

// ensureMaps гарантирует, что все карты инициализированы.
// Нужно после десериализации старых документов.
func (r *Record) ensureMaps() {
	if r.Badges == nil {
		r.Badges = make(map[BadgeID]bool)
	}
	if r.VideoProgress == nil {
		r.VideoProgress = make(map[string]float64)
	}
	if r.CompletedResources == nil {
		r.CompletedResources = make(map[string]bool)
	}
	if r.PathwayOpens == nil {
		r.PathwayOpens = make(map[string]timeutil.Date)
	}
}

// Normalize приводит загруженную запись к инвариантам модели.
func (r *Record) Normalize() {
	r.ensureMaps()
	if r.Experience < 0 {
		r.Experience = 0
	}
	r.Level = DeriveLevel(r.Experience)
	if r.Streak.Longest < r.Streak.Current {
		r.Streak.Longest = r.Streak.Current
	}
}

// Clone возвращает глубокую копию записи.
func (r *Record) Clone() *Record {
	c := *r
	c.Badges = make(map[BadgeID]bool, len(r.Badges))
	for k, v := range r.Badges {
		c.Badges[k] = v
	}
	c.VideoProgress = make(map[string]float64, len(r.VideoProgress))
	for k, v := range r.VideoProgress {
		c.VideoProgress[k] = v
	}
	c.CompletedResources = make(map[string]bool, len(r.CompletedResources))
	for k, v := range r.CompletedResources {
		c.CompletedResources[k] = v
	}
	c.PathwayOpens = make(map[string]timeutil.Date, len(r.PathwayOpens))
	for k, v := range r.PathwayOpens {
		c.PathwayOpens[k] = v
	}
	return &c
}

// IsNew возвращает true, если запись ещё не сохранялась.
func (r *Record) IsNew() bool {
	return r.Version == 0
}

// FullVideoCount возвращает число видео, досмотренных до 100%.
func (r *Record) FullVideoCount() int {
	n := 0
	for _, p := range r.VideoProgress {
		if p >= VideoCompletePercent {
			n++
		}
	}
	return n
}

// HasCompleted возвращает true, если ресурс уже отмечен завершённым.
func (r *Record) HasCompleted(resourceID string) bool {
	return r.CompletedResources[resourceID]
}

// HasBadge возвращает true, если значок получен.
func (r *Record) HasBadge(id BadgeID) bool {
	return r.Badges[id]
}

// PruneStalePathwayOpens удаляет отметки траекторий, сделанные до today.
// Возвращает число удалённых отметок.
func (r *Record) PruneStalePathwayOpens(today timeutil.Date) int {
	removed := 0
	for id, day := range r.PathwayOpens {
		if day.IsZero() || day.DaysUntil(today) > 0 {
			delete(r.PathwayOpens, id)
			removed++
		}
	}
	return removed
}

// EarnedBadges возвращает полученные значки в порядке каталога.
func (r *Record) EarnedBadges() []BadgeID {
	earned := make([]BadgeID, 0, len(r.Badges))
	for _, def := range catalog {
		if r.Badges[def.ID] {
			earned = append(earned, def.ID)
		}
	}
	return earned
}

// BadgeCount возвращает число полученных значков.
func (r *Record) BadgeCount() int {
	return len(r.EarnedBadges())
}

// XPToNextLevel возвращает остаток опыта до следующего уровня.
func (r *Record) XPToNextLevel() int {
	return XPForNextLevel(r.Experience, r.Level)
}

// LevelProgress возвращает процент прохождения текущего уровня.
func (r *Record) LevelProgress() int {
	return LevelProgressPercent(r.Experience, r.Level)
}

// ══════════════════════════════════════════════════════════════════════════════
// ИСТОРИЯ ОПЫТА
// ══════════════════════════════════════════════════════════════════════════════

// HistoryEntry - одна запись журнала начислений опыта.
type HistoryEntry struct {
	UserID     string
	Amount     int
	Reason     string
	OldXP      int
	NewXP      int
	EventKind  EventKind
	ResourceID string
	OccurredAt time.Time
}
