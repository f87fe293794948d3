package progress

import (
	"strings"
	"time"

	"github.com/learnmatch/progression/internal/domain/shared"
	"github.com/learnmatch/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ДВИЖОК ПРОГРЕССИИ
// ══════════════════════════════════════════════════════════════════════════════

// Award - одно начисление опыта внутри операции.
type Award struct {
	Amount int
	Reason string
}

// Outcome - результат применения события к записи.
type Outcome struct {
	// Kind - вид применённого события.
	Kind EventKind

	// Changed - запись изменилась и должна быть сохранена.
	Changed bool

	// Awards - начисления в порядке их возникновения.
	Awards []Award

	// XPGained - суммарно начисленный опыт.
	XPGained int

	// OldLevel, NewLevel - уровень до и после операции.
	OldLevel int
	NewLevel int

	// LeveledUp - NewLevel > OldLevel.
	LeveledUp bool

	// UnlockedBadges - значки, разблокированные этой операцией.
	UnlockedBadges []BadgeID

	// StreakChanged - ежедневный вход изменил текущую серию.
	StreakChanged bool

	// Completed - операция засчитала завершение ресурса или траектории.
	Completed bool

	// History - записи журнала для сохранения вместе с записью.
	History []HistoryEntry

	// Events - доменные события для публикации после сохранения.
	Events []shared.Event
}

// Engine применяет учебные события к записям прогресса.
// Engine не хранит состояния и безопасен для конкурентного использования.
type Engine struct{}

// NewEngine создаёт движок.
func NewEngine() *Engine {
	return &Engine{}
}

// Apply проверяет событие и применяет его к rec (запись изменяется на месте,
// вызывающий передаёт копию). today - календарный день в настроенной зоне,
// now - момент операции.
//
// Все начисления накапливаются, затем один раз выполняется settle:
// пересчёт уровня и оценка значков по итоговой записи.
func (e *Engine) Apply(rec *Record, ev LearningEvent, today timeutil.Date, now time.Time) (Outcome, error) {
	if rec == nil || strings.TrimSpace(rec.UserID) == "" {
		return Outcome{}, shared.ErrEmptyUserID
	}
	if ev == nil {
		return Outcome{}, shared.ErrUnknownEvent
	}
	if err := ev.Validate(); err != nil {
		return Outcome{}, err
	}

	if today.IsZero() {
		today = timeutil.DateOf(now, time.UTC)
	}

	rec.ensureMaps()
	s := &session{
		rec:      rec,
		kind:     ev.Kind(),
		resource: resourceOf(ev),
		today:    today,
		now:      now,
		outcome: Outcome{
			Kind:     ev.Kind(),
			OldLevel: rec.Level,
			NewLevel: rec.Level,
		},
	}

	ev.apply(s)
	if s.err != nil {
		return Outcome{}, s.err
	}
	s.settle()

	return s.outcome, nil
}

// session накапливает изменения одной операции.
type session struct {
	rec      *Record
	kind     EventKind
	resource string
	today    timeutil.Date
	now      time.Time
	outcome  Outcome
	err      error
}

// award начисляет опыт и пишет запись журнала. Нулевые начисления пропускаются.
// Начисление сверх MaxXP прерывает операцию с ErrXPOverflow.
func (s *session) award(amount int, reason string) {
	if amount <= 0 || s.err != nil {
		return
	}
	if s.rec.Experience > MaxXP-amount {
		s.err = shared.ErrXPOverflow
		return
	}
	old := s.rec.Experience
	s.rec.Experience += amount
	s.outcome.Changed = true
	s.outcome.XPGained += amount
	s.outcome.Awards = append(s.outcome.Awards, Award{Amount: amount, Reason: reason})
	s.outcome.History = append(s.outcome.History, HistoryEntry{
		UserID:     s.rec.UserID,
		Amount:     amount,
		Reason:     reason,
		OldXP:      old,
		NewXP:      s.rec.Experience,
		EventKind:  s.kind,
		ResourceID: s.resource,
		OccurredAt: s.now,
	})
	s.outcome.Events = append(s.outcome.Events, shared.NewXPGainedEvent(
		s.rec.UserID, s.now, amount, s.rec.Experience, reason, string(s.kind), s.resource,
	))
}

// complete отмечает завершение ресурса.
func (s *session) complete(resourceID, kind string) {
	s.rec.CompletedResourceCount++
	if resourceID != "" {
		s.rec.CompletedResources[resourceID] = true
	}
	s.outcome.Changed = true
	s.outcome.Completed = true
	s.outcome.Events = append(s.outcome.Events, shared.NewResourceCompletedEvent(
		s.rec.UserID, s.now, resourceID, kind, s.rec.CompletedResourceCount,
	))
}

// settle пересчитывает уровень и значки по итоговой записи. Значки
// оцениваются всегда: запись могла уже удовлетворять условию до операции.
func (s *session) settle() {
	if level := DeriveLevel(s.rec.Experience); level != s.rec.Level {
		s.rec.Level = level
		s.outcome.Changed = true
	}
	s.outcome.NewLevel = s.rec.Level
	s.outcome.LeveledUp = s.outcome.NewLevel > s.outcome.OldLevel
	if s.outcome.LeveledUp {
		s.outcome.Events = append(s.outcome.Events, shared.NewLevelUpEvent(
			s.rec.UserID, s.now, s.outcome.OldLevel, s.outcome.NewLevel, s.rec.Experience,
		))
	}

	s.outcome.UnlockedBadges = EvaluateBadges(s.rec)
	for _, id := range s.outcome.UnlockedBadges {
		def, _ := LookupBadge(id)
		s.outcome.Events = append(s.outcome.Events, shared.NewBadgeUnlockedEvent(
			s.rec.UserID, s.now, string(id), def.Name, def.Icon,
		))
	}
	if len(s.outcome.UnlockedBadges) > 0 {
		s.outcome.Changed = true
	}

	if s.outcome.Changed {
		s.rec.PruneStalePathwayOpens(s.today)
		s.rec.UpdatedAt = s.now
	}
}

// ─── применение вариантов ────────────────────────────────────────────────────

func (e XPAward) apply(s *session) {
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = ReasonManual
	}
	s.award(e.Amount, reason)
}

// Прогресс видео - монотонный максимум: меньшее или равное значение игнорируется.
func (e VideoProgress) apply(s *session) {
	prior := s.rec.VideoProgress[e.ResourceID]
	if e.Percent <= prior {
		return
	}
	s.rec.VideoProgress[e.ResourceID] = e.Percent
	s.outcome.Changed = true

	if prior < VideoTierPercent && e.Percent >= VideoTierPercent {
		s.award(VideoTierXP(e.Percent), videoWatchedReason(e.Percent))
	}
	if prior < VideoCompletePercent && e.Percent >= VideoCompletePercent {
		s.award(VideoCompletionXP(), ReasonVideoCompleted)
		s.complete(e.ResourceID, string(KindVideoProgress))
	}
}

// Завершение статьи идемпотентно, если известен идентификатор ресурса.
func (e ArticleComplete) apply(s *session) {
	id := strings.TrimSpace(e.ResourceID)
	if id != "" && s.rec.HasCompleted(id) {
		return
	}
	s.award(XPArticleComplete, ReasonArticle)
	s.complete(id, string(KindArticleComplete))
}

func (e PathComplete) apply(s *session) {
	s.award(XPPathComplete, ReasonPath)
	s.rec.CompletedPathCount++
	s.outcome.Changed = true
	s.outcome.Completed = true
	s.outcome.Events = append(s.outcome.Events, shared.NewResourceCompletedEvent(
		s.rec.UserID, s.now, strings.TrimSpace(e.PathID), string(KindPathComplete), s.rec.CompletedPathCount,
	))
}

func (DailyLogin) apply(s *session) {
	if s.rec.LastLoginDate == s.today {
		return
	}

	streak, changed := s.rec.Streak.Advance(s.today)
	s.rec.Streak = streak
	s.rec.LastLoginDate = s.today
	s.outcome.Changed = true
	s.outcome.StreakChanged = changed

	s.award(XPDailyLogin, ReasonDailyLogin)
	bonus := StreakBonus(streak.Current, changed)
	s.award(bonus, ReasonStreakBonus)

	if changed {
		s.outcome.Events = append(s.outcome.Events, shared.NewStreakUpdatedEvent(
			s.rec.UserID, s.now, streak.Current, streak.Longest, bonus,
		))
	}
}

// Открытие траектории награждается не чаще раза в день на ресурс.
func (e PathwayOpened) apply(s *session) {
	id := strings.TrimSpace(e.ResourceID)
	if s.rec.PathwayOpens[id] == s.today {
		return
	}
	s.rec.PathwayOpens[id] = s.today
	s.award(XPPathwayOpened, ReasonPathwayOpened)
}
