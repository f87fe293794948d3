package progress

import (
	"math"
	"strings"

	"github.com/learnmatch/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// УЧЕБНЫЕ СОБЫТИЯ
// ══════════════════════════════════════════════════════════════════════════════

// EventKind - вид учебного события.
type EventKind string

const (
	KindVideoProgress   EventKind = "video_progress"
	KindArticleComplete EventKind = "article_complete"
	KindPathComplete    EventKind = "path_complete"
	KindDailyLogin      EventKind = "daily_login"
	KindPathwayOpened   EventKind = "pathway_opened"
	KindXPAward         EventKind = "xp_award"
)

// String реализует fmt.Stringer.
func (k EventKind) String() string {
	return string(k)
}

// ParseEventKind разбирает вид события из строки.
func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(strings.TrimSpace(s)); k {
	case KindVideoProgress, KindArticleComplete, KindPathComplete,
		KindDailyLogin, KindPathwayOpened, KindXPAward:
		return k, nil
	default:
		return "", shared.ErrUnknownEvent
	}
}

// LearningEvent - закрытое множество вариантов событий.
// Каждый вариант несёт фиксированный набор полей и проверяет их в Validate.
type LearningEvent interface {
	Kind() EventKind
	Validate() error

	// apply изменяет запись внутри сессии движка.
	apply(s *session)
}

// VideoProgress - пользователь досмотрел видео до Percent процентов.
type VideoProgress struct {
	ResourceID string
	Percent    float64
}

// Kind реализует LearningEvent.
func (VideoProgress) Kind() EventKind { return KindVideoProgress }

// Validate реализует LearningEvent.
func (e VideoProgress) Validate() error {
	if strings.TrimSpace(e.ResourceID) == "" {
		return shared.ErrEmptyResourceID
	}
	if math.IsNaN(e.Percent) || e.Percent < 0 || e.Percent > 100 {
		return shared.ErrInvalidPercent
	}
	return nil
}

// ArticleComplete - пользователь завершил статью или другой не-видео ресурс.
// Без ResourceID повтор засчитывается снова.
type ArticleComplete struct {
	ResourceID string
}

// Kind реализует LearningEvent.
func (ArticleComplete) Kind() EventKind { return KindArticleComplete }

// Validate реализует LearningEvent.
func (ArticleComplete) Validate() error { return nil }

// PathComplete - пользователь завершил учебную траекторию.
type PathComplete struct {
	PathID string
}

// Kind реализует LearningEvent.
func (PathComplete) Kind() EventKind { return KindPathComplete }

// Validate реализует LearningEvent.
func (PathComplete) Validate() error { return nil }

// DailyLogin - первая активность пользователя за день.
type DailyLogin struct{}

// Kind реализует LearningEvent.
func (DailyLogin) Kind() EventKind { return KindDailyLogin }

// Validate реализует LearningEvent.
func (DailyLogin) Validate() error { return nil }

// PathwayOpened - пользователь открыл сгенерированную траекторию по ресурсу.
type PathwayOpened struct {
	ResourceID string
}

// Kind реализует LearningEvent.
func (PathwayOpened) Kind() EventKind { return KindPathwayOpened }

// Validate реализует LearningEvent.
func (e PathwayOpened) Validate() error {
	if strings.TrimSpace(e.ResourceID) == "" {
		return shared.ErrEmptyResourceID
	}
	return nil
}

// XPAward - прямое начисление опыта.
type XPAward struct {
	Amount int
	Reason string
}

// Kind реализует LearningEvent.
func (XPAward) Kind() EventKind { return KindXPAward }

// Validate реализует LearningEvent.
func (e XPAward) Validate() error {
	if e.Amount < 0 {
		return shared.ErrNegativeXP
	}
	if e.Amount > MaxXP {
		return shared.ErrXPOverflow
	}
	return nil
}

// resourceOf возвращает идентификатор ресурса события, если он есть.
func resourceOf(ev LearningEvent) string {
	switch e := ev.(type) {
	case VideoProgress:
		return e.ResourceID
	case ArticleComplete:
		return e.ResourceID
	case PathComplete:
		return e.PathID
	case PathwayOpened:
		return e.ResourceID
	default:
		return ""
	}
}
