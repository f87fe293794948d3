package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/learnmatch/progression/internal/domain/progress"
	"github.com/learnmatch/progression/internal/domain/shared"
	"github.com/learnmatch/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGE QUERIES
// Каталог значков и доска значков пользователя с прогрессом к каждому.
// ══════════════════════════════════════════════════════════════════════════════

// BadgeDTO - описание значка.
type BadgeDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Requirement string `json:"requirement"`
	Target      int    `json:"target"`
}

// NewBadgeDTO строит описание значка из определения каталога.
func NewBadgeDTO(d progress.BadgeDefinition) BadgeDTO {
	return BadgeDTO{
		ID:          string(d.ID),
		Name:        d.Name,
		Description: d.Description,
		Icon:        d.Icon,
		Requirement: d.Requirement,
		Target:      d.Target,
	}
}

// ListBadges возвращает каталог значков в порядке проверки.
func ListBadges() []BadgeDTO {
	defs := progress.Badges()
	out := make([]BadgeDTO, 0, len(defs))
	for _, d := range defs {
		out = append(out, NewBadgeDTO(d))
	}
	return out
}

// BadgeStatusDTO - значок с состоянием для конкретного пользователя.
type BadgeStatusDTO struct {
	BadgeDTO

	Earned bool `json:"earned"`

	// Current - текущее значение метрики, может превышать Target.
	Current int `json:"current"`

	// Percent - прогресс к Target, 0..100.
	Percent int `json:"percent"`
}

// GetBadgeBoardQuery содержит параметры запроса доски значков.
type GetBadgeBoardQuery struct {
	UserID string
}

// Validate проверяет корректность параметров запроса.
func (q GetBadgeBoardQuery) Validate() error {
	if strings.TrimSpace(q.UserID) == "" {
		return shared.ErrEmptyUserID
	}
	return nil
}

// BadgeBoardDTO - доска значков пользователя.
type BadgeBoardDTO struct {
	UserID     string           `json:"user_id"`
	Badges     []BadgeStatusDTO `json:"badges"`
	BadgeCount int              `json:"badge_count"`
	Total      int              `json:"total"`
}

// GetBadgeBoardHandler обрабатывает запросы доски значков.
type GetBadgeBoardHandler struct {
	repo     progress.Repository
	calendar *timeutil.Calendar
}

// NewGetBadgeBoardHandler создаёт обработчик.
func NewGetBadgeBoardHandler(repo progress.Repository, calendar *timeutil.Calendar) *GetBadgeBoardHandler {
	return &GetBadgeBoardHandler{repo: repo, calendar: calendar}
}

// Handle возвращает доску значков. Для неизвестного пользователя все значки
// не получены, запись при этом не создаётся.
func (h *GetBadgeBoardHandler) Handle(ctx context.Context, q GetBadgeBoardQuery) (*BadgeBoardDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_badge_board: validation failed: %w", err)
	}
	userID := strings.TrimSpace(q.UserID)

	rec, err := loadOrEmpty(ctx, h.repo, userID, h.calendar.Now())
	if err != nil {
		return nil, fmt.Errorf("get_badge_board: %w", err)
	}

	board := progress.BadgeBoard(rec)
	dto := &BadgeBoardDTO{
		UserID: userID,
		Badges: make([]BadgeStatusDTO, 0, len(board)),
		Total:  len(board),
	}
	for _, s := range board {
		dto.Badges = append(dto.Badges, BadgeStatusDTO{
			BadgeDTO: NewBadgeDTO(s.BadgeDefinition),
			Earned:   s.Earned,
			Current:  s.Current,
			Percent:  s.Percent,
		})
		if s.Earned {
			dto.BadgeCount++
		}
	}
	return dto, nil
}
