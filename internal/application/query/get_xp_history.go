package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/learnmatch/progression/internal/domain/progress"
	"github.com/learnmatch/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET XP HISTORY QUERY
// Журнал начислений опыта, новые записи первыми.
// ══════════════════════════════════════════════════════════════════════════════

// GetXPHistoryQuery содержит параметры запроса журнала.
type GetXPHistoryQuery struct {
	UserID string

	// Limit - число записей (по умолчанию 20, максимум 100).
	Limit int
}

// Validate проверяет корректность параметров запроса.
func (q GetXPHistoryQuery) Validate() error {
	if strings.TrimSpace(q.UserID) == "" {
		return shared.ErrEmptyUserID
	}
	if q.Limit < 0 {
		return shared.NewDomainError("history", "Validate", shared.ErrNegativeValue, "limit must not be negative")
	}
	return nil
}

// HistoryEntryDTO - одна запись журнала.
type HistoryEntryDTO struct {
	Amount     int       `json:"amount"`
	Reason     string    `json:"reason"`
	OldXP      int       `json:"old_xp"`
	NewXP      int       `json:"new_xp"`
	EventKind  string    `json:"event_kind"`
	ResourceID string    `json:"resource_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// XPHistoryDTO - результат запроса журнала.
type XPHistoryDTO struct {
	UserID  string            `json:"user_id"`
	Entries []HistoryEntryDTO `json:"entries"`
	Limit   int               `json:"limit"`
}

// GetXPHistoryHandler обрабатывает запросы журнала.
type GetXPHistoryHandler struct {
	history progress.HistoryRepository
}

// NewGetXPHistoryHandler создаёт обработчик.
func NewGetXPHistoryHandler(history progress.HistoryRepository) *GetXPHistoryHandler {
	return &GetXPHistoryHandler{history: history}
}

// Handle возвращает журнал пользователя.
func (h *GetXPHistoryHandler) Handle(ctx context.Context, q GetXPHistoryQuery) (*XPHistoryDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_xp_history: validation failed: %w", err)
	}
	userID := strings.TrimSpace(q.UserID)
	limit := progress.NormalizeHistoryLimit(q.Limit)

	entries, err := h.history.ListHistory(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("get_xp_history: %w", err)
	}

	dto := &XPHistoryDTO{
		UserID:  userID,
		Entries: make([]HistoryEntryDTO, 0, len(entries)),
		Limit:   limit,
	}
	for _, e := range entries {
		dto.Entries = append(dto.Entries, HistoryEntryDTO{
			Amount:     e.Amount,
			Reason:     e.Reason,
			OldXP:      e.OldXP,
			NewXP:      e.NewXP,
			EventKind:  string(e.EventKind),
			ResourceID: e.ResourceID,
			OccurredAt: e.OccurredAt,
		})
	}
	return dto, nil
}
