// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"time"

	"github.com/learnmatch/progression/internal/domain/shared"
	"github.com/learnmatch/progression/pkg/logger"
	"github.com/learnmatch/progression/pkg/retry"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS CHANGED HANDLER
// Сбрасывает кэш статистики пользователя после любого изменения прогресса.
// С шиной Redis событие приходит и на другие экземпляры сервиса, поэтому
// их локальные кэши тоже сбрасываются.
// ═══════════════════════════════════════════════════════════════════════════

// CacheInvalidator сбрасывает снимок статистики пользователя.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// ProgressEventTypes - события, после которых снимок статистики устаревает.
var ProgressEventTypes = []shared.EventType{
	shared.EventXPGained,
	shared.EventLevelUp,
	shared.EventBadgeUnlocked,
	shared.EventStreakUpdated,
	shared.EventResourceCompleted,
}

// OnProgressChangedHandler сбрасывает кэш статистики.
type OnProgressChangedHandler struct {
	cache   CacheInvalidator
	timeout time.Duration
	logger  *logger.Logger
}

// NewOnProgressChangedHandler создаёт обработчик.
func NewOnProgressChangedHandler(cache CacheInvalidator, log *logger.Logger) *OnProgressChangedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnProgressChangedHandler{
		cache:   cache,
		timeout: 2 * time.Second,
		logger:  log.Named("on-progress-changed"),
	}
}

// Register подписывает обработчик на все события прогресса.
func (h *OnProgressChangedHandler) Register(sub shared.EventSubscriber) error {
	for _, t := range ProgressEventTypes {
		if err := sub.Subscribe(t, h.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle реализует shared.EventHandler.
// Ошибка кэша помечается как повторяемая: шина повторит попытку.
func (h *OnProgressChangedHandler) Handle(event shared.Event) error {
	userID := event.AggregateID()
	if userID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.Invalidate(ctx, userID); err != nil {
		h.logger.Warn("failed to invalidate stats cache",
			logger.UserID(userID),
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
		return retry.Retryable(err)
	}
	return nil
}
