package progress

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Контракт хранилища записей прогресса.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository хранит записи прогресса с оптимистичной блокировкой.
type Repository interface {
	// Get возвращает запись пользователя.
	// Возвращает ErrRecordNotFound, если записи нет.
	Get(ctx context.Context, userID string) (*Record, error)

	// Save атомарно сохраняет запись вместе с записями журнала.
	//
	// Version == 0: вставка новой записи; если запись уже существует -
	// ErrVersionConflict. Иначе обновление выполняется только при совпадении
	// версии в хранилище, иначе ErrVersionConflict.
	// При успехе rec.Version увеличивается на 1.
	Save(ctx context.Context, rec *Record, history []HistoryEntry) error
}

// HistoryRepository читает журнал начислений опыта.
type HistoryRepository interface {
	// ListHistory возвращает последние limit записей, новые первыми.
	ListHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error)
}

// Store объединяет записи и журнал.
type Store interface {
	Repository
	HistoryRepository
}

// Параметры выборки журнала.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// NormalizeHistoryLimit приводит limit к допустимому диапазону.
func NormalizeHistoryLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
