// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/learnmatch/progression/internal/domain/progress"
	"github.com/learnmatch/progression/internal/domain/shared"
	"github.com/learnmatch/progression/pkg/logger"
	"github.com/learnmatch/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STATS QUERY
// Текущая статистика пользователя: опыт, уровень, серия, значки.
// Запись создаётся лениво при первом обращении.
// ══════════════════════════════════════════════════════════════════════════════

// FeatureStatsCache - флаг кэширования снимков статистики.
const FeatureStatsCache = "progress.stats_cache"

// StatsCache хранит снимки статистики между запросами.
type StatsCache interface {
	// Get заполняет dest и возвращает true, если снимок найден.
	Get(ctx context.Context, userID string, dest interface{}) (bool, error)
	Set(ctx context.Context, userID string, value interface{}) error
}

// FeatureGate отвечает на проверку флага для пользователя.
type FeatureGate interface {
	Enabled(feature, userID string) bool
}

// GetStatsQuery содержит параметры запроса статистики.
type GetStatsQuery struct {
	UserID string
}

// Validate проверяет корректность параметров запроса.
func (q GetStatsQuery) Validate() error {
	if strings.TrimSpace(q.UserID) == "" {
		return shared.ErrEmptyUserID
	}
	return nil
}

// StreakDTO - серия дней активности.
type StreakDTO struct {
	Current        int    `json:"current"`
	Longest        int    `json:"longest"`
	LastActiveDate string `json:"last_active_date,omitempty"`
}

// StatsDTO - снимок прогресса пользователя.
type StatsDTO struct {
	UserID string `json:"user_id"`

	// ─────────────────────────────────────────────────────────────────────────
	// Опыт и уровень
	// ─────────────────────────────────────────────────────────────────────────

	Experience int `json:"experience"`
	Level      int `json:"level"`

	// XPToNextLevel - сколько опыта осталось до следующего уровня.
	XPToNextLevel int `json:"xp_to_next_level"`

	// LevelProgress - пройденная доля текущего уровня, 0..100.
	LevelProgress int `json:"level_progress"`

	// ─────────────────────────────────────────────────────────────────────────
	// Активность
	// ─────────────────────────────────────────────────────────────────────────

	Streak StreakDTO `json:"streak"`

	CompletedResources int `json:"completed_resources"`
	CompletedPaths     int `json:"completed_paths"`
	FullVideos         int `json:"full_videos"`

	LastLoginDate string `json:"last_login_date,omitempty"`

	// DailyLoginAvailable - награда за вход сегодня ещё не получена.
	DailyLoginAvailable bool `json:"daily_login_available"`

	// NextDayAt - начало следующего календарного дня. Снимок действителен до него.
	NextDayAt time.Time `json:"next_day_at"`

	// ─────────────────────────────────────────────────────────────────────────
	// Значки
	// ─────────────────────────────────────────────────────────────────────────

	Badges     []string `json:"badges"`
	BadgeCount int      `json:"badge_count"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewStatsDTO строит снимок из записи.
func NewStatsDTO(rec *progress.Record) StatsDTO {
	badges := make([]string, 0, rec.BadgeCount())
	for _, id := range rec.EarnedBadges() {
		badges = append(badges, string(id))
	}

	return StatsDTO{
		UserID:        rec.UserID,
		Experience:    rec.Experience,
		Level:         rec.Level,
		XPToNextLevel: rec.XPToNextLevel(),
		LevelProgress: rec.LevelProgress(),
		Streak: StreakDTO{
			Current:        rec.Streak.Current,
			Longest:        rec.Streak.Longest,
			LastActiveDate: rec.Streak.LastActiveDate.String(),
		},
		CompletedResources: rec.CompletedResourceCount,
		CompletedPaths:     rec.CompletedPathCount,
		FullVideos:         rec.FullVideoCount(),
		LastLoginDate:      rec.LastLoginDate.String(),
		Badges:             badges,
		BadgeCount:         len(badges),
		UpdatedAt:          rec.UpdatedAt,
	}
}

// GetStatsHandler обрабатывает запросы статистики.
type GetStatsHandler struct {
	repo     progress.Repository
	calendar *timeutil.Calendar
	cache    StatsCache
	features FeatureGate
	logger   *logger.Logger
}

// NewGetStatsHandler создаёт обработчик. cache и features могут быть nil.
func NewGetStatsHandler(
	repo progress.Repository,
	calendar *timeutil.Calendar,
	cache StatsCache,
	features FeatureGate,
	log *logger.Logger,
) *GetStatsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetStatsHandler{
		repo:     repo,
		calendar: calendar,
		cache:    cache,
		features: features,
		logger:   log.Named("get-stats"),
	}
}

// Handle возвращает статистику пользователя.
func (h *GetStatsHandler) Handle(ctx context.Context, q GetStatsQuery) (*StatsDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_stats: validation failed: %w", err)
	}
	userID := strings.TrimSpace(q.UserID)
	useCache := h.cacheEnabled(userID)

	if useCache {
		var cached StatsDTO
		found, err := h.cache.Get(ctx, userID, &cached)
		if err != nil {
			h.logger.Warn("stats cache read failed", logger.UserID(userID), logger.Err(err))
		}
		if found && h.calendar.Now().Before(cached.NextDayAt) {
			return &cached, nil
		}
	}

	rec, err := loadOrCreate(ctx, h.repo, userID, h.calendar.Now())
	if err != nil {
		return nil, fmt.Errorf("get_stats: %w", err)
	}

	dto := NewStatsDTO(rec)
	h.stampDay(&dto, rec)

	if useCache {
		if err := h.cache.Set(ctx, userID, dto); err != nil {
			h.logger.Warn("stats cache write failed", logger.UserID(userID), logger.Err(err))
		}
	}

	return &dto, nil
}

// stampDay заполняет поля, зависящие от текущего календарного дня.
func (h *GetStatsHandler) stampDay(dto *StatsDTO, rec *progress.Record) {
	now := h.calendar.Now()
	dto.DailyLoginAvailable = rec.LastLoginDate != h.calendar.Today()
	dto.NextDayAt = now.Add(h.calendar.UntilEndOfDay())
}

func (h *GetStatsHandler) cacheEnabled(userID string) bool {
	if h.cache == nil {
		return false
	}
	return h.features == nil || h.features.Enabled(FeatureStatsCache, userID)
}

// loadOrCreate возвращает запись пользователя, создавая пустую при отсутствии.
// Если запись параллельно создал другой запрос, перечитывает её.
func loadOrCreate(ctx context.Context, repo progress.Repository, userID string, now time.Time) (*progress.Record, error) {
	rec, err := repo.Get(ctx, userID)
	if err == nil {
		return rec, nil
	}
	if !shared.IsNotFound(err) {
		return nil, err
	}

	rec, err = progress.NewRecord(userID, now)
	if err != nil {
		return nil, err
	}
	err = repo.Save(ctx, rec, nil)
	if shared.IsConflict(err) {
		return repo.Get(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// loadOrEmpty возвращает запись пользователя или пустую несохранённую запись.
func loadOrEmpty(ctx context.Context, repo progress.Repository, userID string, now time.Time) (*progress.Record, error) {
	rec, err := repo.Get(ctx, userID)
	if shared.IsNotFound(err) {
		return progress.NewRecord(userID, now)
	}
	return rec, err
}
