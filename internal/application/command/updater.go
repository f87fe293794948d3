// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/learnmatch/progression/internal/domain/progress"
	"github.com/learnmatch/progression/internal/domain/shared"
	"github.com/learnmatch/progression/pkg/logger"
	"github.com/learnmatch/progression/pkg/retry"
	"github.com/learnmatch/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS UPDATER
// Every write goes through one path: load or create the record, apply the
// event on a copy, persist with a version check, retry on conflict.
// ══════════════════════════════════════════════════════════════════════════════

// Feature names consulted by the updater.
const (
	FeaturePathwayXP       = "progress.pathway_xp"
	FeatureEventPublishing = "progress.event_publishing"
	FeatureIdempotency     = "progress.idempotency"
)

// Outcome labels reported to Metrics.
const (
	outcomeApplied   = "applied"
	outcomeNoop      = "noop"
	outcomeDuplicate = "duplicate"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
)

// IdempotencyStore claims client event ids.
type IdempotencyStore interface {
	Claim(ctx context.Context, userID, eventID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, userID, eventID string) error
}

// StatsInvalidator drops cached snapshots after a write.
type StatsInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// FeatureGate answers per-user feature checks.
type FeatureGate interface {
	Enabled(feature, userID string) bool
}

// Metrics receives counters for applied events.
type Metrics interface {
	AddXP(reason string, amount int)
	IncLevelUp()
	IncBadgeUnlocked(badge string)
	ObserveLearningEvent(kind, outcome string, duration time.Duration)
	IncStoreConflict()
}

// UpdateResult describes one processed event.
type UpdateResult struct {
	UserID string

	// Duplicate is true when the event id was already processed.
	// Outcome is empty in that case and Record holds the current state.
	Duplicate bool

	Outcome progress.Outcome

	// Record is the state after the update (or the unchanged state on a no-op).
	Record *progress.Record

	// Attempts is the number of load-apply-save rounds.
	Attempts int
}

// UpdaterConfig contains tunables for the updater.
type UpdaterConfig struct {
	// MaxAttempts bounds load-apply-save rounds on version conflicts.
	MaxAttempts int

	// IdempotencyTTL is how long a claimed event id blocks replays.
	IdempotencyTTL time.Duration
}

// DefaultUpdaterConfig returns default configuration.
func DefaultUpdaterConfig() UpdaterConfig {
	return UpdaterConfig{
		MaxAttempts:    5,
		IdempotencyTTL: 48 * time.Hour,
	}
}

// Updater applies learning events to stored progress records.
type Updater struct {
	repo        progress.Repository
	engine      *progress.Engine
	calendar    *timeutil.Calendar
	publisher   shared.EventPublisher
	idempotency IdempotencyStore
	cache       StatsInvalidator
	metrics     Metrics
	features    FeatureGate
	logger      *logger.Logger
	config      UpdaterConfig
}

// UpdaterOption configures an Updater.
type UpdaterOption func(*Updater)

// WithPublisher publishes domain events after each successful write.
func WithPublisher(p shared.EventPublisher) UpdaterOption {
	return func(u *Updater) { u.publisher = p }
}

// WithIdempotency enables event id deduplication.
func WithIdempotency(s IdempotencyStore) UpdaterOption {
	return func(u *Updater) { u.idempotency = s }
}

// WithStatsInvalidator drops cached snapshots after each write.
func WithStatsInvalidator(c StatsInvalidator) UpdaterOption {
	return func(u *Updater) { u.cache = c }
}

// WithMetrics records counters.
func WithMetrics(m Metrics) UpdaterOption {
	return func(u *Updater) { u.metrics = m }
}

// WithFeatures gates optional behaviour per user.
func WithFeatures(f FeatureGate) UpdaterOption {
	return func(u *Updater) { u.features = f }
}

// WithConfig overrides the default configuration.
func WithConfig(cfg UpdaterConfig) UpdaterOption {
	return func(u *Updater) {
		if cfg.MaxAttempts > 0 {
			u.config.MaxAttempts = cfg.MaxAttempts
		}
		if cfg.IdempotencyTTL > 0 {
			u.config.IdempotencyTTL = cfg.IdempotencyTTL
		}
	}
}

// NewUpdater creates an Updater.
func NewUpdater(repo progress.Repository, calendar *timeutil.Calendar, log *logger.Logger, opts ...UpdaterOption) *Updater {
	if log == nil {
		log = logger.Nop()
	}
	u := &Updater{
		repo:     repo,
		engine:   progress.NewEngine(),
		calendar: calendar,
		metrics:  nopMetrics{},
		features: allEnabled{},
		logger:   log.Named("progress-updater"),
		config:   DefaultUpdaterConfig(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Update applies ev to the record of userID. eventID may be empty; when set
// and deduplication is on, a repeated id returns Duplicate without changes.
func (u *Updater) Update(ctx context.Context, userID, eventID string, ev progress.LearningEvent) (*UpdateResult, error) {
	start := time.Now()
	userID = strings.TrimSpace(userID)
	eventID = strings.TrimSpace(eventID)
	kind := kindOf(ev)

	log := u.logger.With(logger.UserID(userID), logger.EventKind(kind))

	if err := validate(userID, ev); err != nil {
		u.metrics.ObserveLearningEvent(kind, outcomeRejected, time.Since(start))
		return nil, fmt.Errorf("update progress: %w", err)
	}

	if _, ok := ev.(progress.PathwayOpened); ok && !u.features.Enabled(FeaturePathwayXP, userID) {
		u.metrics.ObserveLearningEvent(kind, outcomeNoop, time.Since(start))
		return u.unchanged(ctx, userID, progress.Outcome{Kind: ev.Kind()}, false)
	}

	claimed, duplicate := u.claim(ctx, log, userID, eventID)
	if duplicate {
		u.metrics.ObserveLearningEvent(kind, outcomeDuplicate, time.Since(start))
		log.Info("duplicate event ignored", logger.String("event_id", eventID))
		return u.unchanged(ctx, userID, progress.Outcome{Kind: ev.Kind()}, true)
	}

	result, err := u.apply(ctx, log, userID, ev)
	if err != nil {
		if claimed {
			u.release(log, userID, eventID)
		}
		outcome := outcomeFailed
		if shared.IsValidation(err) {
			outcome = outcomeRejected
		}
		u.metrics.ObserveLearningEvent(kind, outcome, time.Since(start))
		log.Warn("progress update failed", logger.Err(err), logger.Latency(time.Since(start)))
		return nil, fmt.Errorf("update progress: %w", err)
	}

	if !result.Outcome.Changed {
		u.metrics.ObserveLearningEvent(kind, outcomeNoop, time.Since(start))
		return result, nil
	}

	u.afterCommit(ctx, log, result)
	u.metrics.ObserveLearningEvent(kind, outcomeApplied, time.Since(start))

	log.Info("progress updated",
		logger.XPAmount(result.Outcome.XPGained),
		logger.LevelNumber(result.Outcome.NewLevel),
		logger.Int("badges_unlocked", len(result.Outcome.UnlockedBadges)),
		logger.Attempt(result.Attempts),
		logger.Latency(time.Since(start)),
	)

	return result, nil
}

// apply runs the load-apply-save loop.
func (u *Updater) apply(ctx context.Context, log *logger.Logger, userID string, ev progress.LearningEvent) (*UpdateResult, error) {
	result := &UpdateResult{UserID: userID}

	retrier := retry.ProgressUpdateRetrier(u.config.MaxAttempts, shared.IsConflict,
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Debug("version conflict, reloading record",
				logger.Attempt(attempt),
				logger.Duration("delay", delay),
			)
		}),
	)

	err := retrier.Do(ctx, func(ctx context.Context) error {
		result.Attempts++

		rec, err := u.load(ctx, userID)
		if err != nil {
			return err
		}

		work := rec.Clone()
		outcome, err := u.engine.Apply(work, ev, u.calendar.Today(), u.calendar.Now())
		if err != nil {
			return err
		}

		if !outcome.Changed {
			result.Outcome = outcome
			result.Record = rec
			return nil
		}

		if err := u.repo.Save(ctx, work, outcome.History); err != nil {
			if shared.IsConflict(err) {
				u.metrics.IncStoreConflict()
			}
			return err
		}

		result.Outcome = outcome
		result.Record = work
		return nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return nil, fmt.Errorf("gave up after %d attempts: %w", result.Attempts, err)
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

// unchanged reports the current state of a user for an event that was not applied.
func (u *Updater) unchanged(ctx context.Context, userID string, out progress.Outcome, duplicate bool) (*UpdateResult, error) {
	rec, err := u.load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("update progress: %w", err)
	}
	out.OldLevel = rec.Level
	out.NewLevel = rec.Level
	return &UpdateResult{UserID: userID, Duplicate: duplicate, Outcome: out, Record: rec}, nil
}

// load returns the stored record or a fresh one when the user has none yet.
func (u *Updater) load(ctx context.Context, userID string) (*progress.Record, error) {
	rec, err := u.repo.Get(ctx, userID)
	if err == nil {
		return rec, nil
	}
	if shared.IsNotFound(err) {
		return progress.NewRecord(userID, u.calendar.Now())
	}
	return nil, err
}

// afterCommit runs the best-effort side effects of a successful write.
func (u *Updater) afterCommit(ctx context.Context, log *logger.Logger, result *UpdateResult) {
	if u.cache != nil {
		if err := u.cache.Invalidate(ctx, result.UserID); err != nil {
			log.Warn("failed to invalidate stats cache", logger.Err(err))
		}
	}

	out := result.Outcome
	for _, a := range out.Awards {
		u.metrics.AddXP(a.Reason, a.Amount)
	}
	if out.LeveledUp {
		u.metrics.IncLevelUp()
	}
	for _, id := range out.UnlockedBadges {
		u.metrics.IncBadgeUnlocked(string(id))
	}

	if u.publisher == nil || !u.features.Enabled(FeatureEventPublishing, result.UserID) {
		return
	}
	for _, event := range out.Events {
		if err := u.publisher.Publish(event); err != nil {
			log.Warn("failed to publish event",
				logger.String("event_type", string(event.EventType())),
				logger.Err(err),
			)
		}
	}
}

// claim reserves eventID. A failing store disables deduplication for this
// call rather than blocking the update.
func (u *Updater) claim(ctx context.Context, log *logger.Logger, userID, eventID string) (claimed, duplicate bool) {
	if eventID == "" || u.idempotency == nil || !u.features.Enabled(FeatureIdempotency, userID) {
		return false, false
	}

	ok, err := u.idempotency.Claim(ctx, userID, eventID, u.config.IdempotencyTTL)
	if err != nil {
		log.Warn("idempotency claim failed, processing without deduplication",
			logger.String("event_id", eventID),
			logger.Err(err),
		)
		return false, false
	}
	return ok, !ok
}

func (u *Updater) release(log *logger.Logger, userID, eventID string) {
	// The request context may already be done.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := u.idempotency.Release(ctx, userID, eventID); err != nil {
		log.Warn("failed to release idempotency claim",
			logger.String("event_id", eventID),
			logger.Err(err),
		)
	}
}

func validate(userID string, ev progress.LearningEvent) error {
	if userID == "" {
		return shared.ErrEmptyUserID
	}
	if ev == nil {
		return shared.ErrUnknownEvent
	}
	return ev.Validate()
}

func kindOf(ev progress.LearningEvent) string {
	if ev == nil {
		return "unknown"
	}
	return string(ev.Kind())
}

type nopMetrics struct{}

func (nopMetrics) AddXP(string, int)                                  {}
func (nopMetrics) IncLevelUp()                                        {}
func (nopMetrics) IncBadgeUnlocked(string)                            {}
func (nopMetrics) ObserveLearningEvent(string, string, time.Duration) {}
func (nopMetrics) IncStoreConflict()                                  {}

type allEnabled struct{}

func (allEnabled) Enabled(string, string) bool { return true }
