// Package resilient wraps a progress store with a circuit breaker so that an
// unreachable database fails fast instead of piling up slow requests.
package resilient

import (
	"context"
	"errors"
	"fmt"

	"github.com/learnmatch/progression/internal/domain/progress"
	"github.com/learnmatch/progression/internal/domain/shared"
	"github.com/learnmatch/progression/pkg/circuitbreaker"
	"github.com/learnmatch/progression/pkg/logger"
)

// Store decorates a progress.Store with a circuit breaker.
type Store struct {
	next    progress.Store
	breaker *circuitbreaker.CircuitBreaker
}

var _ progress.Store = (*Store)(nil)

// NewStore wraps next with the store breaker preset.
func NewStore(next progress.Store, log *logger.Logger, opts ...circuitbreaker.Option) *Store {
	onChange := func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.Component(name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	}
	return &Store{
		next:    next,
		breaker: circuitbreaker.StoreBreaker(IsFailure, onChange, opts...),
	}
}

// NewStoreWithBreaker wraps next with a caller-provided breaker.
func NewStoreWithBreaker(next progress.Store, breaker *circuitbreaker.CircuitBreaker) *Store {
	return &Store{next: next, breaker: breaker}
}

// IsFailure reports whether err says something about the health of the
// backend. Domain outcomes such as a missing record or a version conflict
// are answers, not failures.
func IsFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case shared.IsNotFound(err), shared.IsConflict(err), shared.IsValidation(err), shared.IsAlreadyExists(err):
		return false
	default:
		return true
	}
}

// Get implements progress.Repository.
func (s *Store) Get(ctx context.Context, userID string) (*progress.Record, error) {
	rec, err := circuitbreaker.Call(ctx, s.breaker, func(ctx context.Context) (*progress.Record, error) {
		return s.next.Get(ctx, userID)
	})
	return rec, s.translate(err)
}

// Save implements progress.Repository.
func (s *Store) Save(ctx context.Context, rec *progress.Record, history []progress.HistoryEntry) error {
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.next.Save(ctx, rec, history)
	})
	return s.translate(err)
}

// ListHistory implements progress.HistoryRepository.
func (s *Store) ListHistory(ctx context.Context, userID string, limit int) ([]progress.HistoryEntry, error) {
	entries, err := circuitbreaker.Call(ctx, s.breaker, func(ctx context.Context) ([]progress.HistoryEntry, error) {
		return s.next.ListHistory(ctx, userID, limit)
	})
	return entries, s.translate(err)
}

// State returns the breaker state for health reporting.
func (s *Store) State() circuitbreaker.State {
	return s.breaker.State()
}

// IsOpen reports whether calls are currently rejected.
func (s *Store) IsOpen() bool {
	return s.breaker.IsOpen()
}

func (s *Store) translate(err error) error {
	if circuitbreaker.IsRejected(err) {
		return fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
	}
	return err
}
