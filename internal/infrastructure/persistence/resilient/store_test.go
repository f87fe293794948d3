package resilient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnmatch/progression/internal/domain/progress"
	"github.com/learnmatch/progression/internal/domain/shared"
	"github.com/learnmatch/progression/internal/infrastructure/persistence/memory"
	"github.com/learnmatch/progression/pkg/circuitbreaker"
)

func newBreaker() *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New("test-store",
		circuitbreaker.WithFailureThreshold(2),
		circuitbreaker.WithTimeout(time.Hour),
		circuitbreaker.WithIsFailure(IsFailure),
	)
}

func TestIsFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not found", shared.ErrRecordNotFound, false},
		{"conflict", shared.ErrVersionConflict, false},
		{"validation", shared.ErrNegativeXP, false},
		{"canceled", context.Canceled, false},
		{"unavailable", shared.ErrStoreUnavailable, true},
		{"timeout", shared.ErrStoreTimeout, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFailure(tt.err))
		})
	}
}

func TestStore_OpensAfterBackendFailures(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStore()
	store := NewStoreWithBreaker(backend, newBreaker())

	backend.FailWith = shared.ErrStoreUnavailable
	for i := 0; i < 2; i++ {
		_, err := store.Get(ctx, "u-1")
		require.ErrorIs(t, err, shared.ErrStoreUnavailable)
	}
	assert.Equal(t, circuitbreaker.StateOpen, store.State())

	backend.FailWith = nil
	_, err := store.Get(ctx, "u-1")
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable, "open breaker rejects without calling the backend")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

func TestStore_DomainOutcomesKeepBreakerClosed(t *testing.T) {
	ctx := context.Background()
	store := NewStoreWithBreaker(memory.NewStore(), newBreaker())

	for i := 0; i < 5; i++ {
		_, err := store.Get(ctx, "missing")
		require.ErrorIs(t, err, shared.ErrRecordNotFound)
	}

	rec, _ := progress.NewRecord("u-1", time.Now())
	require.NoError(t, store.Save(ctx, rec, nil))
	for i := 0; i < 3; i++ {
		stale, _ := progress.NewRecord("u-1", time.Now())
		require.ErrorIs(t, store.Save(ctx, stale, nil), shared.ErrVersionConflict)
	}

	assert.Equal(t, circuitbreaker.StateClosed, store.State())

	entries, err := store.ListHistory(ctx, "u-1", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
