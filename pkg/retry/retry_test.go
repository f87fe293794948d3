package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("conflict")

func fastRetrier(attempts int) *Retrier {
	return New(
		WithMaxAttempts(attempts),
		WithInitialDelay(0),
		WithJitter(0),
		WithRetryIf(func(err error) bool { return errors.Is(err, errConflict) }),
	)
}

func TestDo_SucceedsAfterConflicts(t *testing.T) {
	calls := 0
	err := fastRetrier(5).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errConflict
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	var hooks []int
	r := New(
		WithMaxAttempts(3),
		WithInitialDelay(0),
		WithJitter(0),
		WithRetryIf(func(err error) bool { return errors.Is(err, errConflict) }),
		WithOnRetry(func(attempt int, _ error, _ time.Duration) { hooks = append(hooks, attempt) }),
	)

	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errConflict
	})

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errConflict)
	assert.Equal(t, []int{1, 2}, hooks)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := fastRetrier(5).Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, boom, err)
}

func TestDo_PermanentIsUnwrapped(t *testing.T) {
	calls := 0
	err := New(WithMaxAttempts(4), WithInitialDelay(0)).Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errConflict)
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, errConflict, err)
}

func TestDo_DefaultRetriesMarkedErrors(t *testing.T) {
	calls := 0
	err := New(WithMaxAttempts(2), WithInitialDelay(0)).Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(errConflict)
	})

	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := fastRetrier(3).Do(ctx, func(context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestBackoff_CappedAndGrowing(t *testing.T) {
	r := New(
		WithInitialDelay(10*time.Millisecond),
		WithMaxDelay(35*time.Millisecond),
		WithMultiplier(2),
		WithJitter(0),
	)

	assert.Equal(t, 10*time.Millisecond, r.Backoff(1))
	assert.Equal(t, 20*time.Millisecond, r.Backoff(2))
	assert.Equal(t, 35*time.Millisecond, r.Backoff(3))
}

func TestDoWithData(t *testing.T) {
	v, err := DoWithData(context.Background(), func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDoWithData_RetriesWithDatabasePreset(t *testing.T) {
	calls := 0
	var retried []int
	v, err := DoWithData(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", Retryable(errors.New("connection refused"))
		}
		return "pool", nil
	}, DatabaseOptions(
		WithInitialDelay(time.Millisecond),
		WithOnRetry(func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }),
	)...)

	require.NoError(t, err)
	assert.Equal(t, "pool", v)
	assert.Equal(t, []int{1, 2}, retried)
	assert.Equal(t, 5, New(DatabaseOptions()...).Config().MaxAttempts)
}

func TestProgressUpdateRetrier(t *testing.T) {
	r := ProgressUpdateRetrier(4, func(error) bool { return true })
	assert.Equal(t, 4, r.Config().MaxAttempts)
	assert.LessOrEqual(t, r.Backoff(10), time.Duration(float64(200*time.Millisecond)*1.3))
}
