package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("store down")

func TestExecute_PassesThroughErrors(t *testing.T) {
	b := New("pass", WithFailureThreshold(3))

	err := b.Execute(context.Background(), func(context.Context) error { return errDown })

	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, StateClosed, b.State())
}

func TestExecute_OpensAfterConsecutiveFailures(t *testing.T) {
	var transitions []State
	b := New("open",
		WithFailureThreshold(2),
		WithOnStateChange(func(_ string, _, to State) { transitions = append(transitions, to) }),
	)
	fail := func(context.Context) error { return errDown }

	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRejected(err))
	assert.False(t, called)
	assert.True(t, b.IsOpen())
	assert.Equal(t, []State{StateOpen}, transitions)
}

func TestExecute_IgnoresNonFailures(t *testing.T) {
	notFound := errors.New("not found")
	b := New("domain",
		WithFailureThreshold(1),
		WithIsFailure(func(err error) bool { return !errors.Is(err, notFound) }),
	)

	for i := 0; i < 5; i++ {
		err := b.Execute(context.Background(), func(context.Context) error { return notFound })
		assert.ErrorIs(t, err, notFound)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestExecute_RecoversAfterTimeout(t *testing.T) {
	b := New("recover", WithFailureThreshold(1), WithTimeout(50*time.Millisecond))

	_ = b.Execute(context.Background(), func(context.Context) error { return errDown })
	require.True(t, b.IsOpen())

	time.Sleep(80 * time.Millisecond)

	v, err := Call(context.Background(), b, func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, StateClosed, b.State())
}

func TestExecute_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New("ctx").Execute(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
