//go:build integration

package redis

import (
	"context"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *Cache {
	t.Helper()

	dockerCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(dockerCtx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port, err = strconv.Atoi(port.Port())
	require.NoError(t, err)

	cache, err := NewCache(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestRedis_Integration(t *testing.T) {
	cache := startRedis(t)
	ctx := context.Background()

	t.Run("stats cache", func(t *testing.T) {
		stats := NewStatsCache(cache, time.Minute)

		var got map[string]int
		hit, err := stats.Get(ctx, "u-1", &got)
		require.NoError(t, err)
		assert.False(t, hit)

		require.NoError(t, stats.Set(ctx, "u-1", map[string]int{"experience": 42}))
		hit, err = stats.Get(ctx, "u-1", &got)
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, 42, got["experience"])

		require.NoError(t, stats.Invalidate(ctx, "u-1"))
		hit, err = stats.Get(ctx, "u-1", &got)
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("idempotency claims", func(t *testing.T) {
		idem := NewIdempotencyStore(cache)

		ok, err := idem.Claim(ctx, "u-1", "evt-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = idem.Claim(ctx, "u-1", "evt-1", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, idem.Release(ctx, "u-1", "evt-1"))
		ok, err = idem.Claim(ctx, "u-1", "evt-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("pubsub delivers", func(t *testing.T) {
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		ps := NewPubSub(cache)
		messages, err := ps.Subscribe(subCtx, "test-channel")
		require.NoError(t, err)

		require.NoError(t, ps.Publish(ctx, "test-channel", "hello"))

		select {
		case msg := <-messages:
			assert.Equal(t, "hello", msg.Payload)
		case <-time.After(5 * time.Second):
			t.Fatal("message not delivered")
		}
	})
}
