//go:build integration

package postgres

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/learnmatch/progression/internal/domain/progress"
	"github.com/learnmatch/progression/internal/domain/shared"
)

func skipIfNoDocker(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

// startPostgres runs a throwaway postgres container and returns a migrated store.
func startPostgres(t *testing.T) *ProgressStore {
	t.Helper()
	skipIfNoDocker(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "progression",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
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
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.URL = fmt.Sprintf("postgres://postgres:postgres@%s:%s/progression?sslmode=disable", host, port.Port())

	conn, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	require.NoError(t, NewMigrator(conn).Migrate(ctx))
	return NewProgressStore(conn)
}

func TestProgressStore_Integration(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	_, err := store.Get(ctx, "u-1")
	require.ErrorIs(t, err, shared.ErrRecordNotFound)

	rec, err := progress.NewRecord("u-1", now)
	require.NoError(t, err)
	rec.Experience = 8
	rec.CompletedResources["a-1"] = true
	rec.CompletedResourceCount = 1
	history := []progress.HistoryEntry{{
		UserID: "u-1", Amount: 8, Reason: progress.ReasonArticle, OldXP: 0, NewXP: 8,
		EventKind: progress.KindArticleComplete, ResourceID: "a-1", OccurredAt: now,
	}}

	t.Run("insert then conflicting insert", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, rec, history))
		assert.Equal(t, int64(1), rec.Version)

		dup, _ := progress.NewRecord("u-1", now)
		assert.ErrorIs(t, store.Save(ctx, dup, nil), shared.ErrVersionConflict)
	})

	t.Run("get returns the stored document", func(t *testing.T) {
		got, err := store.Get(ctx, "u-1")
		require.NoError(t, err)
		assert.Equal(t, 8, got.Experience)
		assert.True(t, got.HasCompleted("a-1"))
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("stale update conflicts", func(t *testing.T) {
		a, err := store.Get(ctx, "u-1")
		require.NoError(t, err)
		b := a.Clone()

		a.Experience = 13
		require.NoError(t, store.Save(ctx, a, nil))

		b.Experience = 18
		assert.ErrorIs(t, store.Save(ctx, b, nil), shared.ErrVersionConflict)
	})

	t.Run("history newest first", func(t *testing.T) {
		got, err := store.Get(ctx, "u-1")
		require.NoError(t, err)
		got.Experience = 18
		require.NoError(t, store.Save(ctx, got, []progress.HistoryEntry{{
			UserID: "u-1", Amount: 5, Reason: progress.ReasonDailyLogin, OldXP: 13, NewXP: 18,
			EventKind: progress.KindDailyLogin, OccurredAt: now.Add(time.Minute),
		}}))

		entries, err := store.ListHistory(ctx, "u-1", 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, progress.ReasonDailyLogin, entries[0].Reason)
		assert.Equal(t, progress.ReasonArticle, entries[1].Reason)
	})
}

func TestProgressStore_ConcurrentUpdatesSerialize(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	rec, err := progress.NewRecord("u-2", time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, rec, nil))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		conflicts int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := rec.Clone()
			c.Experience = 10
			if err := store.Save(ctx, c, nil); shared.IsConflict(err) {
				mu.Lock()
				conflicts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, conflicts)
}

func TestProgressStore_ExperienceBeyondInt32(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	rec, err := progress.NewRecord("u-big", now)
	require.NoError(t, err)
	rec.Experience = 3_000_000_000
	rec.Level = progress.DeriveLevel(rec.Experience)
	history := []progress.HistoryEntry{{
		UserID: "u-big", Amount: 3_000_000_000, Reason: progress.ReasonManual, OldXP: 0, NewXP: 3_000_000_000,
		EventKind: progress.KindXPAward, OccurredAt: now,
	}}

	require.NoError(t, store.Save(ctx, rec, history))

	got, err := store.Get(ctx, "u-big")
	require.NoError(t, err)
	assert.Equal(t, 3_000_000_000, got.Experience)

	entries, err := store.ListHistory(ctx, "u-big", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 3_000_000_000, entries[0].NewXP)
}
