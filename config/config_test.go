package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, 5, cfg.Progress.MaxUpdateAttempts)
	assert.Equal(t, 48*time.Hour, cfg.Progress.IdempotencyTTL)
	assert.Equal(t, 10*time.Minute, cfg.Progress.PruneInterval)
	assert.Equal(t, 10000, cfg.Progress.AchievementFeedUsers)
	assert.Equal(t, 10*time.Minute, cfg.Redis.StatsTTL)
	assert.False(t, cfg.Redis.Enabled)
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, uint32(5), cfg.Resilience.BreakerThreshold)
	require.NotNil(t, cfg.Features)
	assert.True(t, cfg.Features.Enabled(FeaturePathwayXP, "u-1"))
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("APP_TIMEZONE", "Asia/Almaty")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("PROGRESS_IDEMPOTENCY_TTL", "1h")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("FEATURE_PROGRESS_PATHWAY_XP", "false")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "Asia/Almaty", cfg.App.Location.String())
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache", cfg.Redis.Host)
	assert.Equal(t, time.Hour, cfg.Progress.IdempotencyTTL)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.False(t, cfg.Features.Enabled(FeaturePathwayXP, "u-1"))
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
app:
  env: staging
  timezone: Europe/Berlin
http:
  port: 7070
  allowed_origins: ["https://learnmatch.example"]
progress:
  max_update_attempts: 8
features:
  progress_stats_cache: 30
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, EnvStaging, cfg.App.Environment)
	assert.Equal(t, 7070, cfg.HTTP.Port)
	assert.Equal(t, []string{"https://learnmatch.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 8, cfg.Progress.MaxUpdateAttempts)
	assert.Equal(t, 30, cfg.Features.GetAllFeatures()[FeatureStatsCache].RolloutPercent)
}

func TestLoad_ProductionRequiresDatabase(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required in production")
	assert.Contains(t, err.Error(), "HTTP_ADMIN_API_KEYS")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := &Config{
		App:           AppConfig{Environment: "qa", Timezone: "Mars/Olympus"},
		HTTP:          HTTPConfig{Port: 0},
		Observability: ObservabilityConfig{LogLevel: "loud"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"APP_ENV", "APP_TIMEZONE", "HTTP_PORT", "PROGRESS_MAX_UPDATE_ATTEMPTS",
		"PROGRESS_IDEMPOTENCY_TTL", "BREAKER_THRESHOLD", "LOG_LEVEL",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestFeatureFlags_Defaults(t *testing.T) {
	ff := LoadFeatureFlags(nil)

	for _, name := range []string{FeaturePathwayXP, FeatureStatsCache, FeatureEventPublishing, FeatureIdempotency} {
		assert.True(t, ff.Enabled(name, "u-1"), name)
	}
	assert.False(t, ff.Enabled("progress.unknown", "u-1"))
}

func TestFeatureFlags_Overrides(t *testing.T) {
	ff := LoadFeatureFlags(map[string]string{
		"progress_pathway_xp":  "off",
		"progress_stats_cache": "false",
		"unknown":              "true",
	})

	assert.True(t, ff.Enabled(FeaturePathwayXP, "u-1"), "unparsable values are ignored")
	assert.False(t, ff.Enabled(FeatureStatsCache, "u-1"))
	assert.NotContains(t, ff.GetAllFeatures(), "unknown")

	ff.SetUserOverride("u-1", FeatureStatsCache, true)
	assert.True(t, ff.Enabled(FeatureStatsCache, "u-1"))
	assert.False(t, ff.Enabled(FeatureStatsCache, "u-2"))

	ff.ClearUserOverrides("u-1")
	assert.False(t, ff.Enabled(FeatureStatsCache, "u-1"))
}

func TestFeatureFlags_Rollout(t *testing.T) {
	ff := LoadFeatureFlags(nil)
	require.NoError(t, ff.SetRolloutPercent(FeatureIdempotency, 50))

	enabled := 0
	for i := 0; i < 1000; i++ {
		user := fmt.Sprintf("user-%d", i)
		on := ff.Enabled(FeatureIdempotency, user)
		assert.Equal(t, on, ff.Enabled(FeatureIdempotency, user), "bucketing is stable")
		if on {
			enabled++
		}
	}
	assert.InDelta(t, 500, enabled, 100)

	require.NoError(t, ff.DisableFeature(FeatureIdempotency))
	assert.False(t, ff.Enabled(FeatureIdempotency, "user-1"))
	require.NoError(t, ff.EnableFeature(FeatureIdempotency))
	assert.True(t, ff.Enabled(FeatureIdempotency, "user-1"))

	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureIdempotency, 101), ErrInvalidRolloutPercent)
	assert.ErrorIs(t, ff.SetRolloutPercent("nope", 10), ErrFeatureNotFound)
}
