package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()

	r.AddXP("Daily login bonus", 5)
	r.AddXP("Daily login bonus", 5)
	r.AddXP("Manual award", 0)
	r.IncLevelUp()
	r.IncBadgeUnlocked("first_step")
	r.IncStoreConflict()
	r.IncStoreConflict()
	r.ObserveLearningEvent("daily_login", OutcomeApplied, 3*time.Millisecond)
	r.ObserveLearningEvent("daily_login", OutcomeNoop, time.Millisecond)
	r.ObserveEventHandler("progress.level_up", time.Millisecond, errors.New("x"))
	r.ObserveJob("prune_expired", time.Millisecond, nil)

	assert.Equal(t, 10.0, testutil.ToFloat64(r.xpAwarded.WithLabelValues("Daily login bonus")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.xpAwarded.WithLabelValues("Manual award")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.levelUps))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.badgesUnlocked.WithLabelValues("first_step")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.storeConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.learningEvents.WithLabelValues("daily_login", OutcomeNoop)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.handlerRuns.WithLabelValues("progress.level_up", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.jobRuns.WithLabelValues("prune_expired", "success")))
}

func TestRecorder_HandlerExposesMetrics(t *testing.T) {
	r := NewRecorder()
	r.ObserveHTTPRequest("GET", "/api/v1/badges", 200, 2*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `progression_http_requests_total{method="GET",route="/api/v1/badges",status="200"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRecorders_AreIndependent(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	a.IncLevelUp()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.levelUps))
}
