// Package metrics exposes Prometheus metrics for the progression service.
//
// Metrics Categories:
//   - Progress: XP awarded, level ups, badge unlocks, learning events
//   - Store: optimistic-lock conflicts
//   - Event bus: handler executions
//   - HTTP: request counts and latency
//   - Scheduler: maintenance job runs
//
// All collectors live on the Recorder's own registry so tests and multiple
// instances in one process never collide.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "progression"

// Outcome labels for learning events.
const (
	OutcomeApplied   = "applied"
	OutcomeNoop      = "noop"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Recorder owns the service collectors.
type Recorder struct {
	registry *prometheus.Registry

	xpAwarded      *prometheus.CounterVec
	levelUps       prometheus.Counter
	badgesUnlocked *prometheus.CounterVec
	learningEvents *prometheus.CounterVec
	eventDuration  *prometheus.HistogramVec
	storeConflicts prometheus.Counter
	handlerRuns    *prometheus.CounterVec
	jobRuns        *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewRecorder creates a Recorder with a fresh registry that also carries the
// Go runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		xpAwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "xp_awarded_total",
			Help:      "Total experience points awarded, by reason",
		}, []string{"reason"}),

		levelUps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_ups_total",
			Help:      "Total number of level ups",
		}),

		badgesUnlocked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "badges_unlocked_total",
			Help:      "Total badges unlocked, by badge",
		}, []string{"badge"}),

		learningEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "learning_events_total",
			Help:      "Learning events processed, by kind and outcome",
		}, []string{"kind", "outcome"}),

		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "learning_event_duration_seconds",
			Help:      "Time to apply a learning event including persistence",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"kind"}),

		storeConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_conflicts_total",
			Help:      "Optimistic-lock conflicts on progress records",
		}),

		handlerRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_executions_total",
			Help:      "Event bus handler executions, by event type and status",
		}, []string{"event_type", "status"}),

		jobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduled job executions, by job and status",
		}, []string{"job", "status"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method, route and status code",
		}, []string{"method", "route", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// AddXP records an award.
func (r *Recorder) AddXP(reason string, amount int) {
	if amount <= 0 {
		return
	}
	r.xpAwarded.WithLabelValues(reason).Add(float64(amount))
}

// IncLevelUp records a level up.
func (r *Recorder) IncLevelUp() {
	r.levelUps.Inc()
}

// IncBadgeUnlocked records a badge unlock.
func (r *Recorder) IncBadgeUnlocked(badge string) {
	r.badgesUnlocked.WithLabelValues(badge).Inc()
}

// ObserveLearningEvent records one processed event.
func (r *Recorder) ObserveLearningEvent(kind, outcome string, duration time.Duration) {
	r.learningEvents.WithLabelValues(kind, outcome).Inc()
	r.eventDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncStoreConflict records a version conflict.
func (r *Recorder) IncStoreConflict() {
	r.storeConflicts.Inc()
}

// ObserveEventHandler implements messaging.HandlerObserver.
func (r *Recorder) ObserveEventHandler(eventType string, _ time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.handlerRuns.WithLabelValues(eventType, status).Inc()
}

// ObserveJob records one scheduled job run.
func (r *Recorder) ObserveJob(job string, _ time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.jobRuns.WithLabelValues(job, status).Inc()
}

// ObserveHTTPRequest records a served request.
func (r *Recorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
