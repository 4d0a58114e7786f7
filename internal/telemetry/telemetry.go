// Package telemetry provides Prometheus metrics, a bounded in-memory point
// buffer backing the JSON metrics endpoint, and lightweight span timing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "pulse"
	subsystem = "scheduler"
)

// Telemetry owns the metric vectors and the point buffer. A nil *Telemetry is
// valid and drops everything, so wiring stays unconditional.
type Telemetry struct {
	registry *prometheus.Registry
	points   *pointBuffer
	tracing  bool

	scheduleRequests      *prometheus.CounterVec
	solveDuration         *prometheus.HistogramVec
	blocksScheduled       prometheus.Counter
	fallbackRuns          prometheus.Counter
	rescheduleRuns        prometheus.Counter
	invariantViolations   *prometheus.CounterVec
	idempotencyHits       prometheus.Counter
	intentClassifications *prometheus.CounterVec
	clarifications        prometheus.Counter
	wsConnections         prometheus.Gauge
	wsEvents              *prometheus.CounterVec
	llmLatency            *prometheus.HistogramVec
	cacheHits             *prometheus.CounterVec
	cacheMisses           *prometheus.CounterVec
	verifierChecks        *prometheus.CounterVec
	learningUpdates       *prometheus.CounterVec
	spanDuration          *prometheus.HistogramVec
}

// Config configures the telemetry stack.
type Config struct {
	Enabled          bool
	TracingEnabled   bool
	PointsBufferSize int
	LatencyBuckets   []float64
}

// DefaultConfig returns the default telemetry configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		PointsBufferSize: 4096,
		LatencyBuckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// New creates the telemetry stack. Returns nil when disabled.
func New(cfg Config) *Telemetry {
	if !cfg.Enabled {
		return nil
	}
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	if cfg.PointsBufferSize <= 0 {
		cfg.PointsBufferSize = DefaultConfig().PointsBufferSize
	}

	registry := prometheus.NewRegistry()
	t := &Telemetry{
		registry: registry,
		points:   newPointBuffer(cfg.PointsBufferSize),
		tracing:  cfg.TracingEnabled,
	}

	t.scheduleRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "schedule_requests_total",
			Help:      "Total number of scheduling requests",
		},
		[]string{"status"},
	)

	t.solveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "solve_duration_seconds",
			Help:      "Solver run duration in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"status"},
	)

	t.blocksScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "blocks_scheduled_total",
			Help:      "Total number of schedule blocks produced",
		},
	)

	t.fallbackRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fallback_total",
			Help:      "Total number of greedy fallback runs",
		},
	)

	t.rescheduleRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reschedule_total",
			Help:      "Total number of missed-block reschedule runs",
		},
	)

	t.invariantViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "invariant_violations_total",
			Help:      "Total number of post-solve invariant violations",
		},
		[]string{"invariant"},
	)

	t.idempotencyHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "idempotency_hits_total",
			Help:      "Total number of requests served from the idempotency cache",
		},
	)

	t.intentClassifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "intent_classifications_total",
			Help:      "Total number of intent classifications by action",
		},
		[]string{"action"},
	)

	t.clarifications = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "clarifications_total",
			Help:      "Total number of clarification questions asked",
		},
	)

	t.wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "websocket_connections",
			Help:      "Number of currently registered websocket connections",
		},
	)

	t.wsEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "websocket_events_total",
			Help:      "Total number of websocket events by type and delivery",
		},
		[]string{"event_type", "delivered"},
	)

	t.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"model", "status"},
	)

	t.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	t.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	t.verifierChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "verifier_failures_total",
			Help:      "Total number of semantic verifier findings by severity",
		},
		[]string{"severity"},
	)

	t.learningUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "learning_updates_total",
			Help:      "Total number of model and bandit updates",
		},
		[]string{"kind"},
	)

	t.spanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "span_duration_seconds",
			Help:      "Internal span duration in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"name"},
	)

	registry.MustRegister(
		t.scheduleRequests,
		t.solveDuration,
		t.blocksScheduled,
		t.fallbackRuns,
		t.rescheduleRuns,
		t.invariantViolations,
		t.idempotencyHits,
		t.intentClassifications,
		t.clarifications,
		t.wsConnections,
		t.wsEvents,
		t.llmLatency,
		t.cacheHits,
		t.cacheMisses,
		t.verifierChecks,
		t.learningUpdates,
		t.spanDuration,
	)

	return t
}

// RecordScheduleRequest records the outcome of a scheduling request.
func (t *Telemetry) RecordScheduleRequest(status string) {
	if t == nil {
		return
	}
	t.scheduleRequests.WithLabelValues(status).Inc()
	t.points.add("schedule_requests_total", map[string]string{"status": status}, 1)
}

// RecordSolve records a solver run and its duration.
func (t *Telemetry) RecordSolve(status string, duration time.Duration) {
	if t == nil {
		return
	}
	t.solveDuration.WithLabelValues(status).Observe(duration.Seconds())
	t.points.add("solve_duration_seconds", map[string]string{"status": status}, duration.Seconds())
}

// RecordBlocksScheduled records how many blocks a solution produced.
func (t *Telemetry) RecordBlocksScheduled(count int) {
	if t == nil || count <= 0 {
		return
	}
	t.blocksScheduled.Add(float64(count))
	t.points.add("blocks_scheduled_total", nil, float64(count))
}

// RecordFallback records a greedy fallback run.
func (t *Telemetry) RecordFallback() {
	if t == nil {
		return
	}
	t.fallbackRuns.Inc()
	t.points.add("fallback_total", nil, 1)
}

// RecordReschedule records a missed-block reschedule run.
func (t *Telemetry) RecordReschedule() {
	if t == nil {
		return
	}
	t.rescheduleRuns.Inc()
	t.points.add("reschedule_total", nil, 1)
}

// RecordInvariantViolation records a failed post-solve check.
func (t *Telemetry) RecordInvariantViolation(invariant string) {
	if t == nil {
		return
	}
	t.invariantViolations.WithLabelValues(invariant).Inc()
	t.points.add("invariant_violations_total", map[string]string{"invariant": invariant}, 1)
}

// RecordIdempotencyHit records a request served from the idempotency cache.
func (t *Telemetry) RecordIdempotencyHit() {
	if t == nil {
		return
	}
	t.idempotencyHits.Inc()
	t.points.add("idempotency_hits_total", nil, 1)
}

// RecordIntentClassification records a classified action.
func (t *Telemetry) RecordIntentClassification(action string) {
	if t == nil {
		return
	}
	t.intentClassifications.WithLabelValues(action).Inc()
	t.points.add("intent_classifications_total", map[string]string{"action": action}, 1)
}

// RecordClarification records a clarification question asked.
func (t *Telemetry) RecordClarification() {
	if t == nil {
		return
	}
	t.clarifications.Inc()
	t.points.add("clarifications_total", nil, 1)
}

// SetWebsocketConnections sets the registered connection count.
func (t *Telemetry) SetWebsocketConnections(count int) {
	if t == nil {
		return
	}
	t.wsConnections.Set(float64(count))
}

// RecordWebsocketEvent records an emitted event and whether it was delivered.
func (t *Telemetry) RecordWebsocketEvent(eventType string, delivered bool) {
	if t == nil {
		return
	}
	deliveredLabel := "false"
	if delivered {
		deliveredLabel = "true"
	}
	t.wsEvents.WithLabelValues(eventType, deliveredLabel).Inc()
}

// RecordLLMRequest records an LLM call latency.
func (t *Telemetry) RecordLLMRequest(model, status string, duration time.Duration) {
	if t == nil {
		return
	}
	t.llmLatency.WithLabelValues(model, status).Observe(duration.Seconds())
	t.points.add("llm_request_duration_seconds", map[string]string{"model": model, "status": status}, duration.Seconds())
}

// RecordCacheHit records a hit on the named cache.
func (t *Telemetry) RecordCacheHit(cacheType string) {
	if t == nil {
		return
	}
	t.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a miss on the named cache.
func (t *Telemetry) RecordCacheMiss(cacheType string) {
	if t == nil {
		return
	}
	t.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordVerifierFinding records a semantic verifier finding by severity.
func (t *Telemetry) RecordVerifierFinding(severity string) {
	if t == nil {
		return
	}
	t.verifierChecks.WithLabelValues(severity).Inc()
	t.points.add("verifier_failures_total", map[string]string{"severity": severity}, 1)
}

// RecordLearningUpdate records a model or bandit update.
func (t *Telemetry) RecordLearningUpdate(kind string) {
	if t == nil {
		return
	}
	t.learningUpdates.WithLabelValues(kind).Inc()
}

// Handler returns the Prometheus exposition handler.
func (t *Telemetry) Handler() http.Handler {
	if t == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Query returns buffered points newer than since, optionally filtered to the
// given metric names.
func (t *Telemetry) Query(since time.Time, names []string) []Point {
	if t == nil {
		return nil
	}
	return t.points.query(since, names)
}
