// Package metrics provides Prometheus metrics for the puzzcode engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector exposed by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Attempt pipeline
	attempts          *prometheus.CounterVec
	attemptLatency    prometheus.Histogram
	lockRetries       prometheus.Counter
	computeFallbacks  *prometheus.CounterVec
	difficultyChanges *prometheus.CounterVec
	summaryRebuilds   prometheus.Counter

	// Audit outbox
	auditPublished *prometheus.CounterVec
	outboxSize     prometheus.Gauge
	outboxDropped  prometheus.Counter

	// Matchmaking
	queueSize      prometheus.Gauge
	ticks          *prometheus.CounterVec
	tickDuration   prometheus.Histogram
	matchesCreated *prometheus.CounterVec
	matchScore     prometheus.Histogram
	noMatch        prometheus.Counter

	// Sessions and challenges
	activeSessions   prometheus.Gauge
	sessionResolved  *prometheus.CounterVec
	challengeOutcome *prometheus.CounterVec

	// Realtime
	realtimeClients prometheus.Gauge
	realtimeEvents  *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByComponent   *prometheus.CounterVec

	// Process
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	gcPause     prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "puzzcode",
		subsystem:        "engine",
		histogramBuckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	if buckets == nil {
		buckets = m.histogramBuckets
	}
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.attempts = auto.NewCounterVec(m.counterOpts("attempts_total",
		"Puzzle attempts by outcome (processed, replayed, rejected, retryable, failed)"),
		[]string{"outcome"})
	m.attemptLatency = auto.NewHistogram(m.histogramOpts("attempt_latency_milliseconds",
		"End-to-end attempt processing latency in milliseconds", nil))
	m.lockRetries = auto.NewCounter(m.counterOpts("lock_retries_total",
		"Exclusive update scope acquisitions that had to be retried"))
	m.computeFallbacks = auto.NewCounterVec(m.counterOpts("compute_fallbacks_total",
		"Skill computations served by the local fallback, by reason"),
		[]string{"reason"})
	m.difficultyChanges = auto.NewCounterVec(m.counterOpts("difficulty_changes_total",
		"Difficulty updates above epsilon, by rule"),
		[]string{"rule"})
	m.summaryRebuilds = auto.NewCounter(m.counterOpts("summary_rebuilds_total",
		"Performance summaries rebuilt from the attempt log"))

	m.auditPublished = auto.NewCounterVec(m.counterOpts("audit_published_total",
		"Difficulty audit records handed to the publisher, by result"),
		[]string{"result"})
	m.outboxSize = auto.NewGauge(m.gaugeOpts("outbox_size",
		"Events waiting in the in-memory outbox"))
	m.outboxDropped = auto.NewCounter(m.counterOpts("outbox_dropped_total",
		"Events dropped because the outbox was full or closed"))

	m.queueSize = auto.NewGauge(m.gaugeOpts("matchmaking_queue_size",
		"Players currently waiting in the matchmaking queue"))
	m.ticks = auto.NewCounterVec(m.counterOpts("matchmaking_ticks_total",
		"Scheduler ticks by result (ran, skipped, failed)"),
		[]string{"result"})
	m.tickDuration = auto.NewHistogram(m.histogramOpts("matchmaking_tick_duration_milliseconds",
		"Scheduler tick duration in milliseconds", nil))
	m.matchesCreated = auto.NewCounterVec(m.counterOpts("matches_created_total",
		"Battle sessions created, by origin (queue, challenge)"),
		[]string{"origin"})
	m.matchScore = auto.NewHistogram(m.histogramOpts("match_score",
		"Match score of created sessions", []float64{0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 0.99, 1}))
	m.noMatch = auto.NewCounter(m.counterOpts("matchmaking_no_match_total",
		"Queue entries removed after exceeding the maximum wait"))

	m.activeSessions = auto.NewGauge(m.gaugeOpts("sessions_active",
		"Battle sessions that are not yet resolved"))
	m.sessionResolved = auto.NewCounterVec(m.counterOpts("sessions_resolved_total",
		"Resolved battle sessions by terminal path (submitted, exited, forfeited, timeout)"),
		[]string{"path"})
	m.challengeOutcome = auto.NewCounterVec(m.counterOpts("challenges_total",
		"Direct challenges by final status"),
		[]string{"status"})

	m.realtimeClients = auto.NewGauge(m.gaugeOpts("realtime_clients",
		"Connected realtime clients"))
	m.realtimeEvents = auto.NewCounterVec(m.counterOpts("realtime_events_total",
		"Realtime deliveries by result (delivered, dropped)"),
		[]string{"result"})

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"HTTP requests by endpoint, method and status code"),
		[]string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", nil),
		[]string{"endpoint", "method", "status_code"})
	m.errorsByComponent = auto.NewCounterVec(m.counterOpts("errors_total",
		"Errors by component and type"),
		[]string{"component", "error_type"})

	m.memoryUsage = auto.NewGauge(m.gaugeOpts("memory_alloc_bytes",
		"Heap bytes allocated and in use"))
	m.goroutines = auto.NewGauge(m.gaugeOpts("goroutines",
		"Live goroutines"))
	m.gcPause = auto.NewHistogram(m.histogramOpts("gc_pause_milliseconds",
		"Average GC pause in milliseconds", []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10}))
}

// RecordAttempt counts an attempt outcome and, when positive, its latency.
func RecordAttempt(outcome string, latencyMs float64) {
	globalManager.attempts.WithLabelValues(outcome).Inc()
	if latencyMs >= 0 {
		globalManager.attemptLatency.Observe(latencyMs)
	}
}

// RecordLockRetry counts one retried lock acquisition.
func RecordLockRetry() {
	globalManager.lockRetries.Inc()
}

// RecordComputeFallback counts a computation served by the fallback.
func RecordComputeFallback(reason string) {
	globalManager.computeFallbacks.WithLabelValues(reason).Inc()
}

// RecordDifficultyChange counts an audited difficulty change.
func RecordDifficultyChange(rule string) {
	if rule == "" {
		rule = "continuous"
	}
	globalManager.difficultyChanges.WithLabelValues(rule).Inc()
}

// RecordSummaryRebuild counts a summary rebuild.
func RecordSummaryRebuild() {
	globalManager.summaryRebuilds.Inc()
}

// RecordAuditPublished counts an audit publication result.
func RecordAuditPublished(result string) {
	globalManager.auditPublished.WithLabelValues(result).Inc()
}

// UpdateOutboxSize sets the outbox backlog.
func UpdateOutboxSize(size int) {
	globalManager.outboxSize.Set(float64(size))
}

// RecordOutboxDropped counts an event that could not enter the outbox.
func RecordOutboxDropped() {
	globalManager.outboxDropped.Inc()
}

// UpdateMatchmakingQueueSize sets the number of queued players.
func UpdateMatchmakingQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// RecordTick counts a scheduler tick and observes its duration.
func RecordTick(result string, durationMs float64) {
	globalManager.ticks.WithLabelValues(result).Inc()
	if result != "skipped" {
		globalManager.tickDuration.Observe(durationMs)
	}
}

// RecordMatchCreated counts a new battle session.
func RecordMatchCreated(origin string, score float64) {
	globalManager.matchesCreated.WithLabelValues(origin).Inc()
	globalManager.matchScore.Observe(score)
}

// RecordNoMatch counts timed-out queue entries.
func RecordNoMatch(n int) {
	globalManager.noMatch.Add(float64(n))
}

// UpdateActiveSessions sets the number of unresolved sessions.
func UpdateActiveSessions(n int) {
	globalManager.activeSessions.Set(float64(n))
}

// RecordSessionResolved counts a resolved session.
func RecordSessionResolved(path string) {
	globalManager.sessionResolved.WithLabelValues(path).Inc()
}

// RecordChallenge counts a challenge reaching a final status.
func RecordChallenge(status string) {
	globalManager.challengeOutcome.WithLabelValues(status).Inc()
}

// UpdateRealtimeClients sets the number of connected realtime clients.
func UpdateRealtimeClients(n int) {
	globalManager.realtimeClients.Set(float64(n))
}

// RecordRealtimeEvent counts a realtime delivery result.
func RecordRealtimeEvent(result string) {
	globalManager.realtimeEvents.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request and its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// UpdateSystemMemoryUsage sets the allocated heap size.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.memoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the live goroutine count.
func UpdateSystemGoroutineCount(n int) {
	globalManager.goroutines.Set(float64(n))
}

// RecordSystemGCPauseTime observes an average GC pause.
func RecordSystemGCPauseTime(ms float64) {
	globalManager.gcPause.Observe(ms)
}
