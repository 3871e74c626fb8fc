package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turn metrics
	TurnsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudinha_turns_started_total",
			Help: "Total number of turns started",
		},
	)

	TurnsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudinha_turns_completed_total",
			Help: "Total number of turns completed",
		},
		[]string{"status"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cloudinha_turn_duration_seconds",
			Help:    "Turn execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Step metrics
	StepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudinha_steps_executed_total",
			Help: "Total number of workflow steps executed",
		},
		[]string{"workflow", "agent"},
	)

	MaxStepsReached = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudinha_max_steps_reached_total",
			Help: "Turns stopped by the step bound",
		},
	)

	// Router metrics
	RouterDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudinha_router_decisions_total",
			Help: "Intent router decisions by intent",
		},
		[]string{"intent"},
	)

	RouterParseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudinha_router_parse_failures_total",
			Help: "Router outputs with no parseable JSON decision",
		},
	)

	// Guardrails metrics
	GuardrailsBlocked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudinha_guardrails_blocked_total",
			Help: "Messages blocked by the guardrails agent",
		},
	)

	// Resilience metrics
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudinha_retry_attempts_total",
			Help: "Retry attempts by operation",
		},
		[]string{"operation"},
	)

	ErrorsCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudinha_errors_captured_total",
			Help: "Errors captured to the error log by category",
		},
		[]string{"category"},
	)

	// Engine metrics
	EngineCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudinha_engine_calls_total",
			Help: "Generative engine invocations by agent",
		},
		[]string{"agent", "status"},
	)

	EngineCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cloudinha_engine_call_duration_seconds",
			Help:    "Generative engine call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudinha_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudinha_session_cache_size",
			Help: "Number of sessions in the local cache",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudinha_session_cache_evictions_total",
			Help: "Sessions evicted from the local cache",
		},
	)

	// Streaming metrics
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudinha_stream_subscribers",
			Help: "Currently connected stream subscribers",
		},
	)
)
