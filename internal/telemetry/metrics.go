// Package telemetry holds the process-wide Prometheus metrics and the
// OpenTelemetry tracer setup.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fingraph"

var (
	// TurnsTotal counts finished turns.
	// Labels: intent, error_kind ("" on success).
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "turns_total",
		Help:      "Total conversation turns by intent and error kind.",
	}, []string{"intent", "error_kind"})

	// TurnDuration measures end-to-end turn latency.
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "turn_duration_seconds",
		Help:      "End-to-end duration of a conversation turn.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 45},
	})

	// QueryCacheRequests counts generated-query cache lookups.
	// Labels: result (hit, miss).
	QueryCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "query_cache",
		Name:      "requests_total",
		Help:      "Generated query cache lookups by result.",
	}, []string{"result"})

	// ValidationRejections counts validator findings.
	// Labels: kind (unknown_label, literal, write_keyword, ...).
	ValidationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "validation_rejections_total",
		Help:      "Query validation violations by kind.",
	}, []string{"kind"})

	// LLMCalls counts completion requests.
	// Labels: provider, purpose, status (success, error).
	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "Completion requests by provider, purpose and status.",
	}, []string{"provider", "purpose", "status"})

	// LLMCallDuration measures completion latency.
	LLMCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "call_duration_seconds",
		Help:      "Duration of completion requests in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30},
	}, []string{"provider", "purpose"})

	// LLMTokens counts tokens by direction (input, output).
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Tokens sent and received by provider and direction.",
	}, []string{"provider", "direction"})

	// GraphQueryDuration measures graph store query latency.
	// Labels: status (success or an execution error kind).
	GraphQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "query_duration_seconds",
		Help:      "Graph query execution time by outcome.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"status"})

	// GraphPoolInUse is the number of executor slots currently held.
	GraphPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "pool_in_use",
		Help:      "Graph executor slots currently in use.",
	})

	// IntentFallbacks counts classifier model failures that degraded to
	// data_query.
	IntentFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "intent",
		Name:      "fallbacks_total",
		Help:      "Intent classifications that fell back to data_query after a model failure.",
	})

	// ConversationsActive is the number of conversations held in memory.
	ConversationsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "conversation",
		Name:      "active",
		Help:      "Conversations currently held in the context store.",
	})
)
