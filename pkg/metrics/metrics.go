// Package metrics provides Prometheus metrics for the vine service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChainExecutionsTotal tracks top-level chain executions by status
	ChainExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vine",
			Subsystem: "execution",
			Name:      "chains_total",
			Help:      "Total number of chain executions by status",
		},
		[]string{"chain_id", "status"},
	)

	// ChainExecutionDuration tracks top-level chain execution duration in seconds
	ChainExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vine",
			Subsystem: "execution",
			Name:      "chain_duration_seconds",
			Help:      "Duration of chain executions in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"chain_id"},
	)

	// ExecutionErrorsTotal tracks execution-level failures by code
	ExecutionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vine",
			Subsystem: "execution",
			Name:      "errors_total",
			Help:      "Total number of execution-level errors by code",
		},
		[]string{"code"},
	)

	// StepsTotal tracks step invocations
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vine",
			Subsystem: "execution",
			Name:      "steps_total",
			Help:      "Total number of step invocations by type and outcome",
		},
		[]string{"step_type", "outcome"},
	)

	// HTTPRequestsTotal tracks outbound module requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vine",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound module requests",
		},
		[]string{"module", "method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound module request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vine",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound module requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"module", "method"},
	)

	// SinkEmitsTotal tracks execution log deliveries per sink
	SinkEmitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vine",
			Subsystem: "execution_log",
			Name:      "emits_total",
			Help:      "Total number of execution log deliveries by sink and status",
		},
		[]string{"sink", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vine",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// APIRequestsTotal tracks inbound API requests
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vine",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests by method, route and status",
		},
		[]string{"method", "route", "status_code"},
	)

	// APIRequestDuration tracks inbound API request duration
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vine",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// ChainCacheLookups tracks chain definition cache hits and misses
	ChainCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vine",
			Subsystem: "chain_cache",
			Name:      "lookups_total",
			Help:      "Total number of chain definition cache lookups by result",
		},
		[]string{"result"},
	)
)

// RecordChainExecution records a finished top-level execution
func RecordChainExecution(chainID, status string, durationSeconds float64) {
	ChainExecutionsTotal.WithLabelValues(chainID, status).Inc()
	ChainExecutionDuration.WithLabelValues(chainID).Observe(durationSeconds)
}

// RecordExecutionError records an execution-level failure
func RecordExecutionError(code string) {
	ExecutionErrorsTotal.WithLabelValues(code).Inc()
}

// RecordStep records a step invocation outcome
func RecordStep(stepType, outcome string) {
	StepsTotal.WithLabelValues(stepType, outcome).Inc()
}

// RecordHTTPRequest records an outbound module request
func RecordHTTPRequest(module, method, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(module, method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(module, method).Observe(durationSeconds)
}

// RecordSinkEmit records an execution log delivery
func RecordSinkEmit(sink, status string) {
	SinkEmitsTotal.WithLabelValues(sink, status).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(durationSeconds float64) {
	KafkaPublishDuration.Observe(durationSeconds)
}

// RecordChainCacheLookup records a chain cache hit or miss
func RecordChainCacheLookup(result string) {
	ChainCacheLookups.WithLabelValues(result).Inc()
}

// RecordAPIRequest records an inbound API request
func RecordAPIRequest(method, route, statusCode string, durationSeconds float64) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}
