// Package metrics declares the Prometheus collectors exported by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetryAttemptsTotal tracks retries scheduled after a failed attempt
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_retry_attempts_total",
			Help: "Total number of retries scheduled",
		},
		[]string{"operation"},
	)

	// RetryExhaustedTotal tracks operations that gave up
	RetryExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_retry_exhausted_total",
			Help: "Total number of operations that failed after retries",
		},
		[]string{"operation", "reason"},
	)

	// CircuitState is 0 closed, 1 half-open, 2 open
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "failover_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	// CircuitTransitionsTotal tracks breaker state changes
	CircuitTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_circuit_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "to"},
	)

	// CircuitRejectionsTotal tracks calls short-circuited by an open breaker
	CircuitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_circuit_rejections_total",
			Help: "Total number of calls rejected by an open circuit",
		},
		[]string{"name"},
	)

	// RateLimitWaitSeconds tracks how long callers were delayed for a slot
	RateLimitWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "failover_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a rate limiter slot",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"name"},
	)

	// TimeoutsTotal tracks operations cut off by a timeout
	TimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_timeouts_total",
			Help: "Total number of operations that timed out",
		},
		[]string{"operation"},
	)

	// ProviderCallsTotal tracks provider calls by outcome
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_provider_calls_total",
			Help: "Total number of provider calls",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderLatency tracks provider call latency
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "failover_provider_latency_seconds",
			Help:    "Provider call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"provider"},
	)

	// RecoveryTotal tracks finished recovery sessions
	RecoveryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_recovery_total",
			Help: "Total number of recovery sessions",
		},
		[]string{"category", "action", "outcome"},
	)

	// RecoveryDuration tracks wall time of recovery sessions
	RecoveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "failover_recovery_duration_seconds",
			Help:    "Recovery session duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"action"},
	)

	// RecoveryAlertsTotal tracks alert thresholds reached per category
	RecoveryAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_recovery_alerts_total",
			Help: "Total number of recovery alerts raised",
		},
		[]string{"category"},
	)

	// QueuedJobs tracks pending queued jobs
	QueuedJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "failover_queued_jobs",
			Help: "Number of jobs waiting in the retry queue",
		},
	)

	// QueueProcessedTotal tracks queue worker outcomes
	QueueProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_queue_processed_total",
			Help: "Total number of queued jobs processed",
		},
		[]string{"outcome"},
	)

	// RecoveryLogsPrunedTotal tracks logs removed by the retention worker
	RecoveryLogsPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "failover_recovery_logs_pruned_total",
			Help: "Total number of recovery logs deleted by retention",
		},
	)

	// DBConnectionPoolUsage tracks the percentage of used DB connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "failover_db_connection_pool_usage_percent",
			Help: "Percentage of database connections in use",
		},
	)
)
