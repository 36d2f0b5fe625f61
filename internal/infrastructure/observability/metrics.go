package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Print job metrics
	PrintJobTransitions *prometheus.CounterVec
	ClaimedPerPoll      prometheus.Histogram
	ClaimConflicts      prometheus.Counter

	// Storage metrics
	StorageCommits        *prometheus.CounterVec
	StorageCommitDuration *prometheus.HistogramVec
	StorageCommitSize     prometheus.Histogram

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState    *prometheus.GaugeVec
	CircuitBreakerRequests *prometheus.CounterVec

	// Relay metrics
	RelayRecords       *prometheus.CounterVec
	RelayBatchDuration prometheus.Histogram
	OutboxSwept        prometheus.Counter
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, reg)

	m := &Metrics{
		PrintJobTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "print_job_transitions_total",
				Help:      "Print job state transitions by resulting status",
			},
			[]string{"status"},
		),
		ClaimedPerPoll: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "print_jobs_claimed_per_poll",
				Help:      "Number of jobs handed to a printer per claim poll",
				Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
			},
		),
		ClaimConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "print_job_claim_conflicts_total",
				Help:      "Claims lost to a concurrent poll",
			},
		),
		StorageCommits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_commits_total",
				Help:      "Coordinator commits by write path and result",
			},
			[]string{"path", "result"},
		),
		StorageCommitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_commit_duration_seconds",
				Help:      "Coordinator commit duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"path"},
		),
		StorageCommitSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_commit_operations",
				Help:      "Number of operations per coordinator commit",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		CircuitBreakerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_requests_total",
				Help:      "Total number of circuit breaker requests",
			},
			[]string{"name", "result"},
		),
		RelayRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_records_total",
				Help:      "Change feed records seen by the relay by outcome",
			},
			[]string{"outcome"},
		),
		RelayBatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "relay_batch_duration_seconds",
				Help:      "Relay batch handling duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
		),
		OutboxSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_swept_total",
				Help:      "Expired outbox rows deleted by the retention sweeper",
			},
		),
	}

	factory.MustRegister(
		m.PrintJobTransitions,
		m.ClaimedPerPoll,
		m.ClaimConflicts,
		m.StorageCommits,
		m.StorageCommitDuration,
		m.StorageCommitSize,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CircuitBreakerState,
		m.CircuitBreakerRequests,
		m.RelayRecords,
		m.RelayBatchDuration,
		m.OutboxSwept,
	)

	return m
}
