package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the swap ledger.
type Metrics struct {
	// --- Engine ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec
	PoolSize    *prometheus.GaugeVec
	SwapConstant prometheus.Gauge
	PendingContinuations prometheus.Gauge

	// --- Transfer protocol ---
	TransfersRequested *prometheus.CounterVec
	TransfersResolved  *prometheus.CounterVec
	WithdrawPublishFailures prometheus.Counter

	// --- Persistence ---
	JournalRowsWritten prometheus.Counter
	JournalBatchSize   prometheus.Histogram
	JournalErrors      prometheus.Counter
	SnapshotsTaken     prometheus.Counter
	SnapshotDuration   prometheus.Histogram

	// --- API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.00005,
		0.0001, 0.0005, 0.001, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "swap_engine_ops_applied_total",
			Help: "Operations successfully applied by the engine",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "swap_engine_ops_rejected_total",
			Help: "Operations rejected by the engine",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swap_engine_op_duration_seconds",
			Help:    "Time spent applying a single operation",
			Buckets: opBuckets,
		}, []string{"op"}),

		PoolSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "swap_pool_size",
			Help: "Current size of a token pool",
		}, []string{"token"}),

		SwapConstant: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "swap_constant",
			Help: "Current constant-product invariant k",
		}),

		PendingContinuations: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "swap_pending_continuations",
			Help: "Outstanding transfer requests awaiting a reply",
		}),

		TransfersRequested: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "swap_transfers_requested_total",
			Help: "Outbound transfer requests published",
		}, []string{"selector"}),

		TransfersResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "swap_transfers_resolved_total",
			Help: "Transfer replies consumed",
		}, []string{"outcome"}),

		WithdrawPublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "swap_withdraw_publish_failures_total",
			Help: "Withdraw transfers that failed to publish after the debit",
		}),

		JournalRowsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "swap_journal_rows_written_total",
			Help: "Operation journal rows written to Postgres",
		}),

		JournalBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "swap_journal_batch_size",
			Help:    "Rows per journal flush",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),

		JournalErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "swap_journal_errors_total",
			Help: "Failed journal flushes",
		}),

		SnapshotsTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "swap_snapshots_taken_total",
			Help: "Ledger snapshots persisted",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "swap_snapshot_duration_seconds",
			Help:    "Time to persist a ledger snapshot",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "swap_http_requests_total",
			Help: "HTTP API requests by route and status code",
		}, []string{"route", "code"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swap_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"route"}),
	}
}
