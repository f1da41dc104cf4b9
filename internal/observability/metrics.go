// Package observability provides Prometheus metrics and structured logging.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ledger service.
type Metrics struct {
	// Ledger metrics
	BuysRecorded      prometheus.Counter
	SellsRecorded     *prometheus.CounterVec
	SellRejections    *prometheus.CounterVec
	FlagsRaised       *prometheus.CounterVec
	FlagWriteErrors   prometheus.Counter
	SellsWithLoss     prometheus.Counter
	LedgerTxDuration  *prometheus.HistogramVec
	LedgerTxConflicts prometheus.Counter

	// Journal metrics
	JournalWrites      prometheus.Counter
	JournalWriteErrors prometheus.Counter

	// Reconciliation metrics
	ReconcileRuns       *prometheus.CounterVec
	ReconcileMismatches *prometheus.CounterVec
	RPCCallLatency      *prometheus.HistogramVec

	// Health metrics
	LastSuccessfulReconcile prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "swap_ledger"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		BuysRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "buys_recorded_total",
			Help:      "Total number of buys applied to positions",
		}),
		SellsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "sells_recorded_total",
			Help:      "Total number of sells applied, by resulting position state",
		}, []string{"state"}),
		SellRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "sell_rejections_total",
			Help:      "Total number of rejected sells by reason",
		}, []string{"reason"}),
		FlagsRaised: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "flags_raised_total",
			Help:      "Total number of persisted flags by type and severity",
		}, []string{"flag_type", "severity"}),
		FlagWriteErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "flag_write_errors_total",
			Help:      "Total number of flags that failed to persist",
		}),
		SellsWithLoss: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "sells_with_loss_total",
			Help:      "Total number of sells that realized a negative P&L",
		}),
		LedgerTxDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tx_duration_seconds",
			Help:      "Ledger transaction duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		LedgerTxConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tx_conflicts_total",
			Help:      "Total number of ledger transactions aborted by a concurrent update",
		}),

		JournalWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "writes_total",
			Help:      "Total number of ledger entries appended to the journal",
		}),
		JournalWriteErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "write_errors_total",
			Help:      "Total number of failed journal appends",
		}),

		ReconcileRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total number of reconciliation passes by status",
		}, []string{"status"}),
		ReconcileMismatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "mismatches_total",
			Help:      "Total number of balance mismatches by severity",
		}, []string{"severity"}),
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		LastSuccessfulReconcile: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_reconcile_timestamp",
			Help:      "Unix timestamp of last reconciliation pass without errors",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint of the given gatherer.
// A nil gatherer serves the default Prometheus registry.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
