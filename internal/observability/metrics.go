// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger metrics
	LedgerOperations *prometheus.CounterVec
	FundsReturned    *prometheus.CounterVec
	FundsDeposited   prometheus.Counter
	FundsTraded      prometheus.Counter

	// Security metrics
	SecurityRejections *prometheus.CounterVec

	// Session metrics
	SessionsIssued prometheus.Counter
	SessionsActive prometheus.Gauge
	TrackedVaults  prometheus.Gauge
	ReclaimRuns    *prometheus.CounterVec

	// Persistence metrics
	PersistFailures *prometheus.CounterVec
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Chain metrics
	RPCCallLatency  *prometheus.HistogramVec
	RPCCallErrors   *prometheus.CounterVec
	WSNotifications prometheus.Counter
	WSReconnects    prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered on reg.
// A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "ephemeral_vault"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		LedgerOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by operation and result kind",
		}, []string{"operation", "result"}),
		FundsReturned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "funds_returned_lamports_total",
			Help:      "Lamports returned to owners by reason",
		}, []string{"reason"}),
		FundsDeposited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "funds_deposited_lamports_total",
			Help:      "Lamports deposited into vaults",
		}),
		FundsTraded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "funds_traded_lamports_total",
			Help:      "Lamports debited by trades including fees",
		}),

		SecurityRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "rejections_total",
			Help:      "Requests rejected by the security gate by reason",
		}, []string{"reason"}),

		SessionsIssued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "custody",
			Name:      "sessions_issued_total",
			Help:      "Total number of sessions issued",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "custody",
			Name:      "sessions_active",
			Help:      "Number of active sessions",
		}),
		TrackedVaults: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "tracked_vaults",
			Help:      "Number of vaults tracked for activity",
		}),
		ReclaimRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "reclaim_runs_total",
			Help:      "Reclaim passes by status",
		}, []string{"status"}),

		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "persist_failures_total",
			Help:      "Records that failed to persist after a ledger mutation",
		}, []string{"record"}),
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_errors_total",
			Help:      "Solana RPC calls that failed after retries",
		}, []string{"method"}),
		WSNotifications: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "ws_notifications_total",
			Help:      "Log notifications received over WebSocket",
		}),
		WSReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "ws_reconnects_total",
			Help:      "WebSocket reconnect attempts",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordLedgerOp records a ledger operation outcome. result is "ok" or an error kind.
func RecordLedgerOp(operation, result string) {
	DefaultMetrics.LedgerOperations.WithLabelValues(operation, result).Inc()
}

// RecordDeposit adds deposited lamports.
func RecordDeposit(lamports uint64) {
	DefaultMetrics.FundsDeposited.Add(float64(lamports))
}

// RecordTrade adds traded lamports.
func RecordTrade(lamports uint64) {
	DefaultMetrics.FundsTraded.Add(float64(lamports))
}

// RecordFundsReturned adds lamports returned to an owner.
func RecordFundsReturned(reason string, lamports uint64) {
	DefaultMetrics.FundsReturned.WithLabelValues(reason).Add(float64(lamports))
}

// RecordSecurityRejection increments the rejection counter for reason.
func RecordSecurityRejection(reason string) {
	DefaultMetrics.SecurityRejections.WithLabelValues(reason).Inc()
}

// RecordSessionIssued increments the sessions issued counter.
func RecordSessionIssued() {
	DefaultMetrics.SessionsIssued.Inc()
}

// UpdateSessionGauges sets the active session and tracked vault gauges.
func UpdateSessionGauges(activeSessions, trackedVaults int) {
	DefaultMetrics.SessionsActive.Set(float64(activeSessions))
	DefaultMetrics.TrackedVaults.Set(float64(trackedVaults))
}

// RecordReclaimRun records a reclaim pass.
func RecordReclaimRun(status string) {
	DefaultMetrics.ReclaimRuns.WithLabelValues(status).Inc()
}

// RecordPersistFailure records a record that failed to persist.
func RecordPersistFailure(record string) {
	DefaultMetrics.PersistFailures.WithLabelValues(record).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordRPCError records an RPC call that exhausted its retries.
func RecordRPCError(method string) {
	DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
}

// RecordWSNotification increments the WebSocket notification counter.
func RecordWSNotification() {
	DefaultMetrics.WSNotifications.Inc()
}

// RecordWSReconnect increments the WebSocket reconnect counter.
func RecordWSReconnect() {
	DefaultMetrics.WSReconnects.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(route string, code int) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, statusLabel(code)).Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
