package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec
	solanaRPCRetries      *prometheus.CounterVec

	// Purchase Pipeline Metrics
	purchasesInitiatedTotal   *prometheus.CounterVec
	purchasesConfirmedTotal   *prometheus.CounterVec
	purchasesFailedTotal      *prometheus.CounterVec
	settlementDuration        *prometheus.HistogramVec
	balanceCreditedTotal      *prometheus.CounterVec
	pendingExpiredTotal       prometheus.Counter
	verificationRejectedTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		// Purchase Pipeline Metrics
		purchasesInitiatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_purchases_initiated_total",
				Help: "Total number of purchase intents created",
			},
			[]string{"kind"},
		),
		purchasesConfirmedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_purchases_confirmed_total",
				Help: "Total number of purchase intents settled as confirmed",
			},
			[]string{"kind"},
		),
		purchasesFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_purchases_failed_total",
				Help: "Total number of purchase intents marked failed",
			},
			[]string{"kind", "reason"},
		),
		settlementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vault_settlement_duration_seconds",
				Help:    "Duration of confirm calls from verification to settlement",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"kind"},
		),
		balanceCreditedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_balance_credited_total",
				Help: "Total balance units credited to users via confirmed purchases",
			},
			[]string{"kind"},
		),
		pendingExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vault_pending_expired_total",
				Help: "Total number of pending transactions transitioned to expired by the sweeper",
			},
		),
		verificationRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_verification_rejected_total",
				Help: "Total number of on-chain verification rejections by reason",
			},
			[]string{"reason"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of settlement events published to NATS",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"subject"},
		),
	}
}

// RecordRPCCall records a Solana RPC call with its duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, durationSeconds float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordRPCRetry records a retry attempt for an RPC method.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// RecordPurchaseInitiated records a new purchase intent.
func (m *Metrics) RecordPurchaseInitiated(kind string) {
	m.purchasesInitiatedTotal.WithLabelValues(kind).Inc()
}

// RecordPurchaseConfirmed records a settled purchase and its confirm-call duration.
func (m *Metrics) RecordPurchaseConfirmed(kind string, durationSeconds float64) {
	m.purchasesConfirmedTotal.WithLabelValues(kind).Inc()
	m.settlementDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordPurchaseFailed records a purchase intent transitioned to failed.
func (m *Metrics) RecordPurchaseFailed(kind, reason string) {
	m.purchasesFailedTotal.WithLabelValues(kind, reason).Inc()
}

// RecordBalanceCredited records balance units credited to a user.
func (m *Metrics) RecordBalanceCredited(kind string, amount float64) {
	m.balanceCreditedTotal.WithLabelValues(kind).Add(amount)
}

// RecordPendingExpired records pending transactions expired by the sweeper.
func (m *Metrics) RecordPendingExpired(count float64) {
	m.pendingExpiredTotal.Add(count)
}

// RecordVerificationRejected records an on-chain verification rejection.
func (m *Metrics) RecordVerificationRejected(reason string) {
	m.verificationRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records an HTTP request with its duration.
func (m *Metrics) RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path, status).Observe(durationSeconds)
}

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, durationSeconds float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(durationSeconds)
}
