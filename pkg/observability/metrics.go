package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the billing service
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ledger metrics
	TransactionsTotal  *prometheus.CounterVec
	FeeChargesTotal    *prometheus.CounterVec
	FeeAmountTotal     prometheus.Counter
	TopUpDuration      prometheus.Histogram
	AutoTopUpsTotal    *prometheus.CounterVec
	InvoicesGenerated  prometheus.Counter
	NotificationsTotal *prometheus.CounterVec

	// Webhook metrics
	WebhookEventsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_transactions_total",
				Help: "Ledger transactions recorded, by type and status",
			},
			[]string{"type", "status"},
		),
		FeeChargesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_fee_charges_total",
				Help: "Order fee charge attempts, by outcome",
			},
			[]string{"outcome"},
		),
		FeeAmountTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_fee_amount_total",
				Help: "Cumulative order fees charged, in account currency units",
			},
		),
		TopUpDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "billing_topup_duration_seconds",
				Help:    "Wall time of CreateTopUp including the gateway call",
				Buckets: prometheus.DefBuckets,
			},
		),
		AutoTopUpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_auto_topups_total",
				Help: "Auto top-ups triggered by low balance, by outcome",
			},
			[]string{"outcome"},
		),
		InvoicesGenerated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_invoices_generated_total",
				Help: "Invoices generated",
			},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_notifications_total",
				Help: "Notifications enqueued, by topic",
			},
			[]string{"topic"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhook_events_total",
				Help: "Inbound gateway webhook events, by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "billing_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "billing_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TransactionsTotal,
		m.FeeChargesTotal,
		m.FeeAmountTotal,
		m.TopUpDuration,
		m.AutoTopUpsTotal,
		m.InvoicesGenerated,
		m.NotificationsTotal,
		m.WebhookEventsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns the HTTP handler serving the registry.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one served HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
