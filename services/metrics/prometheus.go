package metricsvc

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-billing/core/fee"
)

// PrometheusMetrics holds the billing engine metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	PaymentsTotal        *prometheus.CounterVec
	PaymentAmountTotal   *prometheus.CounterVec
	AppliedAmountTotal   *prometheus.CounterVec
	BillingOutcomesTotal *prometheus.CounterVec
	BillingRunDuration   prometheus.Histogram
	ConflictsTotal       *prometheus.CounterVec
}

var _ fee.Metrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates the metrics and registers them on registry.
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: registry,

		PaymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "masomo_billing_payments_total",
				Help: "Total number of recorded payments",
			},
			[]string{"method"},
		),
		PaymentAmountTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "masomo_billing_payment_amount_total",
				Help: "Total amount of recorded payments",
			},
			[]string{"method"},
		),
		AppliedAmountTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "masomo_billing_applied_amount_total",
				Help: "Total amount applied to allocations",
			},
			[]string{"method"},
		),
		BillingOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "masomo_billing_run_outcomes_total",
				Help: "Total number of per-student billing outcomes",
			},
			[]string{"result"},
		),
		BillingRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "masomo_billing_run_duration_seconds",
				Help:    "Billing run duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900},
			},
		),
		ConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "masomo_billing_concurrency_conflicts_total",
				Help: "Total number of operations rolled back on a concurrent allocation update",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.PaymentsTotal,
		m.PaymentAmountTotal,
		m.AppliedAmountTotal,
		m.BillingOutcomesTotal,
		m.BillingRunDuration,
		m.ConflictsTotal,
	)
	return m
}

func (m *PrometheusMetrics) PaymentRecorded(method string, amount, applied decimal.Decimal) {
	m.PaymentsTotal.WithLabelValues(method).Inc()
	m.PaymentAmountTotal.WithLabelValues(method).Add(amount.InexactFloat64())
	m.AppliedAmountTotal.WithLabelValues(method).Add(applied.InexactFloat64())
}

func (m *PrometheusMetrics) BillingOutcome(result fee.OutcomeResult) {
	m.BillingOutcomesTotal.WithLabelValues(string(result)).Inc()
}

func (m *PrometheusMetrics) BillingRunFinished(d time.Duration) {
	m.BillingRunDuration.Observe(d.Seconds())
}

func (m *PrometheusMetrics) ConcurrencyConflict(op string) {
	m.ConflictsTotal.WithLabelValues(op).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
