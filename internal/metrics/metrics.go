package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors for payments, refunds and reconciliation.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	refundOutcomes   *prometheus.CounterVec
	providerCalls    *prometheus.HistogramVec
	webhooks         *prometheus.CounterVec
	reconcileTicks   *prometheus.CounterVec
	reconcileBacklog prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refundOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Name:      "refund_outcomes_total",
			Help:      "Refund state changes by source and resulting status.",
		}, []string{"source", "status"}),
		providerCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paygate",
			Name:      "provider_call_seconds",
			Help:      "Latency of provider HTTP calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "code"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Name:      "webhook_callbacks_total",
			Help:      "Provider callbacks by result.",
		}, []string{"result"}),
		reconcileTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Name:      "reconcile_ticks_total",
			Help:      "Reconciliation ticks by result.",
		}, []string{"result"}),
		reconcileBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paygate",
			Name:      "reconcile_backlog",
			Help:      "Refunds picked up by the last reconciliation tick.",
		}),
	}
	reg.MustRegister(m.refundOutcomes, m.providerCalls, m.webhooks, m.reconcileTicks, m.reconcileBacklog)
	return m
}

func (m *Metrics) RefundOutcome(source, status string) {
	if m == nil {
		return
	}
	m.refundOutcomes.WithLabelValues(source, status).Inc()
}

// ProviderCall matches base.Observer.
func (m *Metrics) ProviderCall(endpoint string, status int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	if err != nil && status == 0 {
		code = "error"
	}
	m.providerCalls.WithLabelValues(endpoint, code).Observe(elapsed.Seconds())
}

func (m *Metrics) Webhook(result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(result).Inc()
}

// ReconcileTick counts a tick. A negative backlog leaves the gauge as it was.
func (m *Metrics) ReconcileTick(result string, backlog int) {
	if m == nil {
		return
	}
	m.reconcileTicks.WithLabelValues(result).Inc()
	if backlog >= 0 {
		m.reconcileBacklog.Set(float64(backlog))
	}
}
