package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks money-movement attempts against the gateway.
type SettlementMetrics struct {
	attempts       *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	adminQueue     prometheus.Gauge
}

// NewSettlementMetrics registers settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_attempts_total",
		Help: "Settlement attempts by kind and outcome.",
	}, []string{"kind", "outcome"})
	gatewayLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_call_duration_seconds",
		Help:    "Latency of payment gateway calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	adminQueue := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "adjustments_pending_admin_review",
		Help: "Weight adjustments currently waiting on arbitration.",
	})
	reg.MustRegister(attempts, gatewayLatency, adminQueue)
	return &SettlementMetrics{
		attempts:       attempts,
		gatewayLatency: gatewayLatency,
		adminQueue:     adminQueue,
	}
}

// IncAttempt counts one settlement attempt.
func (s *SettlementMetrics) IncAttempt(kind, outcome string) {
	if s == nil || s.attempts == nil {
		return
	}
	s.attempts.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// ObserveGatewayCall records the latency of one gateway operation.
func (s *SettlementMetrics) ObserveGatewayCall(operation string, duration time.Duration) {
	if s == nil || s.gatewayLatency == nil {
		return
	}
	s.gatewayLatency.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// SetAdminQueueDepth records the current arbitration backlog.
func (s *SettlementMetrics) SetAdminQueueDepth(depth int) {
	if s == nil || s.adminQueue == nil {
		return
	}
	s.adminQueue.Set(float64(depth))
}
