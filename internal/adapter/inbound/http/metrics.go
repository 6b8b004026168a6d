package http

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/elfnet/accessrl/internal/domain/ratelimit"
)

// Metrics holds the Prometheus instruments for the rate limiter and doubles
// as the Decision Driver's MetricsSink implementation.
type Metrics struct {
	DecisionsTotal *prometheus.CounterVec
	DecisionTime   *prometheus.HistogramVec
}

// NewMetrics creates and registers the rate limiter's metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "accessrl",
				Name:      "decisions_total",
				Help:      "Total rate-limit decisions by policy and outcome",
			},
			[]string{"policy", "outcome"}, // outcome=allowed/limited/blocked
		),
		DecisionTime: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "accessrl",
				Name:      "decision_duration_seconds",
				Help:      "Wall time of the Decision Driver's Evaluate call, including the store round-trip",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"policy"},
		),
	}
}

// OnAllowed implements decision.MetricsSink.
func (m *Metrics) OnAllowed(_ context.Context, d ratelimit.Decision) {
	m.DecisionsTotal.WithLabelValues(d.PolicyName, "allowed").Inc()
}

// OnLimited implements decision.MetricsSink.
func (m *Metrics) OnLimited(_ context.Context, d ratelimit.Decision) {
	m.DecisionsTotal.WithLabelValues(d.PolicyName, "limited").Inc()
}

// OnBlocked implements decision.MetricsSink.
func (m *Metrics) OnBlocked(_ context.Context, d ratelimit.Decision) {
	m.DecisionsTotal.WithLabelValues(d.PolicyName, "blocked").Inc()
}

// ObserveDecisionDuration records how long one Evaluate call took.
func (m *Metrics) ObserveDecisionDuration(policy string, seconds float64) {
	m.DecisionTime.WithLabelValues(policy).Observe(seconds)
}
