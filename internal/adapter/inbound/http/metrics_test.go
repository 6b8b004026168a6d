package http

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/elfnet/accessrl/internal/domain/ratelimit"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestMetrics_OnAllowedIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.OnAllowed(context.Background(), ratelimit.Decision{PolicyName: "standard"})

	got := counterValue(t, m.DecisionsTotal.WithLabelValues("standard", "allowed"))
	if got != 1 {
		t.Fatalf("expected counter value 1, got %v", got)
	}
}

func TestMetrics_OnLimitedAndOnBlockedUseDistinctLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.OnLimited(context.Background(), ratelimit.Decision{PolicyName: "standard"})
	m.OnBlocked(context.Background(), ratelimit.Decision{PolicyName: "standard"})

	if got := counterValue(t, m.DecisionsTotal.WithLabelValues("standard", "limited")); got != 1 {
		t.Fatalf("expected 1 limited decision, got %v", got)
	}
	if got := counterValue(t, m.DecisionsTotal.WithLabelValues("standard", "blocked")); got != 1 {
		t.Fatalf("expected 1 blocked decision, got %v", got)
	}
}
