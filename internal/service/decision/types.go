// Package decision is the Decision Driver: it orchestrates policy lookup,
// key resolution, scope and cost computation, and the atomic store call,
// and shapes the result into a ratelimit.Decision.
package decision

import (
	"context"
	"errors"

	"github.com/elfnet/accessrl/internal/domain/ratelimit"
)

// ErrStoreFailure wraps a Store Core failure that was not absorbed by
// fail-open policy. The caller (Response Shaper) treats this as an
// infrastructure failure, not a rate-limit decision.
var ErrStoreFailure = errors.New("decision: store failure")

// EndpointMetadata is the per-request rate-limit metadata an upstream
// router/middleware resolves and hands to the driver: which policy
// applies, and optional scope/cost/route overrides consumed by the
// driver's policy lookup and scope resolution.
type EndpointMetadata struct {
	// PolicyName selects the policy by name. Empty defers to the
	// provider's default policy.
	PolicyName string
	// Scope, when non-empty, wins over SharedBucket/RoutePattern/DisplayName.
	Scope string
	// Cost, when > 0, wins over the policy's CostResolver/Cost.
	Cost int
	// RoutePattern is the endpoint's route template text (e.g.
	// "/v1/exports/:id"), used as a scope fallback below SharedBucket.
	RoutePattern string
	// DisplayName is a human endpoint name, used as the last scope
	// fallback above the literal "unknown".
	DisplayName string
}

// MetricsSink receives one notification per completed (non-bypassed)
// decision. Implementations must be non-blocking; the driver additionally
// wraps every call in a recover so a panicking sink can never corrupt the
// decision path.
type MetricsSink interface {
	OnAllowed(ctx context.Context, d ratelimit.Decision)
	OnLimited(ctx context.Context, d ratelimit.Decision)
	OnBlocked(ctx context.Context, d ratelimit.Decision)
}

// noopSink is the default MetricsSink when none is configured.
type noopSink struct{}

func (noopSink) OnAllowed(context.Context, ratelimit.Decision) {}
func (noopSink) OnLimited(context.Context, ratelimit.Decision) {}
func (noopSink) OnBlocked(context.Context, ratelimit.Decision) {}
