package policyprovider

import (
	"fmt"
	"time"

	celeval "github.com/elfnet/accessrl/internal/adapter/outbound/cel"
	"github.com/elfnet/accessrl/internal/domain/ratelimit"
	"github.com/elfnet/accessrl/internal/domain/ratelimit/keys"
)

// normalize turns one raw PolicySpec into a validated, fully-compiled
// ratelimit.Policy: per-period limits are promoted to Limit/Window, Cost
// defaults to 1, a key resolver is compiled (or defaulted to "ip"), and the
// exemption/authentication predicates are compiled to CEL programs. Returns
// a descriptive error naming the offending policy and field on any
// invariant violation, per the configuration-error contract.
func normalize(evaluator *celeval.Evaluator, spec PolicySpec) (ratelimit.Policy, error) {
	limit, window := promotePeriod(spec)

	cost := spec.Cost
	if cost == 0 {
		cost = 1
	}

	resolver := spec.Resolver
	if resolver == nil {
		var err error
		resolver, err = keys.Compile(spec.KeyResolvers)
		if err != nil {
			return ratelimit.Policy{}, fmt.Errorf("policy %q: %w", spec.Name, err)
		}
	}

	exemptWhen, err := celeval.CompilePredicate(evaluator, spec.ExemptWhen)
	if err != nil {
		return ratelimit.Policy{}, fmt.Errorf("policy %q: exempt_when: %w", spec.Name, err)
	}
	authenticatedWhen, err := celeval.CompilePredicate(evaluator, spec.AuthenticatedWhen)
	if err != nil {
		return ratelimit.Policy{}, fmt.Errorf("policy %q: authenticated_when: %w", spec.Name, err)
	}

	policy := ratelimit.Policy{
		Name:                 spec.Name,
		Limit:                limit,
		Window:               window,
		Cost:                 cost,
		AuthenticatedLimit:   spec.AuthenticatedLimit,
		AnonymousLimit:       spec.AnonymousLimit,
		AuthenticatedHeaders: spec.AuthenticatedHeaders,
		SharedBucket:         spec.SharedBucket,
		KeyResolver:          resolver,
		Penalty: ratelimit.PenaltyConfig{
			Enabled:         spec.Penalty.Enabled,
			ViolationWindow: spec.Penalty.ViolationWindow,
			Durations:       spec.Penalty.Penalties,
		},
		Enabled:           spec.Enabled,
		ExemptWhen:        exemptWhen,
		AuthenticatedWhen: authenticatedWhen,
		CostResolver:      spec.CostResolver,
	}

	if err := policy.Validate(); err != nil {
		return ratelimit.Policy{}, err
	}
	return policy, nil
}

// promotePeriod materializes Limit/Window from whichever convenience field
// is set. Explicit Limit+Window wins over the per-period fields; among
// those, per-second beats per-minute beats per-hour.
func promotePeriod(spec PolicySpec) (int, time.Duration) {
	if spec.Limit > 0 && spec.Window > 0 {
		return spec.Limit, spec.Window
	}
	switch {
	case spec.LimitPerSecond > 0:
		return spec.LimitPerSecond, time.Second
	case spec.LimitPerMinute > 0:
		return spec.LimitPerMinute, time.Minute
	case spec.LimitPerHour > 0:
		return spec.LimitPerHour, time.Hour
	default:
		return spec.Limit, spec.Window
	}
}
