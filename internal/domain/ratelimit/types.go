// Package ratelimit holds the data model for the distributed access rate
// limiter: policies, penalty escalation configuration, and the decision a
// request evaluation produces. See internal/service/decision for the
// orchestration that produces a Decision, and
// internal/adapter/outbound/store for the atomic store-side evaluation.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// RequestContext is the small, protocol-agnostic slice of an inbound request
// that policy predicates (ExemptWhen, AuthenticatedWhen) reason over.
type RequestContext struct {
	Path   string
	Method string
	// Headers is keyed by canonical header name (http.CanonicalHeaderKey),
	// one first-value string per header.
	Headers map[string]string
	// RemoteAddr is the transport-level "host:port" address, used as the
	// IP resolver's last-resort fallback when no proxy header is present.
	RemoteAddr    string
	Authenticated bool
	Claims        map[string]string
}

// Predicate is a boolean gate evaluated against a RequestContext. Compiled
// CEL expressions (internal/adapter/outbound/cel.Predicate) and the
// AlwaysFalse value below are the concrete implementations.
type Predicate interface {
	Evaluate(rc RequestContext) (bool, error)
}

// predicateFunc adapts a plain function to the Predicate interface.
type predicateFunc func(RequestContext) (bool, error)

func (f predicateFunc) Evaluate(rc RequestContext) (bool, error) { return f(rc) }

// AlwaysFalse is the default predicate for an unset ExemptWhen/AuthenticatedWhen.
var AlwaysFalse Predicate = predicateFunc(func(RequestContext) (bool, error) { return false, nil })

// KeyResolver maps a RequestContext to a nullable caller identity string;
// ok=false means "no stable identity — skip limiting this request." None
// of the built-ins perform I/O, but custom resolvers may, so the call
// carries the request's context and must honor its cancellation. See
// internal/domain/ratelimit/keys for the built-in resolvers, the composite
// resolver, and the spec-string factory.
type KeyResolver interface {
	Resolve(ctx context.Context, rc RequestContext) (key string, ok bool)
}

// CostResolver computes a dynamic per-request token cost. Unlike predicates,
// cost resolution routinely needs arbitrary host logic (e.g. reading a
// declared upload size from a header), so it is a plain Go function rather
// than a compiled expression.
type CostResolver func(rc RequestContext) int

// PenaltyConfig describes the escalating-block behavior applied after
// repeated denials within a sliding ViolationWindow.
type PenaltyConfig struct {
	// Enabled turns penalty escalation on or off for the owning policy.
	Enabled bool
	// ViolationWindow is the sliding period during which denials accumulate.
	// Zero means violations are still counted but never expire.
	ViolationWindow time.Duration
	// Durations is P[1..n]: the 1-indexed block duration selected by the
	// k-th violation within ViolationWindow. By convention non-decreasing,
	// but this is not enforced.
	Durations []time.Duration
}

// Validate checks PenaltyConfig's invariants: every duration is strictly
// positive and ViolationWindow is non-negative.
func (p PenaltyConfig) Validate() error {
	if p.ViolationWindow < 0 {
		return fmt.Errorf("penalty: violation_window must be >= 0, got %s", p.ViolationWindow)
	}
	for i, d := range p.Durations {
		if d <= 0 {
			return fmt.Errorf("penalty: penalties[%d] must be > 0, got %s", i, d)
		}
	}
	return nil
}

// Policy is a named, normalized rate-limit rule set. Policies are built once
// per configuration snapshot by internal/service/policyprovider and are
// immutable once published; reconfiguration replaces the whole snapshot.
type Policy struct {
	// Name is the case-insensitive lookup key for this policy.
	Name string
	// Limit is the bucket capacity (positive integer).
	Limit int
	// Window is the refill window (positive duration).
	Window time.Duration
	// Cost is the number of tokens consumed per request. 0 < Cost <= Limit.
	Cost int
	// AuthenticatedLimit overrides Limit for authenticated callers when > 0.
	AuthenticatedLimit int
	// AnonymousLimit overrides Limit for anonymous callers when > 0.
	AnonymousLimit int
	// AuthenticatedHeaders is an ordered list of header names whose
	// presence with a non-empty value signals an authenticated caller,
	// consulted only after AuthenticatedWhen and the caller's Principal
	// both fail to establish authentication.
	AuthenticatedHeaders []string
	// SharedBucket, when non-empty, is the scope used instead of the
	// endpoint's own route pattern/display name.
	SharedBucket string
	// KeyResolver maps requests to a stable caller identity.
	KeyResolver KeyResolver
	// Penalty configures escalating blocks after repeated denials.
	Penalty PenaltyConfig
	// Enabled is the policy kill-switch.
	Enabled bool
	// ExemptWhen, when it evaluates true, bypasses limiting entirely.
	ExemptWhen Predicate
	// AuthenticatedWhen, when set and true, marks the caller authenticated
	// for selecting AuthenticatedLimit/AnonymousLimit. It is checked first;
	// when it is false, the options-level predicate, the Principal and
	// AuthenticatedHeaders are still consulted in turn.
	AuthenticatedWhen Predicate
	// CostResolver computes a dynamic cost; used only when metadata.cost is
	// unset or <= 0. Nil means "use Cost".
	CostResolver CostResolver
}

// Validate checks the invariants from the data model: 0 < Cost <= Limit,
// Window > 0, and a valid PenaltyConfig. It fails fast with a message
// naming the offending policy and field, per the configuration-error
// contract in the error handling design.
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy: name must not be empty")
	}
	if p.Limit <= 0 {
		return fmt.Errorf("policy %q: limit must be > 0, got %d", p.Name, p.Limit)
	}
	if p.Window <= 0 {
		return fmt.Errorf("policy %q: window must be > 0, got %s", p.Name, p.Window)
	}
	if p.Cost <= 0 || p.Cost > p.Limit {
		return fmt.Errorf("policy %q: cost must satisfy 0 < cost <= limit (limit=%d), got %d", p.Name, p.Limit, p.Cost)
	}
	if err := p.Penalty.Validate(); err != nil {
		return fmt.Errorf("policy %q: %w", p.Name, err)
	}
	return nil
}

// Decision is the immutable outcome of evaluating one request against a
// policy. Constructed by internal/service/decision and consumed by the
// response shaper (pkg/accessrl).
type Decision struct {
	PolicyName     string
	Scope          string
	KeyHash        string
	EffectiveLimit int
	Remaining      int
	Cost           int
	RetryAfter     time.Duration
	Reset          time.Time
	Allowed        bool
	Blocked        bool
	Violations     int
}
