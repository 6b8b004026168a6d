package decision

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/elfnet/accessrl/internal/adapter/outbound/store"
	"github.com/elfnet/accessrl/internal/domain/ratelimit"
	"github.com/elfnet/accessrl/internal/domain/ratelimit/keys"
)

// PolicyProvider is the slice of *policyprovider.Provider the driver
// depends on, narrowed to an interface so tests can fake it.
type PolicyProvider interface {
	GetPolicy(name string) (ratelimit.Policy, bool)
	GetDefault() (ratelimit.Policy, bool)
}

// StoreClient is the slice of *store.RedisStore the driver depends on.
type StoreClient interface {
	Eval(ctx context.Context, req store.Request) (store.Result, error)
}

// Driver implements the Decision Driver: the orchestration that turns a
// request plus endpoint metadata into a ratelimit.Decision.
type Driver struct {
	provider         PolicyProvider
	store            StoreClient
	keyPrefix        string
	failOpen         bool
	fallbackResolver ratelimit.KeyResolver
	globalExemptWhen ratelimit.Predicate
	globalAuthWhen   ratelimit.Predicate
	sink             MetricsSink
	tracer           trace.Tracer
	logger           *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithKeyPrefix overrides the default "elf:accessrl" store key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(d *Driver) { d.keyPrefix = prefix }
}

// WithFailOpen sets the store-failure policy: true lets requests through on
// store error (default), false surfaces ErrStoreFailure.
func WithFailOpen(failOpen bool) Option {
	return func(d *Driver) { d.failOpen = failOpen }
}

// WithFallbackResolver overrides the default IP fallback resolver used
// when a policy's key resolver returns no identity.
func WithFallbackResolver(r ratelimit.KeyResolver) Option {
	return func(d *Driver) { d.fallbackResolver = r }
}

// WithGlobalExemptWhen sets an options-level exemption predicate evaluated
// in addition to each policy's own ExemptWhen.
func WithGlobalExemptWhen(p ratelimit.Predicate) Option {
	return func(d *Driver) { d.globalExemptWhen = p }
}

// WithGlobalAuthenticatedWhen sets an options-level authentication
// predicate, consulted after a policy's own AuthenticatedWhen and before
// the Principal's flag when selecting AuthenticatedLimit/AnonymousLimit.
func WithGlobalAuthenticatedWhen(p ratelimit.Predicate) Option {
	return func(d *Driver) { d.globalAuthWhen = p }
}

// WithMetricsSink sets the per-decision metrics hook.
func WithMetricsSink(sink MetricsSink) Option {
	return func(d *Driver) { d.sink = sink }
}

// WithTracer overrides the default "github.com/elfnet/accessrl" tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Driver) { d.tracer = tracer }
}

// WithLogger overrides the default slog.Default() logger used for the
// "unknown policy" warn-once and fail-open error logs.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// New constructs a Driver. provider and storeClient are required; every
// other dependency has an idiomatic default (ip fallback resolver, fail
// open, no-op metrics sink, global otel tracer, slog default logger).
func New(provider PolicyProvider, storeClient StoreClient, opts ...Option) *Driver {
	d := &Driver{
		provider:         provider,
		store:            storeClient,
		keyPrefix:        "elf:accessrl",
		failOpen:         true,
		fallbackResolver: keys.IP,
		globalExemptWhen: ratelimit.AlwaysFalse,
		globalAuthWhen:   ratelimit.AlwaysFalse,
		sink:             noopSink{},
		tracer:           otel.Tracer("github.com/elfnet/accessrl"),
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Evaluate runs the full decision pipeline. applied=false means the
// request bypasses limiting entirely (no policy, disabled, exempt, or no
// identity) and the caller should simply forward it. err is non-nil only
// for a store failure that is not absorbed by fail-open policy; it wraps
// ErrStoreFailure.
func (d *Driver) Evaluate(ctx context.Context, rc ratelimit.RequestContext, meta EndpointMetadata) (decision ratelimit.Decision, applied bool, err error) {
	ctx, span := d.tracer.Start(ctx, "accessrl.decision")
	defer span.End()

	policy, ok := d.lookupPolicy(ctx, meta)
	if !ok {
		return ratelimit.Decision{}, false, nil
	}

	if !policy.Enabled {
		return ratelimit.Decision{}, false, nil
	}
	exempt, err := d.isExempt(policy, rc)
	if err != nil {
		d.logger.Error("accessrl: exemption predicate failed, bypassing", "policy", policy.Name, "error", err)
		return ratelimit.Decision{}, false, nil
	}
	if exempt {
		return ratelimit.Decision{}, false, nil
	}

	scope := resolveScope(policy, meta)

	key, ok := d.resolveKey(ctx, policy, rc)
	if !ok {
		return ratelimit.Decision{}, false, nil
	}

	effectiveLimit := effectiveLimit(policy, d.isAuthenticated(policy, rc))
	effectiveCost := effectiveCost(policy, meta, rc, effectiveLimit)

	keyHash := ratelimit.KeyHash(key)
	scopeKey := ratelimit.SanitizeScope(scope)
	bucketKey, blockKey, violKey := ratelimit.StoreKeys(d.keyPrefix, policy.Name, scopeKey, keyHash)

	storeCtx, storeSpan := d.tracer.Start(ctx, "store.call")
	result, err := d.store.Eval(storeCtx, store.Request{
		BucketKey:    bucketKey,
		BlockKey:     blockKey,
		ViolationKey: violKey,
		Capacity:     effectiveLimit,
		Window:       policy.Window,
		Cost:         effectiveCost,
		Penalty: store.PenaltyArgs{
			Enabled:         policy.Penalty.Enabled,
			ViolationWindow: policy.Penalty.ViolationWindow,
			Durations:       policy.Penalty.Durations,
		},
	})
	storeSpan.End()
	if err != nil {
		// A protocol violation is a bug, not load: it always propagates,
		// fail-open absorbs transport failures only.
		if d.failOpen && !errors.Is(err, store.ErrStoreProtocol) {
			d.logger.Error("accessrl: store failure, failing open", "policy", policy.Name, "error", err)
			return ratelimit.Decision{}, false, nil
		}
		return ratelimit.Decision{}, false, wrapStoreFailure(err)
	}

	decision = buildDecision(policy, scope, keyHash, effectiveLimit, effectiveCost, result)

	span.SetAttributes(
		attribute.String("accessrl.policy", policy.Name),
		attribute.String("accessrl.scope", scope),
		attribute.Bool("accessrl.allowed", decision.Allowed),
	)

	d.notify(ctx, decision)
	return decision, true, nil
}

func (d *Driver) lookupPolicy(ctx context.Context, meta EndpointMetadata) (ratelimit.Policy, bool) {
	_, span := d.tracer.Start(ctx, "policy.lookup")
	defer span.End()

	if meta.PolicyName == "" {
		policy, ok := d.provider.GetDefault()
		return policy, ok
	}
	policy, ok := d.provider.GetPolicy(meta.PolicyName)
	if !ok {
		d.logger.Warn("accessrl: unknown policy, bypassing", "policy", meta.PolicyName)
	}
	return policy, ok
}

func (d *Driver) isExempt(policy ratelimit.Policy, rc ratelimit.RequestContext) (bool, error) {
	if policy.ExemptWhen != nil {
		exempt, err := policy.ExemptWhen.Evaluate(rc)
		if err != nil {
			return false, err
		}
		if exempt {
			return true, nil
		}
	}
	if d.globalExemptWhen != nil {
		return d.globalExemptWhen.Evaluate(rc)
	}
	return false, nil
}

// isAuthenticated implements the authentication precedence chain as a
// short-circuiting fallthrough: policy.AuthenticatedWhen, then the
// options-level predicate, then the Principal's own flag, then configured
// AuthenticatedHeaders.
func (d *Driver) isAuthenticated(policy ratelimit.Policy, rc ratelimit.RequestContext) bool {
	if policy.AuthenticatedWhen != nil {
		if ok, err := policy.AuthenticatedWhen.Evaluate(rc); err == nil && ok {
			return true
		}
	}
	if d.globalAuthWhen != nil {
		if ok, err := d.globalAuthWhen.Evaluate(rc); err == nil && ok {
			return true
		}
	}
	if rc.Authenticated {
		return true
	}
	for _, header := range policy.AuthenticatedHeaders {
		if v, ok := rc.Headers[header]; ok && v != "" {
			return true
		}
	}
	return false
}

func (d *Driver) resolveKey(ctx context.Context, policy ratelimit.Policy, rc ratelimit.RequestContext) (string, bool) {
	_, span := d.tracer.Start(ctx, "key.resolve")
	defer span.End()

	if key, ok := policy.KeyResolver.Resolve(ctx, rc); ok {
		return key, true
	}
	return d.fallbackResolver.Resolve(ctx, rc)
}

// resolveScope picks the bucket partition: metadata.scope >
// policy.SharedBucket > endpoint route-pattern text > endpoint display
// name > literal "unknown".
func resolveScope(policy ratelimit.Policy, meta EndpointMetadata) string {
	switch {
	case meta.Scope != "":
		return meta.Scope
	case policy.SharedBucket != "":
		return policy.SharedBucket
	case meta.RoutePattern != "":
		return meta.RoutePattern
	case meta.DisplayName != "":
		return meta.DisplayName
	default:
		return "unknown"
	}
}

// effectiveLimit applies the identity-conditional limit overrides.
func effectiveLimit(policy ratelimit.Policy, authenticated bool) int {
	if authenticated && policy.AuthenticatedLimit > 0 {
		return policy.AuthenticatedLimit
	}
	if !authenticated && policy.AnonymousLimit > 0 {
		return policy.AnonymousLimit
	}
	return policy.Limit
}

// effectiveCost resolves the per-request cost and clamps it to [1, limit].
func effectiveCost(policy ratelimit.Policy, meta EndpointMetadata, rc ratelimit.RequestContext, limit int) int {
	cost := policy.Cost
	if meta.Cost > 0 {
		cost = meta.Cost
	} else if policy.CostResolver != nil {
		cost = policy.CostResolver(rc)
	}
	if cost < 1 {
		cost = 1
	}
	if cost > limit {
		cost = limit
	}
	return cost
}

// buildDecision shapes a store result into the client-facing decision.
func buildDecision(policy ratelimit.Policy, scope, keyHash string, limit, cost int, result store.Result) ratelimit.Decision {
	remaining := int(math.Floor(math.Max(0, result.RemainingTokens)))

	resetAfter := result.RetryAfterSeconds
	if result.ResetAfterSeconds > 0 {
		resetAfter = result.ResetAfterSeconds
	}

	return ratelimit.Decision{
		PolicyName:     policy.Name,
		Scope:          scope,
		KeyHash:        keyHash,
		EffectiveLimit: limit,
		Remaining:      remaining,
		Cost:           cost,
		RetryAfter:     time.Duration(result.RetryAfterSeconds) * time.Second,
		Reset:          time.Now().UTC().Add(time.Duration(resetAfter) * time.Second),
		Allowed:        result.Allowed,
		Blocked:        result.Blocked,
		Violations:     result.Violations,
	}
}

func (d *Driver) notify(ctx context.Context, decision ratelimit.Decision) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("accessrl: metrics sink panicked, recovered", "panic", r)
		}
	}()
	switch {
	case decision.Allowed:
		d.sink.OnAllowed(ctx, decision)
	case decision.Blocked:
		d.sink.OnBlocked(ctx, decision)
	default:
		d.sink.OnLimited(ctx, decision)
	}
}

func wrapStoreFailure(err error) error {
	return &storeFailureError{cause: err}
}

type storeFailureError struct{ cause error }

func (e *storeFailureError) Error() string   { return ErrStoreFailure.Error() + ": " + e.cause.Error() }
func (e *storeFailureError) Unwrap() []error { return []error{ErrStoreFailure, e.cause} }
