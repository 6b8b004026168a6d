package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/elfnet/accessrl/internal/adapter/outbound/store"
	"github.com/elfnet/accessrl/internal/domain/ratelimit"
	"github.com/elfnet/accessrl/internal/domain/ratelimit/keys"
)

type fakeProvider struct {
	policies map[string]ratelimit.Policy
	def      string
}

func (f fakeProvider) GetPolicy(name string) (ratelimit.Policy, bool) {
	p, ok := f.policies[name]
	return p, ok
}

func (f fakeProvider) GetDefault() (ratelimit.Policy, bool) {
	p, ok := f.policies[f.def]
	return p, ok
}

func newTestDriver(t *testing.T, provider fakeProvider, opts ...Option) *Driver {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := store.New(client)
	return New(provider, s, opts...)
}

func basicPolicy() ratelimit.Policy {
	return ratelimit.Policy{
		Name:        "standard",
		Limit:       3,
		Window:      10 * time.Second,
		Cost:        1,
		Enabled:     true,
		KeyResolver: keys.IP,
		ExemptWhen:  ratelimit.AlwaysFalse,
	}
}

func TestEvaluate_BypassesOnUnknownPolicy(t *testing.T) {
	d := newTestDriver(t, fakeProvider{policies: map[string]ratelimit.Policy{}})
	_, applied, err := d.Evaluate(context.Background(), ratelimit.RequestContext{}, EndpointMetadata{PolicyName: "nonexistent"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Fatal("expected bypass for an unknown policy")
	}
}

func TestEvaluate_BypassesWhenNoDefaultConfigured(t *testing.T) {
	d := newTestDriver(t, fakeProvider{policies: map[string]ratelimit.Policy{}})
	_, applied, err := d.Evaluate(context.Background(), ratelimit.RequestContext{}, EndpointMetadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Fatal("expected bypass when no policy name and no default")
	}
}

func TestEvaluate_BypassesWhenDisabled(t *testing.T) {
	p := basicPolicy()
	p.Enabled = false
	d := newTestDriver(t, fakeProvider{policies: map[string]ratelimit.Policy{"standard": p}, def: "standard"})
	_, applied, err := d.Evaluate(context.Background(), ratelimit.RequestContext{}, EndpointMetadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Fatal("expected bypass for a disabled policy")
	}
}

func TestEvaluate_BypassesWhenExempt(t *testing.T) {
	p := basicPolicy()
	p.ExemptWhen = ratelimit.Predicate(predicateAlwaysTrue{})
	d := newTestDriver(t, fakeProvider{policies: map[string]ratelimit.Policy{"standard": p}, def: "standard"})
	_, applied, err := d.Evaluate(context.Background(), ratelimit.RequestContext{}, EndpointMetadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Fatal("expected bypass for an exempt request")
	}
}

type predicateAlwaysTrue struct{}

func (predicateAlwaysTrue) Evaluate(ratelimit.RequestContext) (bool, error) { return true, nil }

func TestEvaluate_BypassesWhenNoIdentity(t *testing.T) {
	p := basicPolicy()
	p.KeyResolver = keys.Header("X-Api-Key")
	d := newTestDriver(t, fakeProvider{policies: map[string]ratelimit.Policy{"standard": p}, def: "standard"})

	rc := ratelimit.RequestContext{} // no header, no RemoteAddr: fallback IP also fails
	_, applied, err := d.Evaluate(context.Background(), rc, EndpointMetadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Fatal("expected bypass when neither resolver nor fallback finds an identity")
	}
}

func TestEvaluate_AllowsAndDecrementsRemaining(t *testing.T) {
	p := basicPolicy()
	d := newTestDriver(t, fakeProvider{policies: map[string]ratelimit.Policy{"standard": p}, def: "standard"})
	rc := ratelimit.RequestContext{RemoteAddr: "203.0.113.5:1234"}

	decision, applied, err := d.Evaluate(context.Background(), rc, EndpointMetadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Fatal("expected the decision to apply")
	}
	if !decision.Allowed || decision.Remaining != 2 {
		t.Fatalf("expected allowed with 2 remaining, got %+v", decision)
	}
}

func TestEvaluate_DeniesAfterExhaustion(t *testing.T) {
	p := basicPolicy()
	p.Limit = 1
	d := newTestDriver(t, fakeProvider{policies: map[string]ratelimit.Policy{"standard": p}, def: "standard"})
	rc := ratelimit.RequestContext{RemoteAddr: "203.0.113.5:1234"}

	if _, applied, err := d.Evaluate(context.Background(), rc, EndpointMetadata{}); err != nil || !applied {
		t.Fatalf("expected first request applied, err=%v applied=%v", err, applied)
	}

	decision, applied, err := d.Evaluate(context.Background(), rc, EndpointMetadata{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied || decision.Allowed {
		t.Fatalf("expected second request denied, got %+v applied=%v", decision, applied)
	}
	if decision.RetryAfter <= 0 {
		t.Fatalf("expected a positive retry-after, got %s", decision.RetryAfter)
	}
}

func TestEvaluate_SharedBucketAcrossTwoEndpoints(t *testing.T) {
	p := basicPolicy()
	p.Name = "exports"
	p.Limit = 3
	p.SharedBucket = "exports"

	d := newTestDriver(t, fakeProvider{policies: map[string]ratelimit.Policy{"exports": p}})
	rc := ratelimit.RequestContext{RemoteAddr: "203.0.113.5:1234"}

	allowed := 0
	routes := []string{"/v1/exports/a", "/v1/exports/b", "/v1/exports/a", "/v1/exports/b"}
	for _, route := range routes {
		decision, _, err := d.Evaluate(context.Background(), rc, EndpointMetadata{PolicyName: "exports", RoutePattern: route})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if decision.Allowed {
			allowed++
		}
	}
	if allowed != 3 {
		t.Fatalf("expected exactly 3 allowed across the shared bucket, got %d", allowed)
	}
}

func TestEvaluate_FailOpenOnStoreError(t *testing.T) {
	p := basicPolicy()
	provider := fakeProvider{policies: map[string]ratelimit.Policy{"standard": p}, def: "standard"}

	unreachable := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer unreachable.Close()
	d := New(provider, store.New(unreachable), WithFailOpen(true))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, applied, err := d.Evaluate(ctx, ratelimit.RequestContext{RemoteAddr: "203.0.113.5:1234"}, EndpointMetadata{})
	if err != nil {
		t.Fatalf("expected fail-open to swallow the store error, got %v", err)
	}
	if applied {
		t.Fatal("expected fail-open bypass, not an applied decision")
	}
}

func TestEvaluate_FailClosedReturnsError(t *testing.T) {
	p := basicPolicy()
	provider := fakeProvider{policies: map[string]ratelimit.Policy{"standard": p}, def: "standard"}

	unreachable := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer unreachable.Close()
	d := New(provider, store.New(unreachable), WithFailOpen(false))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, applied, err := d.Evaluate(ctx, ratelimit.RequestContext{RemoteAddr: "203.0.113.5:1234"}, EndpointMetadata{})
	if err == nil {
		t.Fatal("expected an error with fail-open disabled")
	}
	if !errors.Is(err, ErrStoreFailure) {
		t.Fatalf("expected ErrStoreFailure, got %v", err)
	}
	if applied {
		t.Fatal("expected applied=false on a store failure")
	}
}

func TestEvaluate_GlobalAuthenticatedWhenSelectsAuthenticatedLimit(t *testing.T) {
	p := basicPolicy()
	p.AuthenticatedLimit = 5
	d := newTestDriver(t,
		fakeProvider{policies: map[string]ratelimit.Policy{"standard": p}, def: "standard"},
		WithGlobalAuthenticatedWhen(predicateAlwaysTrue{}))

	// No Principal, no policy predicate: only the options-level predicate
	// marks the request authenticated.
	rc := ratelimit.RequestContext{RemoteAddr: "203.0.113.5:1234"}
	decision, applied, err := d.Evaluate(context.Background(), rc, EndpointMetadata{})
	if err != nil || !applied {
		t.Fatalf("expected an applied decision, err=%v applied=%v", err, applied)
	}
	if decision.EffectiveLimit != 5 {
		t.Fatalf("expected the authenticated limit 5, got %d", decision.EffectiveLimit)
	}
}

func TestEvaluate_BlockedDecisionFloorsRemainingToZero(t *testing.T) {
	p := basicPolicy()
	p.Limit = 1
	p.Penalty = ratelimit.PenaltyConfig{
		Enabled:         true,
		ViolationWindow: time.Minute,
		Durations:       []time.Duration{time.Minute},
	}
	d := newTestDriver(t, fakeProvider{policies: map[string]ratelimit.Policy{"standard": p}, def: "standard"})
	rc := ratelimit.RequestContext{RemoteAddr: "203.0.113.5:1234"}

	d.Evaluate(context.Background(), rc, EndpointMetadata{}) // consume the token
	d.Evaluate(context.Background(), rc, EndpointMetadata{}) // trip the block

	// The store's block gate reports remainingTokens=-1; the decision must
	// floor it to zero rather than leak the sentinel to response headers.
	decision, applied, err := d.Evaluate(context.Background(), rc, EndpointMetadata{})
	if err != nil || !applied {
		t.Fatalf("expected an applied decision, err=%v applied=%v", err, applied)
	}
	if !decision.Blocked || decision.Allowed {
		t.Fatalf("expected a blocked decision, got %+v", decision)
	}
	if decision.Remaining != 0 {
		t.Fatalf("expected remaining floored to 0, got %d", decision.Remaining)
	}
	if decision.RetryAfter <= 0 {
		t.Fatalf("expected a positive retry-after while blocked, got %s", decision.RetryAfter)
	}
}

func TestEvaluate_BypassWritesNothingToStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	disabled := basicPolicy()
	disabled.Enabled = false
	exempt := basicPolicy()
	exempt.Name = "exempt"
	exempt.ExemptWhen = predicateAlwaysTrue{}
	noIdentity := basicPolicy()
	noIdentity.Name = "keyed"
	noIdentity.KeyResolver = keys.Header("X-Api-Key")

	d := New(fakeProvider{policies: map[string]ratelimit.Policy{
		"standard": disabled,
		"exempt":   exempt,
		"keyed":    noIdentity,
	}}, store.New(client), WithFallbackResolver(keys.Header("X-Api-Key")))

	for _, name := range []string{"standard", "exempt", "keyed"} {
		if _, applied, err := d.Evaluate(context.Background(), ratelimit.RequestContext{}, EndpointMetadata{PolicyName: name}); err != nil || applied {
			t.Fatalf("policy %q: expected a clean bypass, err=%v applied=%v", name, err, applied)
		}
	}

	if got := mr.Keys(); len(got) != 0 {
		t.Fatalf("expected zero store writes on bypass, found keys %v", got)
	}
}

type protocolViolationStore struct{}

func (protocolViolationStore) Eval(context.Context, store.Request) (store.Result, error) {
	return store.Result{}, store.ErrStoreProtocol
}

func TestEvaluate_ProtocolViolationPropagatesDespiteFailOpen(t *testing.T) {
	p := basicPolicy()
	provider := fakeProvider{policies: map[string]ratelimit.Policy{"standard": p}, def: "standard"}
	d := New(provider, protocolViolationStore{}, WithFailOpen(true))

	_, applied, err := d.Evaluate(context.Background(), ratelimit.RequestContext{RemoteAddr: "203.0.113.5:1234"}, EndpointMetadata{})
	if err == nil {
		t.Fatal("expected a malformed store reply to propagate even with fail-open enabled")
	}
	if !errors.Is(err, ErrStoreFailure) {
		t.Fatalf("expected ErrStoreFailure, got %v", err)
	}
	if applied {
		t.Fatal("expected applied=false on a protocol violation")
	}
}

type recordingSink struct {
	allowed, limited, blocked int
}

func (r *recordingSink) OnAllowed(context.Context, ratelimit.Decision) { r.allowed++ }
func (r *recordingSink) OnLimited(context.Context, ratelimit.Decision) { r.limited++ }
func (r *recordingSink) OnBlocked(context.Context, ratelimit.Decision) { r.blocked++ }

func TestEvaluate_NotifiesMetricsSink(t *testing.T) {
	p := basicPolicy()
	p.Limit = 1
	sink := &recordingSink{}
	d := newTestDriver(t, fakeProvider{policies: map[string]ratelimit.Policy{"standard": p}, def: "standard"}, WithMetricsSink(sink))
	rc := ratelimit.RequestContext{RemoteAddr: "203.0.113.5:1234"}

	d.Evaluate(context.Background(), rc, EndpointMetadata{})
	d.Evaluate(context.Background(), rc, EndpointMetadata{})

	if sink.allowed != 1 || sink.limited != 1 {
		t.Fatalf("expected 1 allowed and 1 limited notification, got %+v", sink)
	}
}
