// Package accessrl is the small public facade for the distributed access
// rate limiter: context helpers an upstream auth/router middleware uses to
// hand the limiter what it needs, plus the middleware constructor itself.
package accessrl

import (
	"context"

	"github.com/elfnet/accessrl/internal/ctxkey"
)

// Principal is the caller identity an upstream auth middleware attaches to
// the request context. The "user"/"sub"/"claim:<type>" key resolvers and the
// policy-level AuthenticatedWhen predicate read from it.
type Principal struct {
	Authenticated bool
	Claims        map[string]string
}

// WithPrincipal attaches a Principal to ctx for the rate limiter to read.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxkey.PrincipalKey{}, p)
}

// PrincipalFromContext retrieves the Principal attached by WithPrincipal.
// Returns the zero Principal (unauthenticated, no claims) and false if none
// was attached.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxkey.PrincipalKey{}).(Principal)
	return p, ok
}

// EndpointMetadata is the per-endpoint rate-limit metadata a router
// middleware attaches to the request context: which policy applies, and
// optional scope/cost overrides.
type EndpointMetadata struct {
	// PolicyName selects the policy by name. Empty defers to the provider's
	// default policy.
	PolicyName string
	// Scope overrides the resolved bucket scope when non-empty.
	Scope string
	// Cost overrides the policy's effective cost when > 0.
	Cost int
	// RoutePattern is the endpoint's route template text (e.g.
	// "/v1/exports/{id}"), used as a bucket scope when neither Scope nor
	// the policy's SharedBucket is set.
	RoutePattern string
	// DisplayName is a human-readable endpoint name, the last scope
	// fallback before the literal "unknown".
	DisplayName string
}

// WithEndpointMetadata attaches EndpointMetadata to ctx. Later calls within
// the same request (e.g. nested routers) win: the Decision Driver reads the
// innermost-attached value.
func WithEndpointMetadata(ctx context.Context, m EndpointMetadata) context.Context {
	return context.WithValue(ctx, ctxkey.EndpointMetadataKey{}, m)
}

// EndpointMetadataFromContext retrieves the EndpointMetadata attached by
// WithEndpointMetadata.
func EndpointMetadataFromContext(ctx context.Context) (EndpointMetadata, bool) {
	m, ok := ctx.Value(ctxkey.EndpointMetadataKey{}).(EndpointMetadata)
	return m, ok
}
