// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with the request_id field.
type LoggerKey struct{}

// PrincipalKey is the context key type for the caller's authenticated
// identity, populated by an auth middleware upstream of the rate limiter.
type PrincipalKey struct{}

// EndpointMetadataKey is the context key type for per-endpoint rate-limit
// metadata (policy name, scope override, cost override), populated by a
// router middleware upstream of the rate limiter.
type EndpointMetadataKey struct{}
