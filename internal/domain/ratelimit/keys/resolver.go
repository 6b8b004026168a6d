// Package keys implements the key resolver pipeline: built-in resolvers
// that map an inbound request to a stable caller identity string, the
// composite resolver that joins several of them, and a factory that
// compiles string specs (parsed once, at policy normalization time, never
// re-parsed per request).
package keys

import (
	"context"
	"net"
	"strings"

	"github.com/elfnet/accessrl/internal/domain/ratelimit"
)

// resolverFunc adapts a plain function to ratelimit.KeyResolver. None of
// the built-ins perform I/O, so the context is accepted and ignored.
type resolverFunc func(ratelimit.RequestContext) (string, bool)

func (f resolverFunc) Resolve(_ context.Context, rc ratelimit.RequestContext) (string, bool) {
	return f(rc)
}

// IP resolves the caller's address: the first parseable address from
// X-Forwarded-For, then X-Real-IP, falling back to the transport-level
// remote address. X-Forwarded-For is comma-split and trimmed; bracketed
// IPv6 literals have their brackets stripped; a trailing ":port" is
// stripped only when the remainder has exactly one colon and contains a
// dot (i.e. it looks like "host:port" for an IPv4-shaped host, never a
// bare IPv6 address, which has many colons and no brackets to disambiguate).
var IP ratelimit.KeyResolver = resolverFunc(resolveIP)

func resolveIP(rc ratelimit.RequestContext) (string, bool) {
	if xff := rc.Headers["X-Forwarded-For"]; xff != "" {
		for _, candidate := range strings.Split(xff, ",") {
			candidate = strings.TrimSpace(candidate)
			if ip := normalizeAddr(candidate); ip != "" && net.ParseIP(ip) != nil {
				return ip, true
			}
		}
	}
	if xri := rc.Headers["X-Real-Ip"]; xri != "" {
		if ip := normalizeAddr(strings.TrimSpace(xri)); ip != "" && net.ParseIP(ip) != nil {
			return ip, true
		}
	}
	if ip := normalizeAddr(rc.RemoteAddr); ip != "" {
		return ip, true
	}
	return "", false
}

// normalizeAddr strips "[...]" IPv6 brackets and a trailing ":port" (only
// when unambiguous) from a single address candidate.
func normalizeAddr(addr string) string {
	if addr == "" {
		return ""
	}
	if strings.HasPrefix(addr, "[") {
		if end := strings.IndexByte(addr, ']'); end != -1 {
			return addr[1:end]
		}
		return addr
	}
	if strings.Count(addr, ":") == 1 && strings.Contains(addr, ".") {
		host, _, err := net.SplitHostPort(addr)
		if err == nil {
			return host
		}
	}
	return addr
}

// claimResolver builds a resolver reading a single claim type.
func claimResolver(claimType string) ratelimit.KeyResolver {
	return resolverFunc(func(rc ratelimit.RequestContext) (string, bool) {
		if !rc.Authenticated {
			return "", false
		}
		v, ok := rc.Claims[claimType]
		if !ok || v == "" {
			return "", false
		}
		return v, true
	})
}

// User resolves the "NameIdentifier" claim of the authenticated principal.
var User = claimResolver("NameIdentifier")

// Sub resolves the "sub" claim of the authenticated principal.
var Sub = claimResolver("sub")

// Claim builds a resolver for an arbitrary claim type ("claim:<type>").
func Claim(claimType string) ratelimit.KeyResolver { return claimResolver(claimType) }

// headerResolver builds a resolver reading a single header's first value.
func headerResolver(name string) ratelimit.KeyResolver {
	canon := canonicalHeader(name)
	return resolverFunc(func(rc ratelimit.RequestContext) (string, bool) {
		v, ok := rc.Headers[canon]
		if !ok || v == "" {
			return "", false
		}
		return v, true
	})
}

// canonicalHeader mimics http.CanonicalHeaderKey without importing net/http
// into the domain layer: title-case each '-'-delimited segment.
func canonicalHeader(name string) string {
	parts := strings.Split(name, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, "-")
}

// APIKey resolves the X-Api-Key header.
var APIKey = headerResolver("X-Api-Key")

// ClientID resolves the X-Client-Id header.
var ClientID = headerResolver("X-Client-Id")

// Header builds a resolver for an arbitrary header ("header:<name>").
func Header(name string) ratelimit.KeyResolver { return headerResolver(name) }

// Composite invokes each resolver in order, collecting non-empty results
// and joining them with '|'. It is not a fallback chain: every non-empty
// component contributes. Returns ok=false only if every component is empty.
type Composite struct {
	Resolvers []ratelimit.KeyResolver
}

// Resolve implements ratelimit.KeyResolver.
func (c Composite) Resolve(ctx context.Context, rc ratelimit.RequestContext) (string, bool) {
	parts := make([]string, 0, len(c.Resolvers))
	for _, r := range c.Resolvers {
		if v, ok := r.Resolve(ctx, rc); ok && v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "|"), true
}
