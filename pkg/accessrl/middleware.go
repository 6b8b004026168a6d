package accessrl

import (
	"net/http"
	"strconv"
	"time"

	"github.com/elfnet/accessrl/internal/domain/ratelimit"
	"github.com/elfnet/accessrl/internal/service/decision"
)

// Config holds the Response Shaper's presentation choices: whether to
// attach X-RateLimit-* headers, and how to produce the body of a denied
// response.
type Config struct {
	headersEnabled bool
	body           []byte
	contentType    string
	onRejected     func(w http.ResponseWriter, r *http.Request, d ratelimit.Decision)
	durationSink   DurationRecorder
}

// DurationRecorder receives the wall-clock time of each applied decision
// (policy lookup through the store round-trip), keyed by policy name.
// *http.Metrics satisfies this via its ObserveDecisionDuration method.
type DurationRecorder interface {
	ObserveDecisionDuration(policy string, seconds float64)
}

// Option configures the middleware constructed by NewMiddleware.
type Option func(*Config)

// WithDurationRecorder wires a metrics sink that records how long each
// applied Evaluate call took. Bypassed requests (no policy, exempt, no
// identity) are not timed.
func WithDurationRecorder(rec DurationRecorder) Option {
	return func(c *Config) { c.durationSink = rec }
}

// WithHeaders enables or disables the X-RateLimit-* response headers.
// Enabled by default.
func WithHeaders(enabled bool) Option {
	return func(c *Config) { c.headersEnabled = enabled }
}

// WithDeniedBody sets the literal body and Content-Type written on a 429
// response. Mutually exclusive with WithOnRejected: the last one applied
// wins.
func WithDeniedBody(body []byte, contentType string) Option {
	return func(c *Config) {
		c.body = body
		c.contentType = contentType
		c.onRejected = nil
	}
}

// WithOnRejected sets a custom body writer invoked in place of the
// configured Body/ContentType. Mutually exclusive with WithDeniedBody: the
// last one applied wins. Status and rate-limit headers have already been
// written by the time this is called.
func WithOnRejected(fn func(w http.ResponseWriter, r *http.Request, d ratelimit.Decision)) Option {
	return func(c *Config) { c.onRejected = fn }
}

func defaultConfig() *Config {
	return &Config{
		headersEnabled: true,
		body:           []byte("rate limit exceeded\n"),
		contentType:    "text/plain; charset=utf-8",
	}
}

// NewMiddleware builds the Response Shaper: a net/http middleware that asks
// driver for a decision on every request and translates the result into
// status/headers/body, or forwards the request unchanged on bypass.
func NewMiddleware(driver *decision.Driver, opts ...Option) func(http.Handler) http.Handler {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := buildRequestContext(r)
			meta := endpointMetadata(r)

			start := time.Now()
			d, applied, err := driver.Evaluate(r.Context(), rc, meta)
			if err != nil {
				http.Error(w, "rate limiter unavailable", http.StatusInternalServerError)
				return
			}
			if !applied {
				next.ServeHTTP(w, r)
				return
			}
			if cfg.durationSink != nil {
				cfg.durationSink.ObserveDecisionDuration(d.PolicyName, time.Since(start).Seconds())
			}

			if d.Allowed {
				if cfg.headersEnabled {
					writeHeaders(w, d)
				}
				next.ServeHTTP(w, r)
				return
			}

			if cfg.headersEnabled {
				writeHeaders(w, d)
			}
			w.Header().Set("Retry-After", strconv.Itoa(ceilSeconds(d.RetryAfter)))

			if cfg.onRejected != nil {
				w.WriteHeader(http.StatusTooManyRequests)
				cfg.onRejected(w, r, d)
				return
			}
			// Every header, Content-Type included, must be in place before
			// WriteHeader flushes them.
			if cfg.contentType != "" {
				w.Header().Set("Content-Type", cfg.contentType)
			}
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write(cfg.body)
		})
	}
}

func writeHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.EffectiveLimit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return int(secs)
}

func buildRequestContext(r *http.Request) ratelimit.RequestContext {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	rc := ratelimit.RequestContext{
		Path:       r.URL.Path,
		Method:     r.Method,
		Headers:    headers,
		RemoteAddr: r.RemoteAddr,
	}
	if principal, ok := PrincipalFromContext(r.Context()); ok {
		rc.Authenticated = principal.Authenticated
		rc.Claims = principal.Claims
	}
	return rc
}

func endpointMetadata(r *http.Request) decision.EndpointMetadata {
	meta, ok := EndpointMetadataFromContext(r.Context())
	if !ok {
		return decision.EndpointMetadata{}
	}
	return decision.EndpointMetadata{
		PolicyName:   meta.PolicyName,
		Scope:        meta.Scope,
		Cost:         meta.Cost,
		RoutePattern: meta.RoutePattern,
		DisplayName:  meta.DisplayName,
	}
}
