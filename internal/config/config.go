// Package config provides configuration types for the access rate limiter.
//
// Configuration is YAML-first with environment variable overrides, following
// the dual yaml/mapstructure tag convention so the same struct decodes from
// either source via spf13/viper.
package config

import "github.com/spf13/viper"

// Config is the top-level configuration for the accessrl server.
type Config struct {
	// Server configures the HTTP listener the Response Shaper's middleware
	// and the admin/health/metrics endpoints are served from.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// RateLimit configures the Policy Provider, Store Core, and Decision
	// Driver: the Redis connection, the default fail-open/fail-closed
	// posture, and the named policy set.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Admin configures the reload/inspect endpoint.
	Admin AdminConfig `yaml:"admin" mapstructure:"admin"`

	// Tracing configures the OpenTelemetry tracer wired into the Decision
	// Driver.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// DevMode enables permissive defaults for local development (see
	// SetDevDefaults).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// MetricsAddr is validated as host:port but not read by the serve
	// command, which mounts /metrics on HTTPAddr; no separate metrics
	// listener is started.
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
}

// RateLimitConfig configures the rate limiter's core: where the shared
// token-bucket state lives and which policies apply.
type RateLimitConfig struct {
	// Enabled turns the rate limiter on or off at the process level. When
	// false, the middleware forwards every request unconditionally.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// RedisAddr is the address of the shared Redis instance (e.g.,
	// "127.0.0.1:6379"). Required when Enabled.
	RedisAddr string `yaml:"redis_addr" mapstructure:"redis_addr" validate:"required_if=Enabled true,omitempty,hostname_port"`

	// RedisDB selects the logical Redis database index.
	RedisDB int `yaml:"redis_db" mapstructure:"redis_db" validate:"omitempty,min=0"`

	// KeyPrefix namespaces every store key this instance writes.
	// Defaults to "elf:accessrl" if empty.
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`

	// FailOpen controls the store-failure policy: true (default) lets
	// requests through on a Redis outage, false surfaces a 5xx.
	FailOpen bool `yaml:"fail_open" mapstructure:"fail_open"`

	// DefaultPolicy names the policy applied when an endpoint declares no
	// explicit policy. Must reference an entry in Policies when set.
	DefaultPolicy string `yaml:"default_policy" mapstructure:"default_policy"`

	// ExemptWhen is a CEL expression evaluated for every request in
	// addition to each policy's own exempt_when; true bypasses limiting.
	ExemptWhen string `yaml:"exempt_when" mapstructure:"exempt_when"`

	// AuthenticatedWhen is a CEL expression that marks a request as
	// authenticated for limit selection, consulted after a policy's own
	// authenticated_when and before the caller-attached Principal.
	AuthenticatedWhen string `yaml:"authenticated_when" mapstructure:"authenticated_when"`

	// Policies is the named set of rate-limit rules.
	Policies []PolicyConfig `yaml:"policies" mapstructure:"policies" validate:"omitempty,dive"`
}

// PolicyConfig defines one named rate-limit rule. Exactly one of Limit+Window
// or one of LimitPerSecond/LimitPerMinute/LimitPerHour should be set; Limit+
// Window wins if both are present.
type PolicyConfig struct {
	// Name is the unique, case-insensitive lookup key for this policy.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Limit is the bucket capacity. Used together with Window; prefer the
	// limit_per_* shorthand fields below for the common cases.
	Limit int `yaml:"limit" mapstructure:"limit" validate:"omitempty,min=1"`

	// Window is the refill period for Limit (e.g. "10s", "1m").
	Window string `yaml:"window" mapstructure:"window" validate:"omitempty,duration"`

	// LimitPerSecond/Minute/Hour are shorthand for Limit+Window using a
	// one-second/minute/hour window. The first non-zero one (checked in
	// that order) wins when Limit/Window are both unset.
	LimitPerSecond int `yaml:"limit_per_second" mapstructure:"limit_per_second" validate:"omitempty,min=1"`
	LimitPerMinute int `yaml:"limit_per_minute" mapstructure:"limit_per_minute" validate:"omitempty,min=1"`
	LimitPerHour   int `yaml:"limit_per_hour" mapstructure:"limit_per_hour" validate:"omitempty,min=1"`

	// Cost is the token cost per request. Defaults to 1.
	Cost int `yaml:"cost" mapstructure:"cost" validate:"omitempty,min=1"`

	// AuthenticatedLimit/AnonymousLimit override the resolved limit based
	// on caller authentication state, when > 0.
	AuthenticatedLimit int `yaml:"authenticated_limit" mapstructure:"authenticated_limit" validate:"omitempty,min=1"`
	AnonymousLimit     int `yaml:"anonymous_limit" mapstructure:"anonymous_limit" validate:"omitempty,min=1"`

	// AuthenticatedHeaders are header names whose presence signals an
	// authenticated caller, consulted after AuthenticatedWhen/Principal.
	AuthenticatedHeaders []string `yaml:"authenticated_headers" mapstructure:"authenticated_headers"`

	// SharedBucket, when set, replaces the route-derived scope, so every
	// endpoint using this policy shares one token bucket per caller. Store
	// keys still include the policy name: two policies with the same
	// SharedBucket value keep separate buckets.
	SharedBucket string `yaml:"shared_bucket" mapstructure:"shared_bucket"`

	// KeyResolvers is an ordered list of resolver specs ("ip", "user",
	// "sub", "claim:<type>", "api-key", "client-id", "header:<name>").
	// Multiple entries compose; empty defaults to ["ip"].
	KeyResolvers []string `yaml:"key_resolvers" mapstructure:"key_resolvers"`

	// KeyStrategy is the comma-separated shorthand for KeyResolvers (e.g.
	// "api-key,ip"). Ignored when KeyResolvers is set.
	KeyStrategy string `yaml:"key_strategy" mapstructure:"key_strategy"`

	// Enabled is the policy kill-switch. Defaults to true; set explicitly
	// to false to disable without removing the entry.
	Enabled *bool `yaml:"enabled" mapstructure:"enabled"`

	// ExemptWhen/AuthenticatedWhen are CEL expressions compiled once at
	// load time. Empty compiles to an always-false predicate.
	ExemptWhen        string `yaml:"exempt_when" mapstructure:"exempt_when"`
	AuthenticatedWhen string `yaml:"authenticated_when" mapstructure:"authenticated_when"`

	// Penalty configures escalating blocks after repeated denials.
	Penalty PenaltyConfig `yaml:"penalty" mapstructure:"penalty"`
}

// PenaltyConfig describes the escalating-block behavior applied after
// repeated denials within a sliding violation window.
type PenaltyConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// ViolationWindow is the sliding period during which denials
	// accumulate (e.g. "30s").
	ViolationWindow string `yaml:"violation_window" mapstructure:"violation_window" validate:"omitempty,duration"`

	// Penalties is P[1..n]: the block duration strings selected by the
	// k-th violation within ViolationWindow (e.g. ["2s", "5s", "15s"]).
	Penalties []string `yaml:"penalties" mapstructure:"penalties" validate:"omitempty,dive,duration"`
}

// AdminConfig configures the /admin/policy reload endpoint.
type AdminConfig struct {
	// Enabled turns the admin endpoint on or off. Defaults to false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// TokenHash is the argon2id hash of the bearer token required to call
	// the admin endpoint. Required when Enabled.
	TokenHash string `yaml:"token_hash" mapstructure:"token_hash" validate:"required_if=Enabled true"`
}

// TracingConfig configures the OpenTelemetry tracer.
type TracingConfig struct {
	// Enabled turns on the stdout-exporting tracer. Defaults to false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// ServiceName is the resource attribute reported on every span.
	// Defaults to "accessrl" if empty.
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
}

// SetDevDefaults applies permissive defaults for development mode. Applied
// BEFORE validation so a bare "dev_mode: true" config is enough to run.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "debug"
	}
	if len(c.RateLimit.Policies) == 0 {
		allowAll := true
		c.RateLimit.Policies = []PolicyConfig{
			{
				Name:           "dev-default",
				LimitPerMinute: 600,
				Enabled:        &allowAll,
			},
		}
		c.RateLimit.DefaultPolicy = "dev-default"
	}
}

// SetDefaults applies sensible default values to the configuration. Only
// touches fields the user left at their zero value; viper.IsSet
// distinguishes "not set" from "explicitly zero/false" for bools.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.RateLimit.RedisAddr == "" {
		c.RateLimit.RedisAddr = "127.0.0.1:6379"
	}
	if c.RateLimit.KeyPrefix == "" {
		c.RateLimit.KeyPrefix = "elf:accessrl"
	}
	if !viper.IsSet("rate_limit.fail_open") {
		c.RateLimit.FailOpen = true
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "accessrl"
	}
}
