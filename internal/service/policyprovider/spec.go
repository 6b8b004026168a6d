package policyprovider

import (
	"time"

	"github.com/elfnet/accessrl/internal/domain/ratelimit"
)

// PolicySpec is the pre-normalization shape of a configured policy, as
// decoded from YAML/env by internal/config. Exactly one of Limit+Window or
// one of the LimitPerX convenience fields should be set; Normalize
// materializes whichever is present into Limit/Window.
type PolicySpec struct {
	Name   string
	Limit  int
	Window time.Duration

	LimitPerSecond int
	LimitPerMinute int
	LimitPerHour   int

	Cost                 int
	AuthenticatedLimit   int
	AnonymousLimit       int
	AuthenticatedHeaders []string
	SharedBucket         string

	// KeyResolvers is an ordered list of resolver specs ("ip", "api-key",
	// "claim:tenant", ...). Empty defaults to ["ip"].
	KeyResolvers []string

	// Resolver is an explicit resolver capability supplied programmatically
	// by embedding callers. Takes precedence over KeyResolvers when set.
	Resolver ratelimit.KeyResolver

	// CostResolver computes a dynamic per-request cost. Only settable
	// programmatically; nil means the static Cost applies.
	CostResolver ratelimit.CostResolver

	Penalty PenaltySpec

	// Enabled is the policy kill-switch. internal/config defaults this to
	// true when the key is absent from YAML.
	Enabled bool

	ExemptWhen        string
	AuthenticatedWhen string
}

// PenaltySpec is the pre-normalization shape of a policy's escalating-block
// configuration.
type PenaltySpec struct {
	Enabled         bool
	ViolationWindow time.Duration
	Penalties       []time.Duration
}
