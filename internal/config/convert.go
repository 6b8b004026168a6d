package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/elfnet/accessrl/internal/service/policyprovider"
)

// PolicySpecs converts the configured rate-limit policies into the
// Policy Provider's pre-normalization shape. Returns the default policy
// name alongside the specs for Provider.Load/Reload.
func (c *Config) PolicySpecs() ([]policyprovider.PolicySpec, string, error) {
	specs := make([]policyprovider.PolicySpec, 0, len(c.RateLimit.Policies))
	for _, p := range c.RateLimit.Policies {
		spec, err := p.toSpec()
		if err != nil {
			return nil, "", fmt.Errorf("policy %q: %w", p.Name, err)
		}
		specs = append(specs, spec)
	}
	return specs, c.RateLimit.DefaultPolicy, nil
}

func (p PolicyConfig) toSpec() (policyprovider.PolicySpec, error) {
	window, err := parseOptionalDuration(p.Window)
	if err != nil {
		return policyprovider.PolicySpec{}, fmt.Errorf("window: %w", err)
	}

	penalty, err := p.Penalty.toSpec()
	if err != nil {
		return policyprovider.PolicySpec{}, err
	}

	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}

	resolvers := p.KeyResolvers
	if len(resolvers) == 0 && p.KeyStrategy != "" {
		for _, spec := range strings.Split(p.KeyStrategy, ",") {
			if spec = strings.TrimSpace(spec); spec != "" {
				resolvers = append(resolvers, spec)
			}
		}
	}

	return policyprovider.PolicySpec{
		Name:                 p.Name,
		Limit:                p.Limit,
		Window:               window,
		LimitPerSecond:       p.LimitPerSecond,
		LimitPerMinute:       p.LimitPerMinute,
		LimitPerHour:         p.LimitPerHour,
		Cost:                 p.Cost,
		AuthenticatedLimit:   p.AuthenticatedLimit,
		AnonymousLimit:       p.AnonymousLimit,
		AuthenticatedHeaders: p.AuthenticatedHeaders,
		SharedBucket:         p.SharedBucket,
		KeyResolvers:         resolvers,
		Penalty:              penalty,
		Enabled:              enabled,
		ExemptWhen:           p.ExemptWhen,
		AuthenticatedWhen:    p.AuthenticatedWhen,
	}, nil
}

func (p PenaltyConfig) toSpec() (policyprovider.PenaltySpec, error) {
	window, err := parseOptionalDuration(p.ViolationWindow)
	if err != nil {
		return policyprovider.PenaltySpec{}, fmt.Errorf("penalty.violation_window: %w", err)
	}

	durations := make([]time.Duration, 0, len(p.Penalties))
	for i, raw := range p.Penalties {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return policyprovider.PenaltySpec{}, fmt.Errorf("penalty.penalties[%d]: %w", i, err)
		}
		durations = append(durations, d)
	}

	return policyprovider.PenaltySpec{
		Enabled:         p.Enabled,
		ViolationWindow: window,
		Penalties:       durations,
	}, nil
}

func parseOptionalDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}
