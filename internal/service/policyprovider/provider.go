// Package policyprovider is the Policy Provider: it turns the raw,
// configured policy list into an immutable, lock-free-readable snapshot of
// compiled ratelimit.Policy values, and republishes that snapshot
// atomically whenever the configuration changes.
package policyprovider

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	celeval "github.com/elfnet/accessrl/internal/adapter/outbound/cel"
	"github.com/elfnet/accessrl/internal/domain/ratelimit"
)

// snapshot is the immutable published state. Readers always see either the
// whole old snapshot or the whole new one, never a torn mix.
type snapshot struct {
	policiesByName map[string]ratelimit.Policy
	defaultName    string
	contentHash    uint64
}

// Provider implements the Policy Provider. Lookups (GetPolicy/GetDefault)
// are lock-free atomic.Value reads; Load/Reload take a brief mutex only
// around the final publish so concurrent reloads cannot interleave.
type Provider struct {
	evaluator *celeval.Evaluator
	snap      atomic.Value // *snapshot
	mu        sync.Mutex
	logger    *slog.Logger
}

// New constructs a Provider with no published snapshot. Call Load once
// during startup before serving any requests.
func New(logger *slog.Logger) (*Provider, error) {
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("policyprovider: create CEL evaluator: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{evaluator: evaluator, logger: logger}, nil
}

// Load builds and publishes the first snapshot. Unlike Reload, any
// normalization failure here is returned for the caller to treat as fatal
// at registration — there is no "last good snapshot" to fall back to yet.
func (p *Provider) Load(specs []PolicySpec, defaultName string) error {
	snap, err := p.build(specs, defaultName, 0)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.snap.Store(snap)
	p.mu.Unlock()
	return nil
}

// Reload rebuilds the snapshot from a new configuration payload. rawConfig
// is the raw bytes backing specs, used only for content-change
// deduplication (debounced duplicate fsnotify events, editors that rewrite
// a file with identical content never trigger a rebuild). On a
// normalization failure, the previous snapshot keeps serving and the error
// is returned for the caller to log — this is the live-reconfiguration form
// of "configuration errors are fatal at registration": fatal the first
// time, rejected-but-non-fatal on every reload after.
func (p *Provider) Reload(rawConfig []byte, specs []PolicySpec, defaultName string) error {
	hash := xxhash.Sum64(rawConfig)

	if prev, ok := p.current(); ok && prev.contentHash == hash {
		p.logger.Debug("policyprovider: reload skipped, content unchanged")
		return nil
	}

	snap, err := p.build(specs, defaultName, hash)
	if err != nil {
		p.logger.Error("policyprovider: reload rejected, keeping last good snapshot", "error", err)
		return err
	}

	p.mu.Lock()
	p.snap.Store(snap)
	p.mu.Unlock()

	p.logger.Info("policyprovider: reloaded", "policies", len(snap.policiesByName), "default", snap.defaultName)
	return nil
}

func (p *Provider) build(specs []PolicySpec, defaultName string, hash uint64) (*snapshot, error) {
	policies := make(map[string]ratelimit.Policy, len(specs))
	for _, spec := range specs {
		policy, err := normalize(p.evaluator, spec)
		if err != nil {
			return nil, err
		}
		policies[strings.ToLower(policy.Name)] = policy
	}
	return &snapshot{
		policiesByName: policies,
		defaultName:    strings.ToLower(defaultName),
		contentHash:    hash,
	}, nil
}

func (p *Provider) current() (*snapshot, bool) {
	v := p.snap.Load()
	if v == nil {
		return nil, false
	}
	return v.(*snapshot), true
}

// CompilePredicate compiles a CEL boolean expression against the provider's
// shared evaluator environment. Used for the options-level global exemption
// predicate, which lives outside any one policy's normalization.
func (p *Provider) CompilePredicate(expr string) (ratelimit.Predicate, error) {
	return celeval.CompilePredicate(p.evaluator, expr)
}

// GetPolicy looks up a policy by case-insensitive name. A missing policy is
// not an error: the Decision Driver treats it as "no limiting applies".
func (p *Provider) GetPolicy(name string) (ratelimit.Policy, bool) {
	snap, ok := p.current()
	if !ok {
		return ratelimit.Policy{}, false
	}
	policy, ok := snap.policiesByName[strings.ToLower(name)]
	return policy, ok
}

// GetDefault looks up the configured default policy. Returns false if no
// default name was configured or it does not resolve to a known policy.
func (p *Provider) GetDefault() (ratelimit.Policy, bool) {
	snap, ok := p.current()
	if !ok || snap.defaultName == "" {
		return ratelimit.Policy{}, false
	}
	policy, ok := snap.policiesByName[snap.defaultName]
	return policy, ok
}

// Policies returns every policy in the currently published snapshot keyed
// by its lower-cased name, plus the configured default name. Intended for
// the admin inspect endpoint; returns an empty map and "" if nothing has
// been published yet.
func (p *Provider) Policies() (map[string]ratelimit.Policy, string) {
	snap, ok := p.current()
	if !ok {
		return map[string]ratelimit.Policy{}, ""
	}
	out := make(map[string]ratelimit.Policy, len(snap.policiesByName))
	for k, v := range snap.policiesByName {
		out[k] = v
	}
	return out, snap.defaultName
}
