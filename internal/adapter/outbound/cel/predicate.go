package cel

import (
	"github.com/google/cel-go/cel"

	"github.com/elfnet/accessrl/internal/domain/ratelimit"
)

// Predicate adapts a compiled CEL program to ratelimit.Predicate, converting
// a RequestContext into the request/identity activation on every call.
type Predicate struct {
	evaluator *Evaluator
	program   cel.Program
	source    string
}

// CompilePredicate compiles a boolean CEL expression into a ratelimit.Predicate.
// An empty expression compiles to ratelimit.AlwaysFalse without invoking the
// evaluator, matching "a nil/empty expression compiles to an always-false
// program".
func CompilePredicate(evaluator *Evaluator, expr string) (ratelimit.Predicate, error) {
	if expr == "" {
		return ratelimit.AlwaysFalse, nil
	}
	prg, err := evaluator.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &Predicate{evaluator: evaluator, program: prg, source: expr}, nil
}

// Evaluate implements ratelimit.Predicate.
func (p *Predicate) Evaluate(rc ratelimit.RequestContext) (bool, error) {
	activation := BuildActivation(RequestActivation{
		Path:                  rc.Path,
		Method:                rc.Method,
		Headers:               rc.Headers,
		IdentityAuthenticated: rc.Authenticated,
		IdentityClaims:        rc.Claims,
	})
	return p.evaluator.Evaluate(p.program, activation)
}

// String returns the source expression, useful for logging compile errors.
func (p *Predicate) String() string { return p.source }
