package cel

import (
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// NewRequestEnvironment creates a CEL environment for evaluating a policy's
// "authenticated_when" / "exempt_when" expressions, and the global options-level
// equivalents. Variables exposed mirror the small slice of an inbound HTTP
// request that a rate-limit gate needs to reason about; nothing about the
// request body or downstream routing is exposed.
func NewRequestEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),

		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("identity", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// RequestActivation is the CEL activation shape for request/identity predicates.
type RequestActivation struct {
	Path                  string
	Method                string
	Headers               map[string]string
	IdentityAuthenticated bool
	IdentityClaims        map[string]string
}

// BuildActivation converts a RequestActivation into the map[string]any shape
// cel.Program.ContextEval expects.
func BuildActivation(a RequestActivation) map[string]any {
	headers := a.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	claims := a.IdentityClaims
	if claims == nil {
		claims = map[string]string{}
	}
	return map[string]any{
		"request": map[string]any{
			"path":    a.Path,
			"method":  a.Method,
			"headers": headers,
		},
		"identity": map[string]any{
			"authenticated": a.IdentityAuthenticated,
			"claims":        claims,
		},
	}
}
