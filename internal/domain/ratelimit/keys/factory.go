package keys

import (
	"fmt"
	"strings"

	"github.com/elfnet/accessrl/internal/domain/ratelimit"
)

// Compile parses an ordered list of key-resolver specs into a single
// resolver: one spec compiles to itself, several compile to a Composite.
// Unknown specs are a fatal configuration error naming the offending spec.
// Specs are parsed once, at policy normalization time, never re-parsed per
// request.
func Compile(specs []string) (ratelimit.KeyResolver, error) {
	if len(specs) == 0 {
		return IP, nil
	}
	resolvers := make([]ratelimit.KeyResolver, 0, len(specs))
	for _, spec := range specs {
		r, err := compileOne(spec)
		if err != nil {
			return nil, err
		}
		resolvers = append(resolvers, r)
	}
	if len(resolvers) == 1 {
		return resolvers[0], nil
	}
	return Composite{Resolvers: resolvers}, nil
}

func compileOne(spec string) (ratelimit.KeyResolver, error) {
	key := strings.ToLower(strings.TrimSpace(spec))
	switch {
	case key == "ip":
		return IP, nil
	case key == "user" || key == "user-id":
		return User, nil
	case key == "sub":
		return Sub, nil
	case key == "api-key":
		return APIKey, nil
	case key == "client-id":
		return ClientID, nil
	case strings.HasPrefix(key, "claim:"):
		claimType := strings.TrimSpace(spec[strings.IndexByte(spec, ':')+1:])
		if claimType == "" {
			return nil, fmt.Errorf("key resolver spec %q: claim: requires a claim type", spec)
		}
		return Claim(claimType), nil
	case strings.HasPrefix(key, "header:"):
		headerName := strings.TrimSpace(spec[strings.IndexByte(spec, ':')+1:])
		if headerName == "" {
			return nil, fmt.Errorf("key resolver spec %q: header: requires a header name", spec)
		}
		return Header(headerName), nil
	default:
		return nil, fmt.Errorf("unknown key resolver spec: %q", spec)
	}
}
