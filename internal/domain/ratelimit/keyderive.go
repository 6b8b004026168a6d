package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// KeyHash returns the hex-encoded SHA-256 digest of a caller key. This is
// the "key fingerprint" used in store keys and logs — never the raw key,
// which may be a PII-bearing value such as an email claim.
func KeyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// SanitizeScope replaces every byte that is whitespace, a control
// character, ':', '|', '/', '\', or non-ASCII with '_'. An empty result
// becomes "default". This keeps scope strings safe to embed unescaped in
// the colon-delimited store key format.
func SanitizeScope(scope string) string {
	if scope == "" {
		return "default"
	}
	out := make([]byte, len(scope))
	sanitized := false
	for i := 0; i < len(scope); i++ {
		b := scope[i]
		switch {
		case b < 0x20 || b == 0x7f: // control characters
			out[i] = '_'
			sanitized = true
		case b > 0x7e: // non-ASCII byte
			out[i] = '_'
			sanitized = true
		case b == ' ', b == '\t', b == ':', b == '|', b == '/', b == '\\':
			out[i] = '_'
			sanitized = true
		default:
			out[i] = b
		}
	}
	if !sanitized {
		if scope == "" {
			return "default"
		}
		return scope
	}
	s := string(out)
	if s == "" {
		return "default"
	}
	return s
}

// StoreKeys returns the three stable store keys for a (policy, scope,
// keyHash) triple, given a configured prefix (e.g. "elf:accessrl").
func StoreKeys(prefix, policyName, scopeKey, keyHash string) (bucket, block, viol string) {
	bucket = fmt.Sprintf("%s:bucket:%s:%s:%s", prefix, policyName, scopeKey, keyHash)
	block = fmt.Sprintf("%s:block:%s:%s:%s", prefix, policyName, scopeKey, keyHash)
	viol = fmt.Sprintf("%s:viol:%s:%s:%s", prefix, policyName, scopeKey, keyHash)
	return bucket, block, viol
}
