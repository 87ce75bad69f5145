package eligibility

import (
	"strings"
)

// MinTokenLength rejects values that cannot be real provider tokens.
const MinTokenLength = 30

// ValidTokenFormat is a cheap structural check run before any network call.
// Passing it does not mean the provider will accept the token.
func ValidTokenFormat(token string) bool {
	if strings.TrimSpace(token) == "" || len(token) < MinTokenLength {
		return false
	}
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == ':', r == '-':
		default:
			return false
		}
	}
	return true
}

// MaskToken keeps a short prefix and suffix so log lines can be correlated
// without exposing the token.
func MaskToken(token string) string {
	if token == "" {
		return "<none>"
	}
	if len(token) <= 10 {
		return strings.Repeat("*", len(token))
	}
	return token[:6] + "..." + token[len(token)-4:]
}
