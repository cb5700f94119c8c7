package util

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Prefix joins non-empty namespace parts with ':' and appends a trailing
// separator, e.g. Prefix("app", "users") == "app:users:". Empty parts are
// skipped; all-empty yields "".
func Prefix(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.TrimSuffix(p, ":"))
		b.WriteByte(':')
	}
	return b.String()
}

// Stripe maps key onto one of n lock stripes.
func Stripe(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}
