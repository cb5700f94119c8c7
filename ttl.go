package kvcache

import "time"

const (
	// NoExpiration marks an entry that never expires on its own.
	NoExpiration time.Duration = -1
	// DefaultExpiration asks the store to apply its configured default TTL.
	DefaultExpiration time.Duration = -2
	// KeepTTL is only meaningful for Replace: the previous expiry is kept.
	// Elsewhere it behaves like DefaultExpiration.
	KeepTTL time.Duration = -3
)

// ResolveTTL maps the sentinel TTLs onto a concrete value: NoExpiration,
// 0 (already expired) or a positive duration. Replace must check for KeepTTL
// before resolving.
func ResolveTTL(ttl, def time.Duration) time.Duration {
	switch {
	case ttl == DefaultExpiration || ttl == KeepTTL:
		if def > 0 {
			return def
		}
		return NoExpiration
	case ttl < 0:
		return NoExpiration
	default:
		return ttl
	}
}

// ExpiresAt returns the absolute expiry for a resolved ttl.
// The zero time means "never".
func ExpiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl < 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Live reports whether an entry with the given expiry is still visible at now.
func Live(expiresAt, now time.Time) bool {
	return expiresAt.IsZero() || now.Before(expiresAt)
}
