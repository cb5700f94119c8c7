package kvcache

import (
	"context"
	"time"
)

// Cache is the capability contract shared by every backend.
// Implementations must be safe for concurrent use and must return exactly the
// bytes passed to Set (no framing leaks, no mutation visible to callers).
type Cache interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	// An expired entry is a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores or overwrites key, (re)setting its TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Remove deletes key and reports whether a live entry was removed.
	Remove(ctx context.Context, key string) (bool, error)

	// Touch updates the TTL of a live entry without rewriting its value.
	// It returns false when key is absent or expired.
	Touch(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Pop atomically reads and removes key.
	Pop(ctx context.Context, key string) ([]byte, bool, error)

	// Replace overwrites key only if a live entry exists and returns the
	// previous value. ttl may be KeepTTL to preserve the current expiry.
	Replace(ctx context.Context, key string, value []byte, ttl time.Duration) (old []byte, ok bool, err error)

	// Close releases resources held by the store.
	Close(ctx context.Context) error
}
