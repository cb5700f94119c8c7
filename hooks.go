package kvcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// Stores call them on hot paths, sometimes while holding internal locks.
type Hooks interface {
	// An entry was evicted to satisfy a capacity bound.
	Evicted(key string)

	// An expired entry was purged (on read or by a sweep).
	Expired(key string)

	// Stored bytes could not be decoded.
	DecodeFailed(key string, err error)

	// A remote operation failed with a backend-unavailable error.
	Unavailable(op string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Evicted(string)             {}
func (NopHooks) Expired(string)             {}
func (NopHooks) DecodeFailed(string, error) {}
func (NopHooks) Unavailable(string, error)  {}
