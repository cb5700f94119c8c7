package kvcache

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode matches every *DecodeError.
	ErrDecode = errors.New("kvcache: decode failed")
	// ErrUnavailable matches every *UnavailableError.
	ErrUnavailable = errors.New("kvcache: backend unavailable")
	// ErrConfig matches every *ConfigError.
	ErrConfig = errors.New("kvcache: invalid configuration")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("kvcache: store closed")
)

// DecodeError reports bytes that are present but cannot be read back,
// e.g. a foreign writer or a value written before a schema change.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("kvcache: decode %q: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// UnavailableError reports a connectivity, pool or timeout failure of a
// remote backend. The store never retries; the caller decides.
type UnavailableError struct {
	Op  string
	Key string
	Err error
}

func (e *UnavailableError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("kvcache: %s: backend unavailable: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("kvcache: %s %q: backend unavailable: %v", e.Op, e.Key, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// ConfigError is returned at construction time only.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("kvcache: config %s: %s: %v", e.Field, e.Reason, e.Err)
	case e.Field != "":
		return fmt.Sprintf("kvcache: config %s: %s", e.Field, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("kvcache: config: %s: %v", e.Reason, e.Err)
	default:
		return fmt.Sprintf("kvcache: config: %s", e.Reason)
	}
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }
