package kvcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/kvcache/codec"
)

// LoaderFunc produces the value for a missing key in GetOrSet.
type LoaderFunc[V any] func(ctx context.Context) (V, error)

type TypedOptions struct {
	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used
}

// Typed layers a Codec over a Cache. It is safe for concurrent use and holds
// no state of its own besides the in-flight GetOrSet loads.
type Typed[V any] struct {
	cache Cache
	codec codec.Codec[V]
	log   Logger
	hooks Hooks
	sf    singleflight.Group
}

func NewTyped[V any](c Cache, cd codec.Codec[V], opts TypedOptions) (*Typed[V], error) {
	if c == nil {
		return nil, fmt.Errorf("kvcache: cache is required")
	}
	if cd == nil {
		return nil, fmt.Errorf("kvcache: codec is required")
	}
	return &Typed[V]{
		cache: c,
		codec: cd,
		log:   Coalesce[Logger](opts.Logger, NopLogger{}),
		hooks: Coalesce[Hooks](opts.Hooks, NopHooks{}),
	}, nil
}

// Cache returns the underlying byte store.
func (t *Typed[V]) Cache() Cache { return t.cache }

func (t *Typed[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	raw, ok, err := t.cache.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, t.observe("get", key, err)
	}
	v, err := t.decode(key, raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (t *Typed[V]) Set(ctx context.Context, key string, v V, ttl time.Duration) error {
	b, err := t.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("kvcache: encode %q: %w", key, err)
	}
	return t.observe("set", key, t.cache.Set(ctx, key, b, ttl))
}

func (t *Typed[V]) Remove(ctx context.Context, key string) (bool, error) {
	ok, err := t.cache.Remove(ctx, key)
	return ok, t.observe("remove", key, err)
}

func (t *Typed[V]) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := t.cache.Touch(ctx, key, ttl)
	return ok, t.observe("touch", key, err)
}

// Pop removes key and returns its decoded value. The entry is gone even when
// decoding fails.
func (t *Typed[V]) Pop(ctx context.Context, key string) (V, bool, error) {
	var zero V
	raw, ok, err := t.cache.Pop(ctx, key)
	if err != nil || !ok {
		return zero, false, t.observe("pop", key, err)
	}
	v, err := t.decode(key, raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Replace overwrites a live entry and returns its previous value. When the
// previous bytes cannot be decoded the write still happened: ok is true and
// err is a *DecodeError.
func (t *Typed[V]) Replace(ctx context.Context, key string, v V, ttl time.Duration) (V, bool, error) {
	var zero V
	b, err := t.codec.Encode(v)
	if err != nil {
		return zero, false, fmt.Errorf("kvcache: encode %q: %w", key, err)
	}
	raw, ok, err := t.cache.Replace(ctx, key, b, ttl)
	if err != nil || !ok {
		return zero, false, t.observe("replace", key, err)
	}
	old, err := t.decode(key, raw)
	if err != nil {
		return zero, true, err
	}
	return old, true, nil
}

// GetOrSet returns the cached value for key, or runs load, stores its result
// with ttl and returns it. Concurrent callers for the same key share one load.
//
// Unreadable cached bytes are treated as stale and overwritten by a fresh
// load. Backend errors are returned to the caller without calling load.
// A failed write after a successful load is logged and the loaded value is
// still returned.
func (t *Typed[V]) GetOrSet(ctx context.Context, key string, ttl time.Duration, load LoaderFunc[V]) (V, error) {
	var zero V
	v, ok, err := t.Get(ctx, key)
	switch {
	case err == nil && ok:
		return v, nil
	case err != nil && !errors.Is(err, ErrDecode):
		return zero, err
	}

	res, err, shared := t.sf.Do(key, func() (any, error) {
		// another flight may have filled the key while we waited
		if v, ok, err := t.Get(ctx, key); err == nil && ok {
			return v, nil
		} else if err != nil && !errors.Is(err, ErrDecode) {
			return zero, err
		}
		v, err := load(ctx)
		if err != nil {
			return zero, err
		}
		if err := t.Set(ctx, key, v, ttl); err != nil {
			t.log.Warn("GetOrSet: store loaded value failed", Fields{"key": key, "err": err})
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	if shared {
		t.log.Debug("GetOrSet: shared in-flight load", Fields{"key": key})
	}
	v, _ = res.(V)
	return v, nil
}

func (t *Typed[V]) decode(key string, raw []byte) (V, error) {
	v, err := t.codec.Decode(raw)
	if err != nil {
		t.hooks.DecodeFailed(key, err)
		return v, &DecodeError{Key: key, Err: err}
	}
	return v, nil
}

// observe reports store errors to the hooks and passes err through.
func (t *Typed[V]) observe(op, key string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrDecode):
		t.hooks.DecodeFailed(key, err)
	case errors.Is(err, ErrUnavailable):
		t.hooks.Unavailable(op, err)
	}
	return err
}
