// Package registry is a small typed container for process-wide services
// such as cache engines. It is filled once at startup, frozen, and then only
// read; it is passed around explicitly (or through a context.Context)
// instead of living in a package-level global.
package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var (
	ErrFrozen    = errors.New("registry: frozen")
	ErrDuplicate = errors.New("registry: already provided")
	ErrMissing   = errors.New("registry: not provided")
)

type Registry struct {
	mu     sync.RWMutex
	items  map[reflect.Type]any
	frozen bool
}

func New() *Registry {
	return &Registry{items: make(map[reflect.Type]any)}
}

// Provide registers v as the instance of T. Each type can be provided once,
// and only before Freeze.
func Provide[T any](r *Registry, v T) error {
	t := reflect.TypeFor[T]()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("%w: cannot provide %s", ErrFrozen, t)
	}
	if _, ok := r.items[t]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, t)
	}
	r.items[t] = v
	return nil
}

// Lookup returns the instance of T. The type must match exactly: providing
// a *local.Store does not satisfy a lookup of kvcache.Cache.
func Lookup[T any](r *Registry) (T, error) {
	t := reflect.TypeFor[T]()
	r.mu.RLock()
	v, ok := r.items[t]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrMissing, t)
	}
	out, _ := v.(T) // nil interface values were provided as such
	return out, nil
}

// MustLookup is Lookup for wiring code where a missing service is a bug.
func MustLookup[T any](r *Registry) T {
	v, err := Lookup[T](r)
	if err != nil {
		panic(err)
	}
	return v
}

// Freeze makes the registry read-only. It is idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Types lists the provided types, sorted, for diagnostics.
func (r *Registry) Types() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.items))
	for t := range r.items {
		out = append(out, t.String())
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

type ctxKey struct{}

func WithContext(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, ctxKey{}, r)
}

// FromContext returns the registry carried by ctx, if any.
func FromContext(ctx context.Context) (*Registry, bool) {
	r, ok := ctx.Value(ctxKey{}).(*Registry)
	return r, ok && r != nil
}
