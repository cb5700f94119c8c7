// Package ristretto adapts dgraph-io/ristretto to kvcache.Cache.
//
// Ristretto is a cost-bounded TinyLFU cache: admission is probabilistic, so
// the capacity bound holds but eviction order is not LRU. Writes wait for the
// internal buffer to drain so a Get right after Set observes the value.
package ristretto

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/kvcache"
	"github.com/unkn0wn-root/kvcache/internal/util"
)

const stripes = 64

type Config struct {
	// Capacity is the maximum number of entries (every entry costs 1).
	Capacity int64
	// NumCounters defaults to 10x Capacity as ristretto recommends.
	NumCounters int64
	// BufferItems defaults to 64.
	BufferItems int64
	Metrics     bool

	DefaultTTL time.Duration
	Now        func() time.Time // tests; defaults to time.Now

	Logger kvcache.Logger // if nil, NopLogger is used
	Hooks  kvcache.Hooks  // if nil, NopHooks is used
}

// item is immutable once stored; updates store a new *item.
type item struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type Store struct {
	c          *rc.Cache
	locks      [stripes]sync.Mutex
	defaultTTL time.Duration
	now        func() time.Time
	log        kvcache.Logger
	hooks      kvcache.Hooks
	closed     atomic.Bool
}

var _ kvcache.Cache = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.Capacity < 1 {
		return nil, &kvcache.ConfigError{Field: "capacity", Reason: "must be >= 1 for the ristretto backend"}
	}
	s := &Store{
		defaultTTL: cfg.DefaultTTL,
		now:        cfg.Now,
		log:        kvcache.Coalesce[kvcache.Logger](cfg.Logger, kvcache.NopLogger{}),
		hooks:      kvcache.Coalesce[kvcache.Hooks](cfg.Hooks, kvcache.NopHooks{}),
	}
	if s.now == nil {
		s.now = time.Now
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters:        kvcache.Coalesce(cfg.NumCounters, cfg.Capacity*10),
		MaxCost:            cfg.Capacity,
		BufferItems:        kvcache.Coalesce(cfg.BufferItems, 64),
		Metrics:            cfg.Metrics,
		IgnoreInternalCost: true,
		OnEvict: func(i *rc.Item) {
			if it, ok := i.Value.(*item); ok {
				s.hooks.Evicted(it.key)
			}
		},
	})
	if err != nil {
		return nil, &kvcache.ConfigError{Reason: "ristretto", Err: err}
	}
	s.c = c
	return s, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, kvcache.ErrClosed
	}
	it := s.load(key)
	if it == nil {
		return nil, false, nil
	}
	return bytes.Clone(it.value), true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if s.closed.Load() {
		return kvcache.ErrClosed
	}
	mu := s.lock(key)
	defer mu.Unlock()

	ttl = kvcache.ResolveTTL(ttl, s.defaultTTL)
	if ttl == 0 {
		s.c.Del(key)
		s.c.Wait()
		return nil
	}
	s.store(key, bytes.Clone(value), ttl)
	return nil
}

func (s *Store) Remove(_ context.Context, key string) (bool, error) {
	if s.closed.Load() {
		return false, kvcache.ErrClosed
	}
	mu := s.lock(key)
	defer mu.Unlock()

	live := s.load(key) != nil
	s.c.Del(key)
	return live, nil
}

func (s *Store) Touch(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if s.closed.Load() {
		return false, kvcache.ErrClosed
	}
	mu := s.lock(key)
	defer mu.Unlock()

	it := s.load(key)
	if it == nil {
		return false, nil
	}
	ttl = kvcache.ResolveTTL(ttl, s.defaultTTL)
	if ttl == 0 {
		s.c.Del(key)
		return true, nil
	}
	s.store(key, it.value, ttl)
	return true, nil
}

func (s *Store) Pop(_ context.Context, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, kvcache.ErrClosed
	}
	mu := s.lock(key)
	defer mu.Unlock()

	it := s.load(key)
	s.c.Del(key)
	if it == nil {
		return nil, false, nil
	}
	return bytes.Clone(it.value), true, nil
}

func (s *Store) Replace(_ context.Context, key string, value []byte, ttl time.Duration) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, kvcache.ErrClosed
	}
	mu := s.lock(key)
	defer mu.Unlock()

	it := s.load(key)
	if it == nil {
		return nil, false, nil
	}
	if ttl == kvcache.KeepTTL {
		s.storeUntil(key, bytes.Clone(value), it.expiresAt)
		return bytes.Clone(it.value), true, nil
	}
	ttl = kvcache.ResolveTTL(ttl, s.defaultTTL)
	if ttl == 0 {
		s.c.Del(key)
	} else {
		s.store(key, bytes.Clone(value), ttl)
	}
	return bytes.Clone(it.value), true, nil
}

// Metrics exposes ristretto's counters when Config.Metrics is set.
func (s *Store) Metrics() *rc.Metrics { return s.c.Metrics }

func (s *Store) Close(_ context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.c.Wait()
	s.c.Close()
	return nil
}

func (s *Store) lock(key string) *sync.Mutex {
	mu := &s.locks[util.Stripe(key, stripes)]
	mu.Lock()
	return mu
}

// load returns the live item for key or nil.
func (s *Store) load(key string) *item {
	v, ok := s.c.Get(key)
	if !ok {
		return nil
	}
	it, _ := v.(*item)
	if it == nil {
		// self-heal: drop unexpected entry shape
		s.c.Del(key)
		return nil
	}
	if it.key != key {
		// hash collision: the slot belongs to another key
		return nil
	}
	if !kvcache.Live(it.expiresAt, s.now()) {
		return nil
	}
	return it
}

func (s *Store) store(key string, value []byte, ttl time.Duration) {
	s.storeUntil(key, value, kvcache.ExpiresAt(s.now(), ttl))
}

func (s *Store) storeUntil(key string, value []byte, expiresAt time.Time) {
	// ristretto's own TTL only reclaims memory; visibility is decided by
	// expiresAt against the store clock. 0 means no expiry to ristretto.
	var rttl time.Duration
	if !expiresAt.IsZero() {
		rttl = expiresAt.Sub(s.now())
		if rttl <= 0 {
			s.c.Del(key)
			return
		}
	}
	if !s.c.SetWithTTL(key, &item{key: key, value: value, expiresAt: expiresAt}, 1, rttl) {
		s.log.Debug("ristretto dropped write", kvcache.Fields{"key": key})
	}
	s.c.Wait()
}
