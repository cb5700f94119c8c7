// Package bigcache adapts allegro/bigcache/v3 to kvcache.Cache.
//
// BigCache only knows a global life window, so every value is framed with
// internal/wire carrying its own absolute expiry and checked on read.
// Read-modify-write operations are serialised per key with striped locks.
package bigcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/kvcache"
	"github.com/unkn0wn-root/kvcache/internal/util"
	"github.com/unkn0wn-root/kvcache/internal/wire"
)

const stripes = 64

type Config struct {
	// LifeWindow is bigcache's global eviction age; entries older than this
	// may be dropped regardless of their own TTL. Defaults to 24h.
	LifeWindow time.Duration
	// CleanWindow > 0 starts bigcache's background cleanup.
	CleanWindow        time.Duration
	Shards             int // power of two; defaults to 64
	MaxEntriesInWindow int // sizing hint; defaults to 10000
	MaxEntrySize       int // sizing hint in bytes; defaults to 256
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited

	DefaultTTL time.Duration
	Now        func() time.Time // tests; defaults to time.Now

	Logger kvcache.Logger // if nil, NopLogger is used
	Hooks  kvcache.Hooks  // if nil, NopHooks is used
}

type Store struct {
	c          *bc.BigCache
	locks      [stripes]sync.Mutex
	defaultTTL time.Duration
	now        func() time.Time
	log        kvcache.Logger
	hooks      kvcache.Hooks
	closed     atomic.Bool
}

var _ kvcache.Cache = (*Store)(nil)

// printf routes bigcache's own diagnostics into kvcache.Logger.
type printf struct{ log kvcache.Logger }

func (p printf) Printf(format string, v ...any) {
	p.log.Debug(fmt.Sprintf(format, v...), kvcache.Fields{"backend": "bigcache"})
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	s := &Store{
		defaultTTL: cfg.DefaultTTL,
		now:        cfg.Now,
		log:        kvcache.Coalesce[kvcache.Logger](cfg.Logger, kvcache.NopLogger{}),
		hooks:      kvcache.Coalesce[kvcache.Hooks](cfg.Hooks, kvcache.NopHooks{}),
	}
	if s.now == nil {
		s.now = time.Now
	}

	conf := bc.DefaultConfig(kvcache.Coalesce(cfg.LifeWindow, 24*time.Hour))
	conf.CleanWindow = cfg.CleanWindow
	conf.Shards = kvcache.Coalesce(cfg.Shards, 64)
	conf.MaxEntriesInWindow = kvcache.Coalesce(cfg.MaxEntriesInWindow, 10000)
	conf.MaxEntrySize = kvcache.Coalesce(cfg.MaxEntrySize, 256)
	conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	conf.Verbose = false
	conf.Logger = printf{s.log}
	conf.OnRemoveWithReason = s.onRemove

	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, &kvcache.ConfigError{Reason: "bigcache", Err: err}
	}
	s.c = c
	return s, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, kvcache.ErrClosed
	}
	f, found, err := s.read(key)
	if err != nil || !found {
		return nil, false, err
	}
	if !kvcache.Live(f.expiresAt, s.now()) {
		mu := s.lock(key)
		_, _, _ = s.load(key) // purges if still expired
		mu.Unlock()
		return nil, false, nil
	}
	return f.payload, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if s.closed.Load() {
		return kvcache.ErrClosed
	}
	mu := s.lock(key)
	defer mu.Unlock()

	ttl = kvcache.ResolveTTL(ttl, s.defaultTTL)
	if ttl == 0 {
		return s.del(key)
	}
	return s.put(key, kvcache.ExpiresAt(s.now(), ttl), value)
}

func (s *Store) Remove(_ context.Context, key string) (bool, error) {
	if s.closed.Load() {
		return false, kvcache.ErrClosed
	}
	mu := s.lock(key)
	defer mu.Unlock()

	_, ok, err := s.load(key)
	if err != nil && !errors.Is(err, kvcache.ErrDecode) {
		return false, err
	}
	if err := s.del(key); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *Store) Touch(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if s.closed.Load() {
		return false, kvcache.ErrClosed
	}
	mu := s.lock(key)
	defer mu.Unlock()

	f, ok, err := s.load(key)
	if err != nil || !ok {
		return false, err
	}
	ttl = kvcache.ResolveTTL(ttl, s.defaultTTL)
	if ttl == 0 {
		return true, s.del(key)
	}
	b, err := wire.WithExpiry(f.raw, kvcache.ExpiresAt(s.now(), ttl))
	if err != nil {
		return false, &kvcache.DecodeError{Key: key, Err: err}
	}
	if err := s.c.Set(key, b); err != nil {
		return false, fmt.Errorf("kvcache: bigcache set %q: %w", key, err)
	}
	return true, nil
}

func (s *Store) Pop(_ context.Context, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, kvcache.ErrClosed
	}
	mu := s.lock(key)
	defer mu.Unlock()

	f, ok, err := s.load(key)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := s.del(key); err != nil {
		return nil, false, err
	}
	return f.payload, true, nil
}

func (s *Store) Replace(_ context.Context, key string, value []byte, ttl time.Duration) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, kvcache.ErrClosed
	}
	mu := s.lock(key)
	defer mu.Unlock()

	f, ok, err := s.load(key)
	if err != nil || !ok {
		return nil, false, err
	}
	exp, old := f.expiresAt, f.payload
	if ttl != kvcache.KeepTTL {
		ttl = kvcache.ResolveTTL(ttl, s.defaultTTL)
		if ttl == 0 {
			return old, true, s.del(key)
		}
		exp = kvcache.ExpiresAt(s.now(), ttl)
	}
	if err := s.put(key, exp, value); err != nil {
		return nil, false, err
	}
	return old, true, nil
}

// Len returns bigcache's entry count, expired-but-unread entries included.
func (s *Store) Len() int { return s.c.Len() }

func (s *Store) Stats() bc.Stats { return s.c.Stats() }

func (s *Store) Close(_ context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.c.Close()
}

func (s *Store) lock(key string) *sync.Mutex {
	mu := &s.locks[util.Stripe(key, stripes)]
	mu.Lock()
	return mu
}

// read unframes key whether or not it has expired. bigcache.Get returns a
// private copy, so the payload sub-slice can be handed to callers as is.
// frame is a stored entry as read back from bigcache. payload aliases raw,
// and raw is a private copy.
type frame struct {
	raw       []byte
	expiresAt time.Time
	payload   []byte
}

func (s *Store) read(key string) (frame, bool, error) {
	b, err := s.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return frame{}, false, nil
	}
	if err != nil {
		return frame{}, false, fmt.Errorf("kvcache: bigcache get %q: %w", key, err)
	}
	exp, payload, err := wire.Decode(b)
	if err != nil {
		return frame{}, false, &kvcache.DecodeError{Key: key, Err: err}
	}
	return frame{raw: b, expiresAt: exp, payload: payload}, true, nil
}

// load returns the live entry for key. An expired entry is deleted on the
// way. Caller holds the key's stripe lock.
func (s *Store) load(key string) (frame, bool, error) {
	f, found, err := s.read(key)
	if err != nil || !found {
		return frame{}, false, err
	}
	if !kvcache.Live(f.expiresAt, s.now()) {
		if err := s.del(key); err != nil {
			return frame{}, false, err
		}
		s.hooks.Expired(key)
		return frame{}, false, nil
	}
	return f, true, nil
}

func (s *Store) put(key string, exp time.Time, payload []byte) error {
	if err := s.c.Set(key, wire.Encode(exp, payload)); err != nil {
		return fmt.Errorf("kvcache: bigcache set %q: %w", key, err)
	}
	return nil
}

func (s *Store) del(key string) error {
	if err := s.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return fmt.Errorf("kvcache: bigcache delete %q: %w", key, err)
	}
	return nil
}

// onRemove runs under a bigcache shard lock.
func (s *Store) onRemove(key string, _ []byte, reason bc.RemoveReason) {
	switch reason {
	case bc.NoSpace:
		s.hooks.Evicted(key)
	case bc.Expired:
		// life window passed: bigcache dropped the oldest entries wholesale
		s.hooks.Evicted(key)
	}
}
