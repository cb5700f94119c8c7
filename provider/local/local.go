// Package local is the in-process kvcache backend: an exact LRU
// (hashicorp/golang-lru simplelru) behind one mutex, with lazy expiry and a
// hard entry-count bound.
package local

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/unkn0wn-root/kvcache"
)

type Config struct {
	// Capacity is the maximum number of entries. Required, >= 1.
	Capacity int
	// DefaultTTL applies to writes using kvcache.DefaultExpiration.
	// 0 means such writes never expire.
	DefaultTTL time.Duration
	// SweepInterval > 0 starts a background goroutine purging expired
	// entries. Reads never depend on it.
	SweepInterval time.Duration
	// Now overrides the clock (tests). Defaults to time.Now.
	Now func() time.Time

	Logger kvcache.Logger // if nil, NopLogger is used
	Hooks  kvcache.Hooks  // if nil, NopHooks is used
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero => never
}

// Store implements kvcache.Cache in process memory.
// simplelru keeps the most recently used entry at the front and evicts from
// the back. Add inserts at the front and Peek leaves order alone, so
// never-read entries are evicted in insertion order.
type Store struct {
	mu     sync.Mutex
	lru    *simplelru.LRU[string, *entry]
	closed bool
	// spilled collects entries simplelru dropped during the current call.
	spilled []*entry

	defaultTTL time.Duration
	now        func() time.Time
	log        kvcache.Logger
	hooks      kvcache.Hooks

	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ kvcache.Cache = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.Capacity < 1 {
		return nil, &kvcache.ConfigError{Field: "capacity", Reason: "must be >= 1 for the local backend"}
	}
	s := &Store{
		defaultTTL: cfg.DefaultTTL,
		now:        cfg.Now,
		log:        kvcache.Coalesce[kvcache.Logger](cfg.Logger, kvcache.NopLogger{}),
		hooks:      kvcache.Coalesce[kvcache.Hooks](cfg.Hooks, kvcache.NopHooks{}),
	}
	lru, err := simplelru.NewLRU[string, *entry](cfg.Capacity, s.onEvict)
	if err != nil {
		return nil, &kvcache.ConfigError{Field: "capacity", Reason: "invalid", Err: err}
	}
	s.lru = lru
	if s.now == nil {
		s.now = time.Now
	}
	if cfg.SweepInterval > 0 {
		s.ticker = time.NewTicker(cfg.SweepInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go s.sweepLoop()
	}
	return s, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, kvcache.ErrClosed
	}
	e := s.live(key, true)
	if e == nil {
		return nil, false, nil
	}
	return bytes.Clone(e.value), true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kvcache.ErrClosed
	}
	ttl = kvcache.ResolveTTL(ttl, s.defaultTTL)
	if ttl == 0 {
		// already expired: the key must read as absent, nothing to keep
		s.remove(key)
		return nil
	}

	// Add on an existing key moves it to the front without evicting.
	s.lru.Add(key, &entry{key: key, value: bytes.Clone(value), expiresAt: kvcache.ExpiresAt(s.now(), ttl)})
	s.drainEvicted()
	return nil
}

func (s *Store) Remove(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, kvcache.ErrClosed
	}
	if s.live(key, false) == nil {
		return false, nil
	}
	s.remove(key)
	return true, nil
}

// Touch does not count as an access: recency is only refreshed by reads and
// writes of the value.
func (s *Store) Touch(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, kvcache.ErrClosed
	}
	e := s.live(key, false)
	if e == nil {
		return false, nil
	}
	ttl = kvcache.ResolveTTL(ttl, s.defaultTTL)
	if ttl == 0 {
		s.remove(key)
		return true, nil
	}
	e.expiresAt = kvcache.ExpiresAt(s.now(), ttl)
	return true, nil
}

func (s *Store) Pop(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, kvcache.ErrClosed
	}
	e := s.live(key, false)
	if e == nil {
		return nil, false, nil
	}
	s.remove(key)
	return e.value, true, nil
}

func (s *Store) Replace(_ context.Context, key string, value []byte, ttl time.Duration) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, kvcache.ErrClosed
	}
	e := s.live(key, true)
	if e == nil {
		return nil, false, nil
	}
	old := e.value
	if ttl != kvcache.KeepTTL {
		ttl = kvcache.ResolveTTL(ttl, s.defaultTTL)
		if ttl == 0 {
			s.remove(key)
			return old, true, nil
		}
		e.expiresAt = kvcache.ExpiresAt(s.now(), ttl)
	}
	e.value = bytes.Clone(value)
	return old, true, nil
}

// Len returns the number of stored entries, including expired entries not
// yet purged.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Sweep purges every expired entry and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	now := s.now()
	removed := 0
	for _, k := range s.lru.Keys() {
		e, ok := s.lru.Peek(k)
		if ok && !kvcache.Live(e.expiresAt, now) {
			s.remove(k)
			s.hooks.Expired(k)
			removed++
		}
	}
	return removed
}

func (s *Store) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.ticker.Stop() // stop ticker before waiting
			s.wg.Wait()
		}
		s.mu.Lock()
		s.closed = true
		s.lru.Purge()
		s.spilled = nil
		s.mu.Unlock()
	})
	return nil
}

// live returns the entry for key if it is present and not expired. Expired
// entries are purged on the way (cleanup-on-read). With access set the hit
// counts toward recency. Caller holds mu.
func (s *Store) live(key string, access bool) *entry {
	e, ok := s.lru.Peek(key)
	if !ok {
		return nil
	}
	if !kvcache.Live(e.expiresAt, s.now()) {
		s.remove(key)
		s.hooks.Expired(key)
		return nil
	}
	if access {
		s.lru.Get(key)
	}
	return e
}

// remove drops key without reporting it as a capacity eviction.
func (s *Store) remove(key string) {
	s.lru.Remove(key)
	s.spilled = s.spilled[:0]
}

// onEvict runs inside simplelru for every removal, explicit ones included;
// only drainEvicted turns them into hook events.
func (s *Store) onEvict(_ string, e *entry) {
	s.spilled = append(s.spilled, e)
}

// drainEvicted reports what the last Add pushed out. The entry just written
// is at the front and capacity >= 1, so it is never among them. A stale
// entry at the back is reported as expired, not evicted.
func (s *Store) drainEvicted() {
	now := s.now()
	for _, e := range s.spilled {
		if kvcache.Live(e.expiresAt, now) {
			s.hooks.Evicted(e.key)
		} else {
			s.hooks.Expired(e.key)
		}
	}
	clear(s.spilled)
	s.spilled = s.spilled[:0]
}

func (s *Store) sweepLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			if n := s.Sweep(); n > 0 {
				s.log.Debug("local sweep removed expired entries", kvcache.Fields{"removed": n})
			}
		case <-s.stopCh:
			return
		}
	}
}
