package local

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/kvcache"
	"github.com/unkn0wn-root/kvcache/cachetest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recHooks struct {
	kvcache.NopHooks
	mu      sync.Mutex
	evicted []string
	expired []string
}

func (h *recHooks) Evicted(k string) { h.mu.Lock(); h.evicted = append(h.evicted, k); h.mu.Unlock() }
func (h *recHooks) Expired(k string) { h.mu.Lock(); h.expired = append(h.expired, k); h.mu.Unlock() }

func newTestStore(t *testing.T, capacity int, clk *fakeClock, hooks kvcache.Hooks) *Store {
	t.Helper()
	s, err := New(Config{Capacity: capacity, Now: clk.Now, Hooks: hooks})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestConformance(t *testing.T) {
	cachetest.Run(t, func(t *testing.T) cachetest.Backend {
		clk := newFakeClock()
		return cachetest.Backend{Cache: newTestStore(t, 1024, clk, nil), Advance: clk.Advance}
	})
}

func TestNewRejectsBadCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		_, err := New(Config{Capacity: c})
		require.Error(t, err)
		assert.True(t, errors.Is(err, kvcache.ErrConfig))
		var ce *kvcache.ConfigError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "capacity", ce.Field)
	}
}

func TestEvictsLeastRecentlyAccessed(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	hooks := &recHooks{}
	s := newTestStore(t, 3, clk, hooks)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set(ctx, k, []byte(k), kvcache.NoExpiration))
		clk.Advance(time.Second)
	}
	// "a" becomes most recent; "b" is now the oldest access.
	_, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Set(ctx, "d", []byte("d"), kvcache.NoExpiration))

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"b"}, hooks.evicted, "exactly one eviction, the LRU entry")
	for _, k := range []string{"a", "c", "d"} {
		_, ok, _ := s.Get(ctx, k)
		assert.True(t, ok, "key %q should survive", k)
	}
	_, ok, _ = s.Get(ctx, "b")
	assert.False(t, ok)
}

func TestEvictionTieBreakIsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock() // clock never moves: every entry has the same timestamp
	hooks := &recHooks{}
	s := newTestStore(t, 2, clk, hooks)

	require.NoError(t, s.Set(ctx, "first", nil, kvcache.NoExpiration))
	require.NoError(t, s.Set(ctx, "second", nil, kvcache.NoExpiration))
	require.NoError(t, s.Set(ctx, "third", nil, kvcache.NoExpiration))
	require.NoError(t, s.Set(ctx, "fourth", nil, kvcache.NoExpiration))

	assert.Equal(t, []string{"first", "second"}, hooks.evicted)
}

func TestCapacityOneKeepsLatestWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 1, newFakeClock(), nil)

	for i := 0; i < 5; i++ {
		k := fmt.Sprintf("k%d", i)
		require.NoError(t, s.Set(ctx, k, []byte(k), kvcache.NoExpiration))
		v, ok, err := s.Get(ctx, k)
		require.NoError(t, err)
		require.True(t, ok, "write must survive its own eviction pass")
		assert.Equal(t, k, string(v))
	}
	assert.Equal(t, 1, s.Len())
}

func TestOverwriteRefreshesRecencyWithoutEviction(t *testing.T) {
	ctx := context.Background()
	hooks := &recHooks{}
	s := newTestStore(t, 2, newFakeClock(), hooks)

	require.NoError(t, s.Set(ctx, "a", []byte("1"), kvcache.NoExpiration))
	require.NoError(t, s.Set(ctx, "b", []byte("1"), kvcache.NoExpiration))
	require.NoError(t, s.Set(ctx, "a", []byte("2"), kvcache.NoExpiration))
	assert.Empty(t, hooks.evicted, "overwrite does not grow the store")

	require.NoError(t, s.Set(ctx, "c", []byte("1"), kvcache.NoExpiration))
	assert.Equal(t, []string{"b"}, hooks.evicted)
}

func TestTouchDoesNotRefreshRecency(t *testing.T) {
	ctx := context.Background()
	hooks := &recHooks{}
	s := newTestStore(t, 2, newFakeClock(), hooks)

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Hour))
	require.NoError(t, s.Set(ctx, "b", []byte("1"), time.Hour))
	ok, err := s.Touch(ctx, "a", 2*time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Set(ctx, "c", []byte("1"), time.Hour))
	assert.Equal(t, []string{"a"}, hooks.evicted)
}

func TestStaleEntryAtBackIsReportedExpired(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	hooks := &recHooks{}
	s := newTestStore(t, 2, clk, hooks)

	require.NoError(t, s.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, s.Set(ctx, "long", []byte("1"), kvcache.NoExpiration))
	clk.Advance(2 * time.Second)

	require.NoError(t, s.Set(ctx, "new", []byte("1"), kvcache.NoExpiration))
	assert.Empty(t, hooks.evicted)
	assert.Equal(t, []string{"short"}, hooks.expired)
	assert.Equal(t, 2, s.Len())
}

func TestExplicitRemovalsAreNotEvictions(t *testing.T) {
	ctx := context.Background()
	hooks := &recHooks{}
	s := newTestStore(t, 4, newFakeClock(), hooks)

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Set(ctx, k, []byte(k), kvcache.NoExpiration))
	}
	ok, err := s.Remove(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = s.Pop(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Set(ctx, "c", nil, 0))
	_, _, err = s.Replace(ctx, "d", []byte("x"), 0)
	require.NoError(t, err)

	assert.Empty(t, hooks.evicted)
	assert.Empty(t, hooks.expired)
	assert.Zero(t, s.Len())
}

func TestReplaceRefreshesRecency(t *testing.T) {
	ctx := context.Background()
	hooks := &recHooks{}
	s := newTestStore(t, 2, newFakeClock(), hooks)

	require.NoError(t, s.Set(ctx, "a", []byte("1"), kvcache.NoExpiration))
	require.NoError(t, s.Set(ctx, "b", []byte("1"), kvcache.NoExpiration))
	_, ok, err := s.Replace(ctx, "a", []byte("2"), kvcache.KeepTTL)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Set(ctx, "c", []byte("1"), kvcache.NoExpiration))
	assert.Equal(t, []string{"b"}, hooks.evicted)
}

func TestExpiredEntryPurgedOnRead(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	hooks := &recHooks{}
	s := newTestStore(t, 10, clk, hooks)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Second))
	clk.Advance(time.Second) // expiry is exclusive: at expiresAt the entry is gone
	assert.Equal(t, 1, s.Len(), "lazy expiry keeps the entry until accessed")

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, []string{"k"}, hooks.expired)
}

func TestDefaultTTL(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	s, err := New(Config{Capacity: 4, DefaultTTL: time.Minute, Now: clk.Now})
	require.NoError(t, err)
	defer s.Close(ctx)

	require.NoError(t, s.Set(ctx, "default", []byte("v"), kvcache.DefaultExpiration))
	require.NoError(t, s.Set(ctx, "forever", []byte("v"), kvcache.NoExpiration))
	clk.Advance(2 * time.Minute)

	_, ok, _ := s.Get(ctx, "default")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	hooks := &recHooks{}
	s := newTestStore(t, 10, clk, hooks)

	require.NoError(t, s.Set(ctx, "a", nil, time.Second))
	require.NoError(t, s.Set(ctx, "b", nil, time.Hour))
	require.NoError(t, s.Set(ctx, "c", nil, 2*time.Second))
	clk.Advance(3 * time.Second)

	assert.Equal(t, 2, s.Sweep())
	assert.Equal(t, 1, s.Len())
	assert.ElementsMatch(t, []string{"a", "c"}, hooks.expired)
}

func TestBackgroundSweep(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	s, err := New(Config{Capacity: 10, SweepInterval: 5 * time.Millisecond, Now: clk.Now})
	require.NoError(t, err)
	defer s.Close(ctx)

	require.NoError(t, s.Set(ctx, "a", nil, time.Second))
	clk.Advance(time.Minute)

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestClosedStoreReturnsErrClosed(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{Capacity: 1, SweepInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx), "close is idempotent")

	_, _, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, kvcache.ErrClosed)
	assert.ErrorIs(t, s.Set(ctx, "k", nil, kvcache.NoExpiration), kvcache.ErrClosed)
	_, err = s.Remove(ctx, "k")
	assert.ErrorIs(t, err, kvcache.ErrClosed)
	_, err = s.Touch(ctx, "k", time.Second)
	assert.ErrorIs(t, err, kvcache.ErrClosed)
}

func TestConcurrentMixedAccessHonoursBound(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{Capacity: 64})
	require.NoError(t, err)
	defer s.Close(ctx)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := fmt.Sprintf("k%d", (w*31+i)%200)
				switch i % 4 {
				case 0, 1:
					_ = s.Set(ctx, k, []byte(k), time.Minute)
				case 2:
					if v, ok, _ := s.Get(ctx, k); ok && string(v) != k {
						t.Errorf("corrupt value for %s: %q", k, v)
					}
				default:
					_, _ = s.Remove(ctx, k)
				}
			}
		}(w)
	}
	wg.Wait()
	assert.LessOrEqual(t, s.Len(), 64)
}
