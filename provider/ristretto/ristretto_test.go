package ristretto

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/kvcache"
	"github.com/unkn0wn-root/kvcache/cachetest"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time          { c.mu.Lock(); defer c.mu.Unlock(); return c.t }
func (c *clock) Advance(d time.Duration) { c.mu.Lock(); c.t = c.t.Add(d); c.mu.Unlock() }

func newStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestConformance(t *testing.T) {
	cachetest.Run(t, func(t *testing.T) cachetest.Backend {
		clk := &clock{t: time.Now()}
		return cachetest.Backend{
			Cache:   newStore(t, Config{Capacity: 1 << 12, Now: clk.Now}),
			Advance: clk.Advance,
		}
	})
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, kvcache.ErrConfig)
}

func TestCapacityBoundHolds(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Config{Capacity: 32, Metrics: true})

	for i := 0; i < 500; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("k%03d", i), []byte("v"), kvcache.NoExpiration))
	}

	live := 0
	for i := 0; i < 500; i++ {
		if _, ok, _ := s.Get(ctx, fmt.Sprintf("k%03d", i)); ok {
			live++
		}
	}
	assert.LessOrEqual(t, live, 32)
	assert.Greater(t, live, 0)
	require.NotNil(t, s.Metrics())
}

func TestDefaultTTL(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Now()}
	s := newStore(t, Config{Capacity: 16, DefaultTTL: time.Minute, Now: clk.Now})

	require.NoError(t, s.Set(ctx, "k", []byte("v"), kvcache.DefaultExpiration))
	clk.Advance(59 * time.Second)
	_, ok, _ := s.Get(ctx, "k")
	assert.True(t, ok)
	clk.Advance(time.Second)
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{Capacity: 4})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	_, _, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, kvcache.ErrClosed)
	assert.ErrorIs(t, s.Set(ctx, "k", nil, time.Second), kvcache.ErrClosed)
}

func TestForeignKeyInSlotIsMiss(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Config{Capacity: 16})

	require.True(t, s.c.Set("a", &item{key: "b", value: []byte("other")}, 1))
	s.c.Wait()

	_, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Touch(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Replace(ctx, "a", []byte("x"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
