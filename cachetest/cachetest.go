// Package cachetest is the conformance suite every kvcache backend must pass
// unmodified. Backend packages call Run from their own tests.
package cachetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/kvcache"
)

// Backend is one fresh, empty cache under test.
type Backend struct {
	Cache kvcache.Cache
	// Advance moves the backend's clock forward. When nil the suite sleeps.
	Advance func(time.Duration)
}

// Factory builds a fresh Backend. It should register cleanup with t.
type Factory func(t *testing.T) Backend

// shortTTL is small enough for sleeping backends and large enough to survive
// scheduling jitter between a write and the read right after it.
const shortTTL = 150 * time.Millisecond

func (b Backend) advance(d time.Duration) {
	if b.Advance != nil {
		b.Advance(d)
		return
	}
	time.Sleep(d)
}

// Run executes the whole suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Helper()
	for _, tc := range []struct {
		name string
		fn   func(*testing.T, Backend)
	}{
		{"MissOnUnsetKey", testMissOnUnsetKey},
		{"SetThenGet", testSetThenGet},
		{"OverwriteReplacesValue", testOverwrite},
		{"RemoveIsIdempotent", testRemove},
		{"ZeroTTLIsExpired", testZeroTTL},
		{"ExpiresAfterTTL", testExpiry},
		{"TouchChangesOnlyExpiry", testTouchExtends},
		{"TouchCanShortenAndPersist", testTouchShortenPersist},
		{"TouchAbsentKey", testTouchAbsent},
		{"Pop", testPop},
		{"ReplaceOnlyExisting", testReplace},
		{"ReplaceKeepTTL", testReplaceKeepTTL},
		{"ValuesAreIsolated", testIsolation},
		{"EmptyValue", testEmptyValue},
		{"ConcurrentSetsSameKey", testConcurrentSets},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newBackend(t))
		})
	}
}

func mustGet(t *testing.T, c kvcache.Cache, key string) ([]byte, bool) {
	t.Helper()
	v, ok, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	return v, ok
}

func testMissOnUnsetKey(t *testing.T, b Backend) {
	for _, k := range []string{"missing", "", "with space", "ключ"} {
		v, ok := mustGet(t, b.Cache, k)
		assert.False(t, ok, "key %q", k)
		assert.Nil(t, v)
	}
}

func testSetThenGet(t *testing.T, b Backend) {
	ctx := context.Background()
	require.NoError(t, b.Cache.Set(ctx, "k1", []byte("v1"), time.Minute))
	require.NoError(t, b.Cache.Set(ctx, "k2", []byte("v2"), kvcache.NoExpiration))
	require.NoError(t, b.Cache.Set(ctx, "k3", []byte("v3"), kvcache.DefaultExpiration))

	for k, want := range map[string]string{"k1": "v1", "k2": "v2", "k3": "v3"} {
		v, ok := mustGet(t, b.Cache, k)
		require.True(t, ok, "key %q", k)
		assert.Equal(t, want, string(v))
	}
}

func testOverwrite(t *testing.T, b Backend) {
	ctx := context.Background()
	require.NoError(t, b.Cache.Set(ctx, "k", []byte("old"), time.Minute))
	require.NoError(t, b.Cache.Set(ctx, "k", []byte("new"), time.Minute))
	v, ok := mustGet(t, b.Cache, "k")
	require.True(t, ok)
	assert.Equal(t, "new", string(v))
}

func testRemove(t *testing.T, b Backend) {
	ctx := context.Background()
	require.NoError(t, b.Cache.Set(ctx, "k", []byte("v"), kvcache.NoExpiration))

	removed, err := b.Cache.Remove(ctx, "k")
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok := mustGet(t, b.Cache, "k")
	assert.False(t, ok)

	removed, err = b.Cache.Remove(ctx, "k")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = b.Cache.Remove(ctx, "never-set")
	require.NoError(t, err)
	assert.False(t, removed)
}

func testZeroTTL(t *testing.T, b Backend) {
	ctx := context.Background()
	require.NoError(t, b.Cache.Set(ctx, "fresh", []byte("v"), 0))
	_, ok := mustGet(t, b.Cache, "fresh")
	assert.False(t, ok, "zero TTL write must read as absent")

	require.NoError(t, b.Cache.Set(ctx, "existing", []byte("v1"), time.Minute))
	require.NoError(t, b.Cache.Set(ctx, "existing", []byte("v2"), 0))
	_, ok = mustGet(t, b.Cache, "existing")
	assert.False(t, ok, "zero TTL overwrite must hide the previous value")
}

func testExpiry(t *testing.T, b Backend) {
	ctx := context.Background()
	require.NoError(t, b.Cache.Set(ctx, "short", []byte("v"), shortTTL))
	require.NoError(t, b.Cache.Set(ctx, "long", []byte("v"), time.Hour))

	v, ok := mustGet(t, b.Cache, "short")
	require.True(t, ok, "must be visible before expiry")
	assert.Equal(t, "v", string(v))

	b.advance(2 * shortTTL)

	_, ok = mustGet(t, b.Cache, "short")
	assert.False(t, ok, "expired entry must read as absent")
	_, ok = mustGet(t, b.Cache, "long")
	assert.True(t, ok)

	removed, err := b.Cache.Remove(ctx, "short")
	require.NoError(t, err)
	assert.False(t, removed, "expired entry is not removable")
}

func testTouchExtends(t *testing.T, b Backend) {
	ctx := context.Background()
	require.NoError(t, b.Cache.Set(ctx, "k", []byte("value"), shortTTL))

	touched, err := b.Cache.Touch(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, touched)

	b.advance(2 * shortTTL)

	v, ok := mustGet(t, b.Cache, "k")
	require.True(t, ok, "touch must extend expiry")
	assert.Equal(t, "value", string(v), "touch must not change the value")
}

func testTouchShortenPersist(t *testing.T, b Backend) {
	ctx := context.Background()
	require.NoError(t, b.Cache.Set(ctx, "shorten", []byte("a"), kvcache.NoExpiration))
	require.NoError(t, b.Cache.Set(ctx, "persist", []byte("b"), shortTTL))
	require.NoError(t, b.Cache.Set(ctx, "kill", []byte("c"), time.Hour))

	touched, err := b.Cache.Touch(ctx, "shorten", shortTTL)
	require.NoError(t, err)
	assert.True(t, touched)

	touched, err = b.Cache.Touch(ctx, "persist", kvcache.NoExpiration)
	require.NoError(t, err)
	assert.True(t, touched)

	touched, err = b.Cache.Touch(ctx, "kill", 0)
	require.NoError(t, err)
	assert.True(t, touched)
	_, ok := mustGet(t, b.Cache, "kill")
	assert.False(t, ok, "touch with zero TTL expires the entry")

	b.advance(2 * shortTTL)

	_, ok = mustGet(t, b.Cache, "shorten")
	assert.False(t, ok)
	v, ok := mustGet(t, b.Cache, "persist")
	require.True(t, ok)
	assert.Equal(t, "b", string(v))
}

func testTouchAbsent(t *testing.T, b Backend) {
	ctx := context.Background()
	touched, err := b.Cache.Touch(ctx, "nope", time.Minute)
	require.NoError(t, err)
	assert.False(t, touched)

	require.NoError(t, b.Cache.Set(ctx, "gone", []byte("v"), shortTTL))
	b.advance(2 * shortTTL)
	touched, err = b.Cache.Touch(ctx, "gone", time.Hour)
	require.NoError(t, err)
	assert.False(t, touched, "expired entry cannot be revived by touch")
	_, ok := mustGet(t, b.Cache, "gone")
	assert.False(t, ok)
}

func testPop(t *testing.T, b Backend) {
	ctx := context.Background()
	_, ok, err := b.Cache.Pop(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Cache.Set(ctx, "k", []byte("v"), time.Minute))
	v, ok, err := b.Cache.Pop(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))

	_, ok = mustGet(t, b.Cache, "k")
	assert.False(t, ok)
}

func testReplace(t *testing.T, b Backend) {
	ctx := context.Background()
	old, ok, err := b.Cache.Replace(ctx, "k", []byte("v0"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, old)
	_, ok = mustGet(t, b.Cache, "k")
	assert.False(t, ok, "replace must not create absent keys")

	require.NoError(t, b.Cache.Set(ctx, "k", []byte("v1"), time.Minute))
	old, ok, err = b.Cache.Replace(ctx, "k", []byte("v2"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", string(old))

	v, ok := mustGet(t, b.Cache, "k")
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))
}

func testReplaceKeepTTL(t *testing.T, b Backend) {
	ctx := context.Background()
	require.NoError(t, b.Cache.Set(ctx, "keep", []byte("v1"), shortTTL))
	require.NoError(t, b.Cache.Set(ctx, "reset", []byte("v1"), shortTTL))

	_, ok, err := b.Cache.Replace(ctx, "keep", []byte("v2"), kvcache.KeepTTL)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = b.Cache.Replace(ctx, "reset", []byte("v2"), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	v, ok := mustGet(t, b.Cache, "keep")
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))

	b.advance(2 * shortTTL)

	_, ok = mustGet(t, b.Cache, "keep")
	assert.False(t, ok, "KeepTTL must preserve the original expiry")
	v, ok = mustGet(t, b.Cache, "reset")
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))
}

func testIsolation(t *testing.T, b Backend) {
	ctx := context.Background()
	in := []byte("abc")
	require.NoError(t, b.Cache.Set(ctx, "k", in, time.Minute))
	in[0] = 'X'

	out, ok := mustGet(t, b.Cache, "k")
	require.True(t, ok)
	assert.Equal(t, "abc", string(out), "store must not alias caller input")

	out[0] = 'Y'
	again, ok := mustGet(t, b.Cache, "k")
	require.True(t, ok)
	assert.Equal(t, "abc", string(again), "store must not alias returned slices")
}

func testEmptyValue(t *testing.T, b Backend) {
	ctx := context.Background()
	require.NoError(t, b.Cache.Set(ctx, "empty", []byte{}, time.Minute))
	v, ok := mustGet(t, b.Cache, "empty")
	require.True(t, ok, "empty value is a hit, not a miss")
	assert.Len(t, v, 0)
}

func testConcurrentSets(t *testing.T, b Backend) {
	ctx := context.Background()
	const writers = 16

	written := make(map[string]bool, writers)
	for i := 0; i < writers; i++ {
		written[fmt.Sprintf("value-%02d-%s", i, strings.Repeat("x", i*7))] = true
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, writers)
	for v := range written {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			<-start
			errs <- b.Cache.Set(ctx, "contended", []byte(v), time.Minute)
		}(v)
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, ok := mustGet(t, b.Cache, "contended")
	require.True(t, ok)
	assert.True(t, written[string(got)], "final value %q was never written as a whole", got)
}
