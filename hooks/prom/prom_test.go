package prom

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/kvcache"
	"github.com/unkn0wn-root/kvcache/provider/local"
)

func TestCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := New(reg, Options{})
	require.NoError(t, err)

	h.Evicted("a")
	h.Evicted("b")
	h.Expired("c")
	h.DecodeFailed("d", errors.New("x"))
	h.Unavailable("get", errors.New("down"))
	h.Unavailable("get", errors.New("down"))
	h.Unavailable("set", errors.New("down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(h.evictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.expirations))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.decodeErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.unavailable.WithLabelValues("get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.unavailable.WithLabelValues("set")))

	expected := `
# HELP kvcache_evictions_total Entries evicted to satisfy a capacity bound.
# TYPE kvcache_evictions_total counter
kvcache_evictions_total 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "kvcache_evictions_total"))
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg, Options{Namespace: "app"})
	require.NoError(t, err)
	_, err = New(reg, Options{Namespace: "app"})
	require.Error(t, err)

	_, err = New(reg, Options{Namespace: "app", ConstLabels: prometheus.Labels{"cache": "users"}})
	assert.Error(t, err, "same names with different const labels are inconsistent")
}

func TestUnregisteredCollectors(t *testing.T) {
	h, err := New(nil, Options{Subsystem: "sessions"})
	require.NoError(t, err)
	assert.Len(t, h.Collectors(), 4)

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(h.Collectors()...)
	h.Expired("k")
	n, err := testutil.GatherAndCount(reg, "kvcache_sessions_expirations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLocalStoreEvictionsAreCounted(t *testing.T) {
	ctx := context.Background()
	h, err := New(prometheus.NewRegistry(), Options{})
	require.NoError(t, err)

	s, err := local.New(local.Config{Capacity: 2, Hooks: h})
	require.NoError(t, err)
	defer s.Close(ctx)

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Set(ctx, k, []byte(k), kvcache.NoExpiration))
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(h.evictions))
}
