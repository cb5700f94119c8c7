package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/kvcache"
)

type cli struct {
	t       *testing.T
	envFile string
}

// newRemoteCLI points the KVT_ configuration at a fresh miniredis.
func newRemoteCLI(t *testing.T) (*cli, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	t.Setenv("KVT_KIND", "redis")
	t.Setenv("KVT_ENDPOINT", mr.Addr())
	t.Setenv("KVT_PREFIX", "ops")
	return &cli{t: t, envFile: filepath.Join(t.TempDir(), "none.env")}, mr
}

func (c *cli) run(args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	full := append([]string{"-env-prefix", "KVT_", "-env-file", c.envFile}, args...)
	err := run(context.Background(), full, &out, &errOut)
	return out.String(), errOut.String(), err
}

func TestSetGetAcrossInvocations(t *testing.T) {
	c, mr := newRemoteCLI(t)

	_, _, err := c.run("-ttl", "30s", "set", "greeting", "hello", "world")
	require.NoError(t, err)
	assert.True(t, mr.Exists("ops:greeting"))
	assert.Equal(t, 30*time.Second, mr.TTL("ops:greeting"))

	out, _, err := c.run("get", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out)

	_, _, err = c.run("-cache", "users", "get", "greeting")
	assert.ErrorIs(t, err, errMiss, "named caches use their own prefix")
}

func TestReplaceDelTouchPop(t *testing.T) {
	c, mr := newRemoteCLI(t)

	_, _, err := c.run("replace", "k", "v1")
	assert.ErrorIs(t, err, errMiss)
	assert.False(t, mr.Exists("ops:k"), "replace on a miss writes nothing")

	_, _, err = c.run("-ttl", "none", "set", "k", "v1")
	require.NoError(t, err)
	out, _, err := c.run("-ttl", "keep", "replace", "k", "v2")
	require.NoError(t, err)
	assert.Equal(t, "v1\n", out)

	out, _, err = c.run("-ttl", "1m", "touch", "k")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)
	assert.Equal(t, time.Minute, mr.TTL("ops:k"))

	out, _, err = c.run("pop", "k")
	require.NoError(t, err)
	assert.Equal(t, "v2\n", out)

	out, _, err = c.run("del", "k")
	assert.ErrorIs(t, err, errMiss)
	assert.Equal(t, "false\n", out)
}

func TestDecodeFailureIsCounted(t *testing.T) {
	c, mr := newRemoteCLI(t)
	require.NoError(t, mr.Set("ops:foreign", "written by someone else"))

	_, stderr, err := c.run("-metrics", "-log", "slog", "get", "foreign")
	require.Error(t, err)
	assert.ErrorIs(t, err, kvcache.ErrDecode)
	assert.Contains(t, stderr, "kvcache.decode_failed")
	assert.Contains(t, stderr, "kvcache_decode_errors_total 1")
}

func TestUnreachableBackendFailsAtStartup(t *testing.T) {
	c := &cli{t: t, envFile: filepath.Join(t.TempDir(), "none.env")}
	t.Setenv("KVT_KIND", "remote")
	t.Setenv("KVT_ENDPOINT", "127.0.0.1:1")
	t.Setenv("KVT_TIMEOUT", "200ms")

	_, _, err := c.run("get", "k")
	assert.ErrorIs(t, err, kvcache.ErrConfig)
}

func TestLocalBackendAndLoggers(t *testing.T) {
	c := &cli{t: t, envFile: filepath.Join(t.TempDir(), "none.env")}
	t.Setenv("KVT_KIND", "local")
	t.Setenv("KVT_CAPACITY", "16")

	for _, lg := range []string{"logrus", "zap", "slog"} {
		_, stderr, err := c.run("-log", lg, "-level", "debug", "get", "k")
		assert.ErrorIs(t, err, errMiss, lg)
		assert.Contains(t, stderr, "kvcache engine ready", lg)
	}
}

func TestUsageErrors(t *testing.T) {
	c := &cli{t: t, envFile: filepath.Join(t.TempDir(), "none.env")}
	t.Setenv("KVT_KIND", "local")
	t.Setenv("KVT_CAPACITY", "4")

	cases := map[string][]string{
		"no key":          {"get"},
		"unknown command": {"frobnicate", "k"},
		"missing value":   {"set", "k"},
		"bad ttl":         {"-ttl", "soon", "touch", "k"},
		"negative ttl":    {"-ttl", "-5s", "set", "k", "v"},
		"unknown logger":  {"-log", "glog", "get", "k"},
		"bad level":       {"-level", "loud", "get", "k"},
	}
	for name, args := range cases {
		_, _, err := c.run(args...)
		require.Error(t, err, name)
		assert.NotErrorIs(t, err, errMiss, name)
	}
}

func TestParseTTL(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"":        kvcache.DefaultExpiration,
		"default": kvcache.DefaultExpiration,
		"NONE":    kvcache.NoExpiration,
		"keep":    kvcache.KeepTTL,
		"0s":      0,
		"90s":     90 * time.Second,
	} {
		got, err := parseTTL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseTTL("x")
	assert.True(t, strings.Contains(err.Error(), `"x"`))
}
