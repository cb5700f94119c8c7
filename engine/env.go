package engine

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/unkn0wn-root/kvcache"
)

// FromEnv builds a Config from <prefix>KIND, <prefix>CAPACITY, <prefix>ENDPOINT,
// <prefix>POOL_SIZE, <prefix>TIMEOUT, <prefix>MAX_RETRIES, <prefix>DEFAULT_TTL,
// <prefix>PREFIX, <prefix>SWEEP_INTERVAL, <prefix>MAX_ENTRY_SIZE,
// <prefix>HARD_MAX_CACHE_SIZE_MB and <prefix>LIFE_WINDOW.
//
// The given dotenv files (".env" when none are given) are loaded first when
// they exist; variables already set in the process environment win.
// The result is not validated; New does that.
func FromEnv(prefix string, files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, &kvcache.ConfigError{Reason: "load " + f, Err: err}
		}
	}

	r := envReader{prefix: prefix}
	cfg := Config{
		Kind:               Kind(r.str("KIND")),
		Capacity:           r.num("CAPACITY"),
		Endpoint:           r.str("ENDPOINT"),
		PoolSize:           r.num("POOL_SIZE"),
		Timeout:            r.dur("TIMEOUT"),
		MaxRetries:         r.num("MAX_RETRIES"),
		DefaultTTL:         r.dur("DEFAULT_TTL"),
		Prefix:             r.str("PREFIX"),
		SweepInterval:      r.dur("SWEEP_INTERVAL"),
		MaxEntrySize:       r.num("MAX_ENTRY_SIZE"),
		HardMaxCacheSizeMB: r.num("HARD_MAX_CACHE_SIZE_MB"),
		LifeWindow:         r.dur("LIFE_WINDOW"),
	}
	if r.err != nil {
		return Config{}, r.err
	}
	return cfg, nil
}

// envReader keeps the first parse error so FromEnv reads like a table.
type envReader struct {
	prefix string
	err    error
}

func (r *envReader) str(name string) string {
	return strings.TrimSpace(os.Getenv(r.prefix + name))
}

func (r *envReader) num(name string) int {
	v := r.str(name)
	if v == "" || r.err != nil {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.err = &kvcache.ConfigError{Field: r.prefix + name, Reason: "not an integer", Err: err}
	}
	return n
}

func (r *envReader) dur(name string) Duration {
	v := r.str(name)
	if v == "" || r.err != nil {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return Duration(d)
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.err = &kvcache.ConfigError{Field: r.prefix + name, Reason: `not a duration ("30s") or number of seconds`, Err: err}
		return 0
	}
	return Duration(secs * float64(time.Second))
}
