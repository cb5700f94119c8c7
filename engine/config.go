package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/unkn0wn-root/kvcache"
)

type Kind string

const (
	KindLocal     Kind = "local"
	KindRemote    Kind = "remote"
	KindRistretto Kind = "ristretto"
	KindBigCache  Kind = "bigcache"
)

// ParseKind normalises a backend name. "redis" is accepted as an alias of
// "remote".
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindLocal, KindRemote, KindRistretto, KindBigCache:
		return k, nil
	case "redis":
		return KindRemote, nil
	default:
		return "", fmt.Errorf("unknown backend %q", s)
	}
}

// Duration is a time.Duration that reads as either a Go duration string
// ("30s", "1h30m") or a number of seconds in JSON.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\" or a number of seconds: %w", err)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// Config selects and tunes one backend. Fields that do not apply to the
// selected kind are ignored.
type Config struct {
	Kind Kind `json:"kind"`

	// local, ristretto
	Capacity int `json:"capacity,omitempty"`

	// local; bigcache uses it as its clean window
	SweepInterval Duration `json:"sweep_interval,omitempty"`

	// remote
	Endpoint   string   `json:"endpoint,omitempty"`
	PoolSize   int      `json:"pool_size,omitempty"`
	Timeout    Duration `json:"timeout,omitempty"`
	MaxRetries int      `json:"max_retries,omitempty"`

	// bigcache
	MaxEntrySize       int      `json:"max_entry_size,omitempty"`
	HardMaxCacheSizeMB int      `json:"hard_max_cache_size_mb,omitempty"`
	LifeWindow         Duration `json:"life_window,omitempty"`

	DefaultTTL Duration `json:"default_ttl,omitempty"`
	Prefix     string   `json:"prefix,omitempty"`
}

const defaultTimeout = 2 * time.Second

// ParseConfig decodes a JSON document into a Config. Unknown fields are
// rejected so that typos fail at startup.
func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, &kvcache.ConfigError{Reason: "malformed configuration", Err: err}
	}
	return cfg, nil
}

// Validate normalises cfg in place and reports the first problem found.
// The remote endpoint is checked by New, which knows whether a client was
// injected.
func (c *Config) Validate() error {
	k, err := ParseKind(string(c.Kind))
	if err != nil {
		return &kvcache.ConfigError{Field: "kind", Reason: "must be one of local, remote, ristretto, bigcache", Err: err}
	}
	c.Kind = k

	if c.DefaultTTL < 0 {
		return &kvcache.ConfigError{Field: "default_ttl", Reason: "must not be negative"}
	}

	switch c.Kind {
	case KindLocal:
		if c.Capacity < 1 {
			return &kvcache.ConfigError{Field: "capacity", Reason: "must be >= 1 for the local backend"}
		}
		if c.SweepInterval < 0 {
			return &kvcache.ConfigError{Field: "sweep_interval", Reason: "must not be negative"}
		}

	case KindRistretto:
		if c.Capacity < 1 {
			return &kvcache.ConfigError{Field: "capacity", Reason: "must be >= 1 for the ristretto backend"}
		}

	case KindBigCache:
		if c.MaxEntrySize < 0 || c.HardMaxCacheSizeMB < 0 || c.LifeWindow < 0 {
			return &kvcache.ConfigError{Field: "bigcache", Reason: "sizes and life_window must not be negative"}
		}
		if c.SweepInterval < 0 {
			return &kvcache.ConfigError{Field: "sweep_interval", Reason: "must not be negative"}
		}

	case KindRemote:
		if strings.Contains(c.Endpoint, "://") {
			u, err := url.Parse(c.Endpoint)
			if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
				return &kvcache.ConfigError{Field: "endpoint", Reason: "must be host:port or a redis:// URL", Err: err}
			}
		}
		if c.PoolSize < 0 {
			return &kvcache.ConfigError{Field: "pool_size", Reason: "must not be negative"}
		}
		if c.MaxRetries < 0 {
			return &kvcache.ConfigError{Field: "max_retries", Reason: "must not be negative"}
		}
		if c.Timeout < 0 {
			return &kvcache.ConfigError{Field: "timeout", Reason: "must not be negative"}
		}
		c.Timeout = kvcache.Coalesce(c.Timeout, Duration(defaultTimeout))
	}
	return nil
}
