// Package engine turns a Config into live kvcache.Cache instances. It is the
// only place that looks at the backend kind; everything downstream sees
// kvcache.Cache.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/kvcache"
	"github.com/unkn0wn-root/kvcache/internal/util"
	"github.com/unkn0wn-root/kvcache/provider/bigcache"
	"github.com/unkn0wn-root/kvcache/provider/local"
	"github.com/unkn0wn-root/kvcache/provider/redis"
	"github.com/unkn0wn-root/kvcache/provider/ristretto"
)

type options struct {
	log    kvcache.Logger
	hooks  kvcache.Hooks
	client goredis.UniversalClient
	now    func() time.Time
}

type Option func(*options)

func WithLogger(l kvcache.Logger) Option { return func(o *options) { o.log = l } }

func WithHooks(h kvcache.Hooks) Option { return func(o *options) { o.hooks = h } }

// WithRedisClient makes remote caches use c instead of dialling Endpoint.
// The engine never closes a client it did not create.
func WithRedisClient(c goredis.UniversalClient) Option {
	return func(o *options) { o.client = c }
}

// WithClock overrides the clock of in-process backends.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// Engine hands out named caches for one backend configuration.
// Asking twice for the same name returns the same instance, so local caches
// with the same name share storage and remote caches share one client.
type Engine struct {
	cfg   Config
	log   kvcache.Logger
	hooks kvcache.Hooks
	now   func() time.Time

	rdb        goredis.UniversalClient
	ownsClient bool

	mu     sync.Mutex
	caches map[string]kvcache.Cache
	closed bool
}

// New validates cfg, builds the backend and, for the remote kind, pings it.
// Every failure is a *kvcache.ConfigError: a cache that cannot be built is a
// startup problem, not a runtime one.
func New(ctx context.Context, cfg Config, opts ...Option) (*Engine, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		log:    kvcache.Coalesce[kvcache.Logger](o.log, kvcache.NopLogger{}),
		hooks:  kvcache.Coalesce[kvcache.Hooks](o.hooks, kvcache.NopHooks{}),
		now:    o.now,
		caches: make(map[string]kvcache.Cache),
	}

	if cfg.Kind == KindRemote {
		switch {
		case o.client != nil:
			e.rdb = o.client
		case strings.TrimSpace(cfg.Endpoint) == "":
			return nil, &kvcache.ConfigError{Field: "endpoint", Reason: "required for the remote backend"}
		default:
			rdb, err := newRedisClient(cfg)
			if err != nil {
				return nil, err
			}
			e.rdb, e.ownsClient = rdb, true
		}
		if err := e.ping(ctx); err != nil {
			if e.ownsClient {
				_ = e.rdb.Close()
			}
			return nil, &kvcache.ConfigError{Field: "endpoint", Reason: "backend unreachable", Err: err}
		}
	}

	e.log.Info("kvcache engine ready", kvcache.Fields{"kind": string(cfg.Kind), "prefix": cfg.Prefix})
	return e, nil
}

// Open builds an engine and returns its unnamed cache. Closing the returned
// cache closes the engine.
func Open(ctx context.Context, cfg Config, opts ...Option) (kvcache.Cache, error) {
	e, err := New(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	c, err := e.Cache("")
	if err != nil {
		_ = e.Close(ctx)
		return nil, err
	}
	return &ownedCache{Cache: c, e: e}, nil
}

func (e *Engine) Kind() Kind { return e.cfg.Kind }

// Cache returns the cache called name, creating it on first use.
func (e *Engine) Cache(name string) (kvcache.Cache, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, kvcache.ErrClosed
	}
	if c, ok := e.caches[name]; ok {
		return c, nil
	}
	c, err := e.build(name)
	if err != nil {
		return nil, err
	}
	e.caches[name] = c
	e.log.Debug("cache created", kvcache.Fields{"name": name, "kind": string(e.cfg.Kind)})
	return c, nil
}

// Close closes every cache handed out and the redis client if the engine
// created it.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	caches := e.caches
	e.caches = nil
	e.mu.Unlock()

	var errs []error
	for name, c := range caches {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, err)
			e.log.Warn("cache close failed", kvcache.Fields{"name": name, "err": err})
		}
	}
	if e.ownsClient {
		if err := e.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) build(name string) (kvcache.Cache, error) {
	cfg := e.cfg
	switch cfg.Kind {
	case KindLocal:
		return local.New(local.Config{
			Capacity:      cfg.Capacity,
			DefaultTTL:    cfg.DefaultTTL.D(),
			SweepInterval: cfg.SweepInterval.D(),
			Now:           e.now,
			Logger:        e.log,
			Hooks:         e.hooks,
		})

	case KindRistretto:
		return ristretto.New(ristretto.Config{
			Capacity:   int64(cfg.Capacity),
			DefaultTTL: cfg.DefaultTTL.D(),
			Now:        e.now,
			Logger:     e.log,
			Hooks:      e.hooks,
		})

	case KindBigCache:
		return bigcache.New(context.Background(), bigcache.Config{
			LifeWindow:         cfg.LifeWindow.D(),
			CleanWindow:        cfg.SweepInterval.D(),
			MaxEntrySize:       cfg.MaxEntrySize,
			HardMaxCacheSizeMB: cfg.HardMaxCacheSizeMB,
			DefaultTTL:         cfg.DefaultTTL.D(),
			Now:                e.now,
			Logger:             e.log,
			Hooks:              e.hooks,
		})

	case KindRemote:
		return redis.New(redis.Config{
			Client:     e.rdb,
			Prefix:     util.Prefix(cfg.Prefix, name),
			Timeout:    cfg.Timeout.D(),
			DefaultTTL: cfg.DefaultTTL.D(),
			Logger:     e.log,
		})
	}
	return nil, &kvcache.ConfigError{Field: "kind", Reason: "unsupported backend " + string(cfg.Kind)}
}

func (e *Engine) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout.D())
	defer cancel()
	return e.rdb.Ping(ctx).Err()
}

func newRedisClient(cfg Config) (goredis.UniversalClient, error) {
	opt := &goredis.Options{Addr: cfg.Endpoint}
	if strings.Contains(cfg.Endpoint, "://") {
		parsed, err := goredis.ParseURL(cfg.Endpoint)
		if err != nil {
			return nil, &kvcache.ConfigError{Field: "endpoint", Reason: "invalid redis URL", Err: err}
		}
		opt = parsed
	}
	timeout := cfg.Timeout.D()
	opt.PoolSize = cfg.PoolSize
	opt.DialTimeout = timeout
	opt.ReadTimeout = timeout
	opt.WriteTimeout = timeout
	opt.PoolTimeout = timeout
	opt.ContextTimeoutEnabled = true
	// go-redis reads 0 as "3 retries"; -1 disables them.
	opt.MaxRetries = cfg.MaxRetries
	if opt.MaxRetries == 0 {
		opt.MaxRetries = -1
	}
	return goredis.NewClient(opt), nil
}

type ownedCache struct {
	kvcache.Cache
	e *Engine
}

func (c *ownedCache) Close(ctx context.Context) error { return c.e.Close(ctx) }
