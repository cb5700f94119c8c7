// Package redis is the remote kvcache backend on top of go-redis/v9.
//
// Values are stored inside the internal/wire envelope so that bytes written
// by somebody else (or by an incompatible version) surface as
// *kvcache.DecodeError instead of garbage. Expiry is native Redis TTL; the
// envelope's expiry field is always left at "never".
package redis

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/kvcache"
	"github.com/unkn0wn-root/kvcache/internal/wire"
)

var ErrNilClient = errors.New("redis provider: nil client")

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this store exclusively owns the client

	// Prefix is prepended to every key, e.g. "app:sessions:".
	Prefix string
	// Timeout bounds every command. 0 relies on the caller's context only.
	Timeout time.Duration
	// DefaultTTL applies to writes using kvcache.DefaultExpiration.
	DefaultTTL time.Duration

	Logger kvcache.Logger // if nil, NopLogger is used
}

type Store struct {
	rdb         goredis.UniversalClient
	closeClient bool
	prefix      string
	timeout     time.Duration
	defaultTTL  time.Duration
	log         kvcache.Logger
	closed      atomic.Bool
}

var _ kvcache.Cache = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Store{
		rdb:         cfg.Client,
		closeClient: cfg.CloseClient,
		prefix:      cfg.Prefix,
		timeout:     cfg.Timeout,
		defaultTTL:  cfg.DefaultTTL,
		log:         kvcache.Coalesce[kvcache.Logger](cfg.Logger, kvcache.NopLogger{}),
	}, nil
}

// Ping checks that the server answers within the store timeout.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return s.fail("ping", "", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, kvcache.ErrClosed
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	b, err := s.rdb.Get(ctx, s.k(key)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, s.fail("get", key, err)
	}
	return s.unwrap(key, b)
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.closed.Load() {
		return kvcache.ErrClosed
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	ttl = kvcache.ResolveTTL(ttl, s.defaultTTL)
	if ttl == 0 {
		if err := s.rdb.Del(ctx, s.k(key)).Err(); err != nil {
			return s.fail("set", key, err)
		}
		return nil
	}
	// go-redis reads expiration -1 as KEEPTTL, so "never" must be sent as 0.
	if err := s.rdb.Set(ctx, s.k(key), wire.Encode(time.Time{}, value), redisTTL(ttl)).Err(); err != nil {
		return s.fail("set", key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) (bool, error) {
	if s.closed.Load() {
		return false, kvcache.ErrClosed
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	n, err := s.rdb.Del(ctx, s.k(key)).Result()
	if err != nil {
		return false, s.fail("remove", key, err)
	}
	return n > 0, nil
}

func (s *Store) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if s.closed.Load() {
		return false, kvcache.ErrClosed
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	k := s.k(key)
	switch ttl = kvcache.ResolveTTL(ttl, s.defaultTTL); {
	case ttl == 0:
		n, err := s.rdb.Del(ctx, k).Result()
		if err != nil {
			return false, s.fail("touch", key, err)
		}
		return n > 0, nil

	case ttl < 0:
		// PERSIST alone returns 0 for keys without a TTL, so existence is
		// checked in the same transaction.
		var exists *goredis.IntCmd
		_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			exists = p.Exists(ctx, k)
			p.Persist(ctx, k)
			return nil
		})
		if err != nil {
			return false, s.fail("touch", key, err)
		}
		return exists.Val() > 0, nil

	default:
		ok, err := s.rdb.PExpire(ctx, k, ttl).Result()
		if err != nil {
			return false, s.fail("touch", key, err)
		}
		return ok, nil
	}
}

func (s *Store) Pop(ctx context.Context, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, kvcache.ErrClosed
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	b, err := s.rdb.GetDel(ctx, s.k(key)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.fail("pop", key, err)
	}
	return s.unwrap(key, b)
}

func (s *Store) Replace(ctx context.Context, key string, value []byte, ttl time.Duration) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, kvcache.ErrClosed
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	k := s.k(key)
	args := goredis.SetArgs{Mode: "XX", Get: true}
	if ttl == kvcache.KeepTTL {
		args.KeepTTL = true
	} else {
		ttl = kvcache.ResolveTTL(ttl, s.defaultTTL)
		if ttl == 0 {
			// overwrite-then-expire is indistinguishable from removal
			return s.Pop(ctx, key)
		}
		args.TTL = redisTTL(ttl)
	}

	old, err := s.rdb.SetArgs(ctx, k, wire.Encode(time.Time{}, value), args).Result()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.fail("replace", key, err)
	}
	prev, _, err := s.unwrap(key, []byte(old))
	if err != nil {
		return nil, true, err
	}
	return prev, true, nil
}

// Close releases the underlying redis client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Store) Close(context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

func (s *Store) k(key string) string { return s.prefix + key }

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) unwrap(key string, b []byte) ([]byte, bool, error) {
	_, payload, err := wire.Decode(b)
	if err != nil {
		return nil, false, &kvcache.DecodeError{Key: key, Err: err}
	}
	// go-redis may hand out bytes aliasing its reply string
	return bytes.Clone(payload), true, nil
}

// fail classifies a go-redis error. WRONGTYPE means the key exists but holds
// something this store did not write; everything else is an outage as far as
// the caller is concerned.
func (s *Store) fail(op, key string, err error) error {
	var rerr goredis.Error
	if errors.As(err, &rerr) && strings.HasPrefix(rerr.Error(), "WRONGTYPE") {
		return &kvcache.DecodeError{Key: key, Err: err}
	}
	s.log.Warn("redis command failed", kvcache.Fields{"op": op, "key": key, "err": err})
	return &kvcache.UnavailableError{Op: op, Key: key, Err: err}
}

func redisTTL(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}
