package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/kvcache"
	"github.com/unkn0wn-root/kvcache/codec"
	"github.com/unkn0wn-root/kvcache/engine"
	asynchook "github.com/unkn0wn-root/kvcache/hooks/async"
	"github.com/unkn0wn-root/kvcache/hooks/prom"
	kvlogrus "github.com/unkn0wn-root/kvcache/log/logrus"
	kvslog "github.com/unkn0wn-root/kvcache/log/slog"
	kvzap "github.com/unkn0wn-root/kvcache/log/zap"
	"github.com/unkn0wn-root/kvcache/registry"
	"github.com/unkn0wn-root/kvcache/sloghooks"
)

var errMiss = errors.New("miss")

type flags struct {
	envPrefix string
	envFile   string
	logger    string
	level     string
	name      string
	ttl       string
	metrics   bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("kvcache", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var f flags
	fs.StringVar(&f.envPrefix, "env-prefix", "KVCACHE_", "prefix of the configuration variables")
	fs.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded when present")
	fs.StringVar(&f.logger, "log", "logrus", "logger: logrus, zap or slog")
	fs.StringVar(&f.level, "level", "warn", "log level")
	fs.StringVar(&f.name, "cache", "", "named cache within the engine")
	fs.StringVar(&f.ttl, "ttl", "default", `ttl for set/replace/touch: a duration, "default", "none" or "keep"`)
	fs.BoolVar(&f.metrics, "metrics", false, "print hook counters to stderr on exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return errors.New("expected a command and a key")
	}

	cfg, err := engine.FromEnv(f.envPrefix, f.envFile)
	if err != nil {
		return err
	}
	log, slogger, err := newLogger(f.logger, f.level, stderr)
	if err != nil {
		return err
	}

	reg := registry.New()
	promReg := prometheus.NewRegistry()
	counters, err := prom.New(promReg, prom.Options{})
	if err != nil {
		return err
	}
	sinks := fanout{counters}
	if slogger != nil {
		sinks = append(sinks, sloghooks.New(slogger, sloghooks.Options{}))
	}
	hooks := asynchook.New(sinks, 1, 256)

	eng, err := engine.New(ctx, cfg, engine.WithLogger(log), engine.WithHooks(hooks))
	if err != nil {
		hooks.Close()
		return err
	}
	cmdErr := errors.Join(
		registry.Provide(reg, eng),
		registry.Provide[kvcache.Logger](reg, log),
		registry.Provide[kvcache.Hooks](reg, hooks),
	)
	reg.Freeze()
	if cmdErr == nil {
		cmdErr = exec(ctx, reg, f, fs.Args(), stdout)
	}

	closeErr := eng.Close(ctx)
	hooks.Close()
	if f.metrics {
		if err := dumpMetrics(promReg, stderr); err != nil {
			return err
		}
	}
	return errors.Join(cmdErr, closeErr)
}

func exec(ctx context.Context, reg *registry.Registry, f flags, args []string, stdout io.Writer) error {
	eng := registry.MustLookup[*engine.Engine](reg)
	raw, err := eng.Cache(f.name)
	if err != nil {
		return err
	}
	c, err := kvcache.NewTyped[string](raw, codec.String{Validate: true}, kvcache.TypedOptions{
		Logger: registry.MustLookup[kvcache.Logger](reg),
		Hooks:  registry.MustLookup[kvcache.Hooks](reg),
	})
	if err != nil {
		return err
	}
	ttl, err := parseTTL(f.ttl)
	if err != nil {
		return err
	}

	cmd, key := args[0], args[1]
	value := func() (string, error) {
		if len(args) < 3 {
			return "", fmt.Errorf("%s: missing value", cmd)
		}
		return strings.Join(args[2:], " "), nil
	}

	switch cmd {
	case "get":
		v, ok, err := c.Get(ctx, key)
		return printValue(stdout, v, ok, err)
	case "pop":
		v, ok, err := c.Pop(ctx, key)
		return printValue(stdout, v, ok, err)
	case "set":
		v, err := value()
		if err != nil {
			return err
		}
		return c.Set(ctx, key, v, ttl)
	case "replace":
		v, err := value()
		if err != nil {
			return err
		}
		old, ok, err := c.Replace(ctx, key, v, ttl)
		return printValue(stdout, old, ok, err)
	case "del":
		ok, err := c.Remove(ctx, key)
		return printBool(stdout, ok, err)
	case "touch":
		ok, err := c.Touch(ctx, key, ttl)
		return printBool(stdout, ok, err)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printValue(w io.Writer, v string, ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return errMiss
	}
	_, err = fmt.Fprintln(w, v)
	return err
}

func printBool(w io.Writer, ok bool, err error) error {
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, ok); err != nil {
		return err
	}
	if !ok {
		return errMiss
	}
	return nil
}

func parseTTL(s string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return kvcache.DefaultExpiration, nil
	case "none", "never":
		return kvcache.NoExpiration, nil
	case "keep":
		return kvcache.KeepTTL, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid -ttl %q", s)
	}
	return d, nil
}

// newLogger returns the kvcache logger and, for the slog backend, the
// underlying *slog.Logger so hook events can share it.
func newLogger(kind, level string, w io.Writer) (kvcache.Logger, *slog.Logger, error) {
	switch kind {
	case "logrus":
		l := logrus.New()
		l.SetOutput(w)
		l.SetFormatter(&logrus.JSONFormatter{})
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, nil, err
		}
		l.SetLevel(lvl)
		return kvlogrus.New(l), nil, nil

	case "zap":
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, nil, err
		}
		core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(w), lvl)
		return kvzap.New(zap.New(core)), nil, nil

	case "slog":
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, nil, err
		}
		l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
		return kvslog.New(l), l, nil

	default:
		return nil, nil, fmt.Errorf("unknown logger %q", kind)
	}
}

func dumpMetrics(g prometheus.Gatherer, w io.Writer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// fanout delivers each event to every sink in order.
type fanout []kvcache.Hooks

func (f fanout) Evicted(k string) {
	for _, h := range f {
		h.Evicted(k)
	}
}

func (f fanout) Expired(k string) {
	for _, h := range f {
		h.Expired(k)
	}
}

func (f fanout) DecodeFailed(k string, err error) {
	for _, h := range f {
		h.DecodeFailed(k, err)
	}
}

func (f fanout) Unavailable(op string, err error) {
	for _, h := range f {
		h.Unavailable(op, err)
	}
}
