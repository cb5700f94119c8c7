// Package zap adapts a *zap.Logger to kvcache.Logger.
package zap

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/kvcache"
)

var _ kvcache.Logger = Logger{}

type Logger struct{ L *zap.Logger }

func New(l *zap.Logger) Logger { return Logger{L: l.Named("kvcache")} }

func (z Logger) Debug(msg string, f kvcache.Fields) { z.at(zapcore.DebugLevel, msg, f) }
func (z Logger) Info(msg string, f kvcache.Fields)  { z.at(zapcore.InfoLevel, msg, f) }
func (z Logger) Warn(msg string, f kvcache.Fields)  { z.at(zapcore.WarnLevel, msg, f) }
func (z Logger) Error(msg string, f kvcache.Fields) { z.at(zapcore.ErrorLevel, msg, f) }

func (z Logger) at(lvl zapcore.Level, msg string, f kvcache.Fields) {
	if z.L == nil {
		return
	}
	if ce := z.L.Check(lvl, msg); ce != nil {
		ce.Write(fields(f)...)
	}
}

// fields sorts keys so the same call always renders in the same order.
func fields(f kvcache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
