// Package logrus adapts a logrus entry to kvcache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/kvcache"
)

var _ kvcache.Logger = Logger{}

// Logger writes kvcache log lines through E. An "err" field holding an error
// is attached with WithError so formatters render it under logrus.ErrorKey.
type Logger struct{ E *logrus.Entry }

// New wraps l, tagging every line with component=kvcache.
func New(l *logrus.Logger) Logger {
	return Logger{E: l.WithField("component", "kvcache")}
}

func (l Logger) Debug(msg string, f kvcache.Fields) { l.at(logrus.DebugLevel, msg, f) }
func (l Logger) Info(msg string, f kvcache.Fields)  { l.at(logrus.InfoLevel, msg, f) }
func (l Logger) Warn(msg string, f kvcache.Fields)  { l.at(logrus.WarnLevel, msg, f) }
func (l Logger) Error(msg string, f kvcache.Fields) { l.at(logrus.ErrorLevel, msg, f) }

func (l Logger) at(lvl logrus.Level, msg string, f kvcache.Fields) {
	if l.E == nil || !l.E.Logger.IsLevelEnabled(lvl) {
		return
	}
	e := l.E
	if len(f) > 0 {
		fields := make(logrus.Fields, len(f))
		for k, v := range f {
			if err, ok := v.(error); ok && k == "err" {
				e = e.WithError(err)
				continue
			}
			fields[k] = v
		}
		e = e.WithFields(fields)
	}
	e.Log(lvl, msg)
}
