// Package prom counts kvcache hook events with Prometheus counters.
package prom

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/kvcache"
)

type Options struct {
	Namespace   string // defaults to "kvcache"
	Subsystem   string
	ConstLabels prometheus.Labels
}

type Hooks struct {
	evictions    prometheus.Counter
	expirations  prometheus.Counter
	decodeErrors prometheus.Counter
	unavailable  *prometheus.CounterVec
}

var _ kvcache.Hooks = (*Hooks)(nil)

// New builds the counters and registers them with reg. A nil reg leaves them
// unregistered; Collectors can then be registered by the caller.
func New(reg prometheus.Registerer, opts Options) (*Hooks, error) {
	ns := kvcache.Coalesce(opts.Namespace, "kvcache")
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: opts.Subsystem, Name: name, Help: help, ConstLabels: opts.ConstLabels,
		})
	}
	h := &Hooks{
		evictions:    counter("evictions_total", "Entries evicted to satisfy a capacity bound."),
		expirations:  counter("expirations_total", "Expired entries purged on read or by a sweep."),
		decodeErrors: counter("decode_errors_total", "Stored values that could not be decoded."),
		unavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: opts.Subsystem, Name: "unavailable_total",
			Help: "Operations that failed because the backend was unavailable.", ConstLabels: opts.ConstLabels,
		}, []string{"op"}),
	}
	if reg == nil {
		return h, nil
	}
	for _, c := range h.Collectors() {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("kvcache/prom: register: %w", err)
		}
	}
	return h, nil
}

func (h *Hooks) Collectors() []prometheus.Collector {
	return []prometheus.Collector{h.evictions, h.expirations, h.decodeErrors, h.unavailable}
}

func (h *Hooks) Evicted(string)             { h.evictions.Inc() }
func (h *Hooks) Expired(string)             { h.expirations.Inc() }
func (h *Hooks) DecodeFailed(string, error) { h.decodeErrors.Inc() }
func (h *Hooks) Unavailable(op string, _ error) {
	h.unavailable.WithLabelValues(op).Inc()
}
