// Package metrics reproduces the go-ethereum metrics call surface
// (NewRegisteredTimer, GetOrRegisterCounter, NewRegisteredGauge) used
// throughout the teacher's miner/worker.go, backed here by
// github.com/prometheus/client_golang rather than go-ethereum's own
// metrics package, which was not part of the retrieval.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()
	regMu    sync.Mutex
	reg      = newRegistry()
)

// Registry returns the process-wide Prometheus registry every metric
// created through this package is registered against, for wiring into
// internal/httpadmin's /metrics endpoint.
func Registry() *prometheus.Registry { return registry }

// registryState deduplicates metrics by name so repeated
// NewRegisteredX calls for the same name (a common call-site pattern:
// "block/from/%v" built per-call) return the same collector instead of
// panicking on double registration.
type registryState struct {
	timers   map[string]*Timer
	counters map[string]*Counter
	gauges   map[string]*Gauge
}

func newRegistry() *registryState {
	return &registryState{
		timers:   make(map[string]*Timer),
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
	}
}

// Timer tracks a duration distribution, mirroring go-ethereum's
// metrics.Timer (Update/UpdateSince), backed by a Prometheus histogram.
type Timer struct {
	h prometheus.Histogram
}

func (t *Timer) Update(d time.Duration)        { t.h.Observe(d.Seconds()) }
func (t *Timer) UpdateSince(start time.Time)   { t.h.Observe(time.Since(start).Seconds()) }

// NewRegisteredTimer returns the named timer, creating it on first use.
// The second argument mirrors the teacher's call sites
// (metrics.NewRegisteredTimer(name, nil)); a parent registry handle is
// not modeled here, so it is accepted and ignored.
func NewRegisteredTimer(name string, _ interface{}) *Timer {
	regMu.Lock()
	defer regMu.Unlock()
	if t, ok := reg.timers[name]; ok {
		return t
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: sanitize(name),
		Help: name,
	})
	registry.MustRegister(h)
	t := &Timer{h: h}
	reg.timers[name] = t
	return t
}

// Counter is a monotonically increasing count, backed by a Prometheus
// counter.
type Counter struct {
	c prometheus.Counter
}

func (c *Counter) Inc(delta int64) { c.c.Add(float64(delta)) }

// GetOrRegisterCounter returns the named counter, creating it on first
// use, matching metrics.GetOrRegisterCounter's call-site shape.
func GetOrRegisterCounter(name string, _ interface{}) *Counter {
	regMu.Lock()
	defer regMu.Unlock()
	if c, ok := reg.counters[name]; ok {
		return c
	}
	pc := prometheus.NewCounter(prometheus.CounterOpts{
		Name: sanitize(name),
		Help: name,
	})
	registry.MustRegister(pc)
	c := &Counter{c: pc}
	reg.counters[name] = c
	return c
}

// Gauge tracks an instantaneous value, backed by a Prometheus gauge.
type Gauge struct {
	g prometheus.Gauge
}

func (g *Gauge) Update(v int64)  { g.g.Set(float64(v)) }
func (g *Gauge) Inc(delta int64) { g.g.Add(float64(delta)) }
func (g *Gauge) Dec(delta int64) { g.g.Add(-float64(delta)) }

// NewRegisteredGauge returns the named gauge, creating it on first use.
func NewRegisteredGauge(name string, _ interface{}) *Gauge {
	regMu.Lock()
	defer regMu.Unlock()
	if g, ok := reg.gauges[name]; ok {
		return g
	}
	pg := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: sanitize(name),
		Help: name,
	})
	registry.MustRegister(pg)
	g := &Gauge{g: pg}
	reg.gauges[name] = g
	return g
}

// sanitize rewrites a go-ethereum-style slash-separated metric name
// ("worker/writeblock") into the charset Prometheus metric names
// require ([a-zA-Z_:][a-zA-Z0-9_:]*).
func sanitize(name string) string {
	b := []byte(name)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == ':':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}
