// Package metrics is a small Prometheus text-format registry for the watcher.
// Counters, gauges and histograms are keyed by their full name, labels
// included, and rendered on /metrics.
package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// LatencyBuckets cover page fetches, which range from tens of milliseconds
// to the request timeout.
var LatencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30}

// Counter only goes up.
type Counter struct{ n atomic.Int64 }

func (c *Counter) Inc()         { c.n.Add(1) }
func (c *Counter) Add(d int64)  { c.n.Add(d) }
func (c *Counter) Value() int64 { return c.n.Load() }

// Gauge holds an int64, or float64 bits when set through SetFloat.
type Gauge struct{ n atomic.Int64 }

func (g *Gauge) Set(v int64)  { g.n.Store(v) }
func (g *Gauge) Inc()         { g.n.Add(1) }
func (g *Gauge) Dec()         { g.n.Add(-1) }
func (g *Gauge) Value() int64 { return g.n.Load() }
func (g *Gauge) SetBool(b bool) {
	if b {
		g.n.Store(1)
		return
	}
	g.n.Store(0)
}

// SetFloat stores f as raw bits; read it back with FloatValue.
func (g *Gauge) SetFloat(f float64) { g.n.Store(int64(math.Float64bits(f))) }

func (g *Gauge) FloatValue() float64 { return math.Float64frombits(uint64(g.n.Load())) }

// Histogram counts observations into fixed upper bounds.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	hits   []uint64
	sum    float64
	total  uint64
}

func newHistogram(bounds []float64) *Histogram {
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	return &Histogram{bounds: b, hits: make([]uint64, len(b))}
}

// Observe records v in the first bucket whose bound is >= v. Values past
// the last bound only count toward +Inf.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.total++
	if i := sort.SearchFloat64s(h.bounds, v); i < len(h.bounds) {
		h.hits[i]++
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

type histSnapshot struct {
	bounds []float64
	hits   []uint64
	sum    float64
	total  uint64
}

func (h *Histogram) snapshot() histSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histSnapshot{
		bounds: h.bounds,
		hits:   append([]uint64(nil), h.hits...),
		sum:    h.sum,
		total:  h.total,
	}
}
