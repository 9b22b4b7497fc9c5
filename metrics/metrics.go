// Package metrics provides the counters, gauges and histograms reported by
// the circuit verifier and the witness generator.
package metrics

import (
	"math"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"
)

// Counter only goes up.
type Counter struct {
	name  string
	value atomic.Int64
}

func NewCounter(name string) *Counter { return &Counter{name: name} }

func (c *Counter) Inc() { c.value.Add(1) }

// Add adds n when it is positive.
func (c *Counter) Add(n int64) {
	if n > 0 {
		c.value.Add(n)
	}
}

func (c *Counter) Value() int64 { return c.value.Load() }

func (c *Counter) Name() string { return c.name }

// Gauge holds the last value set, or the largest one seen through Max.
type Gauge struct {
	name  string
	value atomic.Int64
}

func NewGauge(name string) *Gauge { return &Gauge{name: name} }

func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Max raises the gauge to v when v is larger.
func (g *Gauge) Max(v int64) {
	for cur := g.value.Load(); v > cur; cur = g.value.Load() {
		if g.value.CompareAndSwap(cur, v) {
			return
		}
	}
}

func (g *Gauge) Inc() { g.value.Add(1) }

func (g *Gauge) Dec() { g.value.Add(-1) }

func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) Name() string { return g.name }

// numBuckets covers observations up to 2^62; larger ones land in the last
// bucket.
const numBuckets = 64

// Histogram counts observations in power-of-two buckets: bucket 0 holds
// values below 1 and bucket k holds [2^(k-1), 2^k).
type Histogram struct {
	name    string
	mu      sync.Mutex
	count   int64
	sum     float64
	min     float64
	max     float64
	buckets [numBuckets]int64
}

func NewHistogram(name string) *Histogram {
	return &Histogram{name: name, min: math.Inf(1), max: math.Inf(-1)}
}

func bucketOf(v float64) int {
	if !(v >= 1) {
		return 0
	}
	if v >= math.Exp2(numBuckets-2) {
		return numBuckets - 1
	}
	return bits.Len64(uint64(v))
}

// BucketBound returns the exclusive upper bound of bucket k.
func BucketBound(k int) float64 {
	if k >= numBuckets-1 {
		return math.Inf(1)
	}
	return math.Exp2(float64(k))
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	h.min = math.Min(h.min, v)
	h.max = math.Max(h.max, v)
	h.buckets[bucketOf(v)]++
}

func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Min returns the smallest observation, or 0 before the first one.
func (h *Histogram) Min() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.min
}

// Max returns the largest observation, or 0 before the first one.
func (h *Histogram) Max() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.max
}

// Mean returns the average observation, or 0 before the first one.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

// Buckets returns the cumulative count at each bucket bound up to the
// highest non-empty bucket.
func (h *Histogram) Buckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	top := -1
	for k, n := range h.buckets {
		if n > 0 {
			top = k
		}
	}
	out := make([]int64, top+1)
	var acc int64
	for k := range out {
		acc += h.buckets[k]
		out[k] = acc
	}
	return out
}

func (h *Histogram) Name() string { return h.name }

// Timer observes its elapsed time in microseconds when stopped.
type Timer struct {
	start time.Time
	hist  *Histogram
}

func NewTimer(h *Histogram) *Timer { return &Timer{start: time.Now(), hist: h} }

// Stop records and returns the elapsed time. A nil histogram records
// nothing.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	if t.hist != nil {
		t.hist.Observe(float64(d.Microseconds()))
	}
	return d
}
