// Package telemetry keeps in-process HTTP metrics and serves them in the
// Prometheus text exposition format.
package telemetry

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

var defaultDurationBuckets = []float64{
	0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0,
}

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	i := sort.SearchFloat64s(h.boundaries, v)
	if i == len(h.boundaries) {
		return // +Inf only
	}
	h.mu.Lock()
	h.bucketCounts[i]++
	h.mu.Unlock()
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(addr, old, next) {
			return
		}
	}
}

// requestKey labels one request series.
type requestKey struct {
	Method string
	Route  string
	Status string
}

// GaugeFunc is sampled on every scrape.
type GaugeFunc struct {
	Name string
	Help string
	Read func() float64
}

// Counter only goes up.
type Counter struct {
	name string
	help string
	n    int64
}

func (c *Counter) Inc() { atomic.AddInt64(&c.n, 1) }

func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.n) }

// Metrics is the process-wide metric registry.
type Metrics struct {
	mu        sync.RWMutex
	durations map[requestKey]*histogram
	active    int64
	gauges    []GaugeFunc
	counters  []*Counter
}

func NewMetrics() *Metrics {
	return &Metrics{durations: make(map[requestKey]*histogram)}
}

// RegisterGauge adds a gauge read at scrape time, e.g. pool connections.
func (m *Metrics) RegisterGauge(g GaugeFunc) {
	m.mu.Lock()
	m.gauges = append(m.gauges, g)
	m.mu.Unlock()
}

// NewCounter registers a counter exported as name.
func (m *Metrics) NewCounter(name, help string) *Counter {
	c := &Counter{name: name, help: help}
	m.mu.Lock()
	m.counters = append(m.counters, c)
	m.mu.Unlock()
	return c
}

func (m *Metrics) observe(k requestKey, seconds float64) {
	m.mu.RLock()
	h, ok := m.durations[k]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if h, ok = m.durations[k]; !ok {
			h = newHistogram(defaultDurationBuckets)
			m.durations[k] = h
		}
		m.mu.Unlock()
	}
	h.Observe(seconds)
}

// RequestCount returns how many requests were observed for the series.
func (m *Metrics) RequestCount(method, route, status string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.durations[requestKey{method, route, status}]; ok {
		return h.Count()
	}
	return 0
}

func (m *Metrics) addActive(n int64) { atomic.AddInt64(&m.active, n) }

// ActiveRequests is the number of requests currently in flight.
func (m *Metrics) ActiveRequests() int64 { return atomic.LoadInt64(&m.active) }
