// Package metrics provides Prometheus instrumentation for slot pools.
//
// # Overview
//
// A PoolCollector owns one family of pool metrics registered against a
// prometheus.Registerer. Pools report into it through the Observe* methods,
// keyed by pool name, so several pools can share one collector.
//
// # Basic Usage
//
//	reg := prometheus.NewRegistry()
//	collector := metrics.NewPoolCollector(reg)
//
//	p, _ := pool.New[Message](10, pool.WithName("messages"), pool.WithMetrics(collector))
//
//	timer := metrics.NewTimer("hold")
//	// use the slot
//	collector.ObserveHold("messages", timer.Stop())
//
// # Metric Types
//
// Gauges: available and in-use slots (point-in-time, like Pool.Available)
// Counters: acquired, released, exhausted and refused releases
// Histogram: how long callers hold a slot
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "slotpool"

// PoolCollector groups the Prometheus metrics describing slot pools.
// All methods are safe for concurrent use.
type PoolCollector struct {
	available    *prometheus.GaugeVec     // Free slots per pool
	inUse        *prometheus.GaugeVec     // Occupied slots per pool
	acquired     *prometheus.CounterVec   // Successful acquires
	released     *prometheus.CounterVec   // Slots returned to the free-list
	exhausted    *prometheus.CounterVec   // Acquires that found the free-list empty
	refused      *prometheus.CounterVec   // Releases refused for a stale or foreign slot
	holdDuration *prometheus.HistogramVec // Time between acquire and release
}

// NewPoolCollector creates a collector and registers its metrics with reg.
// A nil reg falls back to prometheus.DefaultRegisterer.
//
// Registering two collectors against the same registerer panics, as with
// any duplicate Prometheus registration.
func NewPoolCollector(reg prometheus.Registerer) *PoolCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PoolCollector{
		available: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "available_slots",
				Help:      "Number of free slots in the pool",
			},
			[]string{"pool"},
		),
		inUse: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_use_slots",
				Help:      "Number of occupied slots in the pool",
			},
			[]string{"pool"},
		),
		acquired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "acquired_total",
				Help:      "Total number of successful slot acquisitions",
			},
			[]string{"pool"},
		),
		released: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "released_total",
				Help:      "Total number of slots returned to the pool",
			},
			[]string{"pool"},
		),
		exhausted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exhausted_total",
				Help:      "Total number of acquire attempts against an empty pool",
			},
			[]string{"pool"},
		),
		refused: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "release_refused_total",
				Help:      "Total number of releases refused for stale or foreign slots",
			},
			[]string{"pool"},
		),
		holdDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "hold_duration_seconds",
				Help:      "Time a caller held a slot before releasing it",
				Buckets: []float64{
					0.0001, // 100μs
					0.001,  // 1ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1,      // 1s
				},
			},
			[]string{"pool"},
		),
	}
}

// ObserveCapacity initialises the gauges for a freshly created pool.
func (c *PoolCollector) ObserveCapacity(pool string, capacity int) {
	c.available.WithLabelValues(pool).Set(float64(capacity))
	c.inUse.WithLabelValues(pool).Set(0)
}

// ObserveAcquire records a successful acquire and the free count after it.
func (c *PoolCollector) ObserveAcquire(pool string, available, capacity int) {
	c.acquired.WithLabelValues(pool).Inc()
	c.setLevels(pool, available, capacity)
}

// ObserveRelease records a slot returning and the free count after it.
func (c *PoolCollector) ObserveRelease(pool string, available, capacity int) {
	c.released.WithLabelValues(pool).Inc()
	c.setLevels(pool, available, capacity)
}

// ObserveExhausted records an acquire that found no free slot.
func (c *PoolCollector) ObserveExhausted(pool string) {
	c.exhausted.WithLabelValues(pool).Inc()
}

// ObserveRefused records a release that was ignored.
func (c *PoolCollector) ObserveRefused(pool string) {
	c.refused.WithLabelValues(pool).Inc()
}

// ObserveHold records how long a slot was held.
func (c *PoolCollector) ObserveHold(pool string, d time.Duration) {
	c.holdDuration.WithLabelValues(pool).Observe(d.Seconds())
}

func (c *PoolCollector) setLevels(pool string, available, capacity int) {
	c.available.WithLabelValues(pool).Set(float64(available))
	c.inUse.WithLabelValues(pool).Set(float64(capacity - available))
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the label the timer was created with.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation.
// It can be called multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// LatencyTracker keeps the most recent maxSize durations for percentile
// reporting. Safe for concurrent use.
type LatencyTracker struct {
	mu      sync.Mutex
	values  []time.Duration
	maxSize int
}

// NewLatencyTracker creates a new latency tracker
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &LatencyTracker{
		values:  make([]time.Duration, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record records a latency value, evicting the oldest when full
func (l *LatencyTracker) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.values) >= l.maxSize {
		l.values = l.values[1:]
	}
	l.values = append(l.values, d)
}

// Count returns how many samples are currently retained.
func (l *LatencyTracker) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.values)
}

// GetPercentile returns the nearest-rank percentile value (0-100)
func (l *LatencyTracker) GetPercentile(p float64) time.Duration {
	l.mu.Lock()
	sorted := make([]time.Duration, len(l.values))
	copy(sorted, l.values)
	l.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := int(float64(len(sorted)) * p / 100)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	if index < 0 {
		index = 0
	}
	return sorted[index]
}
