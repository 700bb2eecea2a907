package guardrail

import (
	"sort"
	"sync"
	"time"
)

// maxLatencySamples bounds the per-bucket latency ring so metrics never
// grow past a fixed memory footprint.
const maxLatencySamples = 1000

// MetricsSnapshot is the exported view of one tracked key.
type MetricsSnapshot struct {
	Total      int64            `json:"total"`
	Allowed    int64            `json:"allowed"`
	Blocked    int64            `json:"blocked"`
	Errors     int64            `json:"errors"`
	Categories map[string]int64 `json:"categories,omitempty"`
	P50Ms      float64          `json:"p50_ms"`
	P95Ms      float64          `json:"p95_ms"`
	P99Ms      float64          `json:"p99_ms"`
}

type metricsBucket struct {
	total      int64
	allowed    int64
	blocked    int64
	errors     int64
	categories map[Category]int64
	latencies  []time.Duration
}

// Metrics collects per-operation and per-guardrail counters with a
// bounded latency sample buffer for percentile queries. Buckets are
// keyed by an operation name (e.g. "check", "cache_hit") or by
// "guardrail:<name>".
type Metrics struct {
	mu      sync.Mutex
	buckets map[string]*metricsBucket
}

// NewMetrics creates an empty collector.
func NewMetrics() *Metrics {
	return &Metrics{buckets: make(map[string]*metricsBucket)}
}

func (m *Metrics) bucket(key string) *metricsBucket {
	b, ok := m.buckets[key]
	if !ok {
		b = &metricsBucket{categories: make(map[Category]int64)}
		m.buckets[key] = b
	}
	return b
}

// RecordOutcome counts one allow/block decision with its latency.
func (m *Metrics) RecordOutcome(key string, res Result, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.bucket(key)
	b.total++
	if res.Allowed {
		b.allowed++
	} else {
		b.blocked++
	}
	if res.Category != "" {
		b.categories[res.Category]++
	}
	b.latencies = append(b.latencies, latency)
	if len(b.latencies) > maxLatencySamples {
		b.latencies = b.latencies[len(b.latencies)-maxLatencySamples:]
	}
}

// RecordError counts a failed check for the key.
func (m *Metrics) RecordError(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.bucket(key)
	b.total++
	b.errors++
}

// RecordHit counts an event with no outcome, such as a cache hit.
func (m *Metrics) RecordHit(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bucket(key).total++
}

// Snapshot returns the current counters plus computed p50/p95/p99
// latencies for every tracked key.
func (m *Metrics) Snapshot() map[string]MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]MetricsSnapshot, len(m.buckets))
	for key, b := range m.buckets {
		snap := MetricsSnapshot{
			Total:   b.total,
			Allowed: b.allowed,
			Blocked: b.blocked,
			Errors:  b.errors,
		}
		if len(b.categories) > 0 {
			snap.Categories = make(map[string]int64, len(b.categories))
			for cat, n := range b.categories {
				snap.Categories[string(cat)] = n
			}
		}
		if len(b.latencies) > 0 {
			sorted := make([]time.Duration, len(b.latencies))
			copy(sorted, b.latencies)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			snap.P50Ms = percentile(sorted, 0.50)
			snap.P95Ms = percentile(sorted, 0.95)
			snap.P99Ms = percentile(sorted, 0.99)
		}
		out[key] = snap
	}
	return out
}

// Reset clears all buckets.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buckets = make(map[string]*metricsBucket)
}

// percentile reads the nearest-rank percentile from a sorted sample in
// milliseconds.
func percentile(sorted []time.Duration, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return float64(sorted[idx].Microseconds()) / 1000.0
}
