package guardrail

import (
	"testing"
	"time"
)

func TestMetricsCountsOutcomes(t *testing.T) {
	m := NewMetrics()

	m.RecordOutcome("check", AllowResult(CategoryCustom), time.Millisecond)
	m.RecordOutcome("check", BlockResult(CategorySafety, SeverityCritical, "no"), time.Millisecond)
	m.RecordOutcome("check", BlockResult(CategorySpam, SeverityLow, "no"), time.Millisecond)
	m.RecordError("check")

	snap := m.Snapshot()["check"]
	if snap.Total != 4 {
		t.Fatalf("total = %d, want 4", snap.Total)
	}
	if snap.Allowed != 1 || snap.Blocked != 2 || snap.Errors != 1 {
		t.Fatalf("allowed/blocked/errors = %d/%d/%d, want 1/2/1",
			snap.Allowed, snap.Blocked, snap.Errors)
	}
	if snap.Categories["safety"] != 1 || snap.Categories["spam"] != 1 {
		t.Fatalf("unexpected category counts: %v", snap.Categories)
	}
}

func TestMetricsPercentiles(t *testing.T) {
	m := NewMetrics()

	// 1ms..100ms, recorded out of order to exercise the sort.
	for i := 100; i >= 1; i-- {
		m.RecordOutcome("check", AllowResult(CategoryCustom), time.Duration(i)*time.Millisecond)
	}

	snap := m.Snapshot()["check"]
	if snap.P50Ms != 50 {
		t.Fatalf("p50 = %v, want 50", snap.P50Ms)
	}
	if snap.P95Ms != 95 {
		t.Fatalf("p95 = %v, want 95", snap.P95Ms)
	}
	if snap.P99Ms != 99 {
		t.Fatalf("p99 = %v, want 99", snap.P99Ms)
	}
}

func TestMetricsLatencyBufferBounded(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < maxLatencySamples+500; i++ {
		m.RecordOutcome("check", AllowResult(CategoryCustom), time.Millisecond)
	}

	m.mu.Lock()
	n := len(m.buckets["check"].latencies)
	m.mu.Unlock()
	if n != maxLatencySamples {
		t.Fatalf("latency buffer holds %d samples, want %d", n, maxLatencySamples)
	}
}

func TestMetricsSeparateBuckets(t *testing.T) {
	m := NewMetrics()

	m.RecordOutcome("guardrail:safety", AllowResult(CategorySafety), time.Millisecond)
	m.RecordHit("cache_hit")

	snaps := m.Snapshot()
	if snaps["guardrail:safety"].Total != 1 {
		t.Fatalf("guardrail bucket total = %d, want 1", snaps["guardrail:safety"].Total)
	}
	if snaps["cache_hit"].Total != 1 {
		t.Fatalf("cache_hit bucket total = %d, want 1", snaps["cache_hit"].Total)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordOutcome("check", AllowResult(CategoryCustom), time.Millisecond)
	m.Reset()

	if len(m.Snapshot()) != 0 {
		t.Fatal("expected empty snapshot after reset")
	}
}
