package advisory

import (
	"slices"
	"sync"
	"time"
)

type sample struct {
	timestamp  time.Time
	durationMs int64
	failed     bool
}

// StatsSnapshot is a point-in-time aggregate of critic call latencies.
type StatsSnapshot struct {
	WindowSeconds int     `json:"window_seconds"`
	Count         int     `json:"count"`
	Failures      int     `json:"failures"`
	FailureRate   float64 `json:"failure_rate"`
	MinMs         int64   `json:"min_ms"`
	MaxMs         int64   `json:"max_ms"`
	AvgMs         float64 `json:"avg_ms"`
	P50Ms         float64 `json:"p50_ms"`
	P95Ms         float64 `json:"p95_ms"`
	P99Ms         float64 `json:"p99_ms"`
}

// Stats tracks recent critic calls within a rolling window.
type Stats struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
	now     func() time.Time
}

func NewStats(maxAge time.Duration) *Stats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Stats{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Record adds one call. Failed calls count toward Failures and latency alike.
func (s *Stats) Record(durationMs int64, failed bool) {
	if durationMs < 0 {
		durationMs = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)
	s.samples = append(s.samples, sample{
		timestamp:  now,
		durationMs: durationMs,
		failed:     failed,
	})
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(s.now())
	window := int(s.maxAge / time.Second)
	if len(s.samples) == 0 {
		return StatsSnapshot{WindowSeconds: window}
	}

	values := make([]int64, 0, len(s.samples))
	var sum int64
	var failures int
	for _, sm := range s.samples {
		values = append(values, sm.durationMs)
		sum += sm.durationMs
		if sm.failed {
			failures++
		}
	}
	slices.Sort(values)

	n := float64(len(values))
	return StatsSnapshot{
		WindowSeconds: window,
		Count:         len(values),
		Failures:      failures,
		FailureRate:   float64(failures) / n,
		MinMs:         values[0],
		MaxMs:         values[len(values)-1],
		AvgMs:         float64(sum) / n,
		P50Ms:         percentile(values, 50),
		P95Ms:         percentile(values, 95),
		P99Ms:         percentile(values, 99),
	}
}

// pruneLocked drops samples older than the window. Samples arrive in time
// order, so the expired ones form a prefix.
func (s *Stats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	i, _ := slices.BinarySearchFunc(s.samples, cutoff, func(sm sample, t time.Time) int {
		return sm.timestamp.Compare(t)
	})
	if i > 0 {
		s.samples = slices.Delete(s.samples, 0, i)
	}
}

// percentile interpolates linearly between the closest ranks.
func percentile(sortedValues []int64, pct float64) float64 {
	switch {
	case len(sortedValues) == 0:
		return 0
	case pct <= 0:
		return float64(sortedValues[0])
	case pct >= 100:
		return float64(sortedValues[len(sortedValues)-1])
	}
	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	if lower+1 >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[lower+1])
	return lo + (hi-lo)*weight
}
