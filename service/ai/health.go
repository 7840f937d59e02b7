package ai

import (
	"sort"
	"sync"
	"time"
)

// HealthSnapshot is the operator-facing view of dispatcher health, served by
// the server admin endpoint together with runtime stats.
type HealthSnapshot struct {
	TotalRequests       int64           `json:"total_requests"`
	SuccessRequests     int64           `json:"success_requests"`
	FailureRequests     int64           `json:"failure_requests"`
	BlockedRequests     int64           `json:"blocked_requests"`
	ConsecutiveFailures int64           `json:"consecutive_failures"`
	RetryAttempts       int64           `json:"retry_attempts"`
	AvgLatencyMs        float64         `json:"avg_latency_ms"`
	P95LatencyMs        float64         `json:"p95_latency_ms"`
	TotalBytes          int64           `json:"total_bytes"`
	Breaker             BreakerSnapshot `json:"circuit_breaker"`
}

const latencyWindow = 256

// healthTracker keeps cumulative counters plus a rolling latency window for
// the p95 estimate. Its lock is independent of the breaker's.
type healthTracker struct {
	mu sync.Mutex

	total       int64
	success     int64
	failure     int64
	blocked     int64
	consecutive int64
	retries     int64
	bytes       int64

	latencySum time.Duration
	latencies  []time.Duration // ring, newest overwrite
	next       int
	filled     bool
}

func newHealthTracker() *healthTracker {
	return &healthTracker{latencies: make([]time.Duration, latencyWindow)}
}

func (h *healthTracker) recordStart() {
	h.mu.Lock()
	h.total++
	h.mu.Unlock()
}

func (h *healthTracker) recordRetry() {
	h.mu.Lock()
	h.retries++
	h.mu.Unlock()
}

func (h *healthTracker) recordBlocked() {
	h.mu.Lock()
	h.blocked++
	h.mu.Unlock()
}

func (h *healthTracker) recordSuccess(latency time.Duration, bytes int) {
	h.mu.Lock()
	h.success++
	h.consecutive = 0
	h.bytes += int64(bytes)
	h.latencySum += latency
	h.latencies[h.next] = latency
	h.next++
	if h.next == len(h.latencies) {
		h.next = 0
		h.filled = true
	}
	h.mu.Unlock()
}

func (h *healthTracker) recordFailure() {
	h.mu.Lock()
	h.failure++
	h.consecutive++
	h.mu.Unlock()
}

func (h *healthTracker) snapshot(breaker BreakerSnapshot) HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := HealthSnapshot{
		TotalRequests:       h.total,
		SuccessRequests:     h.success,
		FailureRequests:     h.failure,
		BlockedRequests:     h.blocked,
		ConsecutiveFailures: h.consecutive,
		RetryAttempts:       h.retries,
		TotalBytes:          h.bytes,
		Breaker:             breaker,
	}
	if h.success > 0 {
		snap.AvgLatencyMs = float64(h.latencySum.Milliseconds()) / float64(h.success)
	}

	n := h.next
	if h.filled {
		n = len(h.latencies)
	}
	if n > 0 {
		window := make([]time.Duration, n)
		copy(window, h.latencies[:n])
		sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
		idx := (n*95 + 99) / 100
		if idx > 0 {
			idx--
		}
		snap.P95LatencyMs = float64(window[idx].Milliseconds())
	}
	return snap
}
