package ai

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes one CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold         int
	RecoveryTimeout          time.Duration
	HalfOpenSuccessThreshold int
	Clock                    func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *BreakerConfig) norm() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.HalfOpenSuccessThreshold <= 0 {
		c.HalfOpenSuccessThreshold = 1
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// CircuitBreaker isolates a failing backend. All transitions happen under one
// mutex; the breaker is owned by exactly one dispatcher and never shared
// across processes.
type CircuitBreaker struct {
	mu   sync.Mutex
	conf BreakerConfig

	state        BreakerState
	failureCount int
	successCount int
	lastFailure  time.Time
}

// BreakerSnapshot is a point-in-time copy of breaker state for health output.
type BreakerSnapshot struct {
	State           BreakerState `json:"state"`
	FailureCount    int          `json:"failure_count"`
	SuccessCount    int          `json:"success_count"`
	LastFailureTime time.Time    `json:"last_failure_time"`
}

func NewCircuitBreaker(conf BreakerConfig) *CircuitBreaker {
	conf.norm()
	return &CircuitBreaker{conf: conf, state: BreakerClosed}
}

// AllowRequest reports whether a call may proceed. While Open and before the
// recovery timeout it returns false; the first eligible call after the timeout
// atomically moves the breaker to HalfOpen and is admitted as the probe.
func (b *CircuitBreaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if b.conf.Clock().Sub(b.lastFailure) >= b.conf.RecoveryTimeout {
			b.state = BreakerHalfOpen
			b.successCount = 0
			return true
		}
		return false
	}
	return false
}

// RetryAfter returns how long until the breaker would admit a probe.
func (b *CircuitBreaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerOpen {
		return 0
	}
	remain := b.conf.RecoveryTimeout - b.conf.Clock().Sub(b.lastFailure)
	if remain < 0 {
		return 0
	}
	return remain
}

// RecordSuccess notes a successful call. Enough successes while HalfOpen close
// the breaker again.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failureCount = 0
	case BreakerHalfOpen:
		b.successCount++
		if b.successCount >= b.conf.HalfOpenSuccessThreshold {
			b.state = BreakerClosed
			b.failureCount = 0
			b.successCount = 0
		}
	}
}

// RecordFailure notes a failed call. Threshold consecutive failures open the
// breaker; any failure while HalfOpen reopens it and restarts the recovery
// timer.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.conf.Clock()
	switch b.state {
	case BreakerClosed:
		b.failureCount++
		if b.failureCount >= b.conf.FailureThreshold {
			b.state = BreakerOpen
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.successCount = 0
		b.failureCount = b.conf.FailureThreshold
	}
}

func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		LastFailureTime: b.lastFailure,
	}
}
