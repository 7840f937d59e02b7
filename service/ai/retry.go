package ai

import (
	"context"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"PetChat/tools/errs"
)

// RetryPolicy controls retry pacing for backend calls.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
	}
}

// Delay returns min(MaxDelay, BaseDelay * ExponentialBase^(attempt-1)).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.ExponentialBase, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Retry invokes op up to policy.MaxAttempts times, sleeping the policy delay
// between attempts whose error is retryable. Non-retryable errors propagate
// immediately without sleeping; exhaustion returns errs.RetryExhausted
// carrying the last cause. The attempt number (1-based) is passed to op so
// callers can degrade request parameters between attempts.
func Retry[T any](ctx context.Context, policy RetryPolicy, retryable func(error) bool, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		out, err := op(ctx, attempt)
		if err == nil {
			return out, nil
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err
		if attempt == policy.MaxAttempts {
			break
		}
		timer := time.NewTimer(policy.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, &errs.RetryExhausted{Attempts: policy.MaxAttempts, Last: lastErr}
}

// IsRetryable classifies backend errors: transport failures, timeouts and
// throttling/5xx statuses retry; everything else fails the call outright.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return false
	}
	if err == errEmptyResponse {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		switch se.code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	if ne, ok := err.(net.Error); ok {
		return ne.Timeout()
	}
	// url.Error and friends wrap net errors; treat remaining I/O as transient.
	return true
}
