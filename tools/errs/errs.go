// Package errs defines the failure taxonomy shared by the protocol core:
// integrity errors keep a connection alive, transport errors tear it down,
// backend and configuration errors stay inside the AI dispatch path.
package errs

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Integrity / protocol sentinels. Both are droppable conditions, never fatal
// for the connection that produced them.
var (
	ErrChecksum        = errors.New("frame checksum mismatch")
	ErrUnknownEnvelope = errors.New("unknown envelope type")
	ErrInvalidPayload  = errors.New("invalid json payload")
)

// ErrNotConnected is returned to callers trying to send while the client
// connection manager is not in the Connected state.
var ErrNotConnected = errors.New("not connected")

// ConfigError marks a non-transient configuration problem. It fails fast and
// must not consume a retry budget or a circuit breaker failure slot.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Reason
}

func Configf(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfig reports whether err is a ConfigError anywhere in its chain.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// CircuitOpenError is returned when the circuit breaker refuses a request.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open, retry after %s", e.RetryAfter)
}

func IsCircuitOpen(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}

// RetryExhausted carries the last cause after the final retry attempt.
type RetryExhausted struct {
	Attempts int
	Last     error
}

func (e *RetryExhausted) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhausted) Unwrap() error { return e.Last }

func IsRetryExhausted(err error) bool {
	var re *RetryExhausted
	return errors.As(err, &re)
}

// Wrap annotates err with a message, keeping the original chain.
func Wrap(err error, msg string) error { return errors.Wrap(err, msg) }

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
