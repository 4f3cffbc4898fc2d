package embedder

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned by CircuitBreaking.Embed while the circuit is
// open: the embedder has failed too many times recently and calls are
// short-circuited until the reset timeout elapses.
var ErrCircuitOpen = errors.New("embedder: circuit open, degraded to keyword-only search")

const (
	circuitClosed   int32 = 0
	circuitOpen     int32 = 1
	circuitHalfOpen int32 = 2
)

// CircuitBreaking wraps an Embedder so repeated failures stop the memory
// service from invoking a broken embedder on every single ingest; it
// degrades to keyword-only search for a cool-down window instead, per
// SPEC_FULL §10's "duplicate-action circuit breaker" supplement. Grounded on
// thebtf-engram's sdk.CircuitBreaker (atomic counters, closed/open/half-open
// states, threshold + reset timeout).
type CircuitBreaking struct {
	inner Embedder

	threshold    int64
	resetTimeout time.Duration

	failures    int64
	lastFailure int64 // unix nanos
	state       int32
}

// NewCircuitBreaking wraps inner: after threshold consecutive failures the
// circuit opens for resetTimeout before allowing one half-open probe call.
func NewCircuitBreaking(inner Embedder, threshold int64, resetTimeout time.Duration) *CircuitBreaking {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	return &CircuitBreaking{inner: inner, threshold: threshold, resetTimeout: resetTimeout}
}

func (c *CircuitBreaking) Dim() int { return c.inner.Dim() }

func (c *CircuitBreaking) Embed(ctx context.Context, text string) ([]float32, error) {
	if !c.allow() {
		return nil, ErrCircuitOpen
	}

	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		c.recordFailure()
		return nil, err
	}
	c.recordSuccess()
	return v, nil
}

func (c *CircuitBreaking) allow() bool {
	switch atomic.LoadInt32(&c.state) {
	case circuitClosed:
		return true
	case circuitOpen:
		last := atomic.LoadInt64(&c.lastFailure)
		if time.Now().UnixNano()-last > c.resetTimeout.Nanoseconds() {
			// Only the caller that flips open -> half-open becomes the probe.
			return atomic.CompareAndSwapInt32(&c.state, circuitOpen, circuitHalfOpen)
		}
		return false
	default: // half-open: the one probe is already in flight
		return false
	}
}

func (c *CircuitBreaking) recordSuccess() {
	atomic.StoreInt64(&c.failures, 0)
	atomic.StoreInt32(&c.state, circuitClosed)
}

func (c *CircuitBreaking) recordFailure() {
	failures := atomic.AddInt64(&c.failures, 1)
	atomic.StoreInt64(&c.lastFailure, time.Now().UnixNano())
	if failures >= c.threshold {
		atomic.StoreInt32(&c.state, circuitOpen)
	}
}

// State reports the breaker's current state for diagnostics ("closed",
// "open", "half-open").
func (c *CircuitBreaking) State() string {
	switch atomic.LoadInt32(&c.state) {
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
