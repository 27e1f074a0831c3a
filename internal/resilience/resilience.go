// Package resilience provides the failure-isolation primitives applied to
// every external feed call: a circuit breaker, a bulkhead (bounded
// concurrency with a bounded wait queue), and a per-call timeout.
//
// The primitives compose through Policy in a fixed order, outermost first:
// circuit breaker, bulkhead, timeout. State (circuit counters, bulkhead
// occupancy) lives in long-lived per-endpoint values constructed at process
// start; Execute methods are safe for concurrent use.
//
// Rejections surface as sentinel errors checkable with errors.Is:
// ErrCircuitOpen, ErrBulkheadFull, ErrTimeout.
package resilience

import (
	"context"
	"errors"
)

// Operation is a cancelable unit of work guarded by the primitives.
// Implementations must honor ctx for the timeout wrapper to take effect.
type Operation func(ctx context.Context) error

var (
	// ErrCircuitOpen is returned while the circuit breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrBulkheadFull is returned when both the execution slots and the
	// wait queue are at capacity.
	ErrBulkheadFull = errors.New("bulkhead is full")

	// ErrTimeout is returned when a guarded call exceeds its deadline.
	ErrTimeout = errors.New("operation timed out")
)
