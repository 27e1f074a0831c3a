package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Config tunes one endpoint's policy. Zero values take the documented
// defaults.
type Config struct {
	// Name labels the endpoint in errors and logs.
	Name string
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit (default 3).
	FailureThreshold uint32
	// RecoveryTimeout is how long the circuit stays open (default 60s).
	RecoveryTimeout time.Duration
	// MaxConcurrent bounds simultaneous calls (default 1).
	MaxConcurrent int64
	// QueueSize bounds callers waiting for a slot (default 0).
	QueueSize int64
	// CallTimeout is the per-call deadline (default none).
	CallTimeout time.Duration
}

// Policy composes the three primitives around an endpoint in fixed order:
// circuit breaker outside, bulkhead in the middle, timeout innermost. The
// breaker therefore counts bulkhead rejections and timeouts as failures,
// which is what keeps a saturated or hung endpoint from being hammered.
type Policy struct {
	name     string
	breaker  *CircuitBreaker
	bulkhead *Bulkhead
	timeout  time.Duration
}

// NewPolicy builds the per-endpoint policy. The value is intended to live
// for the process lifetime; its state is shared by every caller of the
// endpoint.
func NewPolicy(cfg Config, logger *zap.Logger) *Policy {
	return &Policy{
		name:     cfg.Name,
		breaker:  NewCircuitBreaker(cfg.Name, cfg.FailureThreshold, cfg.RecoveryTimeout, logger),
		bulkhead: NewBulkhead(cfg.Name, cfg.MaxConcurrent, cfg.QueueSize),
		timeout:  cfg.CallTimeout,
	}
}

// Execute runs op under circuit(bulkhead(timeout(op))).
func (p *Policy) Execute(ctx context.Context, op Operation) error {
	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.bulkhead.Execute(ctx, func(ctx context.Context) error {
			return WithTimeout(ctx, p.timeout, op)
		})
	})
}

// CircuitState exposes the breaker state for diagnostics.
func (p *Policy) CircuitState() State {
	return p.breaker.State()
}
