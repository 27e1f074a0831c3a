package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Circuit breaker defaults.
const (
	DefaultFailureThreshold = 3
	DefaultRecoveryTimeout  = 60 * time.Second
)

// State is the externally visible circuit state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// CircuitBreaker trips open after a run of consecutive failures and stays
// open for a recovery window. The first call after the window probes the
// endpoint: success closes the circuit, failure reopens it. Exactly one
// probe is admitted while half-open.
type CircuitBreaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewCircuitBreaker builds a breaker that opens after threshold consecutive
// failures and recovers after recoveryTimeout. Zero values take the
// defaults. State transitions are logged at warn level.
func NewCircuitBreaker(name string, threshold uint32, recoveryTimeout time.Duration, logger *zap.Logger) *CircuitBreaker {
	if threshold == 0 {
		threshold = DefaultFailureThreshold
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     recoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit state changed",
				zap.String("circuit", name),
				zap.String("from", string(fromGobreaker(from))),
				zap.String("to", string(fromGobreaker(to))))
		},
	}

	return &CircuitBreaker{name: name, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs op under the breaker. While the circuit is open (or a probe
// is already in flight half-open), it fails fast with ErrCircuitOpen
// without invoking op.
func (c *CircuitBreaker) Execute(ctx context.Context, op Operation) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, op(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", c.name, ErrCircuitOpen)
	}
	return err
}

// State reports the current circuit state.
func (c *CircuitBreaker) State() State {
	return fromGobreaker(c.cb.State())
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
