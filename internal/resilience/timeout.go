package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout runs op under a deadline of d. When the deadline (and not the
// parent context) is what cancels the call, the error is ErrTimeout. A
// non-positive d means no deadline.
func WithTimeout(ctx context.Context, d time.Duration, op Operation) error {
	if d <= 0 {
		return op(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := op(tctx)
	if err == nil {
		return nil
	}
	// Attribute a deadline blow-up to this wrapper only when the parent is
	// still live; otherwise the caller's own cancellation wins.
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("after %s: %w", d, ErrTimeout)
	}
	return err
}
