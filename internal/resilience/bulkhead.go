package resilience

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Bulkhead bounds concurrent executions against one endpoint. Up to
// maxConcurrent calls run at once; up to queueSize more wait for a slot.
// Beyond that, Acquire rejects immediately with ErrBulkheadFull so a slow
// endpoint cannot absorb every worker in the process.
type Bulkhead struct {
	name      string
	sem       *semaphore.Weighted
	queueSize int64
	waiting   atomic.Int64
}

// NewBulkhead builds a bulkhead with the given execution and queue
// capacities. maxConcurrent below 1 is treated as 1; queueSize below 0 as 0.
func NewBulkhead(name string, maxConcurrent, queueSize int64) *Bulkhead {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Bulkhead{
		name:      name,
		sem:       semaphore.NewWeighted(maxConcurrent),
		queueSize: queueSize,
	}
}

// Acquire claims an execution slot, waiting in the bounded queue when all
// slots are busy. The caller must Release after a successful Acquire.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if b.sem.TryAcquire(1) {
		return nil
	}
	if b.waiting.Add(1) > b.queueSize {
		b.waiting.Add(-1)
		return fmt.Errorf("%s: %w", b.name, ErrBulkheadFull)
	}
	defer b.waiting.Add(-1)
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%s: waiting for bulkhead slot: %w", b.name, err)
	}
	return nil
}

// Release returns an execution slot.
func (b *Bulkhead) Release() {
	b.sem.Release(1)
}

// Execute runs op inside a slot, releasing it on all paths.
func (b *Bulkhead) Execute(ctx context.Context, op Operation) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()
	return op(ctx)
}

// Waiting reports how many callers are queued for a slot.
func (b *Bulkhead) Waiting() int64 {
	return b.waiting.Load()
}
