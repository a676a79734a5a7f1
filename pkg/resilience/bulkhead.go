package resilience

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Bulkhead caps the number of concurrent calls to a downstream dependency,
// independent of the circuit breaker's failure-rate tripping — it bounds
// the blast radius of a dependency that is merely slow rather than down
// (§4.2 precompute fan-out against UserService).
type Bulkhead struct {
	sem *semaphore.Weighted
}

// NewBulkhead allows up to maxConcurrent calls to run at once.
func NewBulkhead(maxConcurrent int64) *Bulkhead {
	return &Bulkhead{sem: semaphore.NewWeighted(maxConcurrent)}
}

// Execute blocks until a slot is free (or ctx is cancelled) and then runs fn.
func (b *Bulkhead) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer b.sem.Release(1)
	return fn(ctx)
}
