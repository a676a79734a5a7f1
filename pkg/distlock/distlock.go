// Package distlock provides the cluster-wide mutual exclusion primitive
// the scheduler singleton jobs use (§4.3, §5): exactly one pod runs a
// given tick's precompute/activate/expire/reap pass. Two adapters: Redis
// (production, SET NX PX + a Lua compare-and-delete release) and an
// in-memory adapter for single-process tests.
package distlock

import (
	"context"
	"time"
)

// Lock represents one attempt to hold a named distributed lock.
type Lock interface {
	// Acquire attempts to take the lock, returning false (not an error)
	// if another holder already has it.
	Acquire(ctx context.Context) (bool, error)

	// Release gives up the lock. A no-op if this instance doesn't hold it.
	Release(ctx context.Context) error

	// Extend refreshes the lock's TTL. A no-op if this instance doesn't
	// hold it.
	Extend(ctx context.Context, ttl time.Duration) error

	// IsHeld reports whether this instance currently holds the lock.
	IsHeld() bool
}

// Locker creates Locks for named resources.
type Locker interface {
	NewLock(key string, ttl time.Duration) Lock
	Close() error
}
