package distlock

import (
	"context"
	"time"
)

// RunLocked runs fn while holding key, honoring the lockAtLeastFor /
// lockAtMostFor lease discipline from §4.3/§5: the lock's TTL is
// lockAtMostFor (so a crashed holder's lease still expires before the
// next tick), and release is delayed until lockAtLeastFor has elapsed
// since acquisition even if fn finishes early, so a second pod racing in
// on a fast tick cannot immediately re-run the same job.
//
// Returns (ran, err): ran is false when another pod already holds the
// lock — that is the expected, common case on every pod but the leader
// and is not an error.
func RunLocked(ctx context.Context, locker Locker, key string, lockAtLeastFor, lockAtMostFor time.Duration, fn func(ctx context.Context) error) (bool, error) {
	lock := locker.NewLock(key, lockAtMostFor)

	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	start := time.Now()
	fnErr := fn(ctx)

	if elapsed := time.Since(start); elapsed < lockAtLeastFor {
		select {
		case <-time.After(lockAtLeastFor - elapsed):
		case <-ctx.Done():
		}
	}

	if releaseErr := lock.Release(ctx); releaseErr != nil && fnErr == nil {
		return true, releaseErr
	}
	return true, fnErr
}
