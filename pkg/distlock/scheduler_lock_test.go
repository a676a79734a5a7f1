package distlock_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/broadcaster/pkg/distlock"
	"github.com/codeready-toolchain/broadcaster/pkg/distlock/adapters/memory"
)

func TestRunLocked_OnlyOneHolderRuns(t *testing.T) {
	locker := memory.New()
	ctx := context.Background()

	var runs int32
	var ran2 bool
	var innerErr error
	ran1, err := distlock.RunLocked(ctx, locker, "precompute", 0, time.Minute, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		// The first holder is still running, so a concurrent attempt under
		// the same key must be refused.
		ran2, innerErr = distlock.RunLocked(ctx, locker, "precompute", 0, time.Minute, func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		})
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran1)
	require.NoError(t, innerErr)
	assert.False(t, ran2, "second pod must not run while the first pod's lease is still valid")
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestRunLocked_HonorsLockAtLeastFor(t *testing.T) {
	locker := memory.New()
	ctx := context.Background()

	start := time.Now()
	ran, err := distlock.RunLocked(ctx, locker, "expire", 50*time.Millisecond, time.Minute, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
