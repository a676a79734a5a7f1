package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/broadcaster/pkg/models"
	"github.com/codeready-toolchain/broadcaster/pkg/resilience"
)

func TestCircuitBreaker_TripsAfterFailureRatio(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "user-service",
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	})

	boom := errors.New("boom")
	fail := func(ctx context.Context) error { return boom }

	ctx := context.Background()
	assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
	assert.ErrorIs(t, cb.Execute(ctx, fail), boom)

	// Two failures out of two requests trips the breaker; the next call
	// fails fast with the domain sentinel instead of running fn.
	err := cb.Execute(ctx, func(ctx context.Context) error {
		t.Fatal("fn should not run while breaker is open")
		return nil
	})
	require.ErrorIs(t, err, models.ErrUserServiceUnavailable)
}

func TestBulkhead_LimitsConcurrency(t *testing.T) {
	b := resilience.NewBulkhead(1)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Execute(ctx, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	tryCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := b.Execute(tryCtx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}
