// Package resilience wraps sony/gobreaker circuit breakers and a
// semaphore-based bulkhead around the Targeting Service's calls to the
// opaque UserService (§4.2): when the breaker is open, precompute fails
// fast with models.ErrUserServiceUnavailable instead of piling up
// goroutines against a service that is already down.
package resilience

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/codeready-toolchain/broadcaster/pkg/models"
)

// CircuitBreakerConfig configures one named breaker, mirroring
// gobreaker.Settings with the ready-to-trip rule expressed as a failure
// ratio rather than a raw counter (matching the config package's
// TargetingConfig.CircuitBreakerFailureRatio knob).
type CircuitBreakerConfig struct {
	Name          string
	MaxRequests   uint32
	Interval      time.Duration
	Timeout       time.Duration
	FailureRatio  float64
	MinRequests   uint32
	OnStateChange func(name string, from, to gobreaker.State)
}

// CircuitBreaker wraps gobreaker.CircuitBreaker, translating gobreaker's
// own ErrOpenState/ErrTooManyRequests into the domain sentinel error
// callers already know how to handle (§7).
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewCircuitBreaker builds a breaker that trips once at least MinRequests
// calls have been observed in the rolling window and the failure ratio
// meets or exceeds FailureRatio.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 1
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: cfg.OnStateChange,
	}
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. When the breaker is open or the
// half-open trial quota is exhausted, it returns
// models.ErrUserServiceUnavailable instead of gobreaker's own sentinel so
// callers only need to know one error.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return models.ErrUserServiceUnavailable
	}
	return err
}

// State reports the breaker's current state, exposed for health checks
// and metrics.
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}
