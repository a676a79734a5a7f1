package config

import "time"

// TargetingConfig tunes the Targeting Service's calls to the opaque
// UserService (§4.2): circuit breaker thresholds and bulkhead concurrency.
type TargetingConfig struct {
	// CircuitBreakerMaxRequests is the number of requests allowed through
	// while the breaker is half-open.
	CircuitBreakerMaxRequests uint32 `yaml:"circuit_breaker_max_requests"`

	// CircuitBreakerInterval is the cyclic period the closed-state failure
	// counters reset on.
	CircuitBreakerInterval time.Duration `yaml:"circuit_breaker_interval"`

	// CircuitBreakerTimeout is how long the breaker stays open before
	// probing with a half-open trial.
	CircuitBreakerTimeout time.Duration `yaml:"circuit_breaker_timeout"`

	// CircuitBreakerFailureRatio trips the breaker once this fraction of
	// requests in a window have failed.
	CircuitBreakerFailureRatio float64 `yaml:"circuit_breaker_failure_ratio"`

	// BulkheadConcurrency bounds in-flight UserService calls.
	BulkheadConcurrency int64 `yaml:"bulkhead_concurrency"`

	// RequestTimeout bounds a single UserService call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultTargetingConfig returns the built-in targeting defaults.
func DefaultTargetingConfig() *TargetingConfig {
	return &TargetingConfig{
		CircuitBreakerMaxRequests:  10,
		CircuitBreakerInterval:     60 * time.Second,
		CircuitBreakerTimeout:      30 * time.Second,
		CircuitBreakerFailureRatio: 0.6,
		BulkheadConcurrency:        50,
		RequestTimeout:             5 * time.Second,
	}
}

func applyTargetingEnv(c *TargetingConfig) {
	c.CircuitBreakerMaxRequests = uint32(envInt("TARGETING_CB_MAX_REQUESTS", int(c.CircuitBreakerMaxRequests)))
	c.CircuitBreakerInterval = envDuration("TARGETING_CB_INTERVAL", c.CircuitBreakerInterval)
	c.CircuitBreakerTimeout = envDuration("TARGETING_CB_TIMEOUT", c.CircuitBreakerTimeout)
	c.BulkheadConcurrency = int64(envInt("TARGETING_BULKHEAD_CONCURRENCY", int(c.BulkheadConcurrency)))
	c.RequestTimeout = envDuration("TARGETING_REQUEST_TIMEOUT", c.RequestTimeout)
}
