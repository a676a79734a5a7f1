package config

import "time"

// OutboxConfig tunes the Outbox Publisher's poll loop (§4.4).
type OutboxConfig struct {
	// PollInterval is how often the publisher checks for unpublished rows.
	PollInterval time.Duration `yaml:"poll_interval"`

	// BatchSize bounds how many rows one poll claims.
	BatchSize int `yaml:"batch_size"`

	// MaxBackoff caps the retry delay after consecutive publish failures
	// (§4.4 "retries indefinitely with backoff").
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// DefaultOutboxConfig returns the built-in outbox publisher defaults.
func DefaultOutboxConfig() *OutboxConfig {
	return &OutboxConfig{
		PollInterval: 500 * time.Millisecond,
		BatchSize:    100,
		MaxBackoff:   30 * time.Second,
	}
}

func applyOutboxEnv(c *OutboxConfig) {
	c.PollInterval = envDuration("OUTBOX_POLL_INTERVAL", c.PollInterval)
	c.BatchSize = envInt("OUTBOX_BATCH_SIZE", c.BatchSize)
	c.MaxBackoff = envDuration("OUTBOX_MAX_BACKOFF", c.MaxBackoff)
}
