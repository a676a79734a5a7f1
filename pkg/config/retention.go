package config

import "time"

// RetentionConfig controls how long finalized broadcast data is kept before
// the reap-finalized scheduler task (§4.3 task 5) trims it.
type RetentionConfig struct {
	// FinalizedAge is how long after reaching a terminal status a broadcast's
	// precomputed targets and unread per-user rows are eligible for reaping.
	FinalizedAge time.Duration `yaml:"finalized_age"`

	// ReapInterval is how often the reap-finalized job runs.
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		FinalizedAge: 1 * time.Hour,
		ReapInterval: 1 * time.Hour,
	}
}

func applyRetentionEnv(c *RetentionConfig) {
	c.FinalizedAge = envDuration("RETENTION_FINALIZED_AGE", c.FinalizedAge)
	c.ReapInterval = envDuration("RETENTION_REAP_INTERVAL", c.ReapInterval)
}
