package config

import (
	"strconv"
	"time"
)

// SchedulerConfig contains the tick period and per-task tuning for the
// singleton-locked periodic jobs in §4.3: precompute, activation (on-write
// and on-read), expire, reap-finalized, reap-stale-pods.
type SchedulerConfig struct {
	// TickInterval is the coarse-granularity period each scheduler task runs on.
	TickInterval time.Duration `yaml:"tick_interval"`

	// UserFetchDelay is the lower bound of the precompute prefetch window:
	// a PRODUCT broadcast is precomputed once scheduled-at falls within
	// UserFetchDelay + PrecomputeSafetyBuffer of now.
	UserFetchDelay time.Duration `yaml:"user_fetch_delay"`

	// PrecomputeSafetyBuffer is the fixed 2-minute safety margin added to
	// UserFetchDelay (§4.3 task 1).
	PrecomputeSafetyBuffer time.Duration `yaml:"precompute_safety_buffer"`

	// ActivationBatchSize bounds how many due rows an activation pass claims
	// per tick (§4.3 task 2/3, §5 claim semantics).
	ActivationBatchSize int `yaml:"activation_batch_size"`

	// ActivationLockAtLeastFor/AtMostFor are the singleton-lock lease bounds:
	// AtLeastFor >= worst-case iteration time, AtMostFor < TickInterval.
	ActivationLockAtLeastFor time.Duration `yaml:"activation_lock_at_least_for"`
	ActivationLockAtMostFor  time.Duration `yaml:"activation_lock_at_most_for"`

	// ReapFinalizedInterval and ReapFinalizedAge are not read by the
	// scheduler: the reap-finalized task (§4.3 task 5) runs every
	// RetentionConfig.ReapInterval and trims broadcasts that reached a
	// terminal status more than RetentionConfig.FinalizedAge ago.
	ReapFinalizedInterval time.Duration `yaml:"reap_finalized_interval"`
	ReapFinalizedAge      time.Duration `yaml:"reap_finalized_age"`

	// ReapStalePodsInterval/Threshold govern §4.3 task 6.
	ReapStalePodsInterval  time.Duration `yaml:"reap_stale_pods_interval"`
	ReapStalePodsThreshold time.Duration `yaml:"reap_stale_pods_threshold"`
}

// DefaultSchedulerConfig returns the built-in scheduler defaults from §6's
// enumerated config options.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		TickInterval:             60 * time.Second,
		UserFetchDelay:           5 * time.Minute,
		PrecomputeSafetyBuffer:   2 * time.Minute,
		ActivationBatchSize:      200,
		ActivationLockAtLeastFor: 10 * time.Second,
		ActivationLockAtMostFor:  50 * time.Second,
		ReapFinalizedInterval:    1 * time.Hour,
		ReapFinalizedAge:         1 * time.Hour,
		ReapStalePodsInterval:    1 * time.Minute,
		ReapStalePodsThreshold:   90 * time.Second,
	}
}

func applySchedulerEnv(c *SchedulerConfig) {
	c.TickInterval = envDuration("SCHEDULER_TICK_INTERVAL", c.TickInterval)
	c.UserFetchDelay = envDuration("SCHEDULER_USER_FETCH_DELAY_MS", c.UserFetchDelay)
	c.ActivationBatchSize = envInt("SCHEDULER_ACTIVATION_BATCH_SIZE", c.ActivationBatchSize)
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := getEnv(key, ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := getEnv(key, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
