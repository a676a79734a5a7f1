// Package config loads and validates broadcaster configuration from the
// environment. There is no YAML registry layer here — every setting is a
// small typed struct with a Default*Config constructor, the way the
// teacher's QueueConfig/RetentionConfig work, assembled by Initialize.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config is the umbrella configuration object returned by Initialize and
// threaded through service wiring in cmd/broadcaster.
type Config struct {
	configDir string

	Pod         *PodConfig
	Database    *DatabaseConfig
	EventBus    *EventBusConfig
	Presence    *PresenceConfig
	Scheduler   *SchedulerConfig
	SSE         *SSEConfig
	Retention   *RetentionConfig
	Targeting   *TargetingConfig
	Outbox      *OutboxConfig
	UserService *UserServiceConfig
	Cache       *CacheConfig
	DistLock    *DistLockConfig
}

// ConfigDir returns the directory Initialize loaded the .env file from, if any.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Initialize loads a .env file from configDir (if present) then builds a
// Config from environment variables, applying defaults and validating.
func Initialize(configDir string) (*Config, error) {
	envPath := filepath.Join(configDir, ".env")
	_ = godotenv.Load(envPath) // best effort — env set another way still works

	cfg := &Config{
		configDir: configDir,
		Pod:       DefaultPodConfig(),
		EventBus:  DefaultEventBusConfig(),
		Presence:  DefaultPresenceConfig(),
		Scheduler: DefaultSchedulerConfig(),
		SSE:         DefaultSSEConfig(),
		Retention:   DefaultRetentionConfig(),
		Targeting:   DefaultTargetingConfig(),
		Outbox:      DefaultOutboxConfig(),
		UserService: DefaultUserServiceConfig(),
		Cache:       DefaultCacheConfig(),
		DistLock:    DefaultDistLockConfig(),
	}

	applyPodEnv(cfg.Pod)
	applyEventBusEnv(cfg.EventBus)
	applyPresenceEnv(cfg.Presence)
	applySchedulerEnv(cfg.Scheduler)
	applySSEEnv(cfg.SSE)
	applyRetentionEnv(cfg.Retention)
	applyTargetingEnv(cfg.Targeting)
	applyOutboxEnv(cfg.Outbox)
	applyUserServiceEnv(cfg.UserService)
	applyCacheEnv(cfg.Cache)
	applyDistLockEnv(cfg.DistLock)

	dbCfg, err := LoadDatabaseConfigFromEnv()
	if err != nil {
		return nil, NewLoadError(".env", err)
	}
	cfg.Database = &dbCfg

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants that Default*Config alone cannot
// guarantee once environment overrides have been applied.
func (c *Config) Validate() error {
	if c.Scheduler.ActivationLockAtMostFor >= c.Scheduler.TickInterval {
		return NewValidationError("scheduler", "activation", "lock_at_most_for",
			fmt.Errorf("must be less than the tick period (%s)", c.Scheduler.TickInterval))
	}
	if c.Scheduler.ActivationLockAtLeastFor >= c.Scheduler.ActivationLockAtMostFor {
		return NewValidationError("scheduler", "activation", "lock_at_least_for",
			fmt.Errorf("must be less than lock_at_most_for"))
	}
	if c.Pod.PodName == "" {
		return NewValidationError("pod", "pod_name", "", ErrMissingRequiredField)
	}
	if c.Pod.ClusterName == "" {
		return NewValidationError("pod", "cluster_name", "", ErrMissingRequiredField)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
