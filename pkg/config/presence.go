package config

import "time"

// PresenceConfig describes the Redis-backed presence store that tracks
// which pod owns which user's live SSE connection(s) (§4.6, §9).
type PresenceConfig struct {
	// Driver selects the Store implementation: "redis" (production,
	// shared across pods) or "memory" (single-pod/dev, no Redis needed).
	Driver string `yaml:"driver"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// HeartbeatInterval is how often a pod writes its own liveness
	// timestamp (Store.PodHeartbeat).
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// EntryTTL is the TTL applied to a presence entry; it must comfortably
	// exceed HeartbeatInterval so a single missed heartbeat doesn't evict
	// a still-connected user.
	EntryTTL time.Duration `yaml:"entry_ttl"`
}

// DefaultPresenceConfig returns the built-in presence store defaults.
func DefaultPresenceConfig() *PresenceConfig {
	return &PresenceConfig{
		Driver:            "memory",
		RedisAddr:         "localhost:6379",
		RedisDB:           0,
		HeartbeatInterval: 15 * time.Second,
		EntryTTL:          45 * time.Second,
	}
}

func applyPresenceEnv(c *PresenceConfig) {
	c.Driver = getEnv("PRESENCE_DRIVER", c.Driver)
	c.RedisAddr = getEnv("PRESENCE_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("PRESENCE_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = envInt("PRESENCE_REDIS_DB", c.RedisDB)
	c.HeartbeatInterval = envDuration("PRESENCE_HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.EntryTTL = envDuration("PRESENCE_ENTRY_TTL", c.EntryTTL)
}
