package config

// CacheConfig selects and configures the backend behind the three cache
// regions (§3, §4.9): broadcast content, per-user inbox snapshots, and
// per-user pending-event buffers. "memory" is single-pod only; "redis" is
// required once more than one pod shares the workload.
type CacheConfig struct {
	Driver   string `yaml:"driver"` // "memory" or "redis"
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DefaultCacheConfig returns the built-in cache backend defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Driver: "memory",
		Host:   "localhost",
		Port:   "6379",
		DB:     1,
	}
}

func applyCacheEnv(c *CacheConfig) {
	c.Driver = getEnv("CACHE_DRIVER", c.Driver)
	c.Host = getEnv("CACHE_REDIS_HOST", c.Host)
	c.Port = getEnv("CACHE_REDIS_PORT", c.Port)
	c.Password = getEnv("CACHE_REDIS_PASSWORD", c.Password)
	c.DB = envInt("CACHE_REDIS_DB", c.DB)
}
