package config

// DistLockConfig selects and configures the distributed lock backend the
// scheduler's singleton tasks use (§4.3, §5). "memory" only makes sense
// for a single-pod deployment or tests; production clusters need "redis"
// so every pod agrees on who holds a given tick's lock.
type DistLockConfig struct {
	Driver   string `yaml:"driver"` // "memory" or "redis"
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// DefaultDistLockConfig returns the built-in distributed lock defaults.
func DefaultDistLockConfig() *DistLockConfig {
	return &DistLockConfig{
		Driver: "memory",
		Host:   "localhost",
		Port:   "6379",
		DB:     2,
		Prefix: "broadcaster:lock:",
	}
}

func applyDistLockEnv(c *DistLockConfig) {
	c.Driver = getEnv("DISTLOCK_DRIVER", c.Driver)
	c.Host = getEnv("DISTLOCK_REDIS_HOST", c.Host)
	c.Port = getEnv("DISTLOCK_REDIS_PORT", c.Port)
	c.Password = getEnv("DISTLOCK_REDIS_PASSWORD", c.Password)
	c.DB = envInt("DISTLOCK_REDIS_DB", c.DB)
	c.Prefix = getEnv("DISTLOCK_PREFIX", c.Prefix)
}
