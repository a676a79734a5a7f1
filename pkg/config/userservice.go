package config

import "time"

// UserServiceConfig points at the opaque external directory service that
// resolves a role or product id to member user ids. This is the one
// outbound integration the rest of the system treats as a black box (the
// HTTP framing lives entirely in pkg/userservice); there is no wire
// contract to negotiate beyond a base URL and a per-call deadline.
type UserServiceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultUserServiceConfig returns the built-in UserService client defaults.
func DefaultUserServiceConfig() *UserServiceConfig {
	return &UserServiceConfig{
		BaseURL: "http://localhost:9000",
		Timeout: 5 * time.Second,
	}
}

func applyUserServiceEnv(c *UserServiceConfig) {
	c.BaseURL = getEnv("USER_SERVICE_BASE_URL", c.BaseURL)
	c.Timeout = envDuration("USER_SERVICE_TIMEOUT", c.Timeout)
}
