package config

import "time"

// SSEConfig tunes the per-pod SSE connection manager (§4.6, §6).
type SSEConfig struct {
	// HeartbeatInterval is how often a HEARTBEAT event is written to each
	// open SSE stream.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// ClientTimeoutThreshold is the TTL of this pod's cache dispatch
	// region. The connection manager does not close idle streams.
	ClientTimeoutThreshold time.Duration `yaml:"client_timeout_threshold"`

	// MaxConnectionsPerUser bounds concurrent SSE streams a single user
	// may hold open across the cluster (counted in the presence store).
	MaxConnectionsPerUser int `yaml:"max_connections_per_user"`

	// SendBufferSize is the per-connection outbound channel buffer depth.
	SendBufferSize int `yaml:"send_buffer_size"`

	// WorkerPollInterval is how often the Worker Consumer polls this pod's
	// cache dispatch region for new entries (§4.7, §9).
	WorkerPollInterval time.Duration `yaml:"worker_poll_interval"`
}

// DefaultSSEConfig returns the built-in SSE connection manager defaults.
func DefaultSSEConfig() *SSEConfig {
	return &SSEConfig{
		HeartbeatInterval:      20 * time.Second,
		ClientTimeoutThreshold: 60 * time.Second,
		MaxConnectionsPerUser:  4,
		SendBufferSize:         32,
		WorkerPollInterval:     250 * time.Millisecond,
	}
}

func applySSEEnv(c *SSEConfig) {
	c.HeartbeatInterval = envDuration("SSE_HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.ClientTimeoutThreshold = envDuration("SSE_CLIENT_TIMEOUT_THRESHOLD", c.ClientTimeoutThreshold)
	c.MaxConnectionsPerUser = envInt("SSE_MAX_CONNECTIONS_PER_USER", c.MaxConnectionsPerUser)
	c.SendBufferSize = envInt("SSE_SEND_BUFFER_SIZE", c.SendBufferSize)
	c.WorkerPollInterval = envDuration("SSE_WORKER_POLL_INTERVAL", c.WorkerPollInterval)
}
