package config

import (
	"os"
)

// PodConfig identifies this process within the cluster. PodName and
// ClusterName are the coordinates presence entries and worker-topic names
// are keyed on (see pkg/presence and pkg/eventbus).
type PodConfig struct {
	PodName     string
	ClusterName string

	// HeartbeatInterval is how often this pod refreshes its own heartbeat.
	HeartbeatInterval string
}

// DefaultPodConfig returns built-in pod defaults. PodName falls back to the
// hostname; callers overriding via environment should set POD_NAME in
// environments (e.g. Kubernetes downward API) where the hostname isn't
// a stable identity.
func DefaultPodConfig() *PodConfig {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "pod-local"
	}
	return &PodConfig{
		PodName:     hostname,
		ClusterName: "default",
	}
}

func applyPodEnv(c *PodConfig) {
	c.PodName = getEnv("POD_NAME", c.PodName)
	c.ClusterName = getEnv("CLUSTER_NAME", c.ClusterName)
}
