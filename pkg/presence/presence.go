// Package presence implements the cluster-wide mapping from user id to live
// connection coordinates described in §3 "Presence (in cache)": per-user
// connection map, per-connection heartbeat, per-pod heartbeat timestamp,
// and per-pod owned-connection set. It is the authoritative source of
// truth across pods — the SSE Connection Manager's in-memory sinks are
// merely a local cache of one pod's slice of this state (§4.6).
package presence

import (
	"context"
	"time"
)

// Connection identifies one live SSE stream.
type Connection struct {
	ConnectionID  string
	PodName       string
	ClusterName   string
	LastHeartbeat time.Time
}

// Store is the distributed presence abstraction. Implementations: Redis
// (production) and an in-memory adapter (tests), mirroring the
// cache.Cache split the rest of the domain cache layer uses.
type Store interface {
	// Register adds a connection for userID, guarded by the caller holding
	// a per-user lock (§4.6 connect contract).
	Register(ctx context.Context, userID string, conn Connection) error

	// Unregister removes one connection for userID.
	Unregister(ctx context.Context, userID, connectionID string) error

	// Connections returns every live connection for userID.
	Connections(ctx context.Context, userID string) ([]Connection, error)

	// ConnectionCount reports len(Connections(ctx, userID)) without
	// deserializing the full entries — used by the connect-limit check.
	ConnectionCount(ctx context.Context, userID string) (int, error)

	// Heartbeat refreshes LastHeartbeat for a batch of this pod's
	// connections in one round trip (§4.6 heartbeat loop).
	Heartbeat(ctx context.Context, userID string, connectionIDs []string, at time.Time) error

	// PodHeartbeat records this pod's own liveness timestamp (§4.6 pod
	// self-heartbeat, every PresenceConfig.HeartbeatInterval).
	PodHeartbeat(ctx context.Context, podName string, at time.Time) error

	// StalePods returns pods whose heartbeat is older than threshold, or
	// that never reported one but still own connections (§4.3 task 6).
	StalePods(ctx context.Context, threshold time.Duration) ([]string, error)

	// OwnedConnections returns every (userID, connectionID) pair a pod
	// owns, used by the stale-pod reaper to remove them.
	OwnedConnections(ctx context.Context, podName string) ([]OwnedConnection, error)

	// RemovePod deletes a pod's heartbeat entry and every connection
	// record it owned.
	RemovePod(ctx context.Context, podName string) error
}

// OwnedConnection names a connection along with the user it belongs to,
// for bulk cleanup by pod.
type OwnedConnection struct {
	UserID       string
	ConnectionID string
}

// WorkerTopicKey is the "{cluster}:{pod}" coordinate used as a pod's SSE
// dispatch region key (§4.5, §4.7).
func WorkerTopicKey(clusterName, podName string) string {
	return clusterName + ":" + podName
}
