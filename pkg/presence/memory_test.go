package presence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/broadcaster/pkg/presence"
)

func TestMemoryStore_RegisterAndConnections(t *testing.T) {
	ctx := context.Background()
	store := presence.NewMemoryStore()

	conn := presence.Connection{ConnectionID: "c1", PodName: "pod-a", ClusterName: "cluster-1", LastHeartbeat: time.Now()}
	require.NoError(t, store.Register(ctx, "user-1", conn))

	count, err := store.ConnectionCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	conns, err := store.Connections(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "pod-a", conns[0].PodName)
}

func TestMemoryStore_Unregister(t *testing.T) {
	ctx := context.Background()
	store := presence.NewMemoryStore()

	require.NoError(t, store.Register(ctx, "user-1", presence.Connection{ConnectionID: "c1", PodName: "pod-a"}))
	require.NoError(t, store.Unregister(ctx, "user-1", "c1"))

	count, err := store.ConnectionCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMemoryStore_OwnedConnectionsAndRemovePod(t *testing.T) {
	ctx := context.Background()
	store := presence.NewMemoryStore()

	require.NoError(t, store.Register(ctx, "user-1", presence.Connection{ConnectionID: "c1", PodName: "pod-a"}))
	require.NoError(t, store.Register(ctx, "user-2", presence.Connection{ConnectionID: "c2", PodName: "pod-a"}))
	require.NoError(t, store.Register(ctx, "user-3", presence.Connection{ConnectionID: "c3", PodName: "pod-b"}))

	owned, err := store.OwnedConnections(ctx, "pod-a")
	require.NoError(t, err)
	assert.Len(t, owned, 2)

	require.NoError(t, store.RemovePod(ctx, "pod-a"))

	owned, err = store.OwnedConnections(ctx, "pod-a")
	require.NoError(t, err)
	assert.Empty(t, owned)

	count, err := store.ConnectionCount(ctx, "user-3")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryStore_StalePods(t *testing.T) {
	ctx := context.Background()
	store := presence.NewMemoryStore()

	require.NoError(t, store.PodHeartbeat(ctx, "pod-a", time.Now()))
	require.NoError(t, store.PodHeartbeat(ctx, "pod-b", time.Now().Add(-time.Hour)))

	stale, err := store.StalePods(ctx, time.Minute)
	require.NoError(t, err)
	assert.Contains(t, stale, "pod-b")
	assert.NotContains(t, stale, "pod-a")
}

func TestWorkerTopicKey(t *testing.T) {
	assert.Equal(t, "cluster-1:pod-a", presence.WorkerTopicKey("cluster-1", "pod-a"))
}
