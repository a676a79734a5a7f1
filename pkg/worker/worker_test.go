package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/broadcaster/pkg/cache"
	cachemem "github.com/codeready-toolchain/broadcaster/pkg/cache/adapters/memory"
	"github.com/codeready-toolchain/broadcaster/pkg/models"
	"github.com/codeready-toolchain/broadcaster/pkg/presence"
	"github.com/codeready-toolchain/broadcaster/pkg/sse"
	"github.com/codeready-toolchain/broadcaster/pkg/worker"
)

func TestWorker_DeliversPodEntryToOwningUser(t *testing.T) {
	backend := cachemem.New()
	dispatch := cache.NewSseDispatchRegion(backend, time.Minute)
	manager := sse.New("pod-a", "cluster-1", presence.NewMemoryStore(), time.Hour, 4, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := manager.Connect(ctx, "user-1")
	require.NoError(t, err)
	<-conn.Events() // drain CONNECTED

	clusterPod := presence.WorkerTopicKey("cluster-1", "pod-a")
	require.NoError(t, dispatch.PublishToPod(ctx, clusterPod, "user-1", models.DispatchPayload{
		Event: models.SSEEvent{Type: models.SSEMessage, BroadcastID: 9},
	}))

	w := worker.New(clusterPod, dispatch, manager, 10*time.Millisecond, nil)
	go w.Run(ctx)

	select {
	case ev := <-conn.Events():
		assert.Equal(t, int64(9), ev.BroadcastID)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not deliver the pod-targeted event")
	}
}

func TestWorker_DeliversGroupEntryOnceAndSkipsOnNextTick(t *testing.T) {
	backend := cachemem.New()
	dispatch := cache.NewSseDispatchRegion(backend, time.Minute)
	manager := sse.New("pod-a", "cluster-1", presence.NewMemoryStore(), time.Hour, 4, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := manager.Connect(ctx, "user-1")
	require.NoError(t, err)
	<-conn.Events() // drain CONNECTED

	require.NoError(t, dispatch.PublishToGroup(ctx, models.DispatchPayload{
		Event: models.SSEEvent{Type: models.SSEMessage, ID: "42", BroadcastID: 42},
	}))

	clusterPod := presence.WorkerTopicKey("cluster-1", "pod-a")
	w := worker.New(clusterPod, dispatch, manager, 10*time.Millisecond, nil)
	go w.Run(ctx)

	select {
	case ev := <-conn.Events():
		assert.Equal(t, int64(42), ev.BroadcastID)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not deliver the group event")
	}

	select {
	case ev := <-conn.Events():
		t.Fatalf("received duplicate group delivery: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
