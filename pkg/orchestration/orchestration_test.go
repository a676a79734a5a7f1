package orchestration_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/broadcaster/pkg/cache"
	cachemem "github.com/codeready-toolchain/broadcaster/pkg/cache/adapters/memory"
	"github.com/codeready-toolchain/broadcaster/pkg/eventbus"
	"github.com/codeready-toolchain/broadcaster/pkg/models"
	"github.com/codeready-toolchain/broadcaster/pkg/orchestration"
	"github.com/codeready-toolchain/broadcaster/pkg/presence"
	testdb "github.com/codeready-toolchain/broadcaster/test/database"
)

func TestConsumer_AllBroadcast_DispatchesToGroup(t *testing.T) {
	broker := eventbus.NewMemoryBroker()
	presenceStore := presence.NewMemoryStore()
	client := testdb.NewTestClient(t)
	backend := cachemem.New()
	content := cache.NewBroadcastContentCache(backend, time.Minute)
	inbox := cache.NewUserInboxCache(backend, time.Minute)
	pending := cache.NewPendingEventsCache(backend, time.Minute)
	dispatch := cache.NewSseDispatchRegion(backend, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventbusConsumer, err := broker.Consumer("broadcast.orchestration", "orchestration")
	require.NoError(t, err)
	dltProducer, err := broker.Producer("broadcast.orchestration.DLT")
	require.NoError(t, err)
	c := orchestration.New(client, eventbusConsumer, dltProducer, 3, time.Millisecond, presenceStore, content, inbox, pending, dispatch, nil)
	go c.Run(ctx)

	b := &models.Broadcast{
		SenderID: "admin", Content: "all hands", TargetType: models.TargetAll,
		Priority: models.PriorityNormal, Status: models.StatusActive,
	}
	_, err = client.Broadcasts.Create(ctx, client.DB(), b)
	require.NoError(t, err)

	publish(t, broker, b.ID, models.EventCreated, models.TargetAll)

	require.Eventually(t, func() bool {
		payloads, err := dispatch.PollPod(ctx, "cl:pod-that-never-published-to")
		return err == nil && len(payloads) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConsumer_SelectedBroadcast_OnlineUserRoutedToPod_OfflineBuffered(t *testing.T) {
	broker := eventbus.NewMemoryBroker()
	presenceStore := presence.NewMemoryStore()
	client := testdb.NewTestClient(t)
	backend := cachemem.New()
	content := cache.NewBroadcastContentCache(backend, time.Minute)
	inbox := cache.NewUserInboxCache(backend, time.Minute)
	pending := cache.NewPendingEventsCache(backend, time.Minute)
	dispatch := cache.NewSseDispatchRegion(backend, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, presenceStore.Register(ctx, "online-user", presence.Connection{
		ConnectionID: "c1", PodName: "pod-a", ClusterName: "cluster-1", LastHeartbeat: time.Now(),
	}))

	eventbusConsumer, err := broker.Consumer("broadcast.orchestration", "orchestration")
	require.NoError(t, err)
	dltProducer, err := broker.Producer("broadcast.orchestration.DLT")
	require.NoError(t, err)
	c := orchestration.New(client, eventbusConsumer, dltProducer, 3, time.Millisecond, presenceStore, content, inbox, pending, dispatch, nil)
	go c.Run(ctx)

	b := &models.Broadcast{
		SenderID: "admin", Content: "selected msg", TargetType: models.TargetSelected,
		TargetIDs: []string{"online-user", "offline-user"},
		Priority:  models.PriorityNormal, Status: models.StatusActive,
	}
	_, err = client.Broadcasts.Create(ctx, client.DB(), b)
	require.NoError(t, err)
	_, err = client.Messages.InsertPending(ctx, client.DB(), b.ID, b.TargetIDs)
	require.NoError(t, err)

	publish(t, broker, b.ID, models.EventCreated, models.TargetSelected)

	require.Eventually(t, func() bool {
		payloads, err := dispatch.PollPod(ctx, presence.WorkerTopicKey("cluster-1", "pod-a"))
		return err == nil && len(payloads) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		events, err := pending.Drain(ctx, "offline-user")
		return err == nil && len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConsumer_CancelledSelectedBroadcast_EvictsContentAndInboxCaches(t *testing.T) {
	broker := eventbus.NewMemoryBroker()
	presenceStore := presence.NewMemoryStore()
	client := testdb.NewTestClient(t)
	backend := cachemem.New()
	content := cache.NewBroadcastContentCache(backend, time.Minute)
	inbox := cache.NewUserInboxCache(backend, time.Minute)
	pending := cache.NewPendingEventsCache(backend, time.Minute)
	dispatch := cache.NewSseDispatchRegion(backend, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventbusConsumer, err := broker.Consumer("broadcast.orchestration", "orchestration")
	require.NoError(t, err)
	dltProducer, err := broker.Producer("broadcast.orchestration.DLT")
	require.NoError(t, err)
	c := orchestration.New(client, eventbusConsumer, dltProducer, 3, time.Millisecond, presenceStore, content, inbox, pending, dispatch, nil)
	go c.Run(ctx)

	b := &models.Broadcast{
		SenderID: "admin", Content: "cancel me", TargetType: models.TargetSelected,
		TargetIDs: []string{"user-a", "user-b"},
		Priority:  models.PriorityNormal, Status: models.StatusActive,
	}
	_, err = client.Broadcasts.Create(ctx, client.DB(), b)
	require.NoError(t, err)
	_, err = client.Messages.InsertPending(ctx, client.DB(), b.ID, b.TargetIDs)
	require.NoError(t, err)

	require.NoError(t, content.Set(ctx, b))
	require.NoError(t, inbox.Set(ctx, "user-a", []models.InboxItem{{BroadcastID: b.ID}}))
	require.NoError(t, inbox.Set(ctx, "user-b", []models.InboxItem{{BroadcastID: b.ID}}))

	publish(t, broker, b.ID, models.EventCancelled, models.TargetSelected)

	require.Eventually(t, func() bool {
		_, err := content.Get(ctx, b.ID)
		return errors.Is(err, models.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, errA := inbox.Get(ctx, "user-a")
		_, errB := inbox.Get(ctx, "user-b")
		return errors.Is(errA, models.ErrNotFound) && errors.Is(errB, models.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}

func publish(t *testing.T, broker *eventbus.MemoryBroker, broadcastID int64, eventType models.EventType, targetType models.TargetType) {
	t.Helper()
	payload, err := json.Marshal(models.OrchestrationPayload{BroadcastID: broadcastID, EventType: eventType, TargetType: targetType})
	require.NoError(t, err)
	producer, err := broker.Producer("broadcast.orchestration")
	require.NoError(t, err)
	require.NoError(t, producer.Publish(context.Background(), &eventbus.Message{Payload: payload}))
}
