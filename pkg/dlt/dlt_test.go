package dlt_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/broadcaster/pkg/dlt"
	"github.com/codeready-toolchain/broadcaster/pkg/eventbus"
	"github.com/codeready-toolchain/broadcaster/pkg/models"
	testdb "github.com/codeready-toolchain/broadcaster/test/database"
)

const orchestrationTopic = "broadcast.orchestration"

func TestService_RecordsDeadLetterAndFailsBroadcast(t *testing.T) {
	client := testdb.NewTestClient(t)
	broker := eventbus.NewMemoryBroker()

	b := &models.Broadcast{
		SenderID: "admin", Content: "will fail", TargetType: models.TargetAll,
		Priority: models.PriorityNormal, Status: models.StatusActive,
	}
	_, err := client.Broadcasts.Create(context.Background(), client.DB(), b)
	require.NoError(t, err)

	dltConsumer, err := broker.Consumer(eventbus.DLTTopic(orchestrationTopic), "dlt")
	require.NoError(t, err)
	svc := dlt.New(client, dltConsumer, orchestrationTopic, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	publishDeadLetter(t, broker, b.ID)

	require.Eventually(t, func() bool {
		records, err := client.DLT.List(ctx)
		return err == nil && len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		got, err := client.Broadcasts.Get(ctx, b.ID)
		return err == nil && got.Status == models.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_DuplicateDeadLetterIsAbsorbed(t *testing.T) {
	client := testdb.NewTestClient(t)
	broker := eventbus.NewMemoryBroker()

	b := &models.Broadcast{
		SenderID: "admin", Content: "will fail twice", TargetType: models.TargetAll,
		Priority: models.PriorityNormal, Status: models.StatusActive,
	}
	_, err := client.Broadcasts.Create(context.Background(), client.DB(), b)
	require.NoError(t, err)

	dltConsumer, err := broker.Consumer(eventbus.DLTTopic(orchestrationTopic), "dlt")
	require.NoError(t, err)
	svc := dlt.New(client, dltConsumer, orchestrationTopic, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	publishDeadLetter(t, broker, b.ID)
	publishDeadLetter(t, broker, b.ID)

	require.Eventually(t, func() bool {
		records, err := client.DLT.List(ctx)
		return err == nil && len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_Redrive_ResetsBroadcastAndRemovesRecord(t *testing.T) {
	client := testdb.NewTestClient(t)
	broker := eventbus.NewMemoryBroker()

	b := &models.Broadcast{
		SenderID: "admin", Content: "redrive me", TargetType: models.TargetAll,
		Priority: models.PriorityNormal, Status: models.StatusActive,
	}
	_, err := client.Broadcasts.Create(context.Background(), client.DB(), b)
	require.NoError(t, err)

	dltConsumer, err := broker.Consumer(eventbus.DLTTopic(orchestrationTopic), "dlt")
	require.NoError(t, err)
	svc := dlt.New(client, dltConsumer, orchestrationTopic, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	publishDeadLetter(t, broker, b.ID)

	var recordID string
	require.Eventually(t, func() bool {
		records, err := client.DLT.List(ctx)
		if err != nil || len(records) != 1 {
			return false
		}
		recordID = records[0].ID
		return true
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		got, err := client.Broadcasts.Get(ctx, b.ID)
		return err == nil && got.Status == models.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.Redrive(ctx, recordID))

	got, err := client.Broadcasts.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, got.Status)

	rec, err := client.DLT.Get(ctx, recordID)
	require.NoError(t, err)
	require.Equal(t, models.DLTResolutionRedriven, rec.Resolution)
	require.NotNil(t, rec.ResolvedAt)

	records, err := client.DLT.List(ctx)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestService_PurgeAll_RemovesEveryRecord(t *testing.T) {
	client := testdb.NewTestClient(t)
	broker := eventbus.NewMemoryBroker()

	dltConsumer, err := broker.Consumer(eventbus.DLTTopic(orchestrationTopic), "dlt")
	require.NoError(t, err)
	svc := dlt.New(client, dltConsumer, orchestrationTopic, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	for i := 0; i < 3; i++ {
		b := &models.Broadcast{
			SenderID: "admin", Content: "purge me", TargetType: models.TargetAll,
			Priority: models.PriorityNormal, Status: models.StatusActive,
		}
		_, err := client.Broadcasts.Create(context.Background(), client.DB(), b)
		require.NoError(t, err)
		publishDeadLetter(t, broker, b.ID)
	}

	require.Eventually(t, func() bool {
		records, err := client.DLT.List(ctx)
		return err == nil && len(records) == 3
	}, 2*time.Second, 10*time.Millisecond)

	purged, err := svc.PurgeAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, purged)

	records, err := client.DLT.List(ctx)
	require.NoError(t, err)
	require.Empty(t, records)
}

func publishDeadLetter(t *testing.T, broker *eventbus.MemoryBroker, broadcastID int64) {
	t.Helper()
	payload, err := json.Marshal(models.OrchestrationPayload{BroadcastID: broadcastID, EventType: models.EventCreated, TargetType: models.TargetAll})
	require.NoError(t, err)
	producer, err := broker.Producer(eventbus.DLTTopic(orchestrationTopic))
	require.NoError(t, err)
	require.NoError(t, producer.Publish(context.Background(), &eventbus.Message{
		Payload: payload,
		Headers: map[string]string{
			"original_topic":    orchestrationTopic,
			"exception_message": "simulated processing failure",
		},
	}))
}
