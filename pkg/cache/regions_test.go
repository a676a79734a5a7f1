package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/broadcaster/pkg/cache"
	"github.com/codeready-toolchain/broadcaster/pkg/cache/adapters/memory"
	"github.com/codeready-toolchain/broadcaster/pkg/models"
)

func TestBroadcastContentCache_SetGetEvict(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	c := cache.NewBroadcastContentCache(backend, time.Minute)

	b := &models.Broadcast{ID: 42, Content: "hello"}
	require.NoError(t, c.Set(ctx, b))

	got, err := c.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)

	require.NoError(t, c.Evict(ctx, 42))
	_, err = c.Get(ctx, 42)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUserInboxCache_SetGetEvict(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	c := cache.NewUserInboxCache(backend, time.Minute)

	items := []models.InboxItem{{ID: 1, BroadcastID: 42, DeliveryStatus: models.DeliveryDelivered}}
	require.NoError(t, c.Set(ctx, "user-1", items))

	got, err := c.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(42), got[0].BroadcastID)

	require.NoError(t, c.Evict(ctx, "user-1"))
	_, err = c.Get(ctx, "user-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPendingEventsCache_AppendAndDrain(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	c := cache.NewPendingEventsCache(backend, time.Minute)

	require.NoError(t, c.Append(ctx, "user-1", models.SSEEvent{Type: models.SSEMessage, BroadcastID: 1}))
	require.NoError(t, c.Append(ctx, "user-1", models.SSEEvent{Type: models.SSEMessage, BroadcastID: 2}))

	events, err := c.Drain(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, events, 2)

	events, err = c.Drain(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSseDispatchRegion_PodAndGroupDispatch(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	region := cache.NewSseDispatchRegion(backend, time.Minute)

	require.NoError(t, region.PublishToPod(ctx, "cluster-1:pod-a", "user-1", models.DispatchPayload{
		Event: models.SSEEvent{Type: models.SSEMessage, BroadcastID: 1},
	}))
	require.NoError(t, region.PublishToGroup(ctx, models.DispatchPayload{
		Event: models.SSEEvent{Type: models.SSEMessageRemoved, BroadcastID: 2},
	}))

	payloads, err := region.PollPod(ctx, "cluster-1:pod-a")
	require.NoError(t, err)
	require.Len(t, payloads, 2)

	// Pod-targeted entries are consumed once; group entries remain for
	// other pods' polls.
	payloads, err = region.PollPod(ctx, "cluster-1:pod-a")
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, models.SSEMessageRemoved, payloads[0].Event.Type)
}
