package database_test

import (
	"context"
	"testing"

	"github.com/codeready-toolchain/broadcaster/pkg/database"
	"github.com/codeready-toolchain/broadcaster/pkg/models"
	testdb "github.com/codeready-toolchain/broadcaster/test/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseClient_ConnectionPool(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.DB().PingContext(ctx))

	health, err := database.Health(ctx, client.DB())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxOpenConns, 0)
}

func TestBroadcastRepository_CreateAndGet(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	b := &models.Broadcast{
		SenderID:   "admin-1",
		SenderName: "Admin",
		Content:    "hello world",
		TargetType: models.TargetAll,
		Priority:   models.PriorityNormal,
		Status:     models.StatusActive,
	}

	id, err := client.Broadcasts.Create(ctx, client.DB(), b)
	require.NoError(t, err)
	assert.NotZero(t, id)

	got, err := client.Broadcasts.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got.Content)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestBroadcastRepository_UpdateStatus_IllegalTransition(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	b := &models.Broadcast{
		SenderID: "admin-1", SenderName: "Admin", Content: "x",
		TargetType: models.TargetAll, Priority: models.PriorityNormal,
		Status: models.StatusCancelled,
	}
	id, err := client.Broadcasts.Create(ctx, client.DB(), b)
	require.NoError(t, err)

	err = client.Broadcasts.UpdateStatus(ctx, client.DB(), id, models.StatusActive, models.StatusReady)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}
