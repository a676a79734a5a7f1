package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/broadcaster/pkg/config"
	"github.com/codeready-toolchain/broadcaster/pkg/database"
	"github.com/codeready-toolchain/broadcaster/pkg/distlock/adapters/memory"
	"github.com/codeready-toolchain/broadcaster/pkg/lifecycle"
	"github.com/codeready-toolchain/broadcaster/pkg/models"
	"github.com/codeready-toolchain/broadcaster/pkg/presence"
	"github.com/codeready-toolchain/broadcaster/pkg/resilience"
	"github.com/codeready-toolchain/broadcaster/pkg/scheduler"
	"github.com/codeready-toolchain/broadcaster/pkg/targeting"
	testdb "github.com/codeready-toolchain/broadcaster/test/database"
)

type fixedRoleService struct{ members []string }

func (f fixedRoleService) ResolveRole(ctx context.Context, role string) ([]string, error) {
	return f.members, nil
}

type fixedProductService struct{ members []string }

func (f fixedProductService) ResolveProduct(ctx context.Context, productID string) ([]string, error) {
	return f.members, nil
}

func newTestScheduler(t *testing.T, tick time.Duration) (*scheduler.Scheduler, *database.Client, presence.Store) {
	client := testdb.NewTestClient(t)
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "user-service", MinRequests: 1, FailureRatio: 0.5,
		MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute,
	})
	bulkhead := resilience.NewBulkhead(10)

	lifecycleSvc := lifecycle.New(client, fixedRoleService{members: []string{"u1", "u2"}}, breaker, bulkhead, "broadcast.orchestration", time.Minute)
	targetingSvc := targeting.New(client, fixedProductService{members: []string{"u3"}}, breaker, bulkhead, nil)
	locker := memory.New()
	presenceStore := presence.NewMemoryStore()

	cfg := config.DefaultSchedulerConfig()
	cfg.TickInterval = tick
	cfg.ActivationLockAtLeastFor = 0
	cfg.ActivationLockAtMostFor = time.Minute
	cfg.ActivationBatchSize = 50
	cfg.ReapStalePodsInterval = tick
	retention := config.DefaultRetentionConfig()
	retention.ReapInterval = tick

	sched := scheduler.New(client, lifecycleSvc, targetingSvc, presenceStore, locker, cfg, retention, nil)
	return sched, client, presenceStore
}

func TestScheduler_ActivatesDueScheduledSelected(t *testing.T) {
	sched, client, _ := newTestScheduler(t, 20*time.Millisecond)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	b := &models.Broadcast{
		SenderID: "admin-1", SenderName: "Admin", Content: "due now",
		TargetType: models.TargetSelected, TargetIDs: []string{"u1", "u2"},
		Priority: models.PriorityNormal, Status: models.StatusScheduled, ScheduledAt: &past,
	}
	_, err := client.Broadcasts.Create(ctx, client.DB(), b)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	sched.Start(runCtx)
	defer func() { cancel(); sched.Stop() }()

	require.Eventually(t, func() bool {
		got, err := client.Broadcasts.Get(ctx, b.ID)
		return err == nil && got.Status == models.StatusActive
	}, 2*time.Second, 20*time.Millisecond)

	msg, err := client.Messages.Get(ctx, b.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPending, msg.DeliveryStatus)
}

func TestScheduler_ExpiresDueActiveBroadcast(t *testing.T) {
	sched, client, _ := newTestScheduler(t, 20*time.Millisecond)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	b := &models.Broadcast{
		SenderID: "admin-1", SenderName: "Admin", Content: "expiring",
		TargetType: models.TargetAll, Priority: models.PriorityNormal,
		Status: models.StatusActive, ExpiresAt: &past,
	}
	_, err := client.Broadcasts.Create(ctx, client.DB(), b)
	require.NoError(t, err)
	require.NoError(t, client.Statistics.Init(ctx, client.DB(), b.ID, 0))

	runCtx, cancel := context.WithCancel(ctx)
	sched.Start(runCtx)
	defer func() { cancel(); sched.Stop() }()

	require.Eventually(t, func() bool {
		got, err := client.Broadcasts.Get(ctx, b.ID)
		return err == nil && got.Status == models.StatusExpired
	}, 2*time.Second, 20*time.Millisecond)
}

func TestScheduler_ReapsStalePods(t *testing.T) {
	sched, _, presenceStore := newTestScheduler(t, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, presenceStore.Register(ctx, "u1", presence.Connection{ConnectionID: "c1", PodName: "pod-a", LastHeartbeat: time.Now().Add(-time.Hour)}))
	require.NoError(t, presenceStore.PodHeartbeat(ctx, "pod-a", time.Now().Add(-time.Hour)))

	stale, err := presenceStore.StalePods(ctx, 90*time.Second)
	require.NoError(t, err)
	assert.Contains(t, stale, "pod-a")

	runCtx, cancel := context.WithCancel(ctx)
	sched.Start(runCtx)
	defer func() { cancel(); sched.Stop() }()

	require.Eventually(t, func() bool {
		conns, err := presenceStore.Connections(ctx, "u1")
		return err == nil && len(conns) == 0
	}, 2*time.Second, 20*time.Millisecond)
}
