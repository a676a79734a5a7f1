package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/broadcaster/pkg/lifecycle"
	"github.com/codeready-toolchain/broadcaster/pkg/models"
	"github.com/codeready-toolchain/broadcaster/pkg/resilience"
	testdb "github.com/codeready-toolchain/broadcaster/test/database"
)

type fakeRoleService struct {
	members map[string][]string
	err     error
}

func (f *fakeRoleService) ResolveRole(ctx context.Context, role string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.members[role], nil
}

func newService(t *testing.T, roles *fakeRoleService) *lifecycle.Service {
	client := testdb.NewTestClient(t)
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "user-service", MinRequests: 1, FailureRatio: 0.5,
		MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute,
	})
	bulkhead := resilience.NewBulkhead(10)
	return lifecycle.New(client, roles, breaker, bulkhead, "broadcast.orchestration", time.Minute)
}

func TestCreateBroadcast_SelectedImmediate_GoesActiveWithRows(t *testing.T) {
	svc := newService(t, &fakeRoleService{})
	ctx := context.Background()

	b, err := svc.CreateBroadcast(ctx, lifecycle.CreateBroadcastRequest{
		SenderID: "admin-1", SenderName: "Admin", Content: "hi",
		TargetType: models.TargetSelected, TargetIDs: []string{"u1", "u2"},
		Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, b.Status)
	assert.NotZero(t, b.ID)
}

func TestCreateBroadcast_RoleImmediate_ResolvesViaUserService(t *testing.T) {
	roles := &fakeRoleService{members: map[string][]string{"admins": {"u1", "u2", "u3"}}}
	svc := newService(t, roles)
	ctx := context.Background()

	b, err := svc.CreateBroadcast(ctx, lifecycle.CreateBroadcastRequest{
		SenderID: "admin-1", SenderName: "Admin", Content: "role broadcast",
		TargetType: models.TargetRole, TargetIDs: []string{"admins"},
		Priority: models.PriorityHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, b.Status)
}

func TestCreateBroadcast_RoleImmediate_UserServiceDown_AdmitsNothing(t *testing.T) {
	roles := &fakeRoleService{err: assertError{}}
	svc := newService(t, roles)
	ctx := context.Background()

	_, err := svc.CreateBroadcast(ctx, lifecycle.CreateBroadcastRequest{
		SenderID: "admin-1", SenderName: "Admin", Content: "role broadcast",
		TargetType: models.TargetRole, TargetIDs: []string{"admins"},
		Priority: models.PriorityHigh,
	})
	assert.Error(t, err)
}

func TestCreateBroadcast_Product_GoesPreparingAndTriggersPrecompute(t *testing.T) {
	svc := newService(t, &fakeRoleService{})
	ctx := context.Background()

	triggered := make(chan int64, 1)
	svc.PrecomputeTrigger = func(id int64) { triggered <- id }

	b, err := svc.CreateBroadcast(ctx, lifecycle.CreateBroadcastRequest{
		SenderID: "admin-1", SenderName: "Admin", Content: "product broadcast",
		TargetType: models.TargetProduct, TargetIDs: []string{"prod-x"},
		Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreparing, b.Status)

	select {
	case id := <-triggered:
		assert.Equal(t, b.ID, id)
	case <-time.After(time.Second):
		t.Fatal("expected precompute trigger to fire")
	}
}

func TestCreateBroadcast_AlreadyExpired(t *testing.T) {
	svc := newService(t, &fakeRoleService{})
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	b, err := svc.CreateBroadcast(ctx, lifecycle.CreateBroadcastRequest{
		SenderID: "admin-1", SenderName: "Admin", Content: "too late",
		TargetType: models.TargetAll, Priority: models.PriorityLow,
		ExpiresAt: &past,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, b.Status)
}

func TestCreateBroadcast_FarFutureSchedule_Selected_Scheduled(t *testing.T) {
	svc := newService(t, &fakeRoleService{})
	ctx := context.Background()

	future := time.Now().Add(24 * time.Hour)
	b, err := svc.CreateBroadcast(ctx, lifecycle.CreateBroadcastRequest{
		SenderID: "admin-1", SenderName: "Admin", Content: "later",
		TargetType: models.TargetSelected, TargetIDs: []string{"u1"},
		Priority: models.PriorityNormal, ScheduledAt: &future,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, b.Status)
}

func TestCancel_TransitionsAndSupersedesRows(t *testing.T) {
	svc := newService(t, &fakeRoleService{})
	ctx := context.Background()

	b, err := svc.CreateBroadcast(ctx, lifecycle.CreateBroadcastRequest{
		SenderID: "admin-1", SenderName: "Admin", Content: "cancel me",
		TargetType: models.TargetSelected, TargetIDs: []string{"u1"},
		Priority: models.PriorityNormal,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, b.ID))

	err = svc.Cancel(ctx, b.ID)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}

// assertError is a minimal error used to simulate a UserService outage
// without pulling in errors.New boilerplate per test.
type assertError struct{}

func (assertError) Error() string { return "user service unavailable" }
