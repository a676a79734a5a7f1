package health_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/broadcaster/pkg/eventbus"
	"github.com/codeready-toolchain/broadcaster/pkg/health"
	"github.com/codeready-toolchain/broadcaster/pkg/presence"
	"github.com/codeready-toolchain/broadcaster/pkg/sse"
	testdb "github.com/codeready-toolchain/broadcaster/test/database"
)

func TestCheck_AllHealthy(t *testing.T) {
	client := testdb.NewTestClient(t)
	broker := eventbus.NewMemoryBroker()
	presenceStore := presence.NewMemoryStore()
	manager := sse.New("pod-a", "cluster-1", presenceStore, time.Hour, 5, 8, nil)

	checker := health.New(client, broker, presenceStore, manager, 2*time.Second)
	report := checker.Check(context.Background())

	require.Equal(t, health.StatusHealthy, report.Status)
	require.Equal(t, health.StatusHealthy, report.Checks["database"].Status)
	require.Equal(t, health.StatusHealthy, report.Checks["event_bus"].Status)
	require.Equal(t, health.StatusHealthy, report.Checks["presence"].Status)
	require.Equal(t, health.StatusHealthy, report.Checks["sse"].Status)
}

func TestCheck_UnreachableBrokerMakesReportUnhealthy(t *testing.T) {
	client := testdb.NewTestClient(t)
	broker := eventbus.NewMemoryBroker()
	require.NoError(t, broker.Close())
	presenceStore := presence.NewMemoryStore()

	checker := health.New(client, broker, presenceStore, nil, 2*time.Second)
	report := checker.Check(context.Background())

	require.Equal(t, health.StatusUnhealthy, report.Status)
	require.Equal(t, health.StatusUnhealthy, report.Checks["event_bus"].Status)
}

func TestCheck_OmitsUnconfiguredComponents(t *testing.T) {
	client := testdb.NewTestClient(t)
	checker := health.New(client, nil, nil, nil, 2*time.Second)
	report := checker.Check(context.Background())

	require.Equal(t, health.StatusHealthy, report.Status)
	require.Contains(t, report.Checks, "database")
	require.NotContains(t, report.Checks, "event_bus")
	require.NotContains(t, report.Checks, "presence")
	require.NotContains(t, report.Checks, "sse")
}
