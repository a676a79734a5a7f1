package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/broadcaster/pkg/lifecycle"
	"github.com/codeready-toolchain/broadcaster/pkg/resilience"
	testdb "github.com/codeready-toolchain/broadcaster/test/database"
)

type noopRoleService struct{}

func (noopRoleService) ResolveRole(ctx context.Context, role string) ([]string, error) {
	return nil, nil
}

func newBroadcastTestServer(t *testing.T) *Server {
	client := testdb.NewTestClient(t)
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "user-service", MinRequests: 1, FailureRatio: 0.5,
		MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute,
	})
	bulkhead := resilience.NewBulkhead(10)
	svc := lifecycle.New(client, noopRoleService{}, breaker, bulkhead, "broadcast.orchestration", time.Minute)
	return &Server{dbClient: client, lifecycleService: svc}
}

func TestCreateBroadcastHandler_Validation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{
			name:   "missing content",
			body:   `{"targetType":"ALL"}`,
			errMsg: "content is required",
		},
		{
			name:   "invalid target type",
			body:   `{"content":"hi","targetType":"EVERYONE"}`,
			errMsg: "invalid targetType",
		},
		{
			name:   "invalid priority",
			body:   `{"content":"hi","targetType":"ALL","priority":"URGENTISH"}`,
			errMsg: "invalid priority",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/broadcasts", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := s.createBroadcastHandler(c)
			if assert.Error(t, err) {
				he, ok := err.(*echo.HTTPError)
				if assert.True(t, ok) {
					assert.Equal(t, http.StatusBadRequest, he.Code)
					assert.Contains(t, he.Message, tt.errMsg)
				}
			}
		})
	}
}

func TestBroadcastHandlers_CreateListGetCancelDeliveries(t *testing.T) {
	s := newBroadcastTestServer(t)
	e := echo.New()

	// Create.
	body := `{"senderName":"Admin","content":"hello users","targetType":"SELECTED","targetIds":["u1","u2"],"priority":"HIGH"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/broadcasts", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-User", "admin-1")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, s.createBroadcastHandler(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var created BroadcastResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "admin-1", created.SenderID)
	assert.Equal(t, "ACTIVE", created.Status)

	// Get.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/broadcasts/x", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(strconv.FormatInt(created.ID, 10))
	require.NoError(t, s.getBroadcastHandler(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	// List, filtered to ACTIVE.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/broadcasts?status=ACTIVE", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	require.NoError(t, s.listBroadcastsHandler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	var list BroadcastListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.GreaterOrEqual(t, list.Total, 1)

	// Deliveries.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/broadcasts/x/deliveries", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(strconv.FormatInt(created.ID, 10))
	require.NoError(t, s.listDeliveriesHandler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	var deliveries []*DeliveryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deliveries))
	assert.Len(t, deliveries, 2)

	// Cancel succeeds: SELECTED+immediate broadcasts admit straight to
	// ACTIVE, which is still a non-terminal status Cancel can transition out of.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/broadcasts/x/cancel", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(strconv.FormatInt(created.ID, 10))
	require.NoError(t, s.cancelBroadcastHandler(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Cancelling again is now an illegal transition.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/broadcasts/x/cancel", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(strconv.FormatInt(created.ID, 10))
	err := s.cancelBroadcastHandler(c)
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, he.Code)
}
