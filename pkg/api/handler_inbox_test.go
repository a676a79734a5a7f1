package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/broadcaster/pkg/cache"
	cachemem "github.com/codeready-toolchain/broadcaster/pkg/cache/adapters/memory"
	"github.com/codeready-toolchain/broadcaster/pkg/inbox"
	"github.com/codeready-toolchain/broadcaster/pkg/models"
	testdb "github.com/codeready-toolchain/broadcaster/test/database"
)

func TestInboxHandlers_ServiceNotConfigured(t *testing.T) {
	s := &Server{}
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/inbox", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := s.getInboxHandler(c)
	require.Error(t, err)
	he := err.(*echo.HTTPError)
	assert.Equal(t, http.StatusServiceUnavailable, he.Code)
}

func TestInboxHandlers_GetAndMarkRead(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	backend := cachemem.New()
	content := cache.NewBroadcastContentCache(backend, time.Minute)
	userInbox := cache.NewUserInboxCache(backend, time.Minute)
	pending := cache.NewPendingEventsCache(backend, time.Minute)
	svc := inbox.New(client, content, userInbox, pending, "broadcast.orchestration", nil)
	s := &Server{inboxService: svc}
	e := echo.New()

	b := &models.Broadcast{
		SenderID: "admin", Content: "read me", TargetType: models.TargetSelected,
		TargetIDs: []string{"alice"}, Priority: models.PriorityNormal, Status: models.StatusActive,
	}
	_, err := client.Broadcasts.Create(ctx, client.DB(), b)
	require.NoError(t, err)
	_, err = client.Messages.InsertPending(ctx, client.DB(), b.ID, []string{"alice"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/inbox", nil)
	req.Header.Set("X-Forwarded-User", "alice")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, s.getInboxHandler(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var items []*InboxItemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, b.ID, items[0].BroadcastID)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/inbox/"+strconv.FormatInt(b.ID, 10)+"/read", nil)
	req.Header.Set("X-Forwarded-User", "alice")
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("broadcastId")
	c.SetParamValues(strconv.FormatInt(b.ID, 10))
	require.NoError(t, s.markReadHandler(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	got, err := client.Messages.Get(ctx, b.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ReadRead, got.ReadStatus)
}
