package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/broadcaster/pkg/models"
	"github.com/codeready-toolchain/broadcaster/pkg/sse"
)

// sseHandler handles GET /api/v1/sse, upgrading the request into a
// long-lived Server-Sent Events stream for the caller's identity. It
// blocks until the client disconnects or the server shuts the stream
// down, at which point it hands the connection back to sse.Manager via
// Disconnect so presence and the local connection map stay consistent.
func (s *Server) sseHandler(c *echo.Context) error {
	userID := extractAuthor(c)

	conn, err := s.sseManager.Connect(c.Request().Context(), userID)
	if err != nil {
		if err == sse.ErrConnectionLimitReached {
			return echo.NewHTTPError(http.StatusTooManyRequests, "connection limit reached for this user")
		}
		return mapServiceError(err)
	}
	defer s.sseManager.Disconnect(c.Request().Context(), conn)

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case event, ok := <-conn.Events():
			if !ok {
				return nil
			}
			data, err := json.Marshal(event)
			if err != nil {
				return nil
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
				return nil
			}
			w.Flush()
			if event.Type == models.SSEServerShutdown {
				return nil
			}
		}
	}
}
