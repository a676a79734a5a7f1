package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// getInboxHandler handles GET /api/v1/inbox.
func (s *Server) getInboxHandler(c *echo.Context) error {
	if s.inboxService == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "inbox service not configured")
	}

	items, err := s.inboxService.Assemble(c.Request().Context(), extractAuthor(c))
	if err != nil {
		return mapServiceError(err)
	}

	resp := make([]*InboxItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, newInboxItemResponse(item))
	}
	return c.JSON(http.StatusOK, resp)
}

// markReadHandler handles POST /api/v1/inbox/:broadcastId/read.
func (s *Server) markReadHandler(c *echo.Context) error {
	if s.inboxService == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "inbox service not configured")
	}

	id, err := parseBroadcastIDParam(c, "broadcastId")
	if err != nil {
		return err
	}

	if err := s.inboxService.MarkRead(c.Request().Context(), id, extractAuthor(c)); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
