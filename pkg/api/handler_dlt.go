package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// listDLTHandler handles GET /api/v1/dlt.
func (s *Server) listDLTHandler(c *echo.Context) error {
	records, err := s.dbClient.DLT.List(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	resp := make([]*DLTRecordResponse, 0, len(records))
	for _, r := range records {
		resp = append(resp, newDLTRecordResponse(r))
	}
	return c.JSON(http.StatusOK, resp)
}

// redriveDLTHandler handles POST /api/v1/dlt/:id/redrive.
func (s *Server) redriveDLTHandler(c *echo.Context) error {
	if s.dltService == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "DLT service not configured")
	}
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "record id is required")
	}
	if err := s.dltService.Redrive(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// redriveAllDLTHandler handles POST /api/v1/dlt/redrive.
func (s *Server) redriveAllDLTHandler(c *echo.Context) error {
	if s.dltService == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "DLT service not configured")
	}
	n, err := s.dltService.RedriveAll(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"redriven": n})
}

// purgeDLTHandler handles DELETE /api/v1/dlt/:id.
func (s *Server) purgeDLTHandler(c *echo.Context) error {
	if s.dltService == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "DLT service not configured")
	}
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "record id is required")
	}
	if err := s.dltService.Purge(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// purgeAllDLTHandler handles DELETE /api/v1/dlt.
func (s *Server) purgeAllDLTHandler(c *echo.Context) error {
	if s.dltService == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "DLT service not configured")
	}
	n, err := s.dltService.PurgeAll(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"purged": n})
}
