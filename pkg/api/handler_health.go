package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/broadcaster/pkg/health"
)

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	if s.healthChecker == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "health checker not configured")
	}

	report := s.healthChecker.Check(c.Request().Context())

	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}
