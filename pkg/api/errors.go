package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/broadcaster/pkg/models"
)

// mapServiceError maps domain sentinel errors (§7) to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	case errors.Is(err, models.ErrIllegalTransition):
		return echo.NewHTTPError(http.StatusConflict, "broadcast is not in a state that allows this action")
	case errors.Is(err, models.ErrUserServiceUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "user service unavailable, try again later")
	case errors.Is(err, models.ErrDataIntegrityViolation):
		return echo.NewHTTPError(http.StatusConflict, "conflicts with an existing record")
	default:
		slog.Error("unexpected service error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
