package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/broadcaster/pkg/lifecycle"
	"github.com/codeready-toolchain/broadcaster/pkg/models"
)

// createBroadcastHandler handles POST /api/v1/broadcasts.
func (s *Server) createBroadcastHandler(c *echo.Context) error {
	var req CreateBroadcastRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	targetType := models.TargetType(req.TargetType)
	switch targetType {
	case models.TargetAll, models.TargetRole, models.TargetSelected, models.TargetProduct:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid targetType: must be ALL, ROLE, SELECTED, or PRODUCT")
	}

	priority := models.Priority(req.Priority)
	if priority == "" {
		priority = models.PriorityNormal
	}
	switch priority {
	case models.PriorityLow, models.PriorityNormal, models.PriorityHigh, models.PriorityUrgent:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid priority: must be LOW, NORMAL, HIGH, or URGENT")
	}

	b, err := s.lifecycleService.CreateBroadcast(c.Request().Context(), lifecycle.CreateBroadcastRequest{
		SenderID:      extractAuthor(c),
		SenderName:    req.SenderName,
		Content:       req.Content,
		TargetType:    targetType,
		TargetIDs:     req.TargetIDs,
		Priority:      priority,
		Category:      req.Category,
		ScheduledAt:   req.ScheduledAt,
		ExpiresAt:     req.ExpiresAt,
		FireAndForget: req.FireAndForget,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, newBroadcastResponse(b))
}

// getBroadcastHandler handles GET /api/v1/broadcasts/:id.
func (s *Server) getBroadcastHandler(c *echo.Context) error {
	id, err := parseBroadcastID(c)
	if err != nil {
		return err
	}

	b, dbErr := s.dbClient.Broadcasts.Get(c.Request().Context(), id)
	if dbErr != nil {
		return mapServiceError(dbErr)
	}
	return c.JSON(http.StatusOK, newBroadcastResponse(b))
}

// listBroadcastsHandler handles GET /api/v1/broadcasts.
func (s *Server) listBroadcastsHandler(c *echo.Context) error {
	page := 1
	if v := c.QueryParam("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	pageSize := 25
	if v := c.QueryParam("pageSize"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= 100 {
			pageSize = ps
		}
	}

	var status *models.BroadcastStatus
	if v := c.QueryParam("status"); v != "" {
		st := models.BroadcastStatus(v)
		switch st {
		case models.StatusScheduled, models.StatusPreparing, models.StatusReady, models.StatusActive,
			models.StatusCancelled, models.StatusExpired, models.StatusFailed:
			status = &st
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+v)
		}
	}

	items, total, err := s.dbClient.Broadcasts.ListPage(c.Request().Context(), (page-1)*pageSize, pageSize, status)
	if err != nil {
		return mapServiceError(err)
	}

	resp := &BroadcastListResponse{Items: make([]*BroadcastResponse, 0, len(items)), Total: total, Page: page, PageSize: pageSize}
	for _, b := range items {
		resp.Items = append(resp.Items, newBroadcastResponse(b))
	}
	return c.JSON(http.StatusOK, resp)
}

// cancelBroadcastHandler handles POST /api/v1/broadcasts/:id/cancel.
func (s *Server) cancelBroadcastHandler(c *echo.Context) error {
	id, err := parseBroadcastID(c)
	if err != nil {
		return err
	}

	if err := s.lifecycleService.Cancel(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// listDeliveriesHandler handles GET /api/v1/broadcasts/:id/deliveries.
func (s *Server) listDeliveriesHandler(c *echo.Context) error {
	id, err := parseBroadcastID(c)
	if err != nil {
		return err
	}

	deliveries, dbErr := s.dbClient.Messages.ListDeliveries(c.Request().Context(), id)
	if dbErr != nil {
		return mapServiceError(dbErr)
	}

	resp := make([]*DeliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		resp = append(resp, newDeliveryResponse(d))
	}
	return c.JSON(http.StatusOK, resp)
}

func parseBroadcastID(c *echo.Context) (int64, error) {
	return parseBroadcastIDParam(c, "id")
}

func parseBroadcastIDParam(c *echo.Context, param string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "broadcast id must be numeric")
	}
	return id, nil
}
