// Package api provides the admin and end-user HTTP surface: broadcast
// admission/cancellation, per-broadcast delivery inspection, the SSE
// stream endpoint, inbox read/mark-read, DLT redrive/purge, and the
// aggregated health endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/codeready-toolchain/broadcaster/pkg/database"
	"github.com/codeready-toolchain/broadcaster/pkg/dlt"
	"github.com/codeready-toolchain/broadcaster/pkg/health"
	"github.com/codeready-toolchain/broadcaster/pkg/inbox"
	"github.com/codeready-toolchain/broadcaster/pkg/lifecycle"
	"github.com/codeready-toolchain/broadcaster/pkg/sse"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	dbClient         *database.Client
	lifecycleService *lifecycle.Service
	sseManager       *sse.Manager

	dltService    *dlt.Service    // nil until set
	inboxService  *inbox.Service  // nil until set
	healthChecker *health.Checker // nil until set
}

// NewServer creates a new API server with Echo v5, wiring the services
// every deployment needs up front — read access for admin GETs, the
// admission/cancel write path, and the SSE stream; the rest are optional
// and wired post-construction via Set* so cmd/broadcaster can finish
// building them in whatever order its own dependency graph requires.
func NewServer(dbClient *database.Client, lifecycleService *lifecycle.Service, sseManager *sse.Manager) *Server {
	e := echo.New()
	e.Use(middleware.BodyLimit(2 * 1024 * 1024))
	e.Use(securityHeaders())

	s := &Server{
		echo:             e,
		dbClient:         dbClient,
		lifecycleService: lifecycleService,
		sseManager:       sseManager,
	}

	s.setupRoutes()
	return s
}

// SetDLTService wires the DLT admin endpoints.
func (s *Server) SetDLTService(svc *dlt.Service) {
	s.dltService = svc
}

// SetInboxService wires the end-user inbox endpoints.
func (s *Server) SetInboxService(svc *inbox.Service) {
	s.inboxService = svc
}

// SetHealthChecker wires GET /health.
func (s *Server) SetHealthChecker(c *health.Checker) {
	s.healthChecker = c
}

// ValidateWiring checks that every Set*-wired dependency has been
// supplied. Call after all Set* calls and before Start/StartWithListener
// so a wiring gap surfaces at startup rather than as a 503 at request time.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.dltService == nil {
		errs = append(errs, fmt.Errorf("dltService not set (call SetDLTService)"))
	}
	if s.inboxService == nil {
		errs = append(errs, fmt.Errorf("inboxService not set (call SetInboxService)"))
	}
	if s.healthChecker == nil {
		errs = append(errs, fmt.Errorf("healthChecker not set (call SetHealthChecker)"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

// setupRoutes registers every API route.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")

	// Admin broadcast administration.
	v1.POST("/broadcasts", s.createBroadcastHandler)
	v1.GET("/broadcasts", s.listBroadcastsHandler)
	v1.GET("/broadcasts/:id", s.getBroadcastHandler)
	v1.POST("/broadcasts/:id/cancel", s.cancelBroadcastHandler)
	v1.GET("/broadcasts/:id/deliveries", s.listDeliveriesHandler)

	// DLT admin endpoints.
	v1.GET("/dlt", s.listDLTHandler)
	v1.POST("/dlt/:id/redrive", s.redriveDLTHandler)
	v1.POST("/dlt/redrive", s.redriveAllDLTHandler)
	v1.DELETE("/dlt/:id", s.purgeDLTHandler)
	v1.DELETE("/dlt", s.purgeAllDLTHandler)

	// End-user inbox and live stream.
	v1.GET("/inbox", s.getInboxHandler)
	v1.POST("/inbox/:broadcastId/read", s.markReadHandler)
	v1.GET("/sse", s.sseHandler)
}

// Start starts the HTTP server on the given address (non-blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
