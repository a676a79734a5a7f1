// Package health aggregates component health into the single report the
// admin HTTP surface's GET /health endpoint serves, following the
// teacher's status/degraded/unhealthy convention rather than a plain
// boolean (pkg/api/handler_health.go).
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/broadcaster/pkg/database"
	"github.com/codeready-toolchain/broadcaster/pkg/eventbus"
	"github.com/codeready-toolchain/broadcaster/pkg/presence"
	"github.com/codeready-toolchain/broadcaster/pkg/sse"
	"github.com/codeready-toolchain/broadcaster/pkg/version"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Check is the status of a single component.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Report is the full GET /health body.
type Report struct {
	Status  string           `json:"status"`
	Version string           `json:"version"`
	Checks  map[string]Check `json:"checks"`
}

// Checker aggregates every dependency this pod's health depends on.
// Every dependency, the SSE Connection Manager included, is optional: a
// nil one is left out of the report, so a Checker can be assembled for
// components that haven't started yet (e.g. during graceful startup).
type Checker struct {
	db            *database.Client
	broker        eventbus.Broker
	presenceStore presence.Store
	sseManager    *sse.Manager
	timeout       time.Duration
}

func New(db *database.Client, broker eventbus.Broker, presenceStore presence.Store, sseManager *sse.Manager, timeout time.Duration) *Checker {
	return &Checker{db: db, broker: broker, presenceStore: presenceStore, sseManager: sseManager, timeout: timeout}
}

// Check runs every configured probe with a shared deadline and combines
// them: any unreachable database or event bus makes the whole report
// unhealthy (nothing can be admitted or delivered without them); presence
// store or SSE manager trouble degrades the report instead, since a pod
// can still serve already-connected users and admit new broadcasts while
// presence is flaky.
func (c *Checker) Check(ctx context.Context) *Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	checks := make(map[string]Check)
	status := StatusHealthy

	if c.db != nil {
		dbStatus, err := database.Health(ctx, c.db.DB())
		if err != nil {
			status = StatusUnhealthy
			checks["database"] = Check{Status: StatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = Check{Status: dbStatus.Status}
		}
	}

	if c.broker != nil {
		if c.broker.Healthy(ctx) {
			checks["event_bus"] = Check{Status: StatusHealthy}
		} else {
			status = StatusUnhealthy
			checks["event_bus"] = Check{Status: StatusUnhealthy, Message: "broker unreachable"}
		}
	}

	if c.presenceStore != nil {
		if _, err := c.presenceStore.StalePods(ctx, time.Hour); err != nil {
			if status == StatusHealthy {
				status = StatusDegraded
			}
			checks["presence"] = Check{Status: StatusDegraded, Message: err.Error()}
		} else {
			checks["presence"] = Check{Status: StatusHealthy}
		}
	}

	if c.sseManager != nil {
		checks["sse"] = Check{Status: StatusHealthy, Message: fmt.Sprintf("active connections: %d", c.sseManager.ActiveConnections())}
	}

	return &Report{Status: status, Version: version.Full(), Checks: checks}
}
