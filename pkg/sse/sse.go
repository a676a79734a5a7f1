// Package sse implements the per-pod SSE Connection Manager (§4.6):
// tracking this pod's live event streams, registering/refreshing them in
// the distributed presence.Store, and fanning out locally-addressed
// events pulled off the cache dispatch region by pkg/worker. Adapted from
// the teacher's events.ConnectionManager (WebSocket) shape — per-
// connection send channel, a single owning goroutine driving the
// client's read/write loop, a map guarded by one mutex — generalized to a
// one-way Server-Sent Events stream instead of a bidirectional socket.
package sse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/broadcaster/pkg/models"
	"github.com/codeready-toolchain/broadcaster/pkg/presence"
)

// ErrConnectionLimitReached is returned by Connect when userID already
// holds config.SSEConfig.MaxConnectionsPerUser live connections (§4.6).
var ErrConnectionLimitReached = fmt.Errorf("connection limit reached")

// Connection is a single live SSE stream owned by this pod.
type Connection struct {
	ID     string
	UserID string
	events chan models.SSEEvent
	ctx    context.Context
	cancel context.CancelFunc
}

// Events returns the channel the HTTP handler's write loop should range
// over until it closes (on Close or manager Shutdown).
func (c *Connection) Events() <-chan models.SSEEvent {
	return c.events
}

// Manager tracks this pod's open SSE streams and mirrors them into the
// cluster-wide presence.Store (§3 Presence, §4.6).
type Manager struct {
	podName     string
	clusterName string
	presence    presence.Store

	heartbeatInterval     time.Duration
	maxConnectionsPerUser int
	sendBufferSize        int

	mu    sync.RWMutex
	byID  map[string]*Connection
	byUsr map[string]map[string]*Connection

	log *slog.Logger
}

// New builds a Manager for this pod.
func New(podName, clusterName string, presenceStore presence.Store, heartbeatInterval time.Duration, maxConnectionsPerUser, sendBufferSize int, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		podName: podName, clusterName: clusterName, presence: presenceStore,
		heartbeatInterval: heartbeatInterval, maxConnectionsPerUser: maxConnectionsPerUser,
		sendBufferSize: sendBufferSize,
		byID:           make(map[string]*Connection),
		byUsr:          make(map[string]map[string]*Connection),
		log:            log,
	}
}

// Connect registers a new stream for userID, enforcing the per-user
// connection cap against the cluster-wide presence store (not just this
// pod's local count — a user connected to two pods still counts once per
// connection against the shared limit). The caller's HTTP handler must
// call Disconnect when the stream ends, by defer, even on error paths.
func (m *Manager) Connect(ctx context.Context, userID string) (*Connection, error) {
	count, err := m.presence.ConnectionCount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check connection count: %w", err)
	}
	if count >= m.maxConnectionsPerUser {
		return nil, ErrConnectionLimitReached
	}

	connCtx, cancel := context.WithCancel(ctx)
	conn := &Connection{
		ID:     uuid.New().String(),
		UserID: userID,
		events: make(chan models.SSEEvent, m.sendBufferSize),
		ctx:    connCtx,
		cancel: cancel,
	}

	if err := m.presence.Register(ctx, userID, presence.Connection{
		ConnectionID: conn.ID, PodName: m.podName, ClusterName: m.clusterName, LastHeartbeat: time.Now(),
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("register presence: %w", err)
	}

	m.mu.Lock()
	m.byID[conn.ID] = conn
	if m.byUsr[userID] == nil {
		m.byUsr[userID] = make(map[string]*Connection)
	}
	m.byUsr[userID][conn.ID] = conn
	m.mu.Unlock()

	go m.heartbeatLoop(conn)

	conn.events <- models.SSEEvent{Type: models.SSEConnected, ID: conn.ID}
	return conn, nil
}

// Disconnect removes a connection from both the local map and the
// distributed presence store. Safe to call more than once.
func (m *Manager) Disconnect(ctx context.Context, conn *Connection) {
	conn.cancel()

	m.mu.Lock()
	delete(m.byID, conn.ID)
	if subs := m.byUsr[conn.UserID]; subs != nil {
		delete(subs, conn.ID)
		if len(subs) == 0 {
			delete(m.byUsr, conn.UserID)
		}
	}
	m.mu.Unlock()

	if err := m.presence.Unregister(ctx, conn.UserID, conn.ID); err != nil {
		m.log.Warn("failed to unregister presence entry", "connection_id", conn.ID, "error", err)
	}
}

func (m *Manager) heartbeatLoop(conn *Connection) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.ctx.Done():
			return
		case <-ticker.C:
			if err := m.presence.Heartbeat(context.Background(), conn.UserID, []string{conn.ID}, time.Now()); err != nil {
				m.log.Warn("presence heartbeat failed", "connection_id", conn.ID, "error", err)
			}
			select {
			case conn.events <- models.SSEEvent{Type: models.SSEHeartbeat}:
			default:
				m.log.Warn("dropping heartbeat, send buffer full", "connection_id", conn.ID)
			}
		}
	}
}

// PushToUser delivers event to every local connection this pod owns for
// userID — the per-user dispatch-region path (§4.7). Returns the number of
// local connections it reached, so the Worker Consumer can decide whether
// it actually owned this user (vs. a stale presence entry).
func (m *Manager) PushToUser(userID string, event models.SSEEvent) int {
	m.mu.RLock()
	conns := m.byUsr[userID]
	targets := make([]*Connection, 0, len(conns))
	for _, c := range conns {
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	for _, c := range targets {
		m.send(c, event)
	}
	return len(targets)
}

// PushToAll delivers event to every connection this pod currently holds —
// the ALL-broadcast group dispatch path (§4.7).
func (m *Manager) PushToAll(event models.SSEEvent) {
	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.byID))
	for _, c := range m.byID {
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	for _, c := range targets {
		m.send(c, event)
	}
}

func (m *Manager) send(conn *Connection, event models.SSEEvent) {
	select {
	case conn.events <- event:
	case <-conn.ctx.Done():
	default:
		m.log.Warn("dropping event, send buffer full", "connection_id", conn.ID)
	}
}

// ActiveConnections reports how many streams this pod currently holds open.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Shutdown pushes a server-shutdown notice to every local connection so
// clients can reconnect to another pod, then closes each stream (§4.6
// graceful shutdown). It does not wait for clients to read the notice —
// callers should pair it with the HTTP server's own drain timeout.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.byID))
	for _, c := range m.byID {
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.events <- models.SSEEvent{Type: models.SSEServerShutdown}:
		default:
		}
		c.cancel()
	}
}
