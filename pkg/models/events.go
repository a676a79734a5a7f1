package models

import "time"

// SSEEventType enumerates the event names the SSE stream emits (§6).
type SSEEventType string

const (
	SSEConnected              SSEEventType = "CONNECTED"
	SSEHeartbeat              SSEEventType = "HEARTBEAT"
	SSEMessage                SSEEventType = "MESSAGE"
	SSEMessageRemoved         SSEEventType = "MESSAGE_REMOVED"
	SSEReadReceipt            SSEEventType = "READ_RECEIPT"
	SSEConnectionLimitReached SSEEventType = "CONNECTION_LIMIT_REACHED"
	SSEServerShutdown         SSEEventType = "SERVER_SHUTDOWN"
)

// SSEEvent is one event pushed down an SSE stream. ID is
// "{broadcastId}[:{userMessageId}]", used by clients for dedupe (§6).
type SSEEvent struct {
	Type           SSEEventType   `json:"type"`
	ID             string         `json:"id,omitempty"`
	BroadcastID    int64          `json:"broadcastId"`
	UserMessageID  *int64         `json:"userMessageId,omitempty"`
	Content        string         `json:"content,omitempty"`
	Priority       Priority       `json:"priority,omitempty"`
	Category       string         `json:"category,omitempty"`
	CreatedAt      *time.Time     `json:"createdAt,omitempty"`
	DeliveryStatus DeliveryStatus `json:"deliveryStatus,omitempty"`
	ReadStatus     ReadStatus     `json:"readStatus,omitempty"`
}

// DispatchPayload is the value written to an SseDispatch region (§3). A
// per-user payload carries TargetClusterPod so only the owning pod's
// continuous query consumes it, and TargetUserID so that pod's Worker
// Consumer knows which of its local connections to push to; a group
// payload leaves both empty so every pod's query matches it and every
// local connection receives it.
type DispatchPayload struct {
	TargetClusterPod string   `json:"targetClusterPod,omitempty"`
	TargetUserID     string   `json:"targetUserId,omitempty"`
	Event            SSEEvent `json:"event"`
}

// OrchestrationPayload is the JSON body of every message on the
// orchestration topic (§4.5) — the wire contract between
// pkg/lifecycle/pkg/targeting/pkg/scheduler (writers, via the outbox) and
// pkg/orchestration (the one reader).
type OrchestrationPayload struct {
	BroadcastID int64      `json:"broadcastId"`
	EventType   EventType  `json:"eventType"`
	TargetType  TargetType `json:"targetType"`

	// UserID is set only for EventRead: a read receipt fans out to that
	// one user's other connections, never to the broadcast's full
	// audience, so the orchestration consumer routes on it directly
	// instead of on TargetType.
	UserID string `json:"userId,omitempty"`
}
