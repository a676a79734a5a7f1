package models

import "time"

// DeliveryStatus tracks a per-user message's path to the client (§3 invariant 2).
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "PENDING"
	DeliveryDelivered  DeliveryStatus = "DELIVERED"
	DeliveryFailed     DeliveryStatus = "FAILED"
	DeliverySuperseded DeliveryStatus = "SUPERSEDED"
)

// ReadStatus tracks whether the user has opened the message.
type ReadStatus string

const (
	ReadUnread ReadStatus = "UNREAD"
	ReadRead   ReadStatus = "READ"
)

// PerUserMessage is the (broadcast_id, user_id)-unique delivery record
// created by on-write fan-out, or lazily on first delivery for ALL.
type PerUserMessage struct {
	ID             int64
	BroadcastID    int64
	UserID         string
	DeliveryStatus DeliveryStatus
	ReadStatus     ReadStatus
	DeliveredAt    *time.Time
	ReadAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PrecomputedTarget is one (broadcast_id, user_id) row produced by the
// Targeting Service while resolving a PRODUCT cohort.
type PrecomputedTarget struct {
	BroadcastID int64
	UserID      string
	CreatedAt   time.Time
}

// Statistics is the single row per broadcast holding monotonic counters
// (§3 invariant: total_targeted >= total_delivered >= total_read).
type Statistics struct {
	BroadcastID    int64
	TotalTargeted  int64
	TotalDelivered int64
	TotalRead      int64
	TotalFailed    int64
	CalculatedAt   time.Time
}

// InboxItem is one entry in a user's assembled, cached inbox (§3 UserInbox,
// §4.9). CreatedAtEpochMs backs the descending sort without re-parsing a
// timestamp on every comparison.
type InboxItem struct {
	ID               int64
	BroadcastID      int64
	DeliveryStatus   DeliveryStatus
	ReadStatus       ReadStatus
	CreatedAtEpochMs int64
}
