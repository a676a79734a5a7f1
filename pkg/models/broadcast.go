// Package models holds the domain types shared by every broadcaster
// package: the persisted entities from §3 and the small enums that drive
// the lifecycle state machine.
package models

import "time"

// TargetType selects how a broadcast's audience is resolved.
type TargetType string

const (
	TargetAll      TargetType = "ALL"
	TargetRole     TargetType = "ROLE"
	TargetSelected TargetType = "SELECTED"
	TargetProduct  TargetType = "PRODUCT"
)

// Priority orders a broadcast for client-side display.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// BroadcastStatus is the lifecycle state machine from §4.1.
type BroadcastStatus string

const (
	StatusScheduled BroadcastStatus = "SCHEDULED"
	StatusPreparing BroadcastStatus = "PREPARING"
	StatusReady     BroadcastStatus = "READY"
	StatusActive    BroadcastStatus = "ACTIVE"
	StatusCancelled BroadcastStatus = "CANCELLED"
	StatusExpired   BroadcastStatus = "EXPIRED"
	StatusFailed    BroadcastStatus = "FAILED"
)

// IsTerminal reports whether a status is one of the three terminal states.
func (s BroadcastStatus) IsTerminal() bool {
	switch s {
	case StatusCancelled, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// NonTerminalStatuses lists every status a broadcast can be CAS'd out of
// into a terminal one (cancel, expire, or the DLT consumer's fail-out),
// shared by pkg/lifecycle and pkg/dlt so the two write paths agree on
// exactly which states are still "in flight" (§4.1 transition table).
var NonTerminalStatuses = []BroadcastStatus{
	StatusScheduled, StatusPreparing, StatusReady, StatusActive,
}

// Broadcast is an administrator-authored message and its lifecycle state.
type Broadcast struct {
	ID              int64
	SenderID        string
	SenderName      string
	Content         string
	TargetType      TargetType
	TargetIDs       []string
	Priority        Priority
	Category        string
	ScheduledAt     *time.Time
	ExpiresAt       *time.Time
	FireAndForget   bool
	Status          BroadcastStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
