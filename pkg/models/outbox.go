package models

import "time"

// OutboxEvent is written in the same transaction as the domain change it
// reflects; the Outbox Publisher replays it to the event bus and marks it
// published only after the bus acknowledges (§4.4).
type OutboxEvent struct {
	ID            string // UUID
	AggregateType string
	AggregateID   string // bus partition key: broadcast id or user id
	EventType     EventType
	Topic         string
	Payload       []byte
	CreatedAt     time.Time
	Published     bool
}

// EventType enumerates the orchestration-topic event kinds from §4.5.
type EventType string

const (
	EventCreated   EventType = "CREATED"
	EventCancelled EventType = "CANCELLED"
	EventExpired   EventType = "EXPIRED"
	EventRead      EventType = "READ"
)

// DLTRecord captures a failed event with enough original context to
// support redrive or purge (§4.8). A record is never hard-deleted: Resolve
// tombstones it in place (Resolution/ResolvedAt set), so the audit trail
// survives past the operator queue it disappears from.
type DLTRecord struct {
	ID                string
	OriginalKey       string
	OriginalTopic     string
	OriginalPartition int32
	OriginalOffset    int64
	ExceptionMessage  string
	ExceptionStack    string
	FailedAt          time.Time
	OriginalPayload   []byte
	BroadcastID       *int64
	UserID            *string
	Resolution        string
	ResolvedAt        *time.Time
}

// DLT resolution kinds written by the redrive/purge operations.
const (
	DLTResolutionRedriven = "redriven"
	DLTResolutionPurged   = "purged"
)
