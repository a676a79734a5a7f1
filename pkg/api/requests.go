package api

import "time"

// CreateBroadcastRequest is the HTTP request body for POST /api/v1/broadcasts.
type CreateBroadcastRequest struct {
	SenderName    string     `json:"senderName"`
	Content       string     `json:"content"`
	TargetType    string     `json:"targetType"`
	TargetIDs     []string   `json:"targetIds,omitempty"`
	Priority      string     `json:"priority,omitempty"`
	Category      string     `json:"category,omitempty"`
	ScheduledAt   *time.Time `json:"scheduledAt,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	FireAndForget bool       `json:"fireAndForget,omitempty"`
}
