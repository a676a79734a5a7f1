package api

import (
	"time"

	"github.com/codeready-toolchain/broadcaster/pkg/models"
)

// BroadcastResponse is the admin-facing JSON view of a models.Broadcast.
type BroadcastResponse struct {
	ID            int64      `json:"id"`
	SenderID      string     `json:"senderId"`
	SenderName    string     `json:"senderName"`
	Content       string     `json:"content"`
	TargetType    string     `json:"targetType"`
	TargetIDs     []string   `json:"targetIds,omitempty"`
	Priority      string     `json:"priority"`
	Category      string     `json:"category,omitempty"`
	ScheduledAt   *time.Time `json:"scheduledAt,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	FireAndForget bool       `json:"fireAndForget"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func newBroadcastResponse(b *models.Broadcast) *BroadcastResponse {
	return &BroadcastResponse{
		ID:            b.ID,
		SenderID:      b.SenderID,
		SenderName:    b.SenderName,
		Content:       b.Content,
		TargetType:    string(b.TargetType),
		TargetIDs:     b.TargetIDs,
		Priority:      string(b.Priority),
		Category:      b.Category,
		ScheduledAt:   b.ScheduledAt,
		ExpiresAt:     b.ExpiresAt,
		FireAndForget: b.FireAndForget,
		Status:        string(b.Status),
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

// BroadcastListResponse is returned by GET /api/v1/broadcasts.
type BroadcastListResponse struct {
	Items    []*BroadcastResponse `json:"items"`
	Total    int                  `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"pageSize"`
}

// DeliveryResponse is the admin-facing JSON view of a per-user delivery row.
type DeliveryResponse struct {
	UserID         string     `json:"userId"`
	DeliveryStatus string     `json:"deliveryStatus"`
	ReadStatus     string     `json:"readStatus"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
}

func newDeliveryResponse(m *models.PerUserMessage) *DeliveryResponse {
	return &DeliveryResponse{
		UserID:         m.UserID,
		DeliveryStatus: string(m.DeliveryStatus),
		ReadStatus:     string(m.ReadStatus),
		DeliveredAt:    m.DeliveredAt,
		ReadAt:         m.ReadAt,
	}
}

// InboxItemResponse is one entry in GET /api/v1/inbox.
type InboxItemResponse struct {
	BroadcastID      int64  `json:"broadcastId"`
	DeliveryStatus   string `json:"deliveryStatus"`
	ReadStatus       string `json:"readStatus"`
	CreatedAtEpochMs int64  `json:"createdAtEpochMs"`
}

func newInboxItemResponse(i models.InboxItem) *InboxItemResponse {
	return &InboxItemResponse{
		BroadcastID:      i.BroadcastID,
		DeliveryStatus:   string(i.DeliveryStatus),
		ReadStatus:       string(i.ReadStatus),
		CreatedAtEpochMs: i.CreatedAtEpochMs,
	}
}

// DLTRecordResponse is the admin-facing JSON view of a dead-lettered event.
type DLTRecordResponse struct {
	ID               string    `json:"id"`
	OriginalTopic    string    `json:"originalTopic"`
	ExceptionMessage string    `json:"exceptionMessage,omitempty"`
	FailedAt         time.Time `json:"failedAt"`
	BroadcastID      *int64    `json:"broadcastId,omitempty"`
	UserID           *string   `json:"userId,omitempty"`
}

func newDLTRecordResponse(r *models.DLTRecord) *DLTRecordResponse {
	return &DLTRecordResponse{
		ID:               r.ID,
		OriginalTopic:    r.OriginalTopic,
		ExceptionMessage: r.ExceptionMessage,
		FailedAt:         r.FailedAt,
		BroadcastID:      r.BroadcastID,
		UserID:           r.UserID,
	}
}
