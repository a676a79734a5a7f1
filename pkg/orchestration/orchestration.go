// Package orchestration implements the Orchestration Consumer (§4.5): the
// single reader of the orchestration topic, responsible for turning one
// outbox event into per-user dispatches. It resolves each targeted user's
// presence and either hands the event straight to their owning pod's
// dispatch region (online) or appends it to their pending-events buffer
// (offline), so the pod-local Worker Consumer never has to know anything
// about audience resolution.
package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/broadcaster/pkg/cache"
	"github.com/codeready-toolchain/broadcaster/pkg/database"
	"github.com/codeready-toolchain/broadcaster/pkg/eventbus"
	"github.com/codeready-toolchain/broadcaster/pkg/models"
	"github.com/codeready-toolchain/broadcaster/pkg/presence"
)

// Consumer routes orchestration-topic events to their audience. Delivery
// past this point runs entirely over the cache dispatch regions (§4.7),
// not per-pod broker topics — a pod joining the cluster starts receiving
// dispatches on its next poll tick, with no topic provisioning or
// consumer-group rebalance in between.
type Consumer struct {
	db          *database.Client
	consumer    eventbus.Consumer
	dltProducer eventbus.Producer
	maxAttempts int
	retryDelay  time.Duration
	presence    presence.Store
	content     *cache.BroadcastContentCache
	inbox       *cache.UserInboxCache
	pending     *cache.PendingEventsCache
	dispatch    *cache.SseDispatchRegion
	log         *slog.Logger
}

// New builds an orchestration Consumer reading from the given
// eventbus.Consumer. dltProducer should be a Producer for the
// orchestration topic's dead-letter sibling (eventbus.DLTTopic) — a
// message that fails processing maxAttempts times is forwarded there
// with the failure recorded in its headers (§4.8) rather than retried
// forever.
func New(db *database.Client, consumer eventbus.Consumer, dltProducer eventbus.Producer, maxAttempts int, retryDelay time.Duration, presenceStore presence.Store, content *cache.BroadcastContentCache, inbox *cache.UserInboxCache, pending *cache.PendingEventsCache, dispatch *cache.SseDispatchRegion, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		db: db, consumer: consumer, dltProducer: dltProducer, maxAttempts: maxAttempts, retryDelay: retryDelay,
		presence: presenceStore, content: content, inbox: inbox, pending: pending, dispatch: dispatch, log: log,
	}
}

// Run blocks, consuming the orchestration topic until ctx is cancelled,
// retrying a failing message up to maxAttempts times before forwarding it
// to the dead-letter topic (§7 propagation policy, §4.8).
func (c *Consumer) Run(ctx context.Context) error {
	return eventbus.ConsumeWithDLT(ctx, c.consumer, c.dltProducer, c.maxAttempts, c.retryDelay, c.handle)
}

func (c *Consumer) handle(ctx context.Context, msg *eventbus.Message) error {
	var payload models.OrchestrationPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode orchestration payload: %v", models.ErrMessageProcessing, err)
	}

	b, err := c.db.Broadcasts.Get(ctx, payload.BroadcastID)
	if err != nil {
		return fmt.Errorf("load broadcast %d: %w", payload.BroadcastID, err)
	}

	switch payload.EventType {
	case models.EventCancelled, models.EventExpired:
		if err := c.evictTerminal(ctx, b, payload.TargetType); err != nil {
			c.log.Warn("failed to evict caches after terminal transition", "broadcast_id", b.ID, "error", err)
		}
	default:
		if err := c.content.Set(ctx, b); err != nil {
			c.log.Warn("failed to warm broadcast content cache", "broadcast_id", b.ID, "error", err)
		}
	}

	event := models.SSEEvent{
		Type:        sseTypeFor(payload.EventType),
		ID:          fmt.Sprintf("%d", b.ID),
		BroadcastID: b.ID,
		Content:     b.Content,
		Priority:    b.Priority,
		Category:    b.Category,
		CreatedAt:   &b.CreatedAt,
	}

	if payload.EventType == models.EventRead {
		return c.routeToUser(ctx, payload.UserID, event)
	}

	switch payload.TargetType {
	case models.TargetAll:
		return c.dispatchGroup(ctx, event)
	case models.TargetRole, models.TargetSelected:
		return c.dispatchToDeliveries(ctx, b.ID, event)
	case models.TargetProduct:
		return c.dispatchToTargets(ctx, b.ID, event)
	default:
		return fmt.Errorf("%w: unknown target type %q", models.ErrMessageProcessing, payload.TargetType)
	}
}

// evictTerminal implements §4.5's CANCEL/EXPIRE cache-eviction step: the
// frozen broadcast content is evicted so the next reader re-fetches the
// (still-readable, just-no-longer-active) row from the database, and every
// affected user's cached inbox is evicted so it stops showing a message
// that no longer exists. ALL broadcasts have no enumerable per-user
// audience — their inbox-cache entries are left to expire on the
// UserInboxCache TTL instead, the same online-users-only tradeoff already
// accepted for ALL dispatch routing (§4.9).
func (c *Consumer) evictTerminal(ctx context.Context, b *models.Broadcast, targetType models.TargetType) error {
	if err := c.content.Evict(ctx, b.ID); err != nil {
		return fmt.Errorf("evict broadcast content cache: %w", err)
	}

	var userIDs []string
	switch targetType {
	case models.TargetRole, models.TargetSelected:
		deliveries, err := c.db.Messages.ListDeliveries(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("list deliveries for broadcast %d: %w", b.ID, err)
		}
		for _, d := range deliveries {
			userIDs = append(userIDs, d.UserID)
		}
	case models.TargetProduct:
		ids, err := c.db.Targets.ListUserIDs(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("list precomputed targets for broadcast %d: %w", b.ID, err)
		}
		userIDs = ids
	}

	for _, userID := range userIDs {
		if err := c.inbox.Evict(ctx, userID); err != nil {
			c.log.Warn("failed to evict inbox cache", "user_id", userID, "broadcast_id", b.ID, "error", err)
		}
	}
	return nil
}

// dispatchGroup handles ALL broadcasts: every pod's continuous query picks
// up a single group entry, so no per-user enumeration is needed — audience
// for ALL is resolved lazily on read instead (§4.9, the already-settled
// "online-users-only at CANCEL/EXPIRE time" behavior for group events).
func (c *Consumer) dispatchGroup(ctx context.Context, event models.SSEEvent) error {
	if err := c.dispatch.PublishToGroup(ctx, models.DispatchPayload{Event: event}); err != nil {
		return fmt.Errorf("publish group dispatch: %w", err)
	}
	return nil
}

// dispatchToDeliveries enumerates the per-user rows ROLE/SELECTED
// admission (or activation) already wrote and routes each one by presence.
func (c *Consumer) dispatchToDeliveries(ctx context.Context, broadcastID int64, event models.SSEEvent) error {
	deliveries, err := c.db.Messages.ListDeliveries(ctx, broadcastID)
	if err != nil {
		return fmt.Errorf("list deliveries for broadcast %d: %w", broadcastID, err)
	}
	for _, d := range deliveries {
		if err := c.routeToUser(ctx, d.UserID, event); err != nil {
			return err
		}
	}
	return nil
}

// dispatchToTargets enumerates a PRODUCT broadcast's precomputed audience.
func (c *Consumer) dispatchToTargets(ctx context.Context, broadcastID int64, event models.SSEEvent) error {
	userIDs, err := c.db.Targets.ListUserIDs(ctx, broadcastID)
	if err != nil {
		return fmt.Errorf("list precomputed targets for broadcast %d: %w", broadcastID, err)
	}
	for _, userID := range userIDs {
		if err := c.routeToUser(ctx, userID, event); err != nil {
			return err
		}
	}
	return nil
}

// routeToUser dispatches to the owning pod of each of a user's live
// connections, or buffers the event for delivery on reconnect if the user
// has none (§4.7). A user connected from more than one pod gets the event
// routed to each — the client-side SSE id dedupes across them.
func (c *Consumer) routeToUser(ctx context.Context, userID string, event models.SSEEvent) error {
	conns, err := c.presence.Connections(ctx, userID)
	if err != nil {
		return fmt.Errorf("look up presence for user %s: %w", userID, err)
	}
	if len(conns) == 0 {
		if err := c.pending.Append(ctx, userID, event); err != nil {
			return fmt.Errorf("buffer pending event for user %s: %w", userID, err)
		}
		return nil
	}

	routed := make(map[string]struct{}, len(conns))
	for _, conn := range conns {
		key := presence.WorkerTopicKey(conn.ClusterName, conn.PodName)
		if _, done := routed[key]; done {
			continue
		}
		routed[key] = struct{}{}
		if err := c.dispatch.PublishToPod(ctx, key, userID, models.DispatchPayload{Event: event}); err != nil {
			return fmt.Errorf("publish pod dispatch for user %s: %w", userID, err)
		}
	}
	return nil
}

func sseTypeFor(eventType models.EventType) models.SSEEventType {
	switch eventType {
	case models.EventCancelled, models.EventExpired:
		return models.SSEMessageRemoved
	case models.EventRead:
		return models.SSEReadReceipt
	default:
		return models.SSEMessage
	}
}
