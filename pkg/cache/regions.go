package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/broadcaster/pkg/models"
)

// BroadcastContentCache maps broadcast id to its frozen body (§3
// BroadcastContent), read-through from the database by callers.
type BroadcastContentCache struct {
	backend Cache
	ttl     time.Duration
}

func NewBroadcastContentCache(backend Cache, ttl time.Duration) *BroadcastContentCache {
	return &BroadcastContentCache{backend: backend, ttl: ttl}
}

func broadcastContentKey(id int64) string {
	return fmt.Sprintf("content:%d", id)
}

func (c *BroadcastContentCache) Get(ctx context.Context, broadcastID int64) (*models.Broadcast, error) {
	var b models.Broadcast
	if err := c.backend.Get(ctx, broadcastContentKey(broadcastID), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *BroadcastContentCache) Set(ctx context.Context, b *models.Broadcast) error {
	return c.backend.Set(ctx, broadcastContentKey(b.ID), b, c.ttl)
}

func (c *BroadcastContentCache) Evict(ctx context.Context, broadcastID int64) error {
	return c.backend.Delete(ctx, broadcastContentKey(broadcastID))
}

// UserInboxCache maps user id to the ordered, assembled inbox (§3
// UserInbox, §4.9 step 3).
type UserInboxCache struct {
	backend Cache
	ttl     time.Duration
}

func NewUserInboxCache(backend Cache, ttl time.Duration) *UserInboxCache {
	return &UserInboxCache{backend: backend, ttl: ttl}
}

func userInboxKey(userID string) string {
	return "inbox:" + userID
}

func (c *UserInboxCache) Get(ctx context.Context, userID string) ([]models.InboxItem, error) {
	var items []models.InboxItem
	if err := c.backend.Get(ctx, userInboxKey(userID), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *UserInboxCache) Set(ctx context.Context, userID string, items []models.InboxItem) error {
	return c.backend.Set(ctx, userInboxKey(userID), items, c.ttl)
}

func (c *UserInboxCache) Evict(ctx context.Context, userID string) error {
	return c.backend.Delete(ctx, userInboxKey(userID))
}

// PendingEventsCache maps user id to the events that arrived while they
// were offline (§3 PendingEvents, §4.7, §4.9 step 1). Append and Drain are
// each a single read-modify-write against the backend; callers needing
// stronger ordering guarantees should serialize per user (the
// orchestration consumer already processes one partition sequentially).
type PendingEventsCache struct {
	backend Cache
	ttl     time.Duration
}

func NewPendingEventsCache(backend Cache, ttl time.Duration) *PendingEventsCache {
	return &PendingEventsCache{backend: backend, ttl: ttl}
}

func pendingEventsKey(userID string) string {
	return "pending:" + userID
}

func (c *PendingEventsCache) Append(ctx context.Context, userID string, event models.SSEEvent) error {
	events, err := c.get(ctx, userID)
	if err != nil {
		return err
	}
	events = append(events, event)
	return c.backend.Set(ctx, pendingEventsKey(userID), events, c.ttl)
}

// Drain returns and clears every pending event for userID.
func (c *PendingEventsCache) Drain(ctx context.Context, userID string) ([]models.SSEEvent, error) {
	events, err := c.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	if err := c.backend.Delete(ctx, pendingEventsKey(userID)); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *PendingEventsCache) get(ctx context.Context, userID string) ([]models.SSEEvent, error) {
	var events []models.SSEEvent
	err := c.backend.Get(ctx, pendingEventsKey(userID), &events)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return events, nil
}

// SseDispatchRegion implements the transient dispatch regions from §3/§4.7:
// a pod-targeted write keyed "{cluster}:{pod}:{random}", or a group write
// under a shared "group" prefix that every pod's continuous query matches.
// Entries expire quickly — they only need to survive one poll interval.
type SseDispatchRegion struct {
	backend Cache
	scanner Scanner
	ttl     time.Duration
}

// NewSseDispatchRegion requires a Cache that also implements Scanner
// (both shipped adapters do); it panics on construction otherwise since
// there is no way to run a continuous query without it.
func NewSseDispatchRegion(backend Cache, ttl time.Duration) *SseDispatchRegion {
	scanner, ok := backend.(Scanner)
	if !ok {
		panic("cache: backend does not implement Scanner, required for SseDispatchRegion")
	}
	return &SseDispatchRegion{backend: backend, scanner: scanner, ttl: ttl}
}

const (
	dispatchPrefix      = "ssedispatch:"
	dispatchGroupRegion = "group"
)

// PublishToPod writes a per-user payload under the owning pod's region,
// tagged with the user it's addressed to so that pod's Worker Consumer
// knows which local connections to deliver it to.
func (r *SseDispatchRegion) PublishToPod(ctx context.Context, clusterPod, userID string, payload models.DispatchPayload) error {
	payload.TargetClusterPod = clusterPod
	payload.TargetUserID = userID
	key := dispatchPrefix + clusterPod + ":" + uuid.New().String()
	return r.backend.Set(ctx, key, payload, r.ttl)
}

// PublishToGroup writes a payload every pod's continuous query will pick up.
func (r *SseDispatchRegion) PublishToGroup(ctx context.Context, payload models.DispatchPayload) error {
	payload.TargetClusterPod = ""
	key := dispatchPrefix + dispatchGroupRegion + ":" + uuid.New().String()
	return r.backend.Set(ctx, key, payload, r.ttl)
}

// PollPod returns every pending dispatch for clusterPod plus every
// outstanding group dispatch — the continuous query a pod's worker runs
// every SSEConfig.WorkerPollInterval (§4.6, §4.7). Per-pod entries are consumed by exactly one
// pod and are deleted once read; group entries must reach every pod, so
// they are left for the caller to deduplicate (by the embedded event's
// SSE id, same as the client does) and are reaped by TTL alone.
func (r *SseDispatchRegion) PollPod(ctx context.Context, clusterPod string) ([]models.DispatchPayload, error) {
	var out []models.DispatchPayload

	podKeys, err := r.scanner.ScanPrefix(ctx, dispatchPrefix+clusterPod+":")
	if err != nil {
		return nil, fmt.Errorf("scan pod dispatch region: %w", err)
	}
	for _, key := range podKeys {
		var payload models.DispatchPayload
		if err := r.backend.Get(ctx, key, &payload); err != nil {
			continue
		}
		out = append(out, payload)
		_ = r.backend.Delete(ctx, key)
	}

	groupKeys, err := r.scanner.ScanPrefix(ctx, dispatchPrefix+dispatchGroupRegion+":")
	if err != nil {
		return nil, fmt.Errorf("scan group dispatch region: %w", err)
	}
	for _, key := range groupKeys {
		var payload models.DispatchPayload
		if err := r.backend.Get(ctx, key, &payload); err != nil {
			continue
		}
		out = append(out, payload)
	}

	return out, nil
}
