// Package inbox implements Pending-Events & Inbox Assembly (§4.9): the
// server-side view a user's client renders on connect, merging whatever
// arrived while they were offline with the durable per-user rows and any
// still-active ALL broadcast they haven't been lazily delivered yet.
package inbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/broadcaster/pkg/cache"
	"github.com/codeready-toolchain/broadcaster/pkg/database"
	"github.com/codeready-toolchain/broadcaster/pkg/models"
)

// Service assembles and caches a user's inbox, and records read receipts.
type Service struct {
	db                 *database.Client
	content            *cache.BroadcastContentCache
	userInbox          *cache.UserInboxCache
	pending            *cache.PendingEventsCache
	orchestrationTopic string
	log                *slog.Logger
}

// New builds an inbox Service. Read receipts are written through
// db.Outbox like every other write path — the orchestration consumer is
// the only thing that ever reads the orchestration topic.
func New(db *database.Client, content *cache.BroadcastContentCache, userInbox *cache.UserInboxCache, pending *cache.PendingEventsCache, orchestrationTopic string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		db: db, content: content, userInbox: userInbox, pending: pending,
		orchestrationTopic: orchestrationTopic, log: log,
	}
}

// Assemble builds a user's inbox on connect (§4.9 steps 1-3): drain
// pending events, merge with durable per-user rows and still-active ALL
// broadcasts the user has no row for yet, sort descending by broadcast
// created-at, and cache the result. Steps 4 (lazy ALL delivery, PENDING→
// DELIVERED flip) are kicked off asynchronously and don't block the
// caller — a user reconnecting mid-broadcast-storm shouldn't wait on a
// batch of single-row inserts before seeing their stream.
func (s *Service) Assemble(ctx context.Context, userID string) ([]models.InboxItem, error) {
	items, err := s.assembleSync(ctx, userID)
	if err != nil {
		return nil, err
	}

	go s.deliverPendingAllBroadcasts(context.Background(), userID, items)

	return items, nil
}

func (s *Service) assembleSync(ctx context.Context, userID string) ([]models.InboxItem, error) {
	pendingEvents, err := s.pending.Drain(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("drain pending events for %s: %w", userID, err)
	}

	byBroadcast, err := s.cachedOrRebuild(ctx, userID)
	if err != nil {
		return nil, err
	}

	for _, ev := range pendingEvents {
		byBroadcast[ev.BroadcastID] = models.InboxItem{
			BroadcastID:      ev.BroadcastID,
			DeliveryStatus:   models.DeliveryDelivered,
			ReadStatus:       models.ReadUnread,
			CreatedAtEpochMs: epochMsPtr(ev.CreatedAt),
		}
	}

	items := make([]models.InboxItem, 0, len(byBroadcast))
	for _, item := range byBroadcast {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAtEpochMs > items[j].CreatedAtEpochMs })

	if err := s.userInbox.Set(ctx, userID, items); err != nil {
		s.log.Warn("failed to cache assembled inbox", "user_id", userID, "error", err)
	}
	return items, nil
}

// cachedOrRebuild returns the user's last assembled inbox from the
// UserInboxCache, keyed by broadcast id so the caller can merge freshly
// drained pending events on top of it. A cache miss (first connect since
// eviction, or TTL expiry) falls back to rebuilding from the durable
// per-user rows plus any still-active ALL broadcast the user has no row
// for yet (§4.9 steps 2-3).
func (s *Service) cachedOrRebuild(ctx context.Context, userID string) (map[int64]models.InboxItem, error) {
	if cached, err := s.userInbox.Get(ctx, userID); err == nil {
		byBroadcast := make(map[int64]models.InboxItem, len(cached))
		for _, item := range cached {
			byBroadcast[item.BroadcastID] = item
		}
		return byBroadcast, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		s.log.Warn("failed to read cached inbox, rebuilding from database", "user_id", userID, "error", err)
	}

	byBroadcast := make(map[int64]models.InboxItem)

	rows, err := s.db.Messages.ListForInbox(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list inbox rows for %s: %w", userID, err)
	}
	for _, row := range rows {
		b, err := s.loadContent(ctx, row.BroadcastID)
		if err != nil {
			s.log.Warn("dropping inbox row for unreadable broadcast", "broadcast_id", row.BroadcastID, "error", err)
			continue
		}
		byBroadcast[row.BroadcastID] = models.InboxItem{
			ID:               row.ID,
			BroadcastID:      row.BroadcastID,
			DeliveryStatus:   row.DeliveryStatus,
			ReadStatus:       row.ReadStatus,
			CreatedAtEpochMs: epochMs(b.CreatedAt),
		}
	}

	active, err := s.db.Broadcasts.ListActiveByTargetType(ctx, models.TargetAll)
	if err != nil {
		return nil, fmt.Errorf("list active ALL broadcasts: %w", err)
	}
	for _, b := range active {
		if _, ok := byBroadcast[b.ID]; ok {
			continue
		}
		byBroadcast[b.ID] = models.InboxItem{
			BroadcastID:      b.ID,
			DeliveryStatus:   models.DeliveryPending,
			ReadStatus:       models.ReadUnread,
			CreatedAtEpochMs: epochMs(b.CreatedAt),
		}
	}

	return byBroadcast, nil
}

// deliverPendingAllBroadcasts implements §4.9 step 4: for each ALL
// broadcast surfaced above with no per-user row yet, insert a
// (DELIVERED, UNREAD) row and bump total_delivered; for rows that were
// PENDING (on-write fan-out that hasn't been flipped by a worker push
// yet), flip to DELIVERED instead. Each broadcast gets its own
// transaction so one failure doesn't roll back the rest of the inbox.
func (s *Service) deliverPendingAllBroadcasts(ctx context.Context, userID string, items []models.InboxItem) {
	now := time.Now()
	for _, item := range items {
		if item.DeliveryStatus == models.DeliveryDelivered || item.DeliveryStatus == models.DeliverySuperseded {
			continue
		}
		if item.ID == 0 {
			// No per-user row exists yet — this is the lazy-ALL case.
			if err := s.lazyDeliverAll(ctx, item.BroadcastID, userID, now); err != nil {
				s.log.Warn("lazy ALL delivery failed", "broadcast_id", item.BroadcastID, "user_id", userID, "error", err)
			}
			continue
		}
		flipped, err := s.db.Messages.MarkDelivered(ctx, item.BroadcastID, userID, now)
		if err != nil {
			s.log.Warn("mark delivered failed", "broadcast_id", item.BroadcastID, "user_id", userID, "error", err)
			continue
		}
		if flipped {
			if err := s.db.Statistics.IncrementDelivered(ctx, s.db.DB(), item.BroadcastID, 1); err != nil {
				s.log.Warn("increment delivered failed", "broadcast_id", item.BroadcastID, "error", err)
			}
		}
	}
}

func (s *Service) lazyDeliverAll(ctx context.Context, broadcastID int64, userID string, at time.Time) error {
	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lazy-deliver transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted, err := s.db.Messages.InsertDelivered(ctx, tx, broadcastID, userID, at)
	if err != nil {
		return err
	}
	if !inserted {
		// Another pod's inbox assembly for the same user beat us to it.
		return tx.Commit()
	}
	if err := s.db.Statistics.IncrementDelivered(ctx, tx, broadcastID, 1); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkRead implements the mark-as-read flow (§4.9 last paragraph): a
// guarded read-modify-write on the per-user row (inserting one if none
// exists yet, covering the ALL-broadcast-never-delivered edge case),
// incrementing total_read, evicting the user's inbox cache, and writing
// a READ event to the outbox so the orchestration consumer fans the read
// receipt out to the user's other connections.
func (s *Service) MarkRead(ctx context.Context, broadcastID int64, userID string) error {
	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark-read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	flipped, err := s.db.Messages.MarkRead(ctx, tx, broadcastID, userID, now)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if flipped {
		if err := s.db.Statistics.IncrementRead(ctx, tx, broadcastID, 1); err != nil {
			return err
		}
		if err := s.writeReadReceiptOutboxEvent(ctx, tx, broadcastID, userID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark-read transaction: %w", err)
	}

	if err := s.userInbox.Evict(ctx, userID); err != nil {
		s.log.Warn("failed to evict inbox cache after read", "user_id", userID, "error", err)
	}
	return nil
}

func (s *Service) writeReadReceiptOutboxEvent(ctx context.Context, tx *sql.Tx, broadcastID int64, userID string) error {
	payload, err := json.Marshal(models.OrchestrationPayload{BroadcastID: broadcastID, EventType: models.EventRead, UserID: userID})
	if err != nil {
		return fmt.Errorf("marshal read receipt payload: %w", err)
	}
	ev := &models.OutboxEvent{
		ID:            uuid.New().String(),
		AggregateType: "broadcast",
		AggregateID:   fmt.Sprintf("%d:%s", broadcastID, userID),
		EventType:     models.EventRead,
		Topic:         s.orchestrationTopic,
		Payload:       payload,
	}
	return s.db.Outbox.Insert(ctx, tx, ev)
}

func (s *Service) loadContent(ctx context.Context, broadcastID int64) (*models.Broadcast, error) {
	b, err := s.content.Get(ctx, broadcastID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	b, err = s.db.Broadcasts.Get(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if err := s.content.Set(ctx, b); err != nil {
		s.log.Warn("failed to warm broadcast content cache", "broadcast_id", b.ID, "error", err)
	}
	return b, nil
}

func epochMs(t time.Time) int64 {
	return t.UnixMilli()
}

func epochMsPtr(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}
