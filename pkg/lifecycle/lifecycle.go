// Package lifecycle implements the Broadcast Lifecycle Service (§4.1):
// admission/classification into the initial state, and cancel/expire.
// Every write path commits the broadcast row, any on-write per-user rows,
// the statistics row, and the initial orchestration outbox row inside one
// transaction — the outbox pattern is the only route domain code has to
// the event bus (§7 propagation policy: "all write paths go through the
// outbox").
package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/broadcaster/pkg/database"
	"github.com/codeready-toolchain/broadcaster/pkg/models"
	"github.com/codeready-toolchain/broadcaster/pkg/resilience"
)

// UserService resolves a role name to the user ids currently holding it.
// Resolving PRODUCT cohorts is the Targeting Service's concern, not this
// package's — only ROLE is resolved synchronously at admission (§4.1,
// §6 "503 when the admit path trips the UserService circuit breaker").
type UserService interface {
	ResolveRole(ctx context.Context, role string) ([]string, error)
}

// Service implements broadcast admission, cancellation, and expiry.
type Service struct {
	db                 *database.Client
	userService        UserService
	breaker            *resilience.CircuitBreaker
	bulkhead           *resilience.Bulkhead
	orchestrationTopic string
	fetchDelay         time.Duration

	// PrecomputeTrigger, when set, is invoked in a new goroutine after a
	// PRODUCT broadcast commits in PREPARING so the Targeting Service can
	// pick up precompute out-of-band (§4.2). Wired by cmd/broadcaster to
	// avoid an import cycle between lifecycle and targeting.
	PrecomputeTrigger func(broadcastID int64)
}

// New builds a lifecycle Service. fetchDelay is the admission threshold
// from §4.1's classification table: a scheduled-at within fetchDelay of
// now is treated as "due now" rather than truly scheduled.
func New(db *database.Client, userService UserService, breaker *resilience.CircuitBreaker, bulkhead *resilience.Bulkhead, orchestrationTopic string, fetchDelay time.Duration) *Service {
	return &Service{
		db:                 db,
		userService:        userService,
		breaker:            breaker,
		bulkhead:           bulkhead,
		orchestrationTopic: orchestrationTopic,
		fetchDelay:         fetchDelay,
	}
}

// CreateBroadcastRequest is the admin-supplied admission payload.
type CreateBroadcastRequest struct {
	SenderID      string
	SenderName    string
	Content       string
	TargetType    models.TargetType
	TargetIDs     []string
	Priority      models.Priority
	Category      string
	ScheduledAt   *time.Time
	ExpiresAt     *time.Time
	FireAndForget bool
}

// CreateBroadcast classifies the request into its initial status per
// §4.1's table, resolving ROLE membership synchronously (guarded by the
// circuit breaker) before any row is written so a UserServiceUnavailable
// failure never leaves a partially-admitted broadcast behind.
func (s *Service) CreateBroadcast(ctx context.Context, req CreateBroadcastRequest) (*models.Broadcast, error) {
	now := time.Now()

	b := &models.Broadcast{
		SenderID:      req.SenderID,
		SenderName:    req.SenderName,
		Content:       req.Content,
		TargetType:    req.TargetType,
		TargetIDs:     req.TargetIDs,
		Priority:      req.Priority,
		Category:      req.Category,
		ScheduledAt:   req.ScheduledAt,
		ExpiresAt:     req.ExpiresAt,
		FireAndForget: req.FireAndForget,
	}
	b.Status = classify(b, now, s.fetchDelay)

	// Immediate ROLE fan-out needs its audience before any row exists.
	var immediateUserIDs []string
	if b.Status == models.StatusActive {
		switch b.TargetType {
		case models.TargetSelected:
			immediateUserIDs = req.TargetIDs
		case models.TargetRole:
			resolved, err := s.resolveRoles(ctx, req.TargetIDs)
			if err != nil {
				return nil, err
			}
			immediateUserIDs = resolved
		}
	}

	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin admission transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.db.Broadcasts.Create(ctx, tx, b); err != nil {
		return nil, err
	}

	var totalTargeted int64
	if len(immediateUserIDs) > 0 {
		n, err := s.db.Messages.InsertPending(ctx, tx, b.ID, immediateUserIDs)
		if err != nil {
			return nil, err
		}
		totalTargeted = n
	}

	if err := s.db.Statistics.Init(ctx, tx, b.ID, totalTargeted); err != nil {
		return nil, err
	}

	if b.Status == models.StatusActive {
		if err := s.writeOutboxEvent(ctx, tx, b.ID, models.EventCreated, b.TargetType, strconv.FormatInt(b.ID, 10)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit admission transaction: %w", err)
	}

	if b.Status == models.StatusPreparing && s.PrecomputeTrigger != nil {
		go s.PrecomputeTrigger(b.ID)
	}

	return b, nil
}

// classify implements §4.1's admission table. PRODUCT broadcasts scheduled
// further out than fetchDelay stay SCHEDULED like any other target type —
// the precompute-due scheduler task (§4.3 task 1) is what moves them to
// PREPARING once their scheduled_at enters the prefetch window, not
// admission itself. Only a PRODUCT broadcast that's already due goes
// straight to PREPARING on admission, mirroring the immediate-ROLE/
// SELECTED path going straight to ACTIVE.
func classify(b *models.Broadcast, now time.Time, fetchDelay time.Duration) models.BroadcastStatus {
	if b.ExpiresAt != nil && b.ExpiresAt.Before(now) {
		return models.StatusExpired
	}

	due := b.ScheduledAt == nil || !b.ScheduledAt.After(now.Add(fetchDelay))
	if !due {
		return models.StatusScheduled
	}

	if b.TargetType == models.TargetProduct {
		return models.StatusPreparing
	}
	return models.StatusActive
}

func (s *Service) resolveRoles(ctx context.Context, roles []string) ([]string, error) {
	var resolved []string
	err := s.bulkhead.Execute(ctx, func(ctx context.Context) error {
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			seen := make(map[string]struct{})
			for _, role := range roles {
				ids, err := s.userService.ResolveRole(ctx, role)
				if err != nil {
					return err
				}
				for _, id := range ids {
					if _, ok := seen[id]; ok {
						continue
					}
					seen[id] = struct{}{}
					resolved = append(resolved, id)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// Cancel transitions a non-terminal broadcast to CANCELLED (§4.1).
func (s *Service) Cancel(ctx context.Context, id int64) error {
	return s.transitionTerminal(ctx, id, models.StatusCancelled, models.EventCancelled)
}

// Expire transitions a single ACTIVE broadcast to EXPIRED outside the
// scheduler's batch claim path (e.g. an operator-triggered expiry).
func (s *Service) Expire(ctx context.Context, id int64) error {
	return s.transitionTerminal(ctx, id, models.StatusExpired, models.EventExpired)
}

func (s *Service) transitionTerminal(ctx context.Context, id int64, to models.BroadcastStatus, eventType models.EventType) error {
	b, err := s.db.Broadcasts.Get(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.CancelOrExpireTx(ctx, tx, b, to, eventType); err != nil {
		return err
	}

	return tx.Commit()
}

// CancelOrExpireTx runs the cancel/expire side effects (status CAS,
// supersede non-final per-user rows, write the orchestration event)
// inside a caller-managed transaction. Exported so the expiry scheduler
// (§4.3 task 4) can apply it to rows it has already claimed with
// FOR UPDATE SKIP LOCKED, without a second round trip to re-select them.
func (s *Service) CancelOrExpireTx(ctx context.Context, tx *sql.Tx, b *models.Broadcast, to models.BroadcastStatus, eventType models.EventType) error {
	if err := s.db.Broadcasts.UpdateStatus(ctx, tx, b.ID, to, models.NonTerminalStatuses...); err != nil {
		return err
	}
	if _, err := s.db.Messages.SupersedeNonFinal(ctx, tx, b.ID); err != nil {
		return err
	}
	return s.writeOutboxEvent(ctx, tx, b.ID, eventType, b.TargetType, strconv.FormatInt(b.ID, 10))
}

// ActivateTx advances a SCHEDULED or READY broadcast to ACTIVE inside a
// caller-managed transaction, used by the activation scheduler tasks
// (§4.3 tasks 2/3) against rows they've already claimed with
// FOR UPDATE SKIP LOCKED. ALL needs nothing beyond the status flip (its
// audience is resolved lazily on read, §4.9); PRODUCT arrives here
// already READY with its targets precomputed by pkg/targeting, so it
// also needs nothing but the flip; ROLE/SELECTED haven't had their
// per-user rows written yet (admission only writes them for broadcasts
// that are immediately ACTIVE), so this is where that on-write fan-out
// finally happens for a broadcast that was SCHEDULED at admission time.
func (s *Service) ActivateTx(ctx context.Context, tx *sql.Tx, b *models.Broadcast) error {
	from := models.StatusScheduled
	if b.TargetType == models.TargetProduct {
		from = models.StatusReady
	}

	if from == models.StatusScheduled && (b.TargetType == models.TargetRole || b.TargetType == models.TargetSelected) {
		var userIDs []string
		switch b.TargetType {
		case models.TargetSelected:
			userIDs = b.TargetIDs
		case models.TargetRole:
			resolved, err := s.resolveRoles(ctx, b.TargetIDs)
			if err != nil {
				return err
			}
			userIDs = resolved
		}
		var totalTargeted int64
		if len(userIDs) > 0 {
			n, err := s.db.Messages.InsertPending(ctx, tx, b.ID, userIDs)
			if err != nil {
				return err
			}
			totalTargeted = n
		}
		if err := s.db.Statistics.Init(ctx, tx, b.ID, totalTargeted); err != nil {
			return err
		}
	}

	if err := s.db.Broadcasts.UpdateStatus(ctx, tx, b.ID, models.StatusActive, from); err != nil {
		return err
	}
	return s.writeOutboxEvent(ctx, tx, b.ID, models.EventCreated, b.TargetType, strconv.FormatInt(b.ID, 10))
}

func (s *Service) writeOutboxEvent(ctx context.Context, tx *sql.Tx, broadcastID int64, eventType models.EventType, targetType models.TargetType, key string) error {
	payload, err := json.Marshal(models.OrchestrationPayload{BroadcastID: broadcastID, EventType: eventType, TargetType: targetType})
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	ev := &models.OutboxEvent{
		ID:            uuid.New().String(),
		AggregateType: "broadcast",
		AggregateID:   key,
		EventType:     eventType,
		Topic:         s.orchestrationTopic,
		Payload:       payload,
	}
	return s.db.Outbox.Insert(ctx, tx, ev)
}
