// Package dlt implements the DLT Consumer & Redrive Service (§4.8): the
// reader of the orchestration topic's dead-letter sibling, and the
// operator-facing redrive/purge operations over what it records.
package dlt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/broadcaster/pkg/database"
	"github.com/codeready-toolchain/broadcaster/pkg/eventbus"
	"github.com/codeready-toolchain/broadcaster/pkg/models"
)

// Service consumes dead-lettered orchestration messages and persists them,
// and drives operator-triggered redrive/purge (§4.8).
type Service struct {
	db                 *database.Client
	consumer           eventbus.Consumer
	orchestrationTopic string
	log                *slog.Logger
}

// New builds a dlt Service reading from the given eventbus.Consumer, which
// the caller must have obtained against eventbus.DLTTopic(orchestrationTopic).
func New(db *database.Client, consumer eventbus.Consumer, orchestrationTopic string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, consumer: consumer, orchestrationTopic: orchestrationTopic, log: log}
}

// Run blocks, consuming the dead-letter topic until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.consumer.Consume(ctx, s.handle)
}

func (s *Service) handle(ctx context.Context, msg *eventbus.Message) error {
	rec := &models.DLTRecord{
		ID:                uuid.New().String(),
		OriginalKey:       string(msg.Key),
		OriginalTopic:     msg.Headers["original_topic"],
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		ExceptionMessage:  msg.Headers["exception_message"],
		OriginalPayload:   msg.Payload,
	}
	if rec.OriginalTopic == "" {
		rec.OriginalTopic = s.orchestrationTopic
	}

	var payload models.OrchestrationPayload
	if err := json.Unmarshal(msg.Payload, &payload); err == nil {
		rec.BroadcastID = &payload.BroadcastID
		if payload.UserID != "" {
			rec.UserID = &payload.UserID
		}
	}

	if err := s.db.DLT.Insert(ctx, rec); err != nil {
		if errors.Is(err, models.ErrDataIntegrityViolation) {
			s.log.Info("dlt record already recorded, skipping", "original_key", rec.OriginalKey)
			return nil
		}
		return fmt.Errorf("insert dlt record: %w", err)
	}

	switch {
	case rec.BroadcastID == nil:
		// Payload didn't decode as an orchestration event — nothing to
		// fail, the record itself is kept for operator triage.
	case rec.UserID != nil:
		// §4.8: a user-keyed event (e.g. a READ receipt) only fails that
		// user's own delivery, not the whole broadcast.
		if err := s.markUserFailed(ctx, *rec.BroadcastID, *rec.UserID); err != nil {
			s.log.Warn("failed to mark per-user delivery FAILED after dead-letter",
				"broadcast_id", *rec.BroadcastID, "user_id", *rec.UserID, "error", err)
		}
	default:
		if err := s.failBroadcast(ctx, *rec.BroadcastID); err != nil {
			s.log.Warn("failed to mark broadcast FAILED after dead-letter", "broadcast_id", *rec.BroadcastID, "error", err)
		}
	}
	return nil
}

// markUserFailed flips one user's per-user row to FAILED and bumps
// total_failed by one, in its own transaction (§4.8).
func (s *Service) markUserFailed(ctx context.Context, broadcastID int64, userID string) error {
	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark-user-failed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.db.Messages.MarkFailed(ctx, tx, broadcastID, userID); err != nil {
		return err
	}
	if err := s.db.Statistics.IncrementFailed(ctx, tx, broadcastID, 1); err != nil {
		return err
	}
	return tx.Commit()
}

// failBroadcast CASes a broadcast to FAILED from any non-terminal status
// and bumps total_failed by the number of per-user rows it superseded, in
// its own transaction — the DLT consumer runs independently of the
// lifecycle service and doesn't share its write path.
func (s *Service) failBroadcast(ctx context.Context, broadcastID int64) error {
	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fail-broadcast transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.db.Broadcasts.UpdateStatus(ctx, tx, broadcastID, models.StatusFailed, models.NonTerminalStatuses...); err != nil {
		if errors.Is(err, models.ErrIllegalTransition) {
			// Already terminal (e.g. an operator cancelled it before the
			// dead-letter caught up) — nothing to do.
			return nil
		}
		return err
	}
	superseded, err := s.db.Messages.SupersedeNonFinal(ctx, tx, broadcastID)
	if err != nil {
		return err
	}
	if superseded > 0 {
		if err := s.db.Statistics.IncrementFailed(ctx, tx, broadcastID, superseded); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Redrive undoes a dead-lettered record's failure and replays the original
// message (§4.8): a per-user record resets that user's row to PENDING, a
// broadcast-level record CASes the broadcast back to ACTIVE, and either way
// the original payload is re-enqueued onto its original topic via the
// outbox so the next outbox poll hands it back to the orchestration
// consumer exactly like a fresh event. The record is tombstoned, not
// deleted, so the redrive is auditable after the fact.
func (s *Service) Redrive(ctx context.Context, id string) error {
	rec, err := s.db.DLT.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.ResolvedAt != nil {
		return models.ErrIllegalTransition
	}

	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin redrive transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if rec.BroadcastID != nil {
		if rec.UserID != nil {
			if err := s.db.Messages.ResetToPending(ctx, tx, *rec.BroadcastID, *rec.UserID); err != nil {
				return err
			}
		} else if err := s.db.Broadcasts.UpdateStatus(ctx, tx, *rec.BroadcastID, models.StatusActive, models.StatusFailed); err != nil {
			if !errors.Is(err, models.ErrIllegalTransition) {
				return err
			}
			// Already moved on (e.g. reaped) — still worth replaying the
			// message so the per-user rows it targets catch up.
		}
	}

	if err := s.replay(ctx, tx, rec); err != nil {
		return err
	}
	if err := s.db.DLT.Resolve(ctx, tx, id, models.DLTResolutionRedriven); err != nil {
		return err
	}
	return tx.Commit()
}

// replay re-enqueues a dead-lettered message's original payload onto its
// original topic via the outbox.
func (s *Service) replay(ctx context.Context, execer database.Execer, rec *models.DLTRecord) error {
	ev := &models.OutboxEvent{
		ID:            uuid.New().String(),
		AggregateType: "dlt-redrive",
		AggregateID:   rec.OriginalKey,
		EventType:     replayEventType(rec.OriginalPayload),
		Topic:         rec.OriginalTopic,
		Payload:       rec.OriginalPayload,
	}
	return s.db.Outbox.Insert(ctx, execer, ev)
}

func replayEventType(payload []byte) models.EventType {
	var p models.OrchestrationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return ""
	}
	return p.EventType
}

// RedriveAll redrives every outstanding dead-letter entry, best-effort —
// a single failure is logged and does not stop the rest.
func (s *Service) RedriveAll(ctx context.Context) (int, error) {
	records, err := s.db.DLT.List(ctx)
	if err != nil {
		return 0, err
	}
	redriven := 0
	for _, rec := range records {
		if err := s.Redrive(ctx, rec.ID); err != nil {
			s.log.Warn("redrive failed", "id", rec.ID, "error", err)
			continue
		}
		redriven++
	}
	return redriven, nil
}

// Purge tombstones a dead-letter record as purged, without redriving it.
func (s *Service) Purge(ctx context.Context, id string) error {
	return s.db.DLT.Resolve(ctx, s.db.DB(), id, models.DLTResolutionPurged)
}

// PurgeAll purges every outstanding dead-letter entry.
func (s *Service) PurgeAll(ctx context.Context) (int, error) {
	records, err := s.db.DLT.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if err := s.Purge(ctx, rec.ID); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}
