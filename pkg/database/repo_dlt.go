package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/broadcaster/pkg/models"
	"github.com/jackc/pgx/v5/pgconn"
)

// DLTRepository persists models.DLTRecord rows for the DLT Consumer &
// Redrive Service (§4.8).
type DLTRepository struct {
	db *sql.DB
}

// Insert records a failed event. Duplicate inserts for the same
// (topic, key, broadcast, user) are absorbed by the table's unique
// constraint — the caller should treat the models.ErrDataIntegrityViolation
// return as "already recorded", not a failure.
func (r *DLTRepository) Insert(ctx context.Context, rec *models.DLTRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dlt_messages
			(id, original_key, original_topic, original_partition, original_offset,
			 exception_message, exception_stack, original_payload, broadcast_id, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.OriginalKey, rec.OriginalTopic, rec.OriginalPartition, rec.OriginalOffset,
		rec.ExceptionMessage, rec.ExceptionStack, rec.OriginalPayload, rec.BroadcastID, rec.UserID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.ErrDataIntegrityViolation
		}
		return fmt.Errorf("insert dlt record: %w", err)
	}
	return nil
}

// Get fetches a DLT record by id, resolved or not — Redrive/Purge use this
// to detect a record a prior call already tombstoned.
func (r *DLTRepository) Get(ctx context.Context, id string) (*models.DLTRecord, error) {
	var rec models.DLTRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT id, original_key, original_topic, original_partition, original_offset,
		       exception_message, exception_stack, failed_at, original_payload, broadcast_id, user_id,
		       resolution, resolved_at
		FROM dlt_messages WHERE id = $1`, id).
		Scan(&rec.ID, &rec.OriginalKey, &rec.OriginalTopic, &rec.OriginalPartition, &rec.OriginalOffset,
			&rec.ExceptionMessage, &rec.ExceptionStack, &rec.FailedAt, &rec.OriginalPayload,
			&rec.BroadcastID, &rec.UserID, &rec.Resolution, &rec.ResolvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get dlt record: %w", err)
	}
	return &rec, nil
}

// List returns every unresolved DLT record, newest first — the operator's
// triage queue (admin read API). A redriven/purged record stays in the
// table as a tombstone but drops out of this list (§4.8).
func (r *DLTRepository) List(ctx context.Context) ([]*models.DLTRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, original_key, original_topic, original_partition, original_offset,
		       exception_message, exception_stack, failed_at, original_payload, broadcast_id, user_id,
		       resolution, resolved_at
		FROM dlt_messages WHERE resolved_at IS NULL ORDER BY failed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list dlt records: %w", err)
	}
	defer rows.Close()

	var out []*models.DLTRecord
	for rows.Next() {
		var rec models.DLTRecord
		if err := rows.Scan(&rec.ID, &rec.OriginalKey, &rec.OriginalTopic, &rec.OriginalPartition,
			&rec.OriginalOffset, &rec.ExceptionMessage, &rec.ExceptionStack, &rec.FailedAt,
			&rec.OriginalPayload, &rec.BroadcastID, &rec.UserID, &rec.Resolution, &rec.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan dlt record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Resolve tombstones a DLT record after a successful redrive or purge,
// recording which one (§4.8). Resolving an already-resolved record is an
// illegal transition — it signals a double redrive/purge.
func (r *DLTRepository) Resolve(ctx context.Context, execer Execer, id, resolution string) error {
	res, err := execer.ExecContext(ctx, `
		UPDATE dlt_messages SET resolution = $1, resolved_at = now()
		WHERE id = $2 AND resolved_at IS NULL`, resolution, id)
	if err != nil {
		return fmt.Errorf("resolve dlt record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve dlt record: %w", err)
	}
	if n == 0 {
		return models.ErrIllegalTransition
	}
	return nil
}
