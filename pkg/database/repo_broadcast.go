package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/broadcaster/pkg/models"
)

// BroadcastRepository persists models.Broadcast rows.
type BroadcastRepository struct {
	db *sql.DB
}

// Create inserts a new broadcast row and returns its generated id.
func (r *BroadcastRepository) Create(ctx context.Context, execer Execer, b *models.Broadcast) (int64, error) {
	targetIDs, err := json.Marshal(b.TargetIDs)
	if err != nil {
		return 0, fmt.Errorf("marshal target ids: %w", err)
	}

	row := execer.QueryRowContext(ctx, `
		INSERT INTO broadcasts
			(sender_id, sender_name, content, target_type, target_ids, priority,
			 category, scheduled_at, expires_at, fire_and_forget, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`,
		b.SenderID, b.SenderName, b.Content, b.TargetType, targetIDs, b.Priority,
		b.Category, b.ScheduledAt, b.ExpiresAt, b.FireAndForget, b.Status,
	)
	if err := row.Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return 0, fmt.Errorf("insert broadcast: %w", err)
	}
	return b.ID, nil
}

// Get fetches a single broadcast by id.
func (r *BroadcastRepository) Get(ctx context.Context, id int64) (*models.Broadcast, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, sender_id, sender_name, content, target_type, target_ids, priority,
		       category, scheduled_at, expires_at, fire_and_forget, status, created_at, updated_at
		FROM broadcasts WHERE id = $1`, id))
}

// UpdateStatus performs a compare-and-set style status transition. It
// returns models.ErrIllegalTransition if no row matched fromStatuses.
func (r *BroadcastRepository) UpdateStatus(ctx context.Context, execer Execer, id int64, to models.BroadcastStatus, fromStatuses ...models.BroadcastStatus) error {
	res, err := execer.ExecContext(ctx, `
		UPDATE broadcasts SET status = $1, updated_at = now()
		WHERE id = $2 AND status = ANY($3)`,
		to, id, statusSlice(fromStatuses))
	if err != nil {
		return fmt.Errorf("update broadcast status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrIllegalTransition
	}
	return nil
}

// ListDueForPrecompute returns SCHEDULED PRODUCT broadcasts whose
// scheduled_at falls inside the prefetch window (§4.3 task 1), claiming
// each via FOR UPDATE SKIP LOCKED so parallel pods don't double-claim.
func (r *BroadcastRepository) ListDueForPrecompute(ctx context.Context, tx *sql.Tx, horizon time.Time, limit int) ([]*models.Broadcast, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, sender_id, sender_name, content, target_type, target_ids, priority,
		       category, scheduled_at, expires_at, fire_and_forget, status, created_at, updated_at
		FROM broadcasts
		WHERE status = $1 AND target_type = $2 AND scheduled_at <= $3
		ORDER BY scheduled_at
		LIMIT $4
		FOR UPDATE SKIP LOCKED`,
		models.StatusScheduled, models.TargetProduct, horizon, limit)
	if err != nil {
		return nil, fmt.Errorf("list due for precompute: %w", err)
	}
	defer rows.Close()
	return scanBroadcasts(rows)
}

// ListDueForActivation returns rows in `status` whose scheduled_at has
// arrived, optionally restricted to target types (§4.3 tasks 2/3).
func (r *BroadcastRepository) ListDueForActivation(ctx context.Context, tx *sql.Tx, status models.BroadcastStatus, targetTypes []models.TargetType, now time.Time, limit int) ([]*models.Broadcast, error) {
	var rows *sql.Rows
	var err error
	if len(targetTypes) == 0 {
		rows, err = tx.QueryContext(ctx, `
			SELECT id, sender_id, sender_name, content, target_type, target_ids, priority,
			       category, scheduled_at, expires_at, fire_and_forget, status, created_at, updated_at
			FROM broadcasts
			WHERE status = $1 AND scheduled_at <= $2
			ORDER BY scheduled_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED`, status, now, limit)
	} else {
		rows, err = tx.QueryContext(ctx, `
			SELECT id, sender_id, sender_name, content, target_type, target_ids, priority,
			       category, scheduled_at, expires_at, fire_and_forget, status, created_at, updated_at
			FROM broadcasts
			WHERE status = $1 AND scheduled_at <= $2 AND target_type = ANY($3)
			ORDER BY scheduled_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED`, status, now, targetTypeSlice(targetTypes), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list due for activation: %w", err)
	}
	defer rows.Close()
	return scanBroadcasts(rows)
}

// ListDueForExpiry returns ACTIVE broadcasts whose expires_at has passed.
func (r *BroadcastRepository) ListDueForExpiry(ctx context.Context, tx *sql.Tx, now time.Time, limit int) ([]*models.Broadcast, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, sender_id, sender_name, content, target_type, target_ids, priority,
		       category, scheduled_at, expires_at, fire_and_forget, status, created_at, updated_at
		FROM broadcasts
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at <= $2
		ORDER BY expires_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED`, models.StatusActive, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due for expiry: %w", err)
	}
	defer rows.Close()
	return scanBroadcasts(rows)
}

// ListActiveByTargetType returns every ACTIVE broadcast of the given
// target type, for inbox assembly's ALL-broadcast merge (§4.9 step 2) —
// ALL broadcasts never get a per-user row until first delivery, so the
// inbox builder has to enumerate them directly rather than joining
// through user_broadcast_messages.
func (r *BroadcastRepository) ListActiveByTargetType(ctx context.Context, targetType models.TargetType) ([]*models.Broadcast, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sender_id, sender_name, content, target_type, target_ids, priority,
		       category, scheduled_at, expires_at, fire_and_forget, status, created_at, updated_at
		FROM broadcasts
		WHERE status = $1 AND target_type = $2
		ORDER BY created_at DESC`,
		models.StatusActive, targetType)
	if err != nil {
		return nil, fmt.Errorf("list active by target type: %w", err)
	}
	defer rows.Close()
	return scanBroadcasts(rows)
}

// ListPage returns a page of broadcasts newest-first for the admin listing
// endpoint, optionally restricted to a single status, along with the total
// row count matching that filter for the response envelope's pagination.
func (r *BroadcastRepository) ListPage(ctx context.Context, offset, limit int, status *models.BroadcastStatus) ([]*models.Broadcast, int, error) {
	var (
		rows  *sql.Rows
		err   error
		total int
	)
	if status != nil {
		if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM broadcasts WHERE status = $1`, *status).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count broadcasts: %w", err)
		}
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, sender_id, sender_name, content, target_type, target_ids, priority,
			       category, scheduled_at, expires_at, fire_and_forget, status, created_at, updated_at
			FROM broadcasts
			WHERE status = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3`, *status, limit, offset)
	} else {
		if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM broadcasts`).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count broadcasts: %w", err)
		}
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, sender_id, sender_name, content, target_type, target_ids, priority,
			       category, scheduled_at, expires_at, fire_and_forget, status, created_at, updated_at
			FROM broadcasts
			ORDER BY created_at DESC
			LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("list broadcasts: %w", err)
	}
	defer rows.Close()
	items, err := scanBroadcasts(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListFinalizedOlderThan returns terminal-state broadcasts whose
// updated_at predates cutoff, for the reap-finalized job (§4.3 task 5).
func (r *BroadcastRepository) ListFinalizedOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM broadcasts
		WHERE status = ANY($1) AND updated_at <= $2
		LIMIT $3`,
		statusSlice([]models.BroadcastStatus{models.StatusCancelled, models.StatusExpired, models.StatusFailed}),
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list finalized: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *BroadcastRepository) scanOne(row *sql.Row) (*models.Broadcast, error) {
	var b models.Broadcast
	var targetIDs []byte
	if err := row.Scan(&b.ID, &b.SenderID, &b.SenderName, &b.Content, &b.TargetType, &targetIDs,
		&b.Priority, &b.Category, &b.ScheduledAt, &b.ExpiresAt, &b.FireAndForget, &b.Status,
		&b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("scan broadcast: %w", err)
	}
	if err := json.Unmarshal(targetIDs, &b.TargetIDs); err != nil {
		return nil, fmt.Errorf("unmarshal target ids: %w", err)
	}
	return &b, nil
}

func scanBroadcasts(rows *sql.Rows) ([]*models.Broadcast, error) {
	var out []*models.Broadcast
	for rows.Next() {
		var b models.Broadcast
		var targetIDs []byte
		if err := rows.Scan(&b.ID, &b.SenderID, &b.SenderName, &b.Content, &b.TargetType, &targetIDs,
			&b.Priority, &b.Category, &b.ScheduledAt, &b.ExpiresAt, &b.FireAndForget, &b.Status,
			&b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan broadcast: %w", err)
		}
		if err := json.Unmarshal(targetIDs, &b.TargetIDs); err != nil {
			return nil, fmt.Errorf("unmarshal target ids: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func statusSlice(ss []models.BroadcastStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func targetTypeSlice(ts []models.TargetType) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

// Execer is satisfied by both *sql.DB and *sql.Tx, letting repository
// methods that don't themselves need transaction control (e.g. Create) run
// inside a caller-managed transaction or standalone.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
