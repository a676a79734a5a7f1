package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/broadcaster/pkg/models"
)

// MessageRepository persists models.PerUserMessage rows.
type MessageRepository struct {
	db *sql.DB
}

// InsertPending batch-inserts PENDING/UNREAD rows for the given user ids,
// ignoring conflicts so a retried precompute or activation is a no-op on
// rows it already created (§4.2, §4.1 invariant of idempotent admission).
func (r *MessageRepository) InsertPending(ctx context.Context, execer Execer, broadcastID int64, userIDs []string) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	res, err := execer.ExecContext(ctx, `
		INSERT INTO user_broadcast_messages (broadcast_id, user_id, delivery_status, read_status)
		SELECT $1, u, $2, $3 FROM unnest($4::text[]) AS u
		ON CONFLICT (broadcast_id, user_id) DO NOTHING`,
		broadcastID, models.DeliveryPending, models.ReadUnread, userIDs)
	if err != nil {
		return 0, fmt.Errorf("insert pending per-user rows: %w", err)
	}
	return res.RowsAffected()
}

// InsertDelivered idempotently inserts a single (DELIVERED, UNREAD) row,
// used by inbox assembly for ALL broadcasts lazily surfaced to a user (§4.9).
func (r *MessageRepository) InsertDelivered(ctx context.Context, execer Execer, broadcastID int64, userID string, at time.Time) (bool, error) {
	res, err := execer.ExecContext(ctx, `
		INSERT INTO user_broadcast_messages (broadcast_id, user_id, delivery_status, read_status, delivered_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (broadcast_id, user_id) DO NOTHING`,
		broadcastID, userID, models.DeliveryDelivered, models.ReadUnread, at)
	if err != nil {
		return false, fmt.Errorf("insert delivered row: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkDelivered flips a PENDING row to DELIVERED.
func (r *MessageRepository) MarkDelivered(ctx context.Context, broadcastID int64, userID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE user_broadcast_messages
		SET delivery_status = $1, delivered_at = $2, updated_at = now()
		WHERE broadcast_id = $3 AND user_id = $4 AND delivery_status = $5`,
		models.DeliveryDelivered, at, broadcastID, userID, models.DeliveryPending)
	if err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkFailed flips a per-user row to FAILED (DLT consumer, §4.8).
func (r *MessageRepository) MarkFailed(ctx context.Context, execer Execer, broadcastID int64, userID string) error {
	_, err := execer.ExecContext(ctx, `
		UPDATE user_broadcast_messages
		SET delivery_status = $1, updated_at = now()
		WHERE broadcast_id = $2 AND user_id = $3`,
		models.DeliveryFailed, broadcastID, userID)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// ResetToPending is used by redrive to undo a FAILED row (§4.8).
func (r *MessageRepository) ResetToPending(ctx context.Context, execer Execer, broadcastID int64, userID string) error {
	_, err := execer.ExecContext(ctx, `
		UPDATE user_broadcast_messages
		SET delivery_status = $1, delivered_at = NULL, updated_at = now()
		WHERE broadcast_id = $2 AND user_id = $3`,
		models.DeliveryPending, broadcastID, userID)
	if err != nil {
		return fmt.Errorf("reset to pending: %w", err)
	}
	return nil
}

// SupersedeNonFinal bulk-updates PENDING/DELIVERED rows to SUPERSEDED on
// cancel/expire (§4.1).
func (r *MessageRepository) SupersedeNonFinal(ctx context.Context, execer Execer, broadcastID int64) (int64, error) {
	res, err := execer.ExecContext(ctx, `
		UPDATE user_broadcast_messages
		SET delivery_status = $1, updated_at = now()
		WHERE broadcast_id = $2 AND delivery_status = ANY($3)`,
		models.DeliverySuperseded, broadcastID,
		[]string{string(models.DeliveryPending), string(models.DeliveryDelivered)})
	if err != nil {
		return 0, fmt.Errorf("supersede non-final rows: %w", err)
	}
	return res.RowsAffected()
}

// MarkRead performs the read-modify-write described in §4.9: insert a
// DELIVERED/READ row if absent, otherwise flip read_status. Returns true
// if this call is the one that actually transitioned to READ (so the
// caller knows whether to increment total_read).
func (r *MessageRepository) MarkRead(ctx context.Context, execer Execer, broadcastID int64, userID string, at time.Time) (bool, error) {
	res, err := execer.ExecContext(ctx, `
		INSERT INTO user_broadcast_messages
			(broadcast_id, user_id, delivery_status, read_status, delivered_at, read_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (broadcast_id, user_id) DO UPDATE
			SET read_status = $4, read_at = $5, updated_at = now()
			WHERE user_broadcast_messages.read_status = $6`,
		broadcastID, userID, models.DeliveryDelivered, models.ReadRead, at, models.ReadUnread)
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListForInbox returns this user's rows in PENDING/DELIVERED states plus
// any UNREAD rows, used to assemble the initial inbox (§4.9).
func (r *MessageRepository) ListForInbox(ctx context.Context, userID string) ([]*models.PerUserMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, broadcast_id, user_id, delivery_status, read_status, delivered_at, read_at, created_at, updated_at
		FROM user_broadcast_messages
		WHERE user_id = $1 AND (delivery_status = ANY($2) OR read_status = $3)
		ORDER BY created_at DESC`,
		userID,
		[]string{string(models.DeliveryPending), string(models.DeliveryDelivered)},
		models.ReadUnread)
	if err != nil {
		return nil, fmt.Errorf("list for inbox: %w", err)
	}
	defer rows.Close()
	return scanPerUserMessages(rows)
}

// Get fetches a single per-user row.
func (r *MessageRepository) Get(ctx context.Context, broadcastID int64, userID string) (*models.PerUserMessage, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, broadcast_id, user_id, delivery_status, read_status, delivered_at, read_at, created_at, updated_at
		FROM user_broadcast_messages WHERE broadcast_id = $1 AND user_id = $2`, broadcastID, userID)
	var m models.PerUserMessage
	if err := row.Scan(&m.ID, &m.BroadcastID, &m.UserID, &m.DeliveryStatus, &m.ReadStatus,
		&m.DeliveredAt, &m.ReadAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get per-user message: %w", err)
	}
	return &m, nil
}

// ListDeliveries returns every per-user row for a broadcast (admin read API).
func (r *MessageRepository) ListDeliveries(ctx context.Context, broadcastID int64) ([]*models.PerUserMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, broadcast_id, user_id, delivery_status, read_status, delivered_at, read_at, created_at, updated_at
		FROM user_broadcast_messages WHERE broadcast_id = $1 ORDER BY id`, broadcastID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()
	return scanPerUserMessages(rows)
}

// DeleteUnreadOlderThan deletes every unread row of one broadcast,
// preserving rows the user actually read (§4.3 task 5). It applies no age
// or status filter; the caller passes broadcasts already past retention.
func (r *MessageRepository) DeleteUnreadOlderThan(ctx context.Context, broadcastID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM user_broadcast_messages
		WHERE broadcast_id = $1 AND read_status = $2`, broadcastID, models.ReadUnread)
	if err != nil {
		return 0, fmt.Errorf("delete unread rows: %w", err)
	}
	return res.RowsAffected()
}

func scanPerUserMessages(rows *sql.Rows) ([]*models.PerUserMessage, error) {
	var out []*models.PerUserMessage
	for rows.Next() {
		var m models.PerUserMessage
		if err := rows.Scan(&m.ID, &m.BroadcastID, &m.UserID, &m.DeliveryStatus, &m.ReadStatus,
			&m.DeliveredAt, &m.ReadAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan per-user message: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// TargetRepository persists models.PrecomputedTarget rows.
type TargetRepository struct {
	db *sql.DB
}

// InsertBatch inserts precomputed targets, ignoring conflicts so a retried
// precompute doesn't duplicate rows.
func (r *TargetRepository) InsertBatch(ctx context.Context, execer Execer, broadcastID int64, userIDs []string) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	res, err := execer.ExecContext(ctx, `
		INSERT INTO user_broadcast_targets (broadcast_id, user_id)
		SELECT $1, u FROM unnest($2::text[]) AS u
		ON CONFLICT DO NOTHING`, broadcastID, userIDs)
	if err != nil {
		return 0, fmt.Errorf("insert precomputed targets: %w", err)
	}
	return res.RowsAffected()
}

// ListUserIDs returns the precomputed target list for a broadcast.
func (r *TargetRepository) ListUserIDs(ctx context.Context, broadcastID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM user_broadcast_targets WHERE broadcast_id = $1`, broadcastID)
	if err != nil {
		return nil, fmt.Errorf("list precomputed targets: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Exists reports whether any precomputed targets already exist for a
// broadcast, used by precompute to detect a prior partial run (§4.2).
func (r *TargetRepository) Exists(ctx context.Context, broadcastID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM user_broadcast_targets WHERE broadcast_id = $1)`, broadcastID).
		Scan(&exists)
	return exists, err
}

// DeleteForBroadcast removes all precomputed targets (§4.3 task 5).
func (r *TargetRepository) DeleteForBroadcast(ctx context.Context, broadcastID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_broadcast_targets WHERE broadcast_id = $1`, broadcastID)
	if err != nil {
		return 0, fmt.Errorf("delete precomputed targets: %w", err)
	}
	return res.RowsAffected()
}

// StatisticsRepository persists the one-row-per-broadcast counters.
type StatisticsRepository struct {
	db *sql.DB
}

// Init creates the statistics row with an initial targeted count.
func (r *StatisticsRepository) Init(ctx context.Context, execer Execer, broadcastID, totalTargeted int64) error {
	_, err := execer.ExecContext(ctx, `
		INSERT INTO broadcast_statistics (broadcast_id, total_targeted, calculated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (broadcast_id) DO UPDATE SET total_targeted = $2, calculated_at = now()`,
		broadcastID, totalTargeted)
	if err != nil {
		return fmt.Errorf("init statistics: %w", err)
	}
	return nil
}

// IncrementDelivered bumps total_delivered via a monotonic counter update
// (no read-modify-write, §5 shared-resource policy).
func (r *StatisticsRepository) IncrementDelivered(ctx context.Context, execer Execer, broadcastID int64, n int64) error {
	_, err := execer.ExecContext(ctx, `
		UPDATE broadcast_statistics SET total_delivered = total_delivered + $1, calculated_at = now()
		WHERE broadcast_id = $2`, n, broadcastID)
	if err != nil {
		return fmt.Errorf("increment delivered: %w", err)
	}
	return nil
}

// IncrementRead bumps total_read.
func (r *StatisticsRepository) IncrementRead(ctx context.Context, execer Execer, broadcastID int64, n int64) error {
	_, err := execer.ExecContext(ctx, `
		UPDATE broadcast_statistics SET total_read = total_read + $1, calculated_at = now()
		WHERE broadcast_id = $2`, n, broadcastID)
	if err != nil {
		return fmt.Errorf("increment read: %w", err)
	}
	return nil
}

// IncrementFailed bumps total_failed (DLT consumer, §4.8).
func (r *StatisticsRepository) IncrementFailed(ctx context.Context, execer Execer, broadcastID int64, n int64) error {
	_, err := execer.ExecContext(ctx, `
		UPDATE broadcast_statistics SET total_failed = total_failed + $1, calculated_at = now()
		WHERE broadcast_id = $2`, n, broadcastID)
	if err != nil {
		return fmt.Errorf("increment failed: %w", err)
	}
	return nil
}

// Get fetches the statistics row for a broadcast.
func (r *StatisticsRepository) Get(ctx context.Context, broadcastID int64) (*models.Statistics, error) {
	var s models.Statistics
	s.BroadcastID = broadcastID
	err := r.db.QueryRowContext(ctx, `
		SELECT total_targeted, total_delivered, total_read, total_failed, calculated_at
		FROM broadcast_statistics WHERE broadcast_id = $1`, broadcastID).
		Scan(&s.TotalTargeted, &s.TotalDelivered, &s.TotalRead, &s.TotalFailed, &s.CalculatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get statistics: %w", err)
	}
	return &s, nil
}
