package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/codeready-toolchain/broadcaster/pkg/models"
)

// OutboxRepository persists models.OutboxEvent rows and backs the Outbox
// Publisher's poll loop (§4.4).
type OutboxRepository struct {
	db *sql.DB
}

// Insert writes an outbox row in the same transaction as the domain change
// it reflects.
func (r *OutboxRepository) Insert(ctx context.Context, execer Execer, ev *models.OutboxEvent) error {
	_, err := execer.ExecContext(ctx, `
		INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, topic, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.AggregateType, ev.AggregateID, ev.EventType, ev.Topic, ev.Payload)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// ListUnpublished returns unpublished rows in commit order, bounded by limit.
func (r *OutboxRepository) ListUnpublished(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, topic, payload, created_at, published
		FROM outbox_events
		WHERE NOT published
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unpublished outbox rows: %w", err)
	}
	defer rows.Close()

	var out []*models.OutboxEvent
	for rows.Next() {
		var ev models.OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.AggregateType, &ev.AggregateID, &ev.EventType,
			&ev.Topic, &ev.Payload, &ev.CreatedAt, &ev.Published); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// MarkPublished flips published only after the bus has acknowledged the
// publish — the durability boundary described in §4.4.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET published = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox row published: %w", err)
	}
	return nil
}
