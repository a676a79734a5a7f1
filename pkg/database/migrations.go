package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateGINIndexes creates the full-text search GIN index on broadcast
// content. Kept as a separate step outside the plain migration files; it
// is safe to (re)run idempotently on every startup.
func CreateGINIndexes(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_broadcasts_content_gin
		ON broadcasts USING gin(to_tsvector('english', content))`)
	if err != nil {
		return fmt.Errorf("failed to create broadcasts content GIN index: %w", err)
	}
	return nil
}
