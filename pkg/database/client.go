// Package database provides the PostgreSQL client, embedded migrations, and
// hand-written repositories for the broadcaster's durable store (§3, §6
// "Persisted layout"). There is no ORM here: codegen isn't available in
// this environment, so repositories are raw database/sql the way the
// teacher's events.EventPublisher and events.NotifyListener already talk to
// Postgres directly alongside the generated ent client.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/codeready-toolchain/broadcaster/pkg/config"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps a *sql.DB and exposes the repositories built on top of it.
type Client struct {
	db *sql.DB

	Broadcasts   *BroadcastRepository
	Messages     *MessageRepository
	Targets      *TargetRepository
	Statistics   *StatisticsRepository
	Outbox       *OutboxRepository
	DLT          *DLTRepository
}

// DB returns the underlying connection pool for health checks and
// ad-hoc queries that don't warrant their own repository method.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// NewClient opens a connection pool, applies pending migrations, and wires
// the repositories.
func NewClient(ctx context.Context, cfg config.DatabaseConfig) (*Client, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := ApplyMigrations(ctx, db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return NewClientFromDB(db), nil
}

// NewClientFromDB wires repositories onto an already-open *sql.DB. Used
// directly by tests against a testcontainers-provisioned database.
func NewClientFromDB(db *sql.DB) *Client {
	return &Client{
		db:         db,
		Broadcasts: &BroadcastRepository{db: db},
		Messages:   &MessageRepository{db: db},
		Targets:    &TargetRepository{db: db},
		Statistics: &StatisticsRepository{db: db},
		Outbox:     &OutboxRepository{db: db},
		DLT:        &DLTRepository{db: db},
	}
}

// ApplyMigrations runs the embedded migrations and GIN indexes against an
// already-open pool. Exported for test harnesses (test/util, test/database)
// that provision their own schema-scoped *sql.DB ahead of wiring a Client.
func ApplyMigrations(ctx context.Context, db *sql.DB, databaseName string) error {
	if err := runMigrations(db, databaseName); err != nil {
		return err
	}
	return CreateGINIndexes(ctx, db)
}

// runMigrations applies every embedded migration using golang-migrate.
func runMigrations(db *sql.DB, databaseName string) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("failed to check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found — binary may be built incorrectly")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver. Calling m.Close() would also close the
	// database driver, which closes the shared *sql.DB passed to
	// postgres.WithInstance — breaking the pool this client hands back.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
