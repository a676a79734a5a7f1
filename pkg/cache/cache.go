// Package cache provides the generic keyed-value caching interface used to
// back the three cache regions named in §3 "Presence (in cache)" and §4.9:
// broadcast content (frozen body per broadcast id), per-user inbox
// snapshots, and per-user pending-event buffers accumulated while a user is
// offline. Two backends: Redis (production, shared across pods) and an
// in-memory adapter (tests, single-pod deployments).
package cache

import (
	"context"
	"time"
)

// Cache is the backend-agnostic interface every region is built on.
type Cache interface {
	// Get retrieves a value by key and unmarshals it into dest. Returns
	// models.ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a value with a TTL. A TTL of 0 means no expiration.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key. Returns nil if the key does not exist.
	Delete(ctx context.Context, key string) error

	// Close releases all resources held by the backend.
	Close() error
}

// Scanner is implemented by backends that support prefix-based key
// scanning. The SseDispatch regions (§3, §4.7) are keyed by random id, so
// a pod's continuous query doesn't know specific keys in advance — it
// scans for everything under its region prefix instead.
type Scanner interface {
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Config configures a cache backend, read from CACHE_* env vars the same
// way the rest of the config package reads its own sections.
type Config struct {
	Driver   string // "memory" or "redis"
	Host     string
	Port     string
	Password string
	DB       int
}
