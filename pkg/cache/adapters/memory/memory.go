// Package memory implements cache.Cache in-process, for tests and
// single-pod deployments that don't need the cache region shared.
package memory

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/broadcaster/pkg/models"
)

type entry struct {
	value     []byte
	expiresAt time.Time
	noExpiry  bool
}

// Cache is a mutex-guarded map-backed cache.Cache implementation.
type Cache struct {
	mu    sync.RWMutex
	items map[string]entry
}

// New returns an empty in-memory cache.
func New() *Cache {
	return &Cache{items: make(map[string]entry)}
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok {
		return models.ErrNotFound
	}
	if !e.noExpiry && time.Now().After(e.expiresAt) {
		return models.ErrNotFound
	}
	return json.Unmarshal(e.value, dest)
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry{
		value:     data,
		expiresAt: time.Now().Add(ttl),
		noExpiry:  ttl == 0,
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]entry)
	return nil
}

// ScanPrefix returns every live key starting with prefix.
func (c *Cache) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	var keys []string
	for k, e := range c.items {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !e.noExpiry && now.After(e.expiresAt) {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}
