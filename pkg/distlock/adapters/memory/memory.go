// Package memory implements distlock.Locker in-process, for tests and
// single-pod deployments where cluster-wide exclusion is trivially
// satisfied by a local mutex.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/broadcaster/pkg/distlock"
)

// Adapter is a mutex-guarded map of held locks.
type Adapter struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	value     string
	expiresAt time.Time
}

// New returns an empty in-memory locker.
func New() *Adapter {
	return &Adapter{locks: make(map[string]*entry)}
}

func (a *Adapter) NewLock(key string, ttl time.Duration) distlock.Lock {
	return &lock{adapter: a, key: key, value: uuid.New().String(), ttl: ttl}
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.locks = make(map[string]*entry)
	return nil
}

type lock struct {
	adapter *Adapter
	key     string
	value   string
	ttl     time.Duration
	held    bool
}

func (l *lock) Acquire(ctx context.Context) (bool, error) {
	l.adapter.mu.Lock()
	defer l.adapter.mu.Unlock()

	now := time.Now()
	if e, ok := l.adapter.locks[l.key]; ok && e.expiresAt.After(now) {
		return false, nil
	}
	l.adapter.locks[l.key] = &entry{value: l.value, expiresAt: now.Add(l.ttl)}
	l.held = true
	return true, nil
}

func (l *lock) Release(ctx context.Context) error {
	l.adapter.mu.Lock()
	defer l.adapter.mu.Unlock()

	if e, ok := l.adapter.locks[l.key]; ok && e.value == l.value {
		delete(l.adapter.locks, l.key)
	}
	l.held = false
	return nil
}

func (l *lock) Extend(ctx context.Context, ttl time.Duration) error {
	l.adapter.mu.Lock()
	defer l.adapter.mu.Unlock()

	e, ok := l.adapter.locks[l.key]
	if !ok || e.value != l.value {
		l.held = false
		return nil
	}
	e.expiresAt = time.Now().Add(ttl)
	return nil
}

func (l *lock) IsHeld() bool {
	return l.held
}
