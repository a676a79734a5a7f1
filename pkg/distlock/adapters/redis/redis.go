// Package redis implements distlock.Locker on top of redis/go-redis/v9,
// the production locker shared cluster-wide.
package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/broadcaster/pkg/distlock"
)

// Adapter implements distlock.Locker using SET NX PX.
type Adapter struct {
	client redis.Cmdable
	prefix string
}

// New wraps client; prefix namespaces lock keys (defaults to "lock:").
func New(client redis.Cmdable, prefix string) *Adapter {
	if prefix == "" {
		prefix = "lock:"
	}
	return &Adapter{client: client, prefix: prefix}
}

func (a *Adapter) NewLock(key string, ttl time.Duration) distlock.Lock {
	return &lock{
		client: a.client,
		key:    a.prefix + key,
		value:  uuid.New().String(),
		ttl:    ttl,
	}
}

func (a *Adapter) Close() error {
	return nil
}

type lock struct {
	client redis.Cmdable
	key    string
	value  string
	ttl    time.Duration
	held   bool
}

func (l *lock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, err
	}
	l.held = ok
	return ok, nil
}

// releaseScript deletes the key only if it still holds this instance's
// value, so a holder whose lease already expired and was taken by
// another pod cannot delete that pod's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

func (l *lock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	result, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return err
	}
	l.held = result != 1
	return nil
}

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
    return 0
end
`)

func (l *lock) Extend(ctx context.Context, ttl time.Duration) error {
	if !l.held {
		return nil
	}
	result, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	l.held = result == 1
	return nil
}

func (l *lock) IsHeld() bool {
	return l.held
}
