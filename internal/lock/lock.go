// Package lock provides short-lived advisory locks keyed by string.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrBusy = errors.New("lock is held")

type Locker interface {
	// TryLock acquires key for ttl. It returns ErrBusy when someone else holds it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLocker(rdb *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{rdb: rdb, prefix: prefix}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	k := l.prefix + key
	ok, err := l.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{k}, token).Err()
	}, nil
}

// Local is an in-process Locker for single-instance deployments and tests.
type Local struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewLocal() *Local { return &Local{held: make(map[string]time.Time)} }

func (l *Local) TryLock(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if exp, ok := l.held[key]; ok && time.Now().Before(exp) {
		return nil, ErrBusy
	}
	l.held[key] = time.Now().Add(ttl)
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

// Acquire retries TryLock every poll interval until wait elapses. On timeout it
// returns ErrBusy and a no-op unlock so callers can proceed unguarded.
func Acquire(ctx context.Context, l Locker, key string, ttl, wait, poll time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	for {
		unlock, err := l.TryLock(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, ErrBusy) || time.Now().After(deadline) {
			return func() {}, err
		}
		select {
		case <-ctx.Done():
			return func() {}, ctx.Err()
		case <-time.After(poll):
		}
	}
}
