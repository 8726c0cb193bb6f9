package util

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"phaseplanner/pkg/trace"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("lock is held by another owner")

// 只删除自己持有的锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short lived mutual exclusion locks backed by Redis SET NX.
type Locker struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewLocker(rdb redis.UniversalClient, ttl time.Duration) *Locker {
	return &Locker{rdb: rdb, ttl: ttl}
}

// Acquire takes the lock named key. The returned release func is safe to call
// after the lock expired; it never deletes a lock taken over by someone else.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	token := trace.GenerateTraceID()
	ok, err := l.rdb.SetNX(ctx, lockKey(key), token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func() {
		// 使用独立 ctx，调用方的 ctx 可能已经取消
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(rctx, l.rdb, []string{lockKey(key)}, token).Err()
	}
	return release, nil
}

func lockKey(key string) string {
	return "lock:" + key
}
