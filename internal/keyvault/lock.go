package keyvault

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "keyvault:create:v1:"

// ErrLockTimeout means another process held the owner's creation lock for too long.
var ErrLockTimeout = errors.New("timed out acquiring key creation lock")

// Locker serializes first-access key creation for an owner across processes.
type Locker interface {
	Lock(ctx context.Context, owner string) (unlock func(), err error)
}

// RedisLocker is a SET NX PX lease lock. The lease bounds how long a crashed
// holder can block other creators; the unique index on owner remains the
// final guard.
type RedisLocker struct {
	cache *redis.Client
	ttl   time.Duration
	retry time.Duration
}

// NewRedisLocker builds a Locker on top of Redis.
func NewRedisLocker(cache *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{cache: cache, ttl: ttl, retry: 25 * time.Millisecond}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// Lock blocks until the lease for owner is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, owner string) (func(), error) {
	key := lockPrefix + owner
	token := uuid.NewString()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.cache.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrLockTimeout
			}
			return nil, err
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				releaseScript.Run(releaseCtx, l.cache, []string{key}, token) // best effort, lease expires anyway
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrLockTimeout
		case <-ticker.C:
		}
	}
}
