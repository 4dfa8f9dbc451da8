package callsync

import (
	"context"
	"time"

	"insight-call-flow/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Locker keeps at most one sync per organization running across instances.
type Locker interface {
	TryLock(ctx context.Context, orgID string) (release func(), ok bool, err error)
}

const syncLockScope = "telfin_sync"

// RedisLocker is a Locker on top of the redis concurrency cap with a limit of one.
// The TTL bounds how long a crashed instance can hold the slot.
type RedisLocker struct {
	rdb redis.Scripter
	ttl time.Duration
}

func NewRedisLocker(rdb redis.Scripter, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, orgID string) (func(), bool, error) {
	key := utils.ConcurrencyKey(syncLockScope, orgID)
	ok, err := utils.AcquireConcurrencyCap(ctx, l.rdb, key, 1, l.ttl)
	if err != nil || !ok {
		return func() {}, ok, err
	}
	release := func() {
		// The run's ctx may already be cancelled; release must still happen.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = utils.ReleaseConcurrencyCap(rctx, l.rdb, key)
	}
	return release, true, nil
}
