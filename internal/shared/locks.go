package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

// ErrEntityBusy indicates another transition holds the entity lock.
var ErrEntityBusy = errors.New("entity busy: transition in flight")

// EntityLocker serialises transitions per entity id using redis locks.
type EntityLocker struct {
	locker *redislock.Client
	ttl    time.Duration
}

// NewEntityLocker constructs an EntityLocker.
func NewEntityLocker(client redislock.RedisClient, ttl time.Duration) *EntityLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &EntityLocker{locker: redislock.New(client), ttl: ttl}
}

// EntityLockKey builds the lock key for a collection/id pair.
func EntityLockKey(collection, id string) string {
	return fmt.Sprintf("stockline:lock:%s:%s", collection, id)
}

// WithLock runs fn while holding the entity lock. A held lock surfaces
// ErrEntityBusy instead of blocking.
func (l *EntityLocker) WithLock(ctx context.Context, collection, id string, fn func(context.Context) error) error {
	if l == nil || l.locker == nil {
		return fn(ctx)
	}
	lock, err := l.locker.Obtain(ctx, EntityLockKey(collection, id), l.ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return ErrEntityBusy
		}
		return fmt.Errorf("%w: obtain lock: %v", ErrCollaboratorUnavailable, err)
	}
	defer func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}
