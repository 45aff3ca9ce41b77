package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

type Redis struct {
	Client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{Client: client}
}

const sweepLockTTL = 4 * time.Minute

// AcquireSweepLock takes the cross-instance reconciliation lock. Only one
// instance sweeps pending payments per interval; the TTL keeps a crashed
// holder from blocking the next sweep.
func (r *Redis) AcquireSweepLock(ctx context.Context, owner string) (bool, error) {
	return r.Client.SetNX(ctx, "reconciler_lock", owner, sweepLockTTL).Result()
}

// ReleaseSweepLock drops the lock if this owner still holds it.
func (r *Redis) ReleaseSweepLock(ctx context.Context, owner string) error {
	val, err := r.Client.Get(ctx, "reconciler_lock").Result()
	if err == redis.Nil {
		return nil // already expired
	}
	if err != nil {
		return err
	}
	if val == owner {
		_, err := r.Client.Del(ctx, "reconciler_lock").Result()
		return err
	}
	return nil // lock was taken over, leave it alone
}
