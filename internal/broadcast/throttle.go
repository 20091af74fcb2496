package broadcast

import (
	"context"
	"time"

	"blood-broadcast/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Throttle limits how often one requester may start a broadcast. Release
// returns a slot taken by a broadcast that failed before it was stored.
type Throttle interface {
	Allow(ctx context.Context, requesterID string) (bool, error)
	Release(ctx context.Context, requesterID string) error
}

// RedisThrottle is a fixed window per requester shared by every API instance.
type RedisThrottle struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	window time.Duration
}

func NewRedisThrottle(rdb redis.Scripter, prefix string, limit int, window time.Duration) *RedisThrottle {
	if prefix == "" {
		prefix = "broadcast"
	}
	return &RedisThrottle{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

func (t *RedisThrottle) key(requesterID string) string { return t.prefix + ":create:" + requesterID }

func (t *RedisThrottle) Allow(ctx context.Context, requesterID string) (bool, error) {
	return utils.AcquireWindowSlot(ctx, t.rdb, t.key(requesterID), t.limit, t.window)
}

func (t *RedisThrottle) Release(ctx context.Context, requesterID string) error {
	return utils.ReleaseWindowSlot(ctx, t.rdb, t.key(requesterID))
}
