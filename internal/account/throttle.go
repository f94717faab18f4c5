package account

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle limits how often an action may be repeated for one key.
type Throttle interface {
	Allow(ctx context.Context, action, key string) (bool, error)
}

// RedisThrottle is a fixed-window counter: INCR on every attempt, EXPIRE when
// the window opens.
type RedisThrottle struct {
	redis  redis.Cmdable
	limit  int
	window time.Duration
}

func NewRedisThrottle(client redis.Cmdable, limit int, window time.Duration) *RedisThrottle {
	if limit <= 0 {
		limit = 3
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &RedisThrottle{redis: client, limit: limit, window: window}
}

func (t *RedisThrottle) Allow(ctx context.Context, action, key string) (bool, error) {
	redisKey := throttleKey(action, key)
	count, err := t.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("throttle incr: %w", err)
	}
	if count == 1 {
		if err := t.redis.Expire(ctx, redisKey, t.window).Err(); err != nil {
			return false, fmt.Errorf("throttle expire: %w", err)
		}
	}
	return count <= int64(t.limit), nil
}

func throttleKey(action, key string) string {
	return fmt.Sprintf("clup:throttle:%s:%s", action, key)
}

type noopThrottle struct{}

func (noopThrottle) Allow(context.Context, string, string) (bool, error) {
	return true, nil
}

// NoopThrottle allows everything. Used when no Redis is configured.
func NoopThrottle() Throttle {
	return noopThrottle{}
}
