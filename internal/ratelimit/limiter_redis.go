package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares fixed-window counters across instances. Each window
// gets its own key (INCR) whose expiry is pinned to the window boundary plus
// one grace window, so counters clean themselves up.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, class Class) (bool, error) {
	class = normalizeClass(class)
	now := l.now()
	windowID := currentWindowID(now, class.Window)
	k := l.key(class.Name, key, windowID)

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		boundary := time.UnixMilli((windowID + 2) * class.Window.Milliseconds())
		if err := l.client.PExpireAt(ctx, k, boundary).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(class.Limit), nil
}

func (l *RedisLimiter) RemainingTime(ctx context.Context, key string, class Class) (time.Duration, error) {
	class = normalizeClass(class)
	now := l.now()
	windowID := currentWindowID(now, class.Window)

	count, err := l.client.Get(ctx, l.key(class.Name, key, windowID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if count <= int64(class.Limit) {
		return 0, nil
	}
	return timeToBoundary(now, windowID, class.Window), nil
}

func (l *RedisLimiter) key(class, key string, windowID int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", l.prefix, class, key, windowID)
}
