package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a sliding-window RateLimiter backed by a Redis sorted set
// per action class: ZADD records an attempt with its timestamp as both
// score and (uniquified) member, ZREMRANGEBYSCORE evicts anything older
// than the window, and ZCARD counts what's left. Gives the rate limiter a
// cross-process option for deployments running more than one dispatcher.
type RedisLimiter struct {
	client *redis.Client
	config Config
	prefix string
}

var _ RateLimiter = (*RedisLimiter)(nil)

// NewRedisLimiter wraps an existing *redis.Client. prefix namespaces the
// sorted-set keys this limiter touches.
func NewRedisLimiter(client *redis.Client, config Config, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, config: config, prefix: prefix}
}

func (l *RedisLimiter) key(action Action) string {
	name := fmt.Sprintf("ratelimit:%d", int(action))
	if l.prefix == "" {
		return name
	}
	return l.prefix + ":" + name
}

func (l *RedisLimiter) evict(ctx context.Context, key string, window time.Duration, now time.Time) error {
	cutoff := now.Add(-window).UnixNano()
	return l.client.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10)).Err()
}

// Check reports whether action would currently be allowed, without
// recording it.
func (l *RedisLimiter) Check(action Action) bool {
	ctx := context.Background()
	key := l.key(action)
	window := action.WindowDuration()
	now := time.Now()

	if err := l.evict(ctx, key, window, now); err != nil {
		return false
	}
	count, err := l.client.ZCard(ctx, key).Result()
	if err != nil {
		return false
	}
	return count < int64(l.config.limit(action))
}

// TryAcquire reports whether action is allowed under its limit and, if so,
// records it against the sliding window.
func (l *RedisLimiter) TryAcquire(action Action) bool {
	ctx := context.Background()
	key := l.key(action)
	window := action.WindowDuration()
	now := time.Now()

	if err := l.evict(ctx, key, window, now); err != nil {
		return false
	}
	count, err := l.client.ZCard(ctx, key).Result()
	if err != nil {
		return false
	}
	if count >= int64(l.config.limit(action)) {
		return false
	}

	score := float64(now.UnixNano())
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
	if err := l.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return false
	}
	return true
}

// Record is TryAcquire with the result discarded, for external tracking.
func (l *RedisLimiter) Record(action Action) {
	l.TryAcquire(action)
}

// CurrentCount returns the number of non-expired entries for action.
func (l *RedisLimiter) CurrentCount(action Action) int {
	ctx := context.Background()
	key := l.key(action)
	now := time.Now()

	if err := l.evict(ctx, key, action.WindowDuration(), now); err != nil {
		return 0
	}
	count, err := l.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0
	}
	return int(count)
}

// Remaining returns the remaining capacity for action, never negative.
func (l *RedisLimiter) Remaining(action Action) uint32 {
	limit := l.config.limit(action)
	current := uint32(l.CurrentCount(action))
	if current >= limit {
		return 0
	}
	return limit - current
}
