package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript prunes, counts and conditionally appends in one
// atomic step. Scores are microseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  return {0, 0}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, math.ceil(window / 1000))
return {1, limit - count - 1}
`)

// RedisLimiter shares windows across gateway instances through a sorted set per key.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
	max    int
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client redis.UniversalClient, prefix string, window time.Duration, max int) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, window: window, max: max}
}

// Check implements Limiter.
func (l *RedisLimiter) Check(ctx context.Context, key string, now time.Time) (Result, error) {
	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.prefix + key},
		now.UnixMicro(),
		l.window.Microseconds(),
		l.max,
		fmt.Sprintf("%d-%s", now.UnixMicro(), uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(res) != 2 {
		return Result{}, fmt.Errorf("redis sliding window: unexpected reply %v", res)
	}
	return Result{Allowed: res[0] == 1, Remaining: int(res[1]), Limit: l.max}, nil
}
