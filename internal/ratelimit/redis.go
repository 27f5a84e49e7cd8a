package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "tradelens:rl:"

var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local window_ms = tonumber(ARGV[1])

local current = redis.call("INCR", key)
if current == 1 then
  redis.call("PEXPIRE", key, window_ms)
end

local ttl = redis.call("PTTL", key)
if ttl < 0 then
  redis.call("PEXPIRE", key, window_ms)
  ttl = window_ms
end

return {current, ttl}
`)

var _ Limiter = (*RedisLimiter)(nil)

// RedisLimiter shares windows between api-server replicas. Expiry is left to
// Redis so no sweeper is needed.
type RedisLimiter struct {
	client *redis.Client
	policy Policy
	prefix string
	now    func() time.Time
}

func NewRedis(client *redis.Client, policy Policy, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisLimiter{
		client: client,
		policy: policy.normalized(),
		prefix: prefix,
		now:    time.Now,
	}
}

func (l *RedisLimiter) Check(ctx context.Context, key string) (Result, error) {
	windowMS := l.policy.Window.Milliseconds()
	if windowMS <= 0 {
		return Result{}, fmt.Errorf("redis: rate limit %s: invalid window", key)
	}

	vals, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key}, windowMS).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("redis: rate limit %s: unexpected result length %d", key, len(vals))
	}

	count, ttlMS := int(vals[0]), vals[1]
	return Result{
		Allowed:   count <= l.policy.MaxRequests,
		Limit:     l.policy.MaxRequests,
		Remaining: remaining(l.policy.MaxRequests, count),
		ResetAt:   l.now().Add(time.Duration(ttlMS) * time.Millisecond),
	}, nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis: rate limit reset %s: %w", key, err)
	}
	return nil
}

func (l *RedisLimiter) Stats(ctx context.Context) (Stats, error) {
	tracked := 0
	iter := l.client.Scan(ctx, 0, l.prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		tracked++
	}
	if err := iter.Err(); err != nil {
		return Stats{}, fmt.Errorf("redis: rate limit stats: %w", err)
	}
	return Stats{
		Backend:     "redis",
		TrackedKeys: tracked,
		MaxRequests: l.policy.MaxRequests,
		WindowMS:    l.policy.Window.Milliseconds(),
	}, nil
}
