package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 100
	defaultWindow            = time.Second
	maxWaitStep              = 250 * time.Millisecond
	keyPrefix                = "notification-engine:ratelimit"
)

// reserveScript keeps a sorted set of admitted timestamps per channel. It
// returns 0 when the call is admitted, otherwise the milliseconds until the
// oldest entry leaves the window.
var reserveScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
if redis.call("ZCARD", KEYS[1]) < limit then
  redis.call("ZADD", KEYS[1], now, ARGV[4])
  redis.call("PEXPIRE", KEYS[1], window)
  return 0
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local wait = tonumber(oldest[2]) + window - now
if wait < 1 then
  wait = 1
end
return wait
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a sliding-window limiter shared by every engine
// instance. Each channel has its own budget per window.
type RedisRateLimiter struct {
	client    *goredis.Client
	limit     int64
	overrides map[string]int64
	window    time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int, overrides map[string]int) (*RedisRateLimiter, error) {
	limiter, err := newRedisRateLimiter(client, int64(limitPerSec), time.Now, sleepWithContext)
	if err != nil {
		return nil, err
	}
	for channel, limit := range overrides {
		if limit > 0 {
			limiter.overrides[ratelimit.NormalizeChannel(channel)] = int64(limit)
		}
	}
	return limiter, nil
}

func newRedisRateLimiter(
	client *goredis.Client,
	limit int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limit <= 0 {
		limit = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:    client,
		limit:     limit,
		overrides: make(map[string]int64),
		window:    defaultWindow,
		now:       nowFn,
		sleep:     sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	wait, err := r.reserve(ctx, channel)
	if err != nil {
		return false, err
	}
	return wait == 0, nil
}

// Wait blocks until the channel admits the call. It sleeps for the delay
// reported by Redis, capped so a busy window is re-checked regularly.
func (r *RedisRateLimiter) Wait(ctx context.Context, channel string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		wait, err := r.reserve(ctx, channel)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}

		if err := r.sleep(ctx, min(wait, maxWaitStep)); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) reserve(ctx context.Context, channel string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}

	key := ratelimit.NormalizeChannel(channel)
	if key == "" {
		return 0, fmt.Errorf("channel is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	limit := r.limit
	if override, ok := r.overrides[key]; ok {
		limit = override
	}

	nowMs := r.now().UnixMilli()
	waitMs, err := reserveScript.Run(ctx, r.client,
		[]string{keyPrefix + ":" + key},
		nowMs, r.window.Milliseconds(), limit, uuid.NewString(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit for %s: %w", key, err)
	}

	return time.Duration(waitMs) * time.Millisecond, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
