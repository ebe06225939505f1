// Package ratelimit throttles transport calls per delivery channel.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter controls message throughput per channel.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}

const defaultLocalLimitPerSec = 100

var _ RateLimiter = (*LocalLimiter)(nil)

// LocalLimiter is an in-process token bucket per channel. It backs single
// instance deployments and tests where Redis is not available.
type LocalLimiter struct {
	mu          sync.Mutex
	limitPerSec int
	overrides   map[string]int
	limiters    map[string]*rate.Limiter
}

// NewLocalLimiter allows limitPerSec messages per second on every channel,
// except those listed in overrides.
func NewLocalLimiter(limitPerSec int, overrides map[string]int) *LocalLimiter {
	if limitPerSec <= 0 {
		limitPerSec = defaultLocalLimitPerSec
	}

	normalized := make(map[string]int, len(overrides))
	for channel, limit := range overrides {
		if limit > 0 {
			normalized[NormalizeChannel(channel)] = limit
		}
	}

	return &LocalLimiter{
		limitPerSec: limitPerSec,
		overrides:   normalized,
		limiters:    make(map[string]*rate.Limiter),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, channel string) (bool, error) {
	limiter, err := l.limiter(channel)
	if err != nil {
		return false, err
	}
	return limiter.Allow(), nil
}

func (l *LocalLimiter) Wait(ctx context.Context, channel string) error {
	limiter, err := l.limiter(channel)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return limiter.Wait(ctx)
}

func (l *LocalLimiter) limiter(channel string) (*rate.Limiter, error) {
	key := NormalizeChannel(channel)
	if key == "" {
		return nil, fmt.Errorf("channel is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[key]
	if !ok {
		limit := l.limitPerSec
		if override, found := l.overrides[key]; found {
			limit = override
		}
		limiter = rate.NewLimiter(rate.Limit(limit), limit)
		l.limiters[key] = limiter
	}
	return limiter, nil
}

// NormalizeChannel returns the lower-case key used for a channel's bucket.
func NormalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}
