// Package ratelimit throttles password reset requests per email address.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

var (
	ErrLimited          = errors.New("rate limited")
	ErrRedisUnavailable = errors.New("rate limit redis unavailable")
)

// Limiter admits or rejects one event for key.
type Limiter interface {
	// Allow returns ErrLimited when key is over its limit.
	Allow(ctx context.Context, key string) error
}

// Redis is a fixed-window limiter shared by every server instance.
type Redis struct {
	client redis.UniversalClient
	max    int
	window time.Duration
	prefix string
}

func NewRedis(client redis.UniversalClient, max int, window time.Duration) *Redis {
	return &Redis{client: client, max: max, window: window, prefix: "vetric:reset:"}
}

func (l *Redis) Allow(ctx context.Context, key string) error {
	k := l.prefix + key
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	if count > int64(l.max) {
		return ErrLimited
	}
	return nil
}

// Memory is a per-process token bucket limiter: max events per window,
// refilled evenly.
type Memory struct {
	mu       sync.Mutex
	limiters map[string]*memoryEntry
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

type memoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemory(max int, window time.Duration) *Memory {
	return &Memory{
		limiters: make(map[string]*memoryEntry),
		limit:    rate.Every(window / time.Duration(max)),
		burst:    max,
		now:      time.Now,
	}
}

func (l *Memory) Allow(_ context.Context, key string) error {
	now := l.now()

	l.mu.Lock()
	e, ok := l.limiters[key]
	if !ok {
		e = &memoryEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)
	l.mu.Unlock()

	if !allowed {
		return ErrLimited
	}
	return nil
}

// Sweep forgets keys not seen for idle.
func (l *Memory) Sweep(idle time.Duration) {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, k)
		}
	}
}

func (l *Memory) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
