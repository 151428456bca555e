package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRedisUnavailable  = errors.New("redis unavailable")
)

// Decision is the outcome of a single rate-limit check.
type Decision struct {
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter int // seconds
	Allowed    bool
}

type LimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
}

// Limiter is satisfied by both the Redis-backed and the in-memory
// implementation; the middleware only sees this.
type Limiter interface {
	Check(ctx context.Context, key string, config LimitConfig) (*Decision, error)
}

// RedisLimiter counts requests in Redis so the limit holds across replicas.
type RedisLimiter struct {
	client *redis.Client
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// incrScript bumps the counter and arms the TTL only on the first hit of
// the window, so the whole check is one atomic round trip.
var incrScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

func (l *RedisLimiter) Check(ctx context.Context, key string, config LimitConfig) (*Decision, error) {
	count, err := incrScript.Run(ctx, l.client, []string{key}, config.Window.Milliseconds()).Int()
	if err != nil {
		return nil, ErrRedisUnavailable
	}

	remaining := config.Rate - count
	if remaining < 0 {
		remaining = 0
	}

	return &Decision{
		Limit:      config.Rate,
		Remaining:  remaining,
		Reset:      time.Now().Add(config.Window),
		RetryAfter: int(config.Window.Seconds()),
		Allowed:    count <= config.Rate,
	}, nil
}

// MemoryLimiter is the single-process fallback used when no Redis address
// is configured. Sliding window over per-key request timestamps.
type MemoryLimiter struct {
	mu      sync.Mutex
	history map[string][]time.Time
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Check(_ context.Context, key string, config LimitConfig) (*Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-config.Window)

	kept := l.history[key][:0]
	for _, ts := range l.history[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= config.Rate {
		l.history[key] = kept
		retry := int(kept[0].Add(config.Window).Sub(now).Seconds()) + 1
		if retry < 1 {
			retry = 1
		}
		return &Decision{
			Limit:      config.Rate,
			Remaining:  0,
			Reset:      kept[0].Add(config.Window),
			RetryAfter: retry,
			Allowed:    false,
		}, nil
	}

	kept = append(kept, now)
	l.history[key] = kept
	return &Decision{
		Limit:     config.Rate,
		Remaining: config.Rate - len(kept),
		Reset:     now.Add(config.Window),
		Allowed:   true,
	}, nil
}
