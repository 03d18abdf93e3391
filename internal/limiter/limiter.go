// Package limiter throttles requests per client using local token buckets
// and an optional Redis sliding window shared across replicas.
package limiter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// ErrRateLimited indicates the client exceeded its allowance.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter enforces per-client limits.
type Limiter struct {
	enabled bool

	rps    float64
	burst  int
	window time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	idleTTL   time.Duration
	lastSweep time.Time

	redis redis.UniversalClient
	now   func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Config contains parameters for limiter construction.
type Config struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
	Window            time.Duration
	Redis             redis.UniversalClient
}

// New creates a Limiter from the supplied configuration. A disabled limiter
// allows everything.
func New(cfg Config) *Limiter {
	if !cfg.Enabled {
		return &Limiter{}
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(int(cfg.RequestsPerSecond*2), 1)
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	// An idle bucket is dropped only once it would have refilled anyway.
	idle := cfg.Window
	if cfg.RequestsPerSecond > 0 {
		idle = max(idle, time.Duration(float64(cfg.Burst)/cfg.RequestsPerSecond*float64(time.Second)))
	}
	return &Limiter{
		enabled: true,
		rps:     cfg.RequestsPerSecond,
		burst:   cfg.Burst,
		window:  cfg.Window,
		buckets: make(map[string]*bucket),
		idleTTL: idle,
		redis:   cfg.Redis,
		now:     time.Now,
	}
}

// Allow reports whether client may perform one more request.
func (l *Limiter) Allow(ctx context.Context, client string) error {
	if l == nil || !l.enabled || client == "" {
		return nil
	}
	if !l.allowLocal(client) {
		return ErrRateLimited
	}
	if l.redis != nil {
		ok, err := l.allowRedis(ctx, client)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRateLimited
		}
	}
	return nil
}

func (l *Limiter) allowLocal(client string) bool {
	now := l.now()

	l.mu.Lock()
	l.sweep(now)
	b := l.buckets[client]
	if b == nil {
		limit := rate.Inf
		if l.rps > 0 {
			limit = rate.Limit(l.rps)
		}
		b = &bucket{lim: rate.NewLimiter(limit, l.burst)}
		l.buckets[client] = b
	}
	b.seen = now
	l.mu.Unlock()

	return b.lim.AllowN(now, 1)
}

// sweep drops buckets idle for longer than idleTTL, at most once per idleTTL.
// Callers hold l.mu.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for client, b := range l.buckets {
		if now.Sub(b.seen) > l.idleTTL {
			delete(l.buckets, client)
		}
	}
}

var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

func (l *Limiter) allowRedis(ctx context.Context, client string) (bool, error) {
	now := l.now()
	res, err := slidingWindow.Run(ctx, l.redis,
		[]string{"workorderpro:rate:" + client},
		now.UnixMilli(), l.window.Milliseconds(), l.burst, now.UnixNano(),
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
