package middlewares

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more hit for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// MemoryLimiter is a per-process fixed window. Expired buckets are swept at
// most once per window so idle keys do not pile up.
type MemoryLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	limit     int
	clients   map[string]*clientBucket
	nextSweep time.Time
	now       func() time.Time
}

type clientBucket struct {
	count     int
	windowEnd time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		l.sweep(now)
		l.nextSweep = now.Add(l.window)
	}

	b, ok := l.clients[key]

	if !ok || now.After(b.windowEnd) {
		l.clients[key] = &clientBucket{
			count:     1,
			windowEnd: now.Add(l.window),
		}
		return true, 0, nil
	}

	if b.count >= l.limit {
		return false, b.windowEnd.Sub(now), nil
	}

	b.count++
	return true, 0, nil
}

func (l *MemoryLimiter) sweep(now time.Time) {
	for k, b := range l.clients {
		if now.After(b.windowEnd) {
			delete(l.clients, k)
		}
	}
}

// fixedWindow increments the counter and makes sure it carries a TTL in the
// same round trip. A key left without one (e.g. written by an older client)
// gets the window applied on its next hit.
var fixedWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisLimiter shares the fixed window across every instance of the API.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit, window: window, prefix: "ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := fixedWindow.Run(ctx, l.rdb, []string{l.prefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	if res[0] <= int64(l.limit) {
		return true, 0, nil
	}

	retry := time.Duration(res[1]) * time.Millisecond
	if retry <= 0 {
		retry = l.window
	}
	return false, retry, nil
}

type RateLimiter struct {
	limiter Limiter
	log     *slog.Logger
}

func NewRateLimiter(limiter Limiter, log *slog.Logger) *RateLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &RateLimiter{limiter: limiter, log: log}
}

// RateLimiterMiddleware enforces the limit for a derived key. A failing
// backend lets the request through rather than locking everyone out.
func (rl *RateLimiter) RateLimiterMiddleware(scope string, keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)

		if key == "" {
			// fallback to IP if key cannot be derived
			key = clientIP(c)
		}

		allowed, retryAfter, err := rl.limiter.Allow(c.Request.Context(), scope+":"+key)
		if err != nil {
			rl.log.WarnContext(c.Request.Context(), "rate limiter unavailable", "scope", scope, "err", err)
			c.Next()
			return
		}

		if !allowed {
			secs := int(retryAfter.Round(time.Second).Seconds())
			if secs < 0 {
				secs = 0
			}

			c.Header("Retry-After", strconv.Itoa(secs))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "rate_limited",
				"message": "Too many requests. Please try again shortly.",
			})
			return
		}

		c.Next()
	}
}

// helper functions

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

// For authenticated endpoints: rate limit by user id if available
func KeyByUserOrIP(c *gin.Context) string {
	u, ok := CurrentUser(c)

	if ok && u.ID != "" {
		return "user:" + u.ID
	}

	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)

	if err == nil && host != "" {
		return host
	}

	return ip
}
