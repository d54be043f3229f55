// ratelimit.go enforces per-client request limits. The in-process token
// bucket covers single-instance deployments; the Redis-backed GCRA limiter
// holds the limit across replicas.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig sizes a limiter.
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained refill rate.
	RequestsPerMinute int
	// BurstSize caps how many requests may land at once.
	BurstSize int
	// CleanupInterval is how often idle client buckets are reclaimed.
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig sizes the general authenticated API limit.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200,
		BurstSize:         50, // dashboards fire several requests at once
		CleanupInterval:   5 * time.Minute,
	}
}

// AuthRateLimitConfig sizes the login/register limit. Deliberately tight:
// these endpoints are the credential-guessing surface.
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// QueryRateLimitConfig sizes the warehouse query limit.
func QueryRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// bucket is one client's token state.
type bucket struct {
	tokens   float64
	refilled time.Time
}

// refill advances the bucket to now at the configured rate, capped at burst.
func (b *bucket) refill(now time.Time, cfg RateLimitConfig) {
	perSecond := float64(cfg.RequestsPerMinute) / 60.0
	b.tokens += now.Sub(b.refilled).Seconds() * perSecond
	if burst := float64(cfg.BurstSize); b.tokens > burst {
		b.tokens = burst
	}
	b.refilled = now
}

// RateLimiter is an in-process token bucket limiter keyed by client.
type RateLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	buckets map[string]*bucket
	stopCh  chan struct{}
}

// NewRateLimiter creates a limiter and starts its idle-bucket reclamation
// loop. Call Stop on shutdown.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	go rl.reclaimIdle()
	return rl
}

func (rl *RateLimiter) reclaimIdle() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			rl.mu.Lock()
			for key, b := range rl.buckets {
				if b.refilled.Before(cutoff) {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop ends the reclamation loop.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Allow takes one token for key, reporting whether the request may proceed
// and how many tokens remain.
func (rl *RateLimiter) Allow(key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.cfg.BurstSize), refilled: now}
		rl.buckets[key] = b
	} else {
		b.refill(now, rl.cfg)
	}

	if b.tokens < 1 {
		return false, int(b.tokens)
	}
	b.tokens--
	return true, int(b.tokens)
}

// RateLimitMiddleware rejects requests over the limit with 429 and standard
// X-RateLimit headers.
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rateLimitKey(c)

		allowed, remaining := limiter.Allow(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.cfg.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": 60,
			})
			return
		}

		c.Next()
	}
}

// DistributedRateLimitMiddleware enforces the limit across replicas using
// redis_rate's GCRA. A Redis outage lets requests through; availability wins
// over strictness for a rate limiter.
func DistributedRateLimitMiddleware(rdb *redis.Client, cfg RateLimitConfig) gin.HandlerFunc {
	limiter := redis_rate.NewLimiter(rdb)
	limit := redis_rate.Limit{
		Rate:   cfg.RequestsPerMinute,
		Period: time.Minute,
		Burst:  cfg.BurstSize,
	}

	return func(c *gin.Context) {
		res, err := limiter.Allow(c.Request.Context(), rateLimitKey(c), limit)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if res.Allowed == 0 {
			retryAfter := int(res.RetryAfter / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}

// rateLimitKey buckets by authenticated user when known, else by client IP,
// so one noisy office NAT cannot exhaust every logged-in user's budget.
func rateLimitKey(c *gin.Context) string {
	if userID := c.GetString("user_id"); userID != "" {
		return "user:" + userID
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
