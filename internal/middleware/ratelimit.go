package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter allows a fixed number of requests per client IP per window.
// Refresh endpoints use it so a misbehaving consumer cannot hammer the n8n
// server through the daemon.
type RateLimiter struct {
	requests map[string]*clientLimit
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
}

type clientLimit struct {
	count     int
	resetTime time.Time
}

func NewRateLimiter(requestsPerWindow int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string]*clientLimit),
		limit:    requestsPerWindow,
		window:   window,
		now:      time.Now,
	}
}

// Run drops expired client entries every window until ctx ends.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.prune()
		}
	}
}

func (rl *RateLimiter) prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, limit := range rl.requests {
		if now.After(limit.resetTime) {
			delete(rl.requests, key)
			removed++
		}
	}
	return removed
}

// allow records a request from key and reports whether it is within the
// limit, along with the remaining budget and the window reset time.
func (rl *RateLimiter) allow(key string) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	limit, exists := rl.requests[key]
	if !exists || now.After(limit.resetTime) {
		limit = &clientLimit{resetTime: now.Add(rl.window)}
		rl.requests[key] = limit
	}

	if limit.count >= rl.limit {
		return false, 0, limit.resetTime
	}
	limit.count++
	return true, rl.limit - limit.count, limit.resetTime
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, remaining, reset := rl.allow(c.ClientIP())

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if !ok {
			retryAfter := int(reset.Sub(rl.now()).Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"kind":        "rate_limited",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
