// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements a process-local token-bucket rate limiter keyed by
// caller identity. Buckets live in a bounded LRU whose entries expire after
// an idle TTL, so memory stays bounded without a sweeper.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	defaultBucketCapacity = 10000
	defaultBucketIdleTTL  = 10 * time.Minute
)

// KeyFunc selects the bucket a request draws from.
type KeyFunc func(*gin.Context) string

// KeyByActorOrIP prefers the X-Actor-ID identity and falls back to the
// client IP. Keys are namespaced ("actor:42", "ip:203.0.113.7").
func KeyByActorOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if id, ok := ActorID(c); ok {
			return "actor:" + strconv.FormatInt(id, 10)
		}
		return "ip:" + c.ClientIP()
	}
}

// RateLimiter hands out one token bucket per key. Safe for concurrent use.
type RateLimiter struct {
	rps     rate.Limit
	burst   int
	keyFn   KeyFunc
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter builds a limiter refilling rps tokens per second up to
// burst (coerced to >= 1).
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	return newRateLimiter(rps, burst, keyFn, defaultBucketCapacity, defaultBucketIdleTTL)
}

func newRateLimiter(rps float64, burst int, keyFn KeyFunc, capacity int, idle time.Duration) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyByActorOrIP()
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: expirable.NewLRU[string, *rate.Limiter](capacity, nil, idle),
	}
}

// bucket returns the limiter for key, creating it on first use. Re-adding an
// existing bucket refreshes its idle deadline.
func (rl *RateLimiter) bucket(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	lim, ok := rl.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(rl.rps, rl.burst)
	}
	rl.buckets.Add(key, lim)
	return lim
}

// IsRateBypass reports whether the request replays a remembered intent and
// must not consume tokens.
func IsRateBypass(c *gin.Context) bool {
	return c.GetBool(ctxKeyRateBypass)
}

// Handler enforces the limits. Over-limit requests get 429 with
// Retry-After and the standard error envelope.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) || rl.bucket(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.GetString(requestIDKey),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
