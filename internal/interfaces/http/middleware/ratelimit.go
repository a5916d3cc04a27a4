package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/storefront/backend/internal/interfaces/http/dto"
)

// RateLimiter keeps one token bucket per client key
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perSecond requests per key with the given burst
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		clients: make(map[string]*client),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

// Allow reports whether a request for key may proceed now
func (rl *RateLimiter) Allow(key string) bool {
	return rl.get(key).AllowN(rl.now(), 1)
}

// Remaining returns the whole tokens currently left for key
func (rl *RateLimiter) Remaining(key string) int {
	return int(rl.get(key).TokensAt(rl.now()))
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	c, ok := rl.clients[key]
	if !ok {
		rl.evictIdle(now)
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

// evictIdle must be called with mu held
func (rl *RateLimiter) evictIdle(now time.Time) {
	for key, c := range rl.clients {
		if now.Sub(c.lastSeen) > rl.idleTTL {
			delete(rl.clients, key)
		}
	}
}

// Len returns the number of tracked clients
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RateLimit limits requests per client IP
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return RateLimitByKey(limiter, func(c *gin.Context) string { return c.ClientIP() })
}

// RateLimitByKey limits requests per key returned by keyFunc
func RateLimitByKey(limiter *RateLimiter, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFunc(c)
		if !limiter.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeRateLimited, "Too many requests. Please try again later.", GetRequestID(c)))
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(key)))
		c.Next()
	}
}
