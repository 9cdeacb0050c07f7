// internal/auth/ratelimit.go
package auth

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/seanankenbruck/ecommerce-insights/internal/errors"
	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
)

const clientIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client
type RateLimiter struct {
	limit     rate.Limit
	burst     int
	clients   map[string]*clientLimiter
	lastPrune time.Time
	now       func() time.Time
	mu        sync.Mutex
}

// NewRateLimiter creates a limiter refilling rps tokens per second up to burst
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:     rate.Limit(rps),
		burst:     burst,
		clients:   make(map[string]*clientLimiter),
		lastPrune: time.Now(),
		now:       time.Now,
	}
}

// Allow takes a token for clientID. When the bucket is empty it returns
// false and how long until the next token.
func (rl *RateLimiter) Allow(clientID string) (bool, time.Duration) {
	rl.mu.Lock()
	now := rl.now()
	c, ok := rl.clients[clientID]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[clientID] = c
	}
	c.lastSeen = now
	if now.Sub(rl.lastPrune) > clientIdleTTL {
		rl.pruneLocked(now)
	}
	rl.mu.Unlock()

	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (rl *RateLimiter) pruneLocked(now time.Time) {
	for id, c := range rl.clients {
		if now.Sub(c.lastSeen) > clientIdleTTL {
			delete(rl.clients, id)
		}
	}
	rl.lastPrune = now
}

// Stats returns the number of tracked clients and the bucket settings
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]interface{}{
		"tracked_clients":     len(rl.clients),
		"requests_per_second": float64(rl.limit),
		"burst":               rl.burst,
	}
}

// Middleware rejects requests over the client's budget with 429 and Retry-After
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, wait := rl.Allow(ClientID(c))
		if allowed {
			c.Next()
			return
		}

		seconds := int(math.Ceil(wait.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		retryAfter := strconv.Itoa(seconds)

		observability.GetGlobalMetrics().Inc("http_rate_limited_total", map[string]string{"path": c.FullPath()})
		c.Header("Retry-After", retryAfter)
		abortWithError(c, http.StatusTooManyRequests, errors.NewRateLimitedError(retryAfter+"s"))
	}
}

// ClientID identifies the caller for rate limiting: the authenticated user,
// else an API key prefix, else the client IP
func ClientID(c *gin.Context) string {
	if id, ok := GetCurrentUserID(c); ok {
		return "user:" + id
	}
	if key := c.GetHeader(apiKeyHeader); len(key) >= 12 {
		return "key:" + key[:12]
	}
	return "ip:" + c.ClientIP()
}
