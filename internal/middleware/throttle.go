package middleware

import (
	"net/http"
	"sync"
	"time"

	"affiliate-gateway/internal/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// IPThrottle is a coarse per-client-IP flood guard sitting in front of
// the gateway. It protects the process itself; the real per-tenant
// quotas are enforced by the persistent rate limiter.
type IPThrottle struct {
	limit     rate.Limit
	burst     int
	idleAfter time.Duration

	mu      sync.Mutex
	clients map[string]*throttledClient
}

type throttledClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPThrottle creates a throttle for the given requests-per-minute
// budget. A non-positive budget disables the throttle.
func NewIPThrottle(requestsPerMinute int) *IPThrottle {
	if requestsPerMinute <= 0 {
		return nil
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &IPThrottle{
		limit:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:     burst,
		idleAfter: 5 * time.Minute,
		clients:   make(map[string]*throttledClient),
	}
}

// Handler returns the gin middleware enforcing the throttle.
func (t *IPThrottle) Handler() gin.HandlerFunc {
	if t == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		if !t.limiterFor(c.ClientIP()).Allow() {
			response.ErrorJSON(c, http.StatusTooManyRequests, "throttled", "Too many requests from this address")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (t *IPThrottle) limiterFor(ip string) *rate.Limiter {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.clients[ip]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	limiter := rate.NewLimiter(t.limit, t.burst)
	t.clients[ip] = &throttledClient{limiter: limiter, lastSeen: now}
	t.evictIdleLocked(now)
	return limiter
}

func (t *IPThrottle) evictIdleLocked(now time.Time) {
	for ip, entry := range t.clients {
		if now.Sub(entry.lastSeen) > t.idleAfter {
			delete(t.clients, ip)
		}
	}
}
