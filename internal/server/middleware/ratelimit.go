package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	cleanupInterval = 3 * time.Minute
	idleTTL         = 5 * time.Minute
)

// ipLimiter holds a token bucket and last-seen time per IP.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// EdgeLimiter is a per-IP token bucket applied before any route logic.
type EdgeLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
	now      func() time.Time
}

// NewEdgeLimiter returns an EdgeLimiter allowing rps requests per second with the given burst.
// Call Run to evict idle addresses.
func NewEdgeLimiter(rps float64, burst int) *EdgeLimiter {
	if burst < 1 {
		burst = 1
	}
	return &EdgeLimiter{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

func (l *EdgeLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.limiters[ip]
	if !ok {
		v = &ipLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Run evicts addresses idle for more than five minutes until ctx is done.
func (l *EdgeLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *EdgeLimiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idleTTL)
	for ip, v := range l.limiters {
		if v.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

// size returns the number of tracked addresses.
func (l *EdgeLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Middleware rejects requests over the per-IP rate with 429.
func (l *EdgeLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		lim := l.get(ClientIP(c.Request))
		if !lim.Allow() {
			retry := time.Second
			if l.rps > 0 {
				retry = time.Duration(float64(time.Second) / float64(l.rps))
			}
			secs := int64((retry + time.Second - 1) / time.Second)
			c.Header("Retry-After", strconv.FormatInt(secs, 10))
			AbortWithError(c, http.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
			return
		}
		c.Next()
	}
}
