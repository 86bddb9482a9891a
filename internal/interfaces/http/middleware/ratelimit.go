package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig bounds the request rate of each client.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate.
	RequestsPerSecond float64
	// BurstSize is the maximum burst size above the sustained rate.
	BurstSize int
	// KeyFunc extracts the rate limit key from a request; nil uses the
	// client IP.
	KeyFunc func(c *gin.Context) string
	// CleanupInterval is how often idle clients are forgotten.
	CleanupInterval time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter keeps one token bucket per key.
type ClientLimiter struct {
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	clients  map[string]*clientLimiter
	idle     time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewClientLimiter creates a limiter of r requests per second with burst.
// A positive cleanupInterval starts a goroutine that forgets clients idle
// for longer than it; Stop ends it.
func NewClientLimiter(r float64, burst int, cleanupInterval time.Duration) *ClientLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &ClientLimiter{
		rate:    rate.Limit(r),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
		idle:    cleanupInterval,
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go l.cleanupLoop()
	}
	return l
}

// Allow takes a token from key's bucket.
func (l *ClientLimiter) Allow(key string) bool {
	return l.reserve(key, time.Now())
}

func (l *ClientLimiter) reserve(key string, now time.Time) bool {
	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()
	return c.limiter.AllowN(now, 1)
}

func (l *ClientLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			l.cleanup(now)
		case <-l.stop:
			return
		}
	}
}

func (l *ClientLimiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > l.idle {
			delete(l.clients, key)
		}
	}
}

// Clients returns the number of tracked keys.
func (l *ClientLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Stop ends the cleanup goroutine.
func (l *ClientLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// RateLimit rejects requests over the limit with 429 and a Retry-After
// header.
func RateLimit(limiter *ClientLimiter, config RateLimitConfig) gin.HandlerFunc {
	keyFunc := config.KeyFunc
	if keyFunc == nil {
		keyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	retryAfter := 1
	if config.RequestsPerSecond > 0 && config.RequestsPerSecond < 1 {
		retryAfter = int(1/config.RequestsPerSecond + 0.5)
	}

	return func(c *gin.Context) {
		if limiter.Allow(keyFunc(c)) {
			c.Next()
			return
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"code":    "RATE_LIMITED",
			"message": "rate limit exceeded, please retry later",
		})
	}
}
