// Package ratelimit throttles API clients by IP with token buckets.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/mbd888/mevguard/internal/metrics"
)

const (
	defaultRPM = 60
	idleAfter  = 3 * time.Minute
)

type client struct {
	bucket *rate.Limiter
	seen   time.Time
}

// Limiter gives every client rpm requests per minute with a burst of a
// sixth of that (at least 5). Routes can be made more expensive with Cost.
type Limiter struct {
	rpm   int
	burst int
	skip  map[string]bool
	cost  map[string]int
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*client

	stop chan struct{}
	once sync.Once
}

// New starts a limiter and its idle-client sweeper. Call Stop when done.
func New(rpm int) *Limiter {
	if rpm <= 0 {
		rpm = defaultRPM
	}
	l := &Limiter{
		rpm:     rpm,
		burst:   max(rpm/6, 5),
		skip:    make(map[string]bool),
		cost:    make(map[string]int),
		now:     time.Now,
		clients: make(map[string]*client),
		stop:    make(chan struct{}),
	}
	go l.sweep(time.Minute)
	return l
}

// Skip exempts routes, e.g. probes and the metrics scrape.
func (l *Limiter) Skip(routes ...string) *Limiter {
	for _, r := range routes {
		l.skip[r] = true
	}
	return l
}

// Cost charges n tokens for a route instead of one. n is capped at the burst.
func (l *Limiter) Cost(route string, n int) *Limiter {
	l.cost[route] = min(max(n, 1), l.burst)
	return l
}

// Take spends n tokens for key. When the bucket is short it spends nothing
// and reports how long until n tokens are available.
func (l *Limiter) Take(key string, n int) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{bucket: rate.NewLimiter(rate.Limit(float64(l.rpm)/60), l.burst)}
		l.clients[key] = c
	}
	c.seen = now
	l.mu.Unlock()

	r := c.bucket.ReserveN(now, n)
	if !r.OK() {
		return false, time.Minute
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Len reports how many clients are being tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) evictIdle() {
	cutoff := l.now().Add(-idleAfter)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.clients {
		if c.seen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Middleware keys on gin's client IP and answers 429 with Retry-After.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if l.skip[route] {
			c.Next()
			return
		}

		n := 1
		if w, ok := l.cost[route]; ok {
			n = w
		}

		ok, wait := l.Take(c.ClientIP(), n)
		c.Header("X-RateLimit-Limit", strconv.Itoa(l.rpm))
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			metrics.RateLimitedTotal.Inc()
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": secs,
			})
			return
		}
		c.Next()
	}
}
