package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a client's bucket survives without traffic.
const limiterIdleTTL = 10 * time.Minute

// limiterSet holds one token bucket per client address.
type limiterSet struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*bucket
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newLimiterSet(rps, burst int) *limiterSet {
	return &limiterSet{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucket),
	}
}

// reserve takes a token for client. When none is available it returns how
// long the client should wait, and takes nothing.
func (s *limiterSet) reserve(client string, now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	b, ok := s.buckets[client]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[client] = b
	}
	b.lastSeen = now
	s.mu.Unlock()

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return time.Second, false
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return d, false
	}
	return 0, true
}

func (s *limiterSet) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client, b := range s.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(s.buckets, client)
		}
	}
}

// RateLimiter returns a Gin middleware allowing each client IP rps requests
// per second with bursts of up to burst. Rejected requests get 429 and a
// Retry-After derived from the client's bucket. Idle buckets are dropped
// until ctx is done.
func RateLimiter(ctx context.Context, rps, burst int) gin.HandlerFunc {
	set := newLimiterSet(rps, burst)

	go func() {
		ticker := time.NewTicker(limiterIdleTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				set.sweep(now)
			}
		}
	}()

	return func(c *gin.Context) {
		wait, ok := set.reserve(c.ClientIP(), time.Now())
		if ok {
			c.Next()
			return
		}
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		rateLimitedTotal.WithLabelValues(path).Inc()
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
	}
}
