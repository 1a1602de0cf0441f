package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// Limiter is a fixed-window counter keyed by client IP, used on the
// HTTP surface (upgrade requests, ops endpoints)
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*window // per-IP windows
	max     int                // requests per window
	per     time.Duration      // window size
}

type window struct {
	ts    time.Time // window start
	count int       // requests used
}

// New creates an IP-based limiter allowing max requests per window
func New(max int, per time.Duration) *Limiter {
	return &Limiter{buckets: map[string]*window{}, max: max, per: per}
}

// Middleware enforces the rate limit before calling the next handler
func (r *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ip, _, _ := net.SplitHostPort(req.RemoteAddr)

		r.mu.Lock()
		b := r.buckets[ip]
		if b == nil || time.Since(b.ts) > r.per {
			b = &window{ts: time.Now()}
			r.buckets[ip] = b
		}
		if b.count >= r.max {
			r.mu.Unlock()
			http.Error(w, "rate limit", http.StatusTooManyRequests)
			return
		}
		b.count++
		r.mu.Unlock()

		next.ServeHTTP(w, req)
	})
}

// Bucket is a token bucket for one websocket connection's inbound
// events: refills at rate tokens/second up to burst. Each connection has
// its own bucket and its own read loop, so no lock is needed.
type Bucket struct {
	rate   float64
	burst  int
	tokens float64
	last   time.Time
}

// NewBucket creates a full bucket
func NewBucket(rate float64, burst int) *Bucket {
	return &Bucket{rate: rate, burst: burst, tokens: float64(burst), last: time.Now()}
}

// Allow spends one token if available
func (b *Bucket) Allow() bool {
	now := time.Now()
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	b.last = now
	if b.tokens > float64(b.burst) {
		b.tokens = float64(b.burst)
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}
