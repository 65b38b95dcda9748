package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Bucket defines a token bucket: MaxRequests tokens refilled over Window.
type Bucket struct {
	MaxRequests int
	Window      time.Duration
}

func (b Bucket) limit() rate.Limit {
	if b.Window <= 0 || b.MaxRequests <= 0 {
		return rate.Inf
	}
	return rate.Every(b.Window / time.Duration(b.MaxRequests))
}

// DefaultBuckets are the built-in limits by name.
var DefaultBuckets = map[string]Bucket{
	"detect": {MaxRequests: 30, Window: time.Minute},
	"api":    {MaxRequests: 120, Window: time.Minute},
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is an in-memory token-bucket rate limiter per key.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]Bucket
	clients map[string]*client
	now     func() time.Time
}

// New creates a limiter. overrides replace entries of DefaultBuckets.
func New(overrides map[string]Bucket) *Limiter {
	buckets := make(map[string]Bucket, len(DefaultBuckets)+len(overrides))
	for k, v := range DefaultBuckets {
		buckets[k] = v
	}
	for k, v := range overrides {
		buckets[k] = v
	}
	return &Limiter{buckets: buckets, clients: make(map[string]*client), now: time.Now}
}

// Allow reports whether a request identified by key fits in bucket.
func (l *Limiter) Allow(key string, bucket Bucket) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(bucket.limit(), max(bucket.MaxRequests, 1))}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Check writes a 429 response and returns true if the caller is over the
// named bucket's budget.
func (l *Limiter) Check(w http.ResponseWriter, r *http.Request, bucketName string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[bucketName]
	l.mu.Unlock()
	if !ok {
		bucket = Bucket{MaxRequests: 60, Window: time.Minute}
	}

	if l.Allow(bucketName+":"+clientIP(r), bucket) {
		return false
	}

	retry := int(bucket.Window.Seconds()) / max(bucket.MaxRequests, 1)
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]any{
		"error":               "Rate limited",
		"retry_after_seconds": retry,
	})
	return true
}

// Prune forgets clients idle for longer than idle.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idle)
	n := 0
	for k, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, k)
			n++
		}
	}
	return n
}

// clientIP relies on chi's RealIP middleware having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
