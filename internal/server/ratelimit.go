package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type RateLimiterConfig struct {
	// Per-IP limit for every request.
	GeneralRequestsPerMin int
	// Per-IP limit for login submissions.
	LoginAttemptsPerMin int
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool
	// CleanupInterval is how often stale buckets are purged.
	CleanupInterval time.Duration
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRequestsPerMin: 120,
		LoginAttemptsPerMin:   5,
		CleanupInterval:       5 * time.Minute,
	}
}

// tokenBucket is a token bucket refilled continuously.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(maxTokens float64, refillRate float64) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) allow() bool {
	now := time.Now()
	b.tokens = min(b.maxTokens, b.tokens+now.Sub(b.lastRefill).Seconds()*b.refillRate)
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *tokenBucket) stale(ttl time.Duration) bool {
	return time.Since(b.lastRefill) > ttl
}

// RateLimiter keeps one bucket per (scope, IP).
type RateLimiter struct {
	config RateLimiterConfig

	mu      sync.Mutex
	buckets map[bucketKey]*tokenBucket
	stopCh  chan struct{}
	once    sync.Once
}

type bucketKey struct {
	scope string
	ip    string
}

// NewRateLimiter starts a background cleanup goroutine. Call Stop to release
// it.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		buckets: make(map[bucketKey]*tokenBucket),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanup() {
	interval := rl.config.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.prune(10 * time.Minute)
		}
	}
}

func (rl *RateLimiter) prune(ttl time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, b := range rl.buckets {
		if b.stale(ttl) {
			delete(rl.buckets, k)
		}
	}
}

// Allow takes a token from the bucket of ip in scope, creating it with
// perMin tokens refilled per minute.
func (rl *RateLimiter) Allow(scope, ip string, perMin int) bool {
	if perMin <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	key := bucketKey{scope, ip}
	b, ok := rl.buckets[key]
	if !ok {
		b = newTokenBucket(float64(perMin), float64(perMin)/60.0)
		rl.buckets[key] = b
	}
	return b.allow()
}

// Middleware enforces perMin requests per client IP within scope and answers
// 429 beyond it.
func (rl *RateLimiter) Middleware(scope string, perMin int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(scope, rl.clientIP(r), perMin) {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) clientIP(r *http.Request) string {
	if rl.config.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
