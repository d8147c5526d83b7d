package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenBucketAllow(t *testing.T) {
	tests := []struct {
		name      string
		max       float64
		rate      float64
		calls     int
		wantAllow int
	}{
		{"allows up to max tokens", 3, 1, 5, 3},
		{"single token", 1, 1, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTokenBucket(tt.max, tt.rate)
			allowed := 0
			for range tt.calls {
				if b.allow() {
					allowed++
				}
			}
			if allowed != tt.wantAllow {
				t.Errorf("got %d allowed, want %d", allowed, tt.wantAllow)
			}
		})
	}
}

func TestTokenBucketRefill(t *testing.T) {
	b := newTokenBucket(2, 1000)
	b.allow()
	b.allow()
	if b.allow() {
		t.Fatal("expected bucket to be empty")
	}

	time.Sleep(10 * time.Millisecond)
	if !b.allow() {
		t.Error("expected bucket to have refilled after sleep")
	}
}

func newTestLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	cfg.CleanupInterval = time.Hour
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)
	return rl
}

func TestRateLimiterAllow_Scopes(t *testing.T) {
	rl := newTestLimiter(t, DefaultRateLimiterConfig())

	allowed := 0
	for range 10 {
		if rl.Allow("login", "192.0.2.1", 5) {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("got %d allowed, want 5", allowed)
	}
	if !rl.Allow("login", "192.0.2.2", 5) {
		t.Error("different IP should have its own bucket")
	}
	if !rl.Allow("general", "192.0.2.1", 5) {
		t.Error("different scope should have its own bucket")
	}
	if !rl.Allow("login", "192.0.2.1", 0) {
		t.Error("zero limit disables limiting")
	}
}

func TestRateLimiterPrune(t *testing.T) {
	rl := newTestLimiter(t, DefaultRateLimiterConfig())
	rl.Allow("general", "192.0.2.1", 5)
	rl.prune(-time.Second)
	rl.mu.Lock()
	n := len(rl.buckets)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("%d buckets left after prune", n)
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := newTestLimiter(t, DefaultRateLimiterConfig())
	handler := rl.Middleware("general", 3)(http.HandlerFunc(okHandler))

	okCount, limitedCount := 0, 0
	for range 10 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		switch rec.Code {
		case http.StatusOK:
			okCount++
		case http.StatusTooManyRequests:
			limitedCount++
			if rec.Header().Get("Retry-After") == "" {
				t.Error("429 without Retry-After")
			}
		}
	}
	if okCount != 3 || limitedCount != 7 {
		t.Errorf("got %d OK and %d limited, want 3 and 7", okCount, limitedCount)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trust      bool
		remoteAddr string
		xff        string
		want       string
	}{
		{"remote addr with port", false, "192.0.2.1:12345", "", "192.0.2.1"},
		{"remote addr without port", false, "192.0.2.1", "", "192.0.2.1"},
		{"ipv6", false, "[2001:db8::1]:443", "", "2001:db8::1"},
		{"xff ignored without trust", false, "127.0.0.1:80", "203.0.113.50", "127.0.0.1"},
		{"xff single", true, "127.0.0.1:80", "203.0.113.50", "203.0.113.50"},
		{"xff multiple", true, "127.0.0.1:80", "203.0.113.50, 70.41.3.18", "203.0.113.50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := &RateLimiter{config: RateLimiterConfig{TrustProxy: tt.trust}}
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := rl.clientIP(req); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
