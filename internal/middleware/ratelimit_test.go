package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < 5; i++ {
		if !rl.Allow("webhook", 5, time.Minute) {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}
	if rl.Allow("webhook", 5, time.Minute) {
		t.Error("call over the limit should be denied")
	}
	if !rl.Allow("other", 5, time.Minute) {
		t.Error("different key must have its own bucket")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < 3; i++ {
		rl.Allow("k", 3, 10*time.Millisecond)
	}
	if rl.Allow("k", 3, 10*time.Millisecond) {
		t.Error("should be blocked within the window")
	}

	time.Sleep(15 * time.Millisecond)

	if !rl.Allow("k", 3, 10*time.Millisecond) {
		t.Error("should be allowed once the window lapses")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter()

	rl.Allow("lapsed", 5, 10*time.Millisecond)
	time.Sleep(15 * time.Millisecond)
	rl.Allow("live", 5, time.Minute)

	rl.Cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.buckets["lapsed"]; ok {
		t.Error("lapsed bucket should have been dropped")
	}
	if _, ok := rl.buckets["live"]; !ok {
		t.Error("live bucket should survive cleanup")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter()
	keyFunc := func(r *http.Request) string { return "1.2.3.4" }

	handler := RateLimit(rl, keyFunc, 2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/webhooks/stripe", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/webhooks/stripe", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("over-limit request: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}

	// Same client on a different route is keyed separately.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/webhooks/messages", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("separate route: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRealIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "9.9.9.9, 10.0.0.1"}, "10.0.0.2:1234", "9.9.9.9"},
		{"single forwarded", map[string]string{"X-Forwarded-For": "9.9.9.9"}, "10.0.0.2:1234", "9.9.9.9"},
		{"real ip header", map[string]string{"X-Real-IP": "8.8.8.8"}, "10.0.0.2:1234", "8.8.8.8"},
		{"remote addr", nil, "10.0.0.2:1234", "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := RealIP(req); got != tt.want {
				t.Errorf("RealIP = %q, want %q", got, tt.want)
			}
		})
	}
}
