package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/54b3r/brandrag/internal/logging"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// fixedLimiter returns a limiter whose clock only moves when the test says so.
func fixedLimiter(t *testing.T, rps float64, burst int) (*rateLimiter, *time.Time) {
	t.Helper()
	rl, stop := newRateLimiter(rps, burst, logging.Discard())
	t.Cleanup(stop)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func hit(h http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/vectors", nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BurstThenRefill(t *testing.T) {
	t.Parallel()

	rl, now := fixedLimiter(t, 1, 3)
	h := rl.middleware(okHandler)

	for i := range 3 {
		if w := hit(h, "10.0.0.1:9999"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 inside the burst, got %d", i, w.Code)
		}
	}
	if w := hit(h, "10.0.0.1:9999"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the burst, got %d", w.Code)
	}

	*now = now.Add(time.Second)
	if w := hit(h, "10.0.0.1:9999"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 after one token refilled, got %d", w.Code)
	}
}

func TestRateLimit_RetryAfterReflectsRefillRate(t *testing.T) {
	t.Parallel()

	// One token every four seconds.
	rl, _ := fixedLimiter(t, 0.25, 1)
	h := rl.middleware(okHandler)

	hit(h, "10.0.0.2:1234")
	w := hit(h, "10.0.0.2:1234")

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "4" {
		t.Errorf("Retry-After: got %q, want %q", got, "4")
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON error body, got Content-Type %q", ct)
	}
}

func TestRateLimit_RejectionDoesNotSpendTokens(t *testing.T) {
	t.Parallel()

	rl, now := fixedLimiter(t, 1, 1)
	h := rl.middleware(okHandler)

	hit(h, "10.0.0.3:1")
	for range 5 {
		hit(h, "10.0.0.3:1")
	}
	*now = now.Add(time.Second)
	if w := hit(h, "10.0.0.3:1"); w.Code != http.StatusOK {
		t.Fatalf("rejected requests must not borrow future tokens, got %d", w.Code)
	}
}

func TestRateLimit_PerIPIsolation(t *testing.T) {
	t.Parallel()

	rl, _ := fixedLimiter(t, 0.001, 1)
	h := rl.middleware(okHandler)

	for range 5 {
		hit(h, "192.168.1.1:1111")
	}
	if w := hit(h, "192.168.1.2:2222"); w.Code != http.StatusOK {
		t.Errorf("second address: expected 200, got %d", w.Code)
	}
}

func TestRateLimit_ThrottleHook(t *testing.T) {
	t.Parallel()

	rl, _ := fixedLimiter(t, 0.001, 1)
	throttled := 0
	rl.onThrottle = func(*http.Request) { throttled++ }
	h := rl.middleware(okHandler)

	for range 3 {
		hit(h, "10.0.0.4:1")
	}
	if throttled != 2 {
		t.Errorf("onThrottle calls: got %d, want 2", throttled)
	}
}

func TestRateLimit_EvictsIdleAddresses(t *testing.T) {
	t.Parallel()

	rl, now := fixedLimiter(t, 1, 1)
	h := rl.middleware(okHandler)

	hit(h, "10.0.0.5:1")
	*now = now.Add(staleAfter - time.Second)
	hit(h, "10.0.0.6:1")

	*now = now.Add(2 * time.Second)
	if n := rl.evict(); n != 1 {
		t.Fatalf("evicted: got %d, want 1", n)
	}
	if rl.size() != 1 {
		t.Errorf("buckets left: got %d, want 1", rl.size())
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()

	cases := map[time.Duration]int{
		0:                       1,
		300 * time.Millisecond:  1,
		time.Second:             1,
		1500 * time.Millisecond: 2,
		10 * time.Second:        10,
	}
	for d, want := range cases {
		if got := retryAfterSeconds(d); got != want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", d, got, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		remoteAddr string
		wantIP     string
	}{
		{"127.0.0.1:54321", "127.0.0.1"},
		{"::1:8080", "::1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"noport", "noport"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := clientIP(req); got != tc.wantIP {
			t.Errorf("remoteAddr=%q: expected %q, got %q", tc.remoteAddr, tc.wantIP, got)
		}
	}
}

func TestRateLimit_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	_, stop := newRateLimiter(1, 1, logging.Discard())
	stop()
	stop()
}
