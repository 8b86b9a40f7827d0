package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// okHandler is a trivial handler used to verify that allowed requests reach
// the downstream handler.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// TestRateLimit_AllowsUnderLimit verifies that requests within the burst
// capacity are passed through to the downstream handler.
func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(100, 5, slog.Default())
	defer stop()

	h := rl.middleware("chat", okHandler)

	for i := range 5 {
		req := httptest.NewRequest(http.MethodGet, "/chat", nil)
		req.RemoteAddr = "127.0.0.1:12345"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

// TestRateLimit_BlocksOverLimit verifies that requests exceeding the burst
// capacity receive 429 Too Many Requests.
func TestRateLimit_BlocksOverLimit(t *testing.T) {
	t.Parallel()

	// burst=2, rps=0.001: third request must be rejected immediately.
	rl, stop := newRateLimiter(0.001, 2, slog.Default())
	defer stop()

	h := rl.middleware("chat", okHandler)

	got429 := false
	for i := range 10 {
		req := httptest.NewRequest(http.MethodGet, "/chat", nil)
		req.RemoteAddr = "10.0.0.1:9999"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			if i < 2 {
				t.Errorf("request %d rejected inside the burst", i)
			}
			got429 = true
			break
		}
	}
	if !got429 {
		t.Error("expected at least one 429 response, got none")
	}
}

// TestRateLimit_RetryAfterHeader verifies that 429 responses include a
// Retry-After header.
func TestRateLimit_RetryAfterHeader(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, slog.Default())
	defer stop()

	h := rl.middleware("chat", okHandler)

	// First request consumes the single burst token.
	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	h.ServeHTTP(httptest.NewRecorder(), req)

	// Second request must be rejected with Retry-After.
	req2 := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req2.RemoteAddr = "10.0.0.2:1234"
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, req2)

	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w2.Code)
	}
	// One token per 1000s leaves roughly that long to wait.
	secs, err := strconv.Atoi(w2.Header().Get("Retry-After"))
	if err != nil || secs < 900 {
		t.Errorf("Retry-After: expected about 1000 seconds, got %q", w2.Header().Get("Retry-After"))
	}
	var body errorResponse
	if err := json.NewDecoder(w2.Body).Decode(&body); err != nil {
		t.Fatalf("decode 429 body: %v", err)
	}
	if body.Message == "" || body.Hint != "" {
		t.Errorf("unexpected 429 body: %+v", body)
	}
}

// TestRateLimit_ScopesAreIndependent verifies that exhausting the upload
// bucket leaves the same client's chat bucket untouched.
func TestRateLimit_ScopesAreIndependent(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, slog.Default())
	defer stop()

	upload := rl.middleware("upload", okHandler)
	chat := rl.middleware("chat", okHandler)

	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/upload/pdf", nil)
		req.RemoteAddr = "10.0.0.3:1234"
		upload.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.RemoteAddr = "10.0.0.3:1234"
	w := httptest.NewRecorder()
	chat.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("chat: expected 200, got %d", w.Code)
	}
	if n := rl.size(); n != 2 {
		t.Errorf("expected 2 buckets, got %d", n)
	}
}

// TestRateLimit_EvictsIdleBuckets verifies that buckets unused for longer
// than limiterIdleTTL are dropped.
func TestRateLimit_EvictsIdleBuckets(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(10, 10, slog.Default())
	defer stop()

	start := time.Now()
	rl.now = func() time.Time { return start }
	h := rl.middleware("chat", okHandler)
	for _, addr := range []string{"10.0.0.4:1", "10.0.0.5:1"} {
		req := httptest.NewRequest(http.MethodGet, "/chat", nil)
		req.RemoteAddr = addr
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	rl.evict(start.Add(time.Minute))
	if n := rl.size(); n != 2 {
		t.Fatalf("expected 2 live buckets, got %d", n)
	}
	rl.evict(start.Add(limiterIdleTTL + time.Second))
	if n := rl.size(); n != 0 {
		t.Errorf("expected all buckets evicted, got %d", n)
	}
}

// TestRateLimit_PerIPIsolation verifies that two different IPs have
// independent token buckets; exhausting one does not affect the other.
func TestRateLimit_PerIPIsolation(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, slog.Default())
	defer stop()

	h := rl.middleware("chat", okHandler)

	// Exhaust IP A.
	for range 5 {
		req := httptest.NewRequest(http.MethodGet, "/chat", nil)
		req.RemoteAddr = "192.168.1.1:1111"
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	// IP B should still be allowed.
	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.RemoteAddr = "192.168.1.2:2222"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("IP B: expected 200, got %d, should be independent of IP A", w.Code)
	}
}

// TestClientIP verifies that clientIP strips the port from RemoteAddr.
func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		remoteAddr string
		wantIP     string
	}{
		{"127.0.0.1:54321", "127.0.0.1"},
		{"10.0.0.1:80", "10.0.0.1"},
		{"[::1]:8080", "::1"},
		{"noport", "noport"},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		got := clientIP(req)
		if got != tc.wantIP {
			t.Errorf("remoteAddr=%q: expected %q, got %q", tc.remoteAddr, tc.wantIP, got)
		}
	}
}
