package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, perMinute int) (*Limiter, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewLimiter(Config{RequestsPerMinute: perMinute})
	rl.now = c.Now
	t.Cleanup(rl.Stop)
	return rl, c
}

func TestLimiter_Allow(t *testing.T) {
	rl, c := newTestLimiter(t, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.1.1.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("1.1.1.1") {
		t.Error("4th request should be limited")
	}
	if !rl.Allow("2.2.2.2") {
		t.Error("other clients are not affected")
	}

	// Hammering does not extend the window.
	c.Advance(30 * time.Second)
	rl.Allow("1.1.1.1")
	c.Advance(31 * time.Second)
	if !rl.Allow("1.1.1.1") {
		t.Error("window should have reset")
	}

	if got := rl.GetMetrics(); got.TotalHits != 2 || got.ClientCount != 2 {
		t.Errorf("GetMetrics() = %+v, want 2 hits, 2 clients", got)
	}
}

func TestLimiter_RetryAfter(t *testing.T) {
	rl, c := newTestLimiter(t, 1)
	if rl.RetryAfter("x") != 0 {
		t.Error("unknown key has nothing to wait for")
	}
	rl.Allow("x")
	c.Advance(20 * time.Second)
	if got := rl.RetryAfter("x"); got != 40*time.Second {
		t.Errorf("RetryAfter() = %v, want 40s", got)
	}
}

func TestLimiter_Cleanup(t *testing.T) {
	rl, c := newTestLimiter(t, 5)
	rl.Allow("old")
	c.Advance(9 * time.Minute)
	rl.Allow("new")
	c.Advance(2 * time.Minute)

	if n := rl.cleanupStaleEntries(); n != 1 {
		t.Errorf("cleanupStaleEntries() = %d, want 1", n)
	}
	if rl.ActiveClients() != 1 {
		t.Errorf("ActiveClients() = %d, want 1", rl.ActiveClients())
	}
}

func TestLimiter_Middleware(t *testing.T) {
	rl, _ := newTestLimiter(t, 1)
	onlyPost := func(r *http.Request) bool { return r.Method == http.MethodPost }
	h := rl.Middleware(func(*http.Request) string { return "ip" }, onlyPost, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

	serve := func(method string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, "/login", nil))
		return rec
	}

	if rec := serve(http.MethodPost); rec.Code != http.StatusNoContent {
		t.Fatalf("first POST = %d", rec.Code)
	}
	rec := serve(http.MethodPost)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second POST = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	for i := 0; i < 3; i++ {
		if rec := serve(http.MethodGet); rec.Code != http.StatusNoContent {
			t.Errorf("GET should bypass the limiter, got %d", rec.Code)
		}
	}
}

func TestLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewLimiter(DefaultConfig())
	rl.Stop()
	rl.Stop()
}
