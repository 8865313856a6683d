package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(rps float64, burst int, now *time.Time) *RateLimiter {
	rl := NewRateLimiter(rps, burst, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rl.now = func() time.Time { return *now }
	return rl
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rl := newTestLimiter(1, 3, &now)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d within burst", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"))

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("10.0.0.1"), "token refilled after one second")
	assert.False(t, rl.Allow("10.0.0.1"))
}

func TestRateLimiter_PerClient(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rl := newTestLimiter(1, 1, &now)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "other clients have their own bucket")
	assert.Equal(t, 2, rl.Clients())
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rl := newTestLimiter(1, 1, &now)

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")
	require.Equal(t, 2, rl.Clients())

	now = now.Add(limiterIdleTTL + time.Minute)
	rl.Allow("10.0.0.3")
	assert.Equal(t, 1, rl.Clients())
}

func TestRateLimiter_Handler(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rl := newTestLimiter(0.5, 1, &now)

	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/validate", nil)
		req.RemoteAddr = "192.0.2.7:51234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do().Code)

	rec := do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate_limited","message":"Too many requests"}`, rec.Body.String())
}

func TestClientIP(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", ClientIP(req))

	req.RemoteAddr = "unix-socket"
	assert.Equal(t, "unix-socket", ClientIP(req))
}
