package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	counts map[string]int64
	err    error
}

func (f *fakeCounter) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	return f.counts[key], nil
}

func fixedLimiter(limit int, counter Counter) *RateLimiter {
	rl := NewRateLimiter(limit, counter)
	now := time.Date(2026, 3, 10, 12, 0, 30, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl
}

func TestRateLimiter_UsesCounter(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int64{}}
	rl := fixedLimiter(2, counter)
	ctx := context.Background()

	assert.True(t, rl.Allow(ctx, "10.0.0.1"))
	assert.True(t, rl.Allow(ctx, "10.0.0.1"))
	assert.False(t, rl.Allow(ctx, "10.0.0.1"))
	assert.True(t, rl.Allow(ctx, "10.0.0.2"))

	assert.Contains(t, counter.counts, "ratelimit:ip:10.0.0.1:1773144000")
}

func TestRateLimiter_FallsBackToLocal(t *testing.T) {
	rl := fixedLimiter(1, &fakeCounter{err: errors.New("redis down")})
	ctx := context.Background()

	assert.True(t, rl.Allow(ctx, "10.0.0.1"))
	assert.False(t, rl.Allow(ctx, "10.0.0.1"))
}

func TestRateLimiter_NewWindowResets(t *testing.T) {
	rl := NewRateLimiter(1, nil)
	now := time.Date(2026, 3, 10, 12, 0, 30, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	require.True(t, rl.Allow(ctx, "10.0.0.1"))
	require.False(t, rl.Allow(ctx, "10.0.0.1"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow(ctx, "10.0.0.1"))
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := fixedLimiter(1, nil)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(method string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/functions/v1/classify-article", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, send(http.MethodPost).Code)

	rec := send(http.MethodPost)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error": "Rate limit exceeded. Please try again later.", "code": "RATE_LIMIT"}`, rec.Body.String())

	// Preflight requests are never counted.
	assert.Equal(t, http.StatusNoContent, send(http.MethodOptions).Code)
}

func TestRateLimiter_RotatingForwardedForSharesBudget(t *testing.T) {
	rl := fixedLimiter(2, nil)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for _, forwarded := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents", nil)
		req.RemoteAddr = "192.0.2.50:41000"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded_header_ignored", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.2:5000", "10.0.0.2"},
		{"real_ip_header_ignored", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:5000", "10.0.0.2"},
		{"remote_addr", nil, "192.0.2.7:41000", "192.0.2.7"},
		{"remote_without_port", nil, "192.0.2.7", "192.0.2.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}

func TestRecovery(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error": "Internal server error", "code": "INTERNAL_ERROR"}`, rec.Body.String())
}
