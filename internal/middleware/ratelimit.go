package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"incident-monitor/internal/cache"
)

// Counter increments a counter that expires after window.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimiter is a fixed-window limiter keyed by client IP. Counts live in
// Redis when a Counter is configured, so every replica shares the same
// budget. The in-process cache takes over when no Counter is set or Redis
// fails.
type RateLimiter struct {
	limit   int
	window  time.Duration
	counter Counter
	local   *gocache.Cache
	now     func() time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerMinute per client.
// counter may be nil.
func NewRateLimiter(requestsPerMinute int, counter Counter) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	window := cache.RateLimitTTL
	return &RateLimiter{
		limit:   requestsPerMinute,
		window:  window,
		counter: counter,
		local:   gocache.New(window, 2*window),
		now:     time.Now,
	}
}

// Allow records one request for clientIP and reports whether it is within budget.
func (rl *RateLimiter) Allow(ctx context.Context, clientIP string) bool {
	key := cache.RateLimitKey(clientIP, rl.now().Truncate(rl.window))

	// Shared counter first, local window when Redis is absent or failing
	if rl.counter != nil {
		n, err := rl.counter.IncrWindow(ctx, key, rl.window)
		if err == nil {
			return n <= int64(rl.limit)
		}
		log.Warn().Err(err).Msg("Rate limit counter unavailable, using local window")
	}

	// Add only succeeds for the first request of a window
	if err := rl.local.Add(key, 1, rl.window); err == nil {
		return rl.limit >= 1
	}
	n, err := rl.local.IncrementInt(key, 1)
	if err != nil {
		return true
	}
	return n <= rl.limit
}

// Middleware rejects requests over budget with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Preflight requests are never counted
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)
		if !rl.Allow(r.Context(), clientIP) {
			log.Warn().
				Str("client_ip", clientIP).
				Str("url", r.URL.String()).
				Msg("Rate limit exceeded")

			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMIT", "Rate limit exceeded. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP address. Proxy headers are resolved by
// chi's RealIP middleware upstream, which rewrites RemoteAddr without a port.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
