package cache

import (
	"fmt"
	"time"
)

const (
	StatsTTL     = 2 * time.Minute
	RateLimitTTL = time.Minute
)

// StatsKey generates Redis key for the aggregated incident stats
func StatsKey() string {
	return "cache:v1:incidents:stats"
}

// RateLimitKey generates Redis key for rate limiting within one window
func RateLimitKey(clientIP string, window time.Time) string {
	return fmt.Sprintf("ratelimit:ip:%s:%d", clientIP, window.Unix())
}
