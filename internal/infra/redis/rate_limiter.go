package redis

import (
	"context"
	"time"

	"checkout-orchestrator/internal/infra/metrics"
)

// RateLimiter counts hits per key in fixed windows. The window starts at the
// first hit and the counter and its expiry are set atomically.
type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow records one hit on key and reports whether it is within limit.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	n, err := r.client.IncrWindow(ctx, key, window)
	if err != nil {
		metrics.IncRateLimit("error")
		return false, err
	}
	if n > int64(limit) {
		metrics.IncRateLimit("limited")
		return false, nil
	}
	metrics.IncRateLimit("allowed")
	return true, nil
}

func CheckoutCreateKey(clientKey string) string {
	return "rate_limit:checkout:" + clientKey
}
