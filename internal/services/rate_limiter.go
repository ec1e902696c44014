package services

import (
	"context"
	"fmt"
	"time"

	"voucher-api/internal/kvstore"
)

// RateLimiter enforces a fixed-window request limit per client address.
// Windows are not sliding: a burst spanning a window edge may momentarily
// pass up to twice the limit. That approximation is accepted.
type RateLimiter struct {
	store  kvstore.Store
	limit  int64
	window time.Duration
}

// NewRateLimiter creates a limiter allowing limit requests per window.
func NewRateLimiter(store kvstore.Store, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{store: store, limit: int64(limit), window: window}
}

// Check counts one request from address and fails with ErrRateExceeded once
// the window's counter passes the limit. The increment and expiry refresh
// are atomic in the backing store.
func (l *RateLimiter) Check(ctx context.Context, address string) error {
	windowIndex := time.Now().Unix() / int64(l.window.Seconds())
	key := fmt.Sprintf("rl:ip:%s:%d", address, windowIndex)

	count, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if count > l.limit {
		return ErrRateExceeded
	}
	return nil
}
