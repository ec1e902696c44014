package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"voucher-api/internal/kvstore"
)

func TestRateLimiterBoundary(t *testing.T) {
	limiter := NewRateLimiter(kvstore.NewMemoryStore(), 20, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		if err := limiter.Check(ctx, "10.0.0.1"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	if err := limiter.Check(ctx, "10.0.0.1"); !errors.Is(err, ErrRateExceeded) {
		t.Fatalf("request 21: got %v, want ErrRateExceeded", err)
	}
}

func TestRateLimiterPerAddress(t *testing.T) {
	limiter := NewRateLimiter(kvstore.NewMemoryStore(), 1, time.Minute)
	ctx := context.Background()

	if err := limiter.Check(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("first address: %v", err)
	}
	if err := limiter.Check(ctx, "10.0.0.1"); !errors.Is(err, ErrRateExceeded) {
		t.Fatalf("first address second request: got %v, want ErrRateExceeded", err)
	}

	// A different address has its own window
	if err := limiter.Check(ctx, "10.0.0.2"); err != nil {
		t.Fatalf("second address: %v", err)
	}
}
