package kvstore

import (
	"context"
	"fmt"
	"time"

	"voucher-api/pkg/logging"

	"github.com/redis/go-redis/v9"
)

// Store is the expiring key-value contract the replay guard and rate
// limiter depend on. Any backend offering atomic increment, TTL expiry,
// and presence checks satisfies it.
type Store interface {
	// Increment atomically increments key and refreshes its expiry.
	// Returns the post-increment value.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// SetWithTTL stores value under key, expiring after ttl.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)
}

// ErrNotFound is returned by Get when a key is absent or expired.
var ErrNotFound = fmt.Errorf("kvstore: key not found")

const opTimeout = 3 * time.Second

// RedisStore backs the Store contract with Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	value, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Connect builds the key-value store for the deployment. When Redis is
// disabled or unreachable it degrades to the in-process store so the
// service stays available. The fallback keeps replay and rate-limit state
// process-local, which is only safe for single-instance deployments.
func Connect(url string, useRedis bool) Store {
	if useRedis && url != "" {
		store, err := NewRedisStore(url)
		if err == nil {
			logging.Infof("Redis connected successfully")
			return store
		}
		logging.Warnf("Redis unavailable, falling back to in-process store: %v", err)
	}
	return NewMemoryStore()
}
