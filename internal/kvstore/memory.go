package kvstore

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is the in-process substitute for Redis. Not safe for
// multi-instance deployments: replay protection and rate limiting become
// process-local.
type MemoryStore struct {
	mu     sync.Mutex
	data   map[string]string
	expiry map[string]time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:   make(map[string]string),
		expiry: make(map[string]time.Time),
	}
}

// cleanup drops expired keys. Caller must hold mu.
func (s *MemoryStore) cleanup() {
	now := time.Now()
	for key, deadline := range s.expiry {
		if !deadline.After(now) {
			delete(s.data, key)
			delete(s.expiry, key)
		}
	}
}

func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanup()

	value, _ := strconv.ParseInt(s.data[key], 10, 64)
	value++
	s.data[key] = strconv.FormatInt(value, 10)
	s.expiry[key] = time.Now().Add(ttl)
	return value, nil
}

func (s *MemoryStore) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanup()

	s.data[key] = value
	s.expiry[key] = time.Now().Add(ttl)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanup()

	value, ok := s.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanup()

	_, ok := s.data[key]
	return ok, nil
}
