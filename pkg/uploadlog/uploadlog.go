// Package uploadlog keeps the per-upload status lines shown while an upload is processed.
package uploadlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Store appends and reads status lines for an upload.
type Store interface {
	Append(ctx context.Context, uploadID uuid.UUID, line string) error
	Lines(ctx context.Context, uploadID uuid.UUID) ([]string, error)
}

// Key returns the Redis list key for an upload.
func Key(uploadID uuid.UUID) string {
	return fmt.Sprintf("upload:%s:log", uploadID)
}

// RedisStore keeps each log as a Redis list that expires after ttl.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Append(ctx context.Context, uploadID uuid.UUID, line string) error {
	key := Key(uploadID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, line)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append upload log: %w", err)
	}
	return nil
}

func (s *RedisStore) Lines(ctx context.Context, uploadID uuid.UUID) ([]string, error) {
	lines, err := s.client.LRange(ctx, Key(uploadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read upload log: %w", err)
	}
	return lines, nil
}

// MemoryStore keeps logs in process memory with expiry. Used when Redis is not configured.
type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewMemoryStore creates a MemoryStore whose entries expire after ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{cache: cache.New(ttl, ttl/2+time.Minute)}
}

func (s *MemoryStore) Append(_ context.Context, uploadID uuid.UUID, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(uploadID)
	var lines []string
	if existing, ok := s.cache.Get(key); ok {
		lines = existing.([]string)
	}
	s.cache.SetDefault(key, append(lines, line))
	return nil
}

func (s *MemoryStore) Lines(_ context.Context, uploadID uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.cache.Get(Key(uploadID))
	if !ok {
		return []string{}, nil
	}
	lines := existing.([]string)
	return append([]string(nil), lines...), nil
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
