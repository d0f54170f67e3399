package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// InMemoryRepository implements Repository with in-memory storage.
// Expired records are only removed by DeleteOlderThan.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewInMemoryRepository creates a new in-memory idempotency repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Get implements Repository.
func (r *InMemoryRepository) Get(_ context.Context, key string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	copied := *record
	return &copied, nil
}

// Store implements Repository.
func (r *InMemoryRepository) Store(_ context.Context, record *Record) error {
	if record.Key == "" {
		return ErrInvalidKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.Key]; exists {
		return ErrKeyExists
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now()
	}
	copied := *record
	r.records[record.Key] = &copied
	return nil
}

// DeleteOlderThan implements Repository.
func (r *InMemoryRepository) DeleteOlderThan(_ context.Context, age time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-age)
	var deleted int64
	for key, record := range r.records {
		if record.CreatedAt.Before(cutoff) {
			delete(r.records, key)
			deleted++
		}
	}
	return deleted, nil
}

const redisKeyPrefix = "wanderlog:idempotency:"

// RedisRepository implements Repository on Redis so that retries landing on
// another API instance still replay. Records expire through the key TTL.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRepository creates a Redis-backed repository whose records live
// for ttl.
func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = DefaultExpiry
	}
	return &RedisRepository{client: client, ttl: ttl}
}

// Get implements Repository.
func (r *RedisRepository) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency record: %w", err)
	}
	return &record, nil
}

// Store implements Repository with SET NX, so concurrent first requests
// cannot overwrite each other.
func (r *RedisRepository) Store(ctx context.Context, record *Record) error {
	if record.Key == "" {
		return ErrInvalidKey
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency record: %w", err)
	}
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+record.Key, raw, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to write idempotency record: %w", err)
	}
	if !ok {
		return ErrKeyExists
	}
	return nil
}

// DeleteOlderThan is a no-op; Redis expires records on its own.
func (r *RedisRepository) DeleteOlderThan(context.Context, time.Duration) (int64, error) {
	return 0, nil
}
