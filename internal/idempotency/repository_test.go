package idempotency

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func testRecord(key string) *Record {
	return &Record{
		Key:                key,
		Method:             "POST",
		Route:              "/v1/moments",
		ResponseHash:       ComputeResponseHash(`{"id":"m1"}`),
		ResponseBody:       `{"id":"m1"}`,
		ResponseStatusCode: 201,
	}
}

func TestInMemoryRepository_StoreAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() error = %v, want %v", err, ErrKeyNotFound)
	}

	record := testRecord("viewer:k1")
	if err := repo.Store(ctx, record); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if record.CreatedAt.IsZero() {
		t.Error("Store() should set CreatedAt")
	}

	got, err := repo.Get(ctx, "viewer:k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ResponseBody != record.ResponseBody || got.ResponseStatusCode != 201 {
		t.Errorf("Get() = %+v", got)
	}

	// Mutating the returned copy must not reach the stored record.
	got.ResponseBody = "changed"
	again, _ := repo.Get(ctx, "viewer:k1")
	if again.ResponseBody != record.ResponseBody {
		t.Error("stored record was mutated through a returned copy")
	}

	if err := repo.Store(ctx, testRecord("viewer:k1")); !errors.Is(err, ErrKeyExists) {
		t.Errorf("duplicate Store() error = %v, want %v", err, ErrKeyExists)
	}
	if err := repo.Store(ctx, testRecord("")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("empty key Store() error = %v, want %v", err, ErrInvalidKey)
	}
}

func TestInMemoryRepository_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	old := testRecord("old")
	old.CreatedAt = now.Add(-25 * time.Hour)
	fresh := testRecord("fresh")
	fresh.CreatedAt = now.Add(-time.Hour)
	for _, r := range []*Record{old, fresh} {
		if err := repo.Store(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := repo.DeleteOlderThan(ctx, DefaultExpiry)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := repo.Get(ctx, "old"); !errors.Is(err, ErrKeyNotFound) {
		t.Error("old record should be gone")
	}
	if _, err := repo.Get(ctx, "fresh"); err != nil {
		t.Error("fresh record should remain")
	}
}

func TestRedisRepository(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}

	repo := NewRedisRepository(client, time.Minute)
	key := "test:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	defer client.Del(context.Background(), redisKeyPrefix+key)

	if _, err := repo.Get(ctx, key); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() error = %v, want %v", err, ErrKeyNotFound)
	}
	if err := repo.Store(ctx, testRecord(key)); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := repo.Store(ctx, testRecord(key)); !errors.Is(err, ErrKeyExists) {
		t.Errorf("duplicate Store() error = %v, want %v", err, ErrKeyExists)
	}

	got, err := repo.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got.ResponseStatusCode != 201 || got.Route != "/v1/moments" {
		t.Errorf("Get() = %+v", got)
	}

	ttl := client.TTL(ctx, redisKeyPrefix+key).Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want within one minute", ttl)
	}
}

func TestRedisRepository_Unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()

	repo := NewRedisRepository(client, 0)
	_, err := repo.Get(context.Background(), "k")
	if err == nil || errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() error = %v, want a connection error", err)
	}
}
