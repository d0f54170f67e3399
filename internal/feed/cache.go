package feed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL is how long a viewer's ordering stays cached.
const DefaultCacheTTL = 60 * time.Second

// Generation identifies the invalidation state a cached ordering belongs
// to. Global moves on InvalidateAll, Viewer on Invalidate of that viewer.
type Generation struct {
	Global int64
	Viewer int64
}

// Cache stores the fully ordered candidate IDs of a viewer's last feed pass.
// Pages are cut from the cached ordering, so paging through a feed sees one
// consistent snapshot until the entry expires or is invalidated.
type Cache interface {
	// Get returns the cached ordering and whether it was present, together
	// with the generation observed. A pass that misses computes its ordering
	// and hands that generation back to Set.
	Get(ctx context.Context, viewerID string) ([]string, Generation, bool, error)
	// Set stores an ordering computed from state observed at gen. When an
	// invalidation landed since gen the ordering is stale and is dropped;
	// stored reports whether it was written.
	Set(ctx context.Context, viewerID string, gen Generation, ordered []string) (stored bool, err error)
	// Invalidate drops one viewer's ordering.
	Invalidate(ctx context.Context, viewerID string) error
	// InvalidateAll drops every cached ordering.
	InvalidateAll(ctx context.Context) error
}

type memoryEntry struct {
	ids       []string
	expiresAt time.Time
}

// MemoryCache is an in-process Cache with per-entry TTL.
// Thread-safe via RWMutex.
type MemoryCache struct {
	mu       sync.RWMutex
	ttl      time.Duration
	entries  map[string]memoryEntry // viewerID -> ordering
	global   int64
	versions map[string]int64 // viewerID -> Invalidate count since the last InvalidateAll
	now      func() time.Time
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		ttl:      ttl,
		entries:  make(map[string]memoryEntry),
		versions: make(map[string]int64),
		now:      time.Now,
	}
}

// generation returns the viewer's current generation. Caller must hold c.mu.
func (c *MemoryCache) generation(viewerID string) Generation {
	return Generation{Global: c.global, Viewer: c.versions[viewerID]}
}

// Get returns the cached ordering if it has not expired.
func (c *MemoryCache) Get(_ context.Context, viewerID string) ([]string, Generation, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	gen := c.generation(viewerID)
	e, ok := c.entries[viewerID]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, gen, false, nil
	}
	ids := make([]string, len(e.ids))
	copy(ids, e.ids)
	return ids, gen, true, nil
}

// Set stores an ordering for the viewer unless it was invalidated since gen.
func (c *MemoryCache) Set(_ context.Context, viewerID string, gen Generation, ordered []string) (bool, error) {
	ids := make([]string, len(ordered))
	copy(ids, ordered)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation(viewerID) != gen {
		return false, nil
	}
	c.entries[viewerID] = memoryEntry{ids: ids, expiresAt: c.now().Add(c.ttl)}
	return true, nil
}

// Invalidate drops one viewer's ordering.
func (c *MemoryCache) Invalidate(_ context.Context, viewerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, viewerID)
	c.versions[viewerID]++
	return nil
}

// InvalidateAll drops every cached ordering.
func (c *MemoryCache) InvalidateAll(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryEntry)
	c.versions = make(map[string]int64)
	c.global++
	return nil
}

// Redis key layout.
const (
	redisGenerationKey    = "wanderlog:feed:generation"
	redisEntryPrefix      = "wanderlog:feed:"
	redisViewerVersionKey = "wanderlog:feed:viewer-version:"
)

// redisViewerVersionTTL bounds how long a per-viewer invalidation counter
// lives. It only has to outlast one feed pass.
const redisViewerVersionTTL = 24 * time.Hour

// setIfCurrentScript writes an entry only while both counters still hold
// the values the pass started from.
var setIfCurrentScript = redis.NewScript(`
local global = redis.call("GET", KEYS[1]) or "0"
local viewer = redis.call("GET", KEYS[2]) or "0"
if global ~= ARGV[1] or viewer ~= ARGV[2] then
	return 0
end
redis.call("SET", KEYS[3], ARGV[3], "PX", ARGV[4])
return 1
`)

// cachedOrdering is the Redis payload of one viewer's ordering.
type cachedOrdering struct {
	IDs        []string  `json:"ids"`
	ComputedAt time.Time `json:"computed_at"`
}

// RedisCache is a Cache shared by all API instances. Entries are keyed by a
// generation counter, so InvalidateAll is a single INCR and stale entries
// simply expire.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) generation(ctx context.Context, viewerID string) (Generation, error) {
	vals, err := c.client.MGet(ctx, redisGenerationKey, viewerVersionKey(viewerID)).Result()
	if err != nil {
		return Generation{}, err
	}
	var gen Generation
	for i, dst := range []*int64{&gen.Global, &gen.Viewer} {
		raw, ok := vals[i].(string)
		if !ok {
			continue
		}
		if *dst, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return Generation{}, fmt.Errorf("malformed cache generation %q: %w", raw, err)
		}
	}
	return gen, nil
}

func entryKey(generation int64, viewerID string) string {
	return fmt.Sprintf("%sv%d:%s", redisEntryPrefix, generation, viewerID)
}

func viewerVersionKey(viewerID string) string {
	return redisViewerVersionKey + viewerID
}

// Get returns the cached ordering for the current generation.
func (c *RedisCache) Get(ctx context.Context, viewerID string) ([]string, Generation, bool, error) {
	gen, err := c.generation(ctx, viewerID)
	if err != nil {
		return nil, gen, false, fmt.Errorf("failed to read feed cache generation: %w", err)
	}

	raw, err := c.client.Get(ctx, entryKey(gen.Global, viewerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, fmt.Errorf("failed to read feed cache: %w", err)
	}

	var payload cachedOrdering
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, gen, false, fmt.Errorf("failed to decode feed cache entry: %w", err)
	}
	return payload.IDs, gen, true, nil
}

// Set stores an ordering under gen, atomically skipping the write when
// either counter moved since gen was read.
func (c *RedisCache) Set(ctx context.Context, viewerID string, gen Generation, ordered []string) (bool, error) {
	raw, err := json.Marshal(cachedOrdering{IDs: ordered, ComputedAt: time.Now().UTC()})
	if err != nil {
		return false, fmt.Errorf("failed to encode feed cache entry: %w", err)
	}

	keys := []string{redisGenerationKey, viewerVersionKey(viewerID), entryKey(gen.Global, viewerID)}
	stored, err := setIfCurrentScript.Run(ctx, c.client, keys,
		strconv.FormatInt(gen.Global, 10),
		strconv.FormatInt(gen.Viewer, 10),
		raw,
		c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to write feed cache: %w", err)
	}
	return stored == 1, nil
}

// Invalidate deletes the viewer's entry in the current generation and bumps
// the viewer's counter so an in-flight pass cannot write it back.
func (c *RedisCache) Invalidate(ctx context.Context, viewerID string) error {
	gen, err := c.generation(ctx, viewerID)
	if err != nil {
		return fmt.Errorf("failed to read feed cache generation: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, viewerVersionKey(viewerID))
	pipe.Expire(ctx, viewerVersionKey(viewerID), redisViewerVersionTTL)
	pipe.Del(ctx, entryKey(gen.Global, viewerID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete feed cache entry: %w", err)
	}
	return nil
}

// InvalidateAll moves every reader to a new generation.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	if err := c.client.Incr(ctx, redisGenerationKey).Err(); err != nil {
		return fmt.Errorf("failed to bump feed cache generation: %w", err)
	}
	return nil
}
