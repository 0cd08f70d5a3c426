package metadata

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheBackend is the narrow storage interface the metadata provider caches
// episode lookups through. Mirrors the teacher's RedisCacheBackend shape
// from torrent-search/internal/search/cache_redis.go, generalised with an
// in-process fallback so a missing REDIS_ADDR degrades gracefully rather
// than disabling the cache outright.
type cacheBackend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

const redisCachePrefix = "anidown:tvdb:"

// redisCache stores episode-list responses in Redis with JSON serialization.
type redisCache struct {
	client *redis.Client
}

func newRedisCache(client *redis.Client) *redisCache {
	return &redisCache{client: client}
}

func (r *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, redisCachePrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (r *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, redisCachePrefix+key, value, ttl).Err()
}

// memCache is the in-process fallback used when no Redis address is
// configured. No eviction beyond TTL expiry — the metadata working set
// (per-series episode lists) is small enough that this never grows
// unbounded in practice.
type memCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	value   []byte
	expires time.Time
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]memEntry{}}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{value: value, expires: time.Now().Add(ttl)}
	return nil
}

func marshalCache[T any](v T) ([]byte, error) { return json.Marshal(v) }

func unmarshalCache[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
