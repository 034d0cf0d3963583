package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/oisdev/appraisal/internal/config"
	"github.com/oisdev/appraisal/pkg/logger"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cache keys shared by the roster and assessment services.
const (
	cacheKeyRoster    = "appraisal:roster"
	cacheKeyResponses = "appraisal:responses"
)

// Cache stores JSON-encoded values with a TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// NewCache returns a Redis cache when enabled and reachable, else an
// in-process one.
func NewCache(ctx context.Context, cfg *config.RedisConfig) Cache {
	if cfg == nil || !cfg.Enabled {
		return NewMemoryCache()
	}
	rc := NewRedisCache(cfg)
	if err := rc.client.Ping(ctx).Err(); err != nil {
		logger.Warnf("[Cache] Redis unreachable at %s, using in-process cache: %v", cfg.Addr, err)
		_ = rc.client.Close()
		return NewMemoryCache()
	}
	logger.Infof("[Cache] Using Redis at %s db=%d", cfg.Addr, cfg.DB)
	return rc
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return nil, false, nil
	}
	return e.data, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{data: data, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(cfg *config.RedisConfig) *RedisCache {
	return &RedisCache{client: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) Close() error { return c.client.Close() }

// cachedLoader collapses concurrent misses for the same key into one load.
// A load that overlaps an invalidation returns its result to its callers but
// does not cache it.
type cachedLoader struct {
	cache Cache
	group singleflight.Group

	mu   sync.Mutex
	gens map[string]uint64
}

func newCachedLoader(cache Cache) *cachedLoader {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &cachedLoader{cache: cache, gens: make(map[string]uint64)}
}

func (l *cachedLoader) generation(key string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gens[key]
}

// fetch decodes the cached value of key into dest, calling load on a miss.
// Cache failures are logged and fall through to load.
func (l *cachedLoader) fetch(ctx context.Context, key string, ttl time.Duration, dest any, load func(context.Context) (any, error)) error {
	if data, ok, err := l.cache.Get(ctx, key); err != nil {
		logger.Warnf("[Cache] get %s: %v", key, err)
	} else if ok {
		return json.Unmarshal(data, dest)
	}

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		gen := l.generation(key)
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if ttl > 0 && l.generation(key) == gen {
			if err := l.cache.Set(ctx, key, data, ttl); err != nil {
				logger.Warnf("[Cache] set %s: %v", key, err)
			}
			// An invalidation between the check and Set must still win.
			if l.generation(key) != gen {
				l.delete(ctx, key)
			}
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.([]byte), dest)
}

// invalidate drops keys and detaches loads already in flight, so the next
// fetch reads the store again.
func (l *cachedLoader) invalidate(ctx context.Context, keys ...string) {
	l.mu.Lock()
	for _, k := range keys {
		l.gens[k]++
		l.group.Forget(k)
	}
	l.mu.Unlock()
	l.delete(ctx, keys...)
}

func (l *cachedLoader) delete(ctx context.Context, keys ...string) {
	if err := l.cache.Delete(ctx, keys...); err != nil {
		logger.Warnf("[Cache] delete %v: %v", keys, err)
	}
}
