package muatan

import (
	"context"
	"hash/fnv"
	"net/http"
	"sync"
	"time"
)

// CacheEntry is a cached response envelope.
type CacheEntry struct {
	Envelope   *Envelope
	StatusCode int
	ExpiresAt  time.Time
}

// Cache stores normalized envelopes for read calls.
type Cache interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry, ttl time.Duration)
	Delete(key string)
	Clear()
}

// InMemoryCache is a sharded in-memory cache.
type InMemoryCache struct {
	shards    []*cacheShard
	numShards int
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewInMemoryCache creates an empty cache with 16 shards.
func NewInMemoryCache() *InMemoryCache {
	const numShards = 16
	shards := make([]*cacheShard, numShards)
	for i := range shards {
		shards[i] = &cacheShard{store: make(map[string]*CacheEntry)}
	}
	return &InMemoryCache{shards: shards, numShards: numShards}
}

func (c *InMemoryCache) getShard(key string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(c.numShards)]
}

// Get returns a live entry. Expired entries are dropped on read.
func (c *InMemoryCache) Get(key string) (*CacheEntry, bool) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, exists := shard.store[key]
	if !exists {
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(shard.store, key)
		return nil, false
	}
	return entry, true
}

// Set stores an entry with the given TTL.
func (c *InMemoryCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry.ExpiresAt = time.Now().Add(ttl)
	shard.store[key] = entry
}

// Delete removes one entry.
func (c *InMemoryCache) Delete(key string) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.store, key)
}

// Clear empties every shard.
func (c *InMemoryCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*CacheEntry)
		shard.mu.Unlock()
	}
}

// Len reports the total number of live entries across shards.
func (c *InMemoryCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}

// DefaultCacheKeyFunc keys entries by method and full URL.
func DefaultCacheKeyFunc(req *http.Request) string {
	if req.URL == nil {
		return req.Method + ":"
	}
	return req.Method + ":" + req.URL.String()
}

// DefaultCacheCondition caches GET calls only.
func DefaultCacheCondition(req *http.Request) bool {
	return req.Method == http.MethodGet
}

// WithCacheControl attaches a per-request cache override to the context.
func WithCacheControl(ctx context.Context, cc CacheControl) context.Context {
	return context.WithValue(ctx, CacheControlKey, cc)
}

func cacheControlFromContext(ctx context.Context) (CacheControl, bool) {
	cc, ok := ctx.Value(CacheControlKey).(CacheControl)
	return cc, ok
}
