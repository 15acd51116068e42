package exchange

import (
	"container/list"
	"log/slog"
	"sync"
)

// BuildFunc constructs the pattern for a key on a cache miss
type BuildFunc func(Key) (*Pattern, error)

type cacheEntry struct {
	hash    uint64
	pattern *Pattern
	elem    *list.Element
}

// Cache holds patterns by structural key. Lookups compare partitions and
// ownership maps by value, so arrays that were built separately but
// describe the same decomposition share one pattern. When the cache grows
// past its limit the least recently used pattern is dropped.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	build   BuildFunc
	logger  *slog.Logger

	buckets map[uint64][]*cacheEntry
	// Front is most recently used
	lru *list.List

	builds    int
	hits      int
	evictions int
}

// NewCache returns a cache holding at most maxSize patterns
func NewCache(maxSize int, build BuildFunc, logger *slog.Logger) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultCacheMaxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		maxSize: maxSize,
		build:   build,
		logger:  logger,
		buckets: make(map[uint64][]*cacheEntry),
		lru:     list.New(),
	}
}

// LookupOrBuild returns the cached pattern equal to key, building and
// inserting it on a miss. A failed build leaves the cache unchanged.
func (c *Cache) LookupOrBuild(key Key) (*Pattern, error) {
	h := key.Hash()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.buckets[h] {
		if e.pattern.Key.Equal(key) {
			e.pattern.Reused = true
			c.lru.MoveToFront(e.elem)
			c.hits++
			return e.pattern, nil
		}
	}

	p, err := c.build(key)
	if err != nil {
		return nil, err
	}
	c.builds++
	e := &cacheEntry{hash: h, pattern: p}
	e.elem = c.lru.PushFront(e)
	c.buckets[h] = append(c.buckets[h], e)
	c.logger.Debug("pattern built",
		"key", key.String(),
		"tags", p.NumTags(),
		"peers_send", len(p.SndRanks),
		"peers_recv", len(p.RcvRanks),
		"entries", c.lru.Len())

	for c.lru.Len() > c.maxSize {
		c.evict(c.lru.Back().Value.(*cacheEntry))
	}
	return p, nil
}

func (c *Cache) evict(e *cacheEntry) {
	c.lru.Remove(e.elem)
	bucket := c.buckets[e.hash]
	for i, b := range bucket {
		if b == e {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(c.buckets, e.hash)
	} else {
		c.buckets[e.hash] = bucket
	}
	c.evictions++
	c.logger.Debug("pattern evicted", "key", e.pattern.Key.String(), "reused", e.pattern.Reused)
}

// Flush drops every pattern
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lru.Len()
	c.buckets = make(map[uint64][]*cacheEntry)
	c.lru.Init()
	c.logger.Debug("pattern cache flushed", "entries", n)
}

// Len returns the number of cached patterns
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// MaxSize returns the eviction limit
func (c *Cache) MaxSize() int { return c.maxSize }

// Builds counts cache misses that built a pattern
func (c *Cache) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}

// Hits counts lookups served from the cache
func (c *Cache) Hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

// Evictions counts patterns dropped for space
func (c *Cache) Evictions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}

// Bytes estimates the memory held by cached tag lists
func (c *Cache) Bytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for e := c.lru.Front(); e != nil; e = e.Next() {
		n += e.Value.(*cacheEntry).pattern.Bytes()
	}
	return n
}
