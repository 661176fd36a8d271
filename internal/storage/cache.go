package storage

import (
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"
)

// cacheSlots bounds the entry count of the underlying LRU; the effective
// bound is the byte budget enforced on top of it.
const cacheSlots = 1 << 16

// Cache is the bounded read-through cache in front of the storage area. Keys
// are opaque strings starting with the attachment uuid; values are always
// uncompressed payloads. Loads go through a single-flight group so bursty
// readers of the same attachment trigger one backend read.
type Cache struct {
	mu      sync.Mutex
	entries *simplelru.LRU[string, []byte]
	held    uint64
	maxSize uint64

	group singleflight.Group
}

// NewCache returns a cache bounded to maxBytes. A zero budget disables
// caching: every lookup misses and Add is a no-op.
func NewCache(maxBytes uint64) *Cache {
	c := &Cache{maxSize: maxBytes}
	entries, err := simplelru.NewLRU[string, []byte](cacheSlots, func(key string, value []byte) {
		c.held -= uint64(len(value))
	})
	if err != nil {
		panic(err)
	}
	c.entries = entries
	return c
}

// SetMaximumSize rebounds the byte budget, evicting the least recently used
// entries until the cache fits. Zero disables and purges the cache.
func (c *Cache) SetMaximumSize(maxBytes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = maxBytes
	if maxBytes == 0 {
		c.entries.Purge()
		return
	}
	for c.held > c.maxSize {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			break
		}
	}
}

// Fetch returns a copy of the cached payload for a key, refreshing its
// recency. Callers own the returned slice; the cache-resident buffer is
// never handed out.
func (c *Cache) Fetch(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true
}

// Add stores a payload. Payloads larger than the whole budget are not
// retained.
func (c *Cache) Add(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(key, value)
}

func (c *Cache) addLocked(key string, value []byte) {
	if c.maxSize == 0 || uint64(len(value)) > c.maxSize {
		return
	}
	// The evict callback is the single owner of the held counter, so an
	// existing entry is released through Remove rather than adjusted here.
	if _, ok := c.entries.Peek(key); ok {
		c.entries.Remove(key)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	c.entries.Add(key, stored)
	c.held += uint64(len(stored))
	for c.held > c.maxSize {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			break
		}
	}
}

// Invalidate drops every entry whose key starts with the given prefix,
// covering the full payload and any derived prefix-read entries of one
// attachment.
func (c *Cache) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.entries.Remove(key)
		}
	}
}

// GetOrLoad returns the cached payload or invokes the loader, caching its
// result. Concurrent callers missing on the same key share one loader
// invocation.
func (c *Cache) GetOrLoad(key string, loader func() ([]byte, error)) ([]byte, error) {
	if value, ok := c.Fetch(key); ok {
		return value, nil
	}
	value, err, _ := c.group.Do(key, func() (any, error) {
		if value, ok := c.Fetch(key); ok {
			return value, nil
		}
		loaded, err := loader()
		if err != nil {
			return nil, err
		}
		c.Add(key, loaded)
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

// HeldBytes reports the bytes currently retained, for tests and metrics.
func (c *Cache) HeldBytes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held
}
