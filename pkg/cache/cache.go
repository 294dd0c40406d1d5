package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/NodLabs/xviz/errors"
)

// EvictCallback is called, outside the cache lock, for every entry the cache
// drops on its own or through Remove and Purge.
type EvictCallback[K comparable, V any] func(key K, value V)

type entry[K comparable, V any] struct {
	key   K
	value V
}

// LRU evicts the least recently used entry once it holds more than its
// maximum size.
type LRU[K comparable, V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[K]*list.Element
	order   *list.List // front is most recent
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[K, V]
}

// New creates an LRU holding at most maxSize entries.
func New[K comparable, V any](maxSize int, opts ...Option[K, V]) (*LRU[K, V], error) {
	if maxSize < 1 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("max size must be >= 1, got %d", maxSize),
			"cache", "New", "validate size")
	}
	o := applyOptions(opts...)

	var m *cacheMetrics
	if o.metricsReg != nil {
		var err error
		m, err = newCacheMetrics(o.metricsReg, o.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "New", "metrics registration")
		}
	}

	return &LRU[K, V]{
		maxSize: maxSize,
		items:   make(map[K]*list.Element),
		order:   list.New(),
		stats:   NewStatistics(),
		metrics: m,
		evictFn: o.evictCallback,
	}, nil
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.stats.Miss()
		if c.metrics != nil {
			c.metrics.recordMiss()
		}
		var zero V
		return zero, false
	}

	c.order.MoveToFront(el)
	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	return el.Value.(*entry[K, V]).value, true
}

// Contains reports whether key is cached without touching recency or statistics.
func (c *LRU[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Add stores value under key. It reports whether an older entry was evicted
// to make room.
func (c *LRU[K, V]) Add(key K, value V) bool {
	c.mu.Lock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry[K, V]).value = value
		c.order.MoveToFront(el)
		c.mu.Unlock()
		return false
	}

	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value})

	var evicted *entry[K, V]
	if len(c.items) > c.maxSize {
		evicted = c.removeOldest()
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
	}
	c.updateSize()
	c.mu.Unlock()

	if evicted != nil && c.evictFn != nil {
		c.evictFn(evicted.key, evicted.value)
	}
	return evicted != nil
}

// GetOrLoad returns the cached value for key, or calls load and caches its
// result. Errors from load are returned and nothing is cached. Concurrent
// callers missing on the same key may each call load.
func (c *LRU[K, V]) GetOrLoad(key K, load func(K) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load(key)
	if err != nil {
		var zero V
		return zero, err
	}
	c.Add(key, v)
	return v, nil
}

// Remove drops key. It reports whether the key was present.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	e := el.Value.(*entry[K, V])
	delete(c.items, key)
	c.order.Remove(el)
	c.updateSize()
	c.mu.Unlock()

	if c.evictFn != nil {
		c.evictFn(e.key, e.value)
	}
	return true
}

// Purge drops every entry, oldest first.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	var dropped []*entry[K, V]
	if c.evictFn != nil {
		dropped = make([]*entry[K, V], 0, len(c.items))
		for el := c.order.Back(); el != nil; el = el.Prev() {
			dropped = append(dropped, el.Value.(*entry[K, V]))
		}
	}
	c.items = make(map[K]*list.Element)
	c.order.Init()
	c.updateSize()
	c.mu.Unlock()

	for _, e := range dropped {
		c.evictFn(e.key, e.value)
	}
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the keys from most to least recently used.
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}
	return keys
}

// Stats returns the cache statistics.
func (c *LRU[K, V]) Stats() *Statistics { return c.stats }

// removeOldest must be called with mu held.
func (c *LRU[K, V]) removeOldest() *entry[K, V] {
	el := c.order.Back()
	if el == nil {
		return nil
	}
	e := el.Value.(*entry[K, V])
	delete(c.items, e.key)
	c.order.Remove(el)
	return e
}

// updateSize must be called with mu held.
func (c *LRU[K, V]) updateSize() {
	n := len(c.items)
	c.stats.UpdateSize(int64(n))
	if c.metrics != nil {
		c.metrics.updateSize(n)
	}
}
