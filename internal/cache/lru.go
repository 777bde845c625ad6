// Package cache provides the process-wide bounded cache shared by the
// embedding service and any backend adapter that opts into caching.
// This package is internal and should not be imported by external
// projects.
package cache

import (
	"errors"
	"sync"
)

// ErrBadCapacity is returned for a negative capacity. Capacity 0 is
// valid and disables caching (every lookup is a miss).
var ErrBadCapacity = errors.New("cache capacity must not be negative")

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
}

// HitRatePercent returns hits/(hits+misses) as a percentage, 0 when the
// cache has never been consulted.
func (s Stats) HitRatePercent() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// LRU is a bounded key→value store with least-recently-used eviction.
// All operations are atomic under one mutex; concurrent users from
// different rounds never observe the capacity invariant violated.
type LRU struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*lruNode
	head     *lruNode
	tail     *lruNode
	hits     uint64
	misses   uint64
}

type lruNode struct {
	key   string
	value any
	prev  *lruNode
	next  *lruNode
}

// NewLRU creates a cache with the given capacity.
func NewLRU(capacity int) (*LRU, error) {
	if capacity < 0 {
		return nil, ErrBadCapacity
	}
	return &LRU{
		capacity: capacity,
		items:    make(map[string]*lruNode),
	}, nil
}

// Get returns the cached value and refreshes its recency. A disabled
// cache (capacity 0) always misses.
func (c *LRU) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.moveToHead(node)
	return node.value, true
}

// Put stores a value, evicting the least-recently-used entry first when
// at capacity. A no-op when the cache is disabled.
func (c *LRU) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity == 0 {
		return
	}

	if node, ok := c.items[key]; ok {
		node.value = value
		c.moveToHead(node)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	node := &lruNode{key: key, value: value}
	c.items[key] = node
	c.addToHead(node)
}

// Stats returns the current counters.
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:     c.hits,
		Misses:   c.misses,
		Size:     len(c.items),
		Capacity: c.capacity,
	}
}

// Len returns the number of live entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRU) addToHead(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *LRU) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}

func (c *LRU) moveToHead(node *lruNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

func (c *LRU) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.items, c.tail.key)
	c.removeNode(c.tail)
}
