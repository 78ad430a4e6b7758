package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// lru is an in-process store bounded to maxSize values, evicting the least
// recently read. Counters live beside it and are not evicted; expired
// counters are swept when a new window starts.
type lru struct {
	mu       sync.Mutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List
	counters map[string]*counter
	now      func() time.Time
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type counter struct {
	count     int64
	expiresAt time.Time
}

func newLRU(maxSize int) *lru {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &lru{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

func (c *lru) get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, nil
	}
	entry := elem.Value.(*lruEntry)
	if c.now().After(entry.expiresAt) {
		c.order.Remove(elem)
		delete(c.items, key)
		return nil, nil
	}
	c.order.MoveToFront(elem)
	return entry.value, nil
}

func (c *lru) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value, entry.expiresAt = value, expiresAt
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[key] = c.order.PushFront(&lruEntry{key: key, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
	return nil
}

func (c *lru) incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if ctr, ok := c.counters[key]; ok && !now.After(ctr.expiresAt) {
		ctr.count++
		return ctr.count, nil
	}

	for k, ctr := range c.counters {
		if now.After(ctr.expiresAt) {
			delete(c.counters, k)
		}
	}
	c.counters[key] = &counter{count: 1, expiresAt: now.Add(window)}
	return 1, nil
}

func (c *lru) ping(ctx context.Context) error {
	return nil
}

func (c *lru) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.counters = make(map[string]*counter)
	return nil
}

func (c *lru) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
