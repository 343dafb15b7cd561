// Package lru implements a fixed size least recently used cache.
package lru

const none = -1

// Cache maps keys to values, keeping at most capacity of them. Slots are
// allocated once and linked by index in recency order, so that a full
// cache reuses the slot of the entry it evicts.
type Cache[K comparable, V any] struct {
	slots      []slot[K, V]
	index      map[K]int
	head, tail int // most and least recently used slot

	hits, misses uint64
}

type slot[K comparable, V any] struct {
	key        K
	value      V
	prev, next int
}

// NewCache returns a cache holding up to capacity entries. A cache with
// zero capacity stores nothing.
func NewCache[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity < 0 {
		capacity = 0
	}
	return &Cache[K, V]{
		slots: make([]slot[K, V], 0, capacity),
		index: make(map[K]int, capacity),
		head:  none,
		tail:  none,
	}
}

func (c *Cache[K, V]) unlink(i int) {
	s := &c.slots[i]
	if s.prev != none {
		c.slots[s.prev].next = s.next
	} else {
		c.head = s.next
	}
	if s.next != none {
		c.slots[s.next].prev = s.prev
	} else {
		c.tail = s.prev
	}
}

func (c *Cache[K, V]) pushFront(i int) {
	s := &c.slots[i]
	s.prev, s.next = none, c.head
	if c.head != none {
		c.slots[c.head].prev = i
	}
	c.head = i
	if c.tail == none {
		c.tail = i
	}
}

func (c *Cache[K, V]) touch(i int) {
	if c.head == i {
		return
	}
	c.unlink(i)
	c.pushFront(i)
}

// Add stores value under key and marks it as the most recently used
// entry. When the cache is full the least recently used entry is
// evicted.
func (c *Cache[K, V]) Add(key K, value V) {
	if i, ok := c.index[key]; ok {
		c.slots[i].value = value
		c.touch(i)
		return
	}
	if cap(c.slots) == 0 {
		return
	}
	var i int
	if len(c.slots) < cap(c.slots) {
		c.slots = append(c.slots, slot[K, V]{})
		i = len(c.slots) - 1
	} else {
		i = c.tail
		c.unlink(i)
		delete(c.index, c.slots[i].key)
	}
	c.slots[i].key, c.slots[i].value = key, value
	c.index[key] = i
	c.pushFront(i)
}

// Get returns the value stored under key and marks it as the most
// recently used entry.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	i, ok := c.index[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.touch(i)
	return c.slots[i].value, true
}

// Purge removes every entry. The hit and miss counters are kept.
func (c *Cache[K, V]) Purge() {
	clear(c.index)
	clear(c.slots)
	c.slots = c.slots[:0]
	c.head, c.tail = none, none
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	return len(c.slots)
}

// Stats returns the number of successful and failed calls to Get.
func (c *Cache[K, V]) Stats() (hits, misses uint64) {
	return c.hits, c.misses
}
