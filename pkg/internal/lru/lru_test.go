package lru_test

import (
	"reflect"
	"testing"

	"github.com/go-delve/tracecore/pkg/internal/lru"
)

// contents returns which of keys are present, without touching the ones
// that are not.
func contents(c *lru.Cache[int, string], keys ...int) []int {
	var present []int
	for _, k := range keys {
		if _, ok := c.Get(k); ok {
			present = append(present, k)
		}
	}
	return present
}

func TestCache(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		ops      []int // positive: add k, negative: get -k
		want     []int
	}{
		{"zero capacity", 0, []int{1, 2}, nil},
		{"negative capacity", -3, []int{1}, nil},
		{"no eviction", 2, []int{1, 2}, []int{1, 2}},
		{"evicts oldest", 2, []int{1, 2, 3}, []int{2, 3}},
		{"get refreshes", 2, []int{1, 2, -1, 3}, []int{1, 3}},
		{"add refreshes", 2, []int{1, 2, 1, 3}, []int{1, 3}},
		{"single slot", 1, []int{1, 2, 3}, []int{3}},
		{"slot reuse", 3, []int{1, 2, 3, 4, -2, 5, 6}, []int{2, 5, 6}},
	}
	for _, tc := range tests {
		c := lru.NewCache[int, string](tc.capacity)
		for _, op := range tc.ops {
			if op > 0 {
				c.Add(op, "v")
			} else {
				c.Get(-op)
			}
		}
		if got := contents(c, 1, 2, 3, 4, 5, 6); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
}

func TestCacheUpdate(t *testing.T) {
	c := lru.NewCache[uint64, string](2)
	c.Add(0x1000, "old")
	c.Add(0x1000, "new")
	if v, ok := c.Get(0x1000); !ok || v != "new" {
		t.Fatalf("expected new got %q %v", v, ok)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry got %d", c.Len())
	}
}

func TestCachePurge(t *testing.T) {
	c := lru.NewCache[int, string](2)
	c.Add(1, "one")
	c.Add(2, "two")
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache got %d entries", c.Len())
	}
	if got := contents(c, 1, 2); got != nil {
		t.Fatalf("expected nothing got %v", got)
	}
	c.Add(3, "three")
	c.Add(4, "four")
	c.Add(5, "five")
	if got := contents(c, 3, 4, 5); !reflect.DeepEqual(got, []int{4, 5}) {
		t.Fatalf("expected [4 5] got %v", got)
	}
}

func TestCacheStats(t *testing.T) {
	c := lru.NewCache[int, string](1)
	c.Add(1, "one")
	c.Get(1)
	c.Get(1)
	c.Get(2)
	c.Purge()
	c.Get(1)
	if hits, misses := c.Stats(); hits != 2 || misses != 2 {
		t.Fatalf("expected 2 hits 2 misses got %d %d", hits, misses)
	}
}
