package debuginfo

import (
	"fmt"
	"sort"
)

const initialTableCap = 500

// layout describes how an IntervalTable reads and rewrites the range of
// its elements, and how it resolves overlaps.
type layout[T any] struct {
	bounds    func(*T) (addr, size uint64)
	setBounds func(*T, uint64, uint64)

	// prefer is set for tables whose overlaps are resolved by merging
	// identical ranges and truncating the longer of two overlapping
	// elements. When nil the earlier of two overlapping elements is
	// truncated to the start of the later one, and elements that end
	// up empty are dropped.
	prefer func(a, b *T) *T

	// maxSize caps the size of an element after truncation, zero means
	// no cap.
	maxSize uint64
}

// IntervalTable is a sorted collection of non-overlapping [addr, addr+size)
// ranges. Elements are appended with Insert, then Canonicalize sorts the
// table and resolves overlaps; only after that can Lookup be used.
type IntervalTable[T any] struct {
	items     []T
	layout    layout[T]
	canonical bool

	// trackBounds makes Canonicalize record the range covered by the table.
	trackBounds      bool
	minAddr, maxAddr uint64
}

func newIntervalTable[T any](l layout[T]) *IntervalTable[T] {
	return &IntervalTable[T]{layout: l}
}

// Insert appends item to the table. The table must be canonicalised
// again before the next lookup.
func (t *IntervalTable[T]) Insert(item T) {
	if t.items == nil {
		t.items = make([]T, 0, initialTableCap)
	}
	t.items = append(t.items, item)
	t.canonical = false
}

// Len returns the number of elements in the table.
func (t *IntervalTable[T]) Len() int {
	return len(t.items)
}

// At returns a pointer to the i-th element.
func (t *IntervalTable[T]) At(i int) *T {
	return &t.items[i]
}

// Items returns the elements of the table, in address order if the table
// is canonical.
func (t *IntervalTable[T]) Items() []T {
	return t.items
}

// Bounds returns the lowest and highest address covered by any element,
// as recorded by the last Canonicalize. Only tables that track their
// bounds return ok.
func (t *IntervalTable[T]) Bounds() (minAddr, maxAddr uint64, ok bool) {
	if !t.trackBounds || len(t.items) == 0 {
		return 0, 0, false
	}
	return t.minAddr, t.maxAddr, true
}

// Canonicalize sorts the table and resolves overlapping elements. After it
// returns no element is empty, start addresses are strictly increasing
// and no two ranges intersect.
func (t *IntervalTable[T]) Canonicalize() {
	if t.trackBounds {
		t.computeBounds()
	}
	if t.layout.prefer != nil {
		t.canonicalizeMerging()
	} else {
		t.canonicalizeTruncating()
	}
	t.checkCanonical()
	t.canonical = true
}

func (t *IntervalTable[T]) computeBounds() {
	t.minAddr, t.maxAddr = ^uint64(0), 0
	for i := range t.items {
		addr, size := t.layout.bounds(&t.items[i])
		if addr < t.minAddr {
			t.minAddr = addr
		}
		if end := addr + size - 1; end > t.maxAddr {
			t.maxAddr = end
		}
	}
}

func (t *IntervalTable[T]) sort() {
	sort.SliceStable(t.items, func(i, j int) bool {
		ai, _ := t.layout.bounds(&t.items[i])
		aj, _ := t.layout.bounds(&t.items[j])
		return ai < aj
	})
}

func (t *IntervalTable[T]) canonicalizeMerging() {
	if len(t.items) == 0 {
		return
	}
	t.sort()

	for {
		for t.mergeIdentical() > 0 {
		}
		if t.truncateOverlaps() == 0 {
			break
		}
	}
}

// mergeIdentical replaces every adjacent pair of elements with identical
// ranges with the preferred one of the two.
func (t *IntervalTable[T]) mergeIdentical() int {
	merged := 0
	out := t.items[:0]
	for i := 0; i < len(t.items); i++ {
		if i < len(t.items)-1 {
			a1, s1 := t.layout.bounds(&t.items[i])
			a2, s2 := t.layout.bounds(&t.items[i+1])
			if a1 == a2 && s1 == s2 {
				merged++
				out = append(out, *t.layout.prefer(&t.items[i], &t.items[i+1]))
				i++
				continue
			}
		}
		out = append(out, t.items[i])
	}
	t.items = out
	return merged
}

// truncateOverlaps shortens one of every pair of overlapping neighbours.
// With different starts the first element ends where the second begins;
// with equal starts the longer element is moved past the end of the
// shorter one.
func (t *IntervalTable[T]) truncateOverlaps() int {
	truncated := 0
	for i := 0; i < len(t.items)-1; i++ {
		s1, sz1 := t.layout.bounds(&t.items[i])
		s2, sz2 := t.layout.bounds(&t.items[i+1])
		if s1+sz1 <= s2 {
			continue
		}
		e1, e2 := s1+sz1-1, s2+sz2-1
		switch {
		case s1 < s2:
			e1 = s2 - 1
		case e1 > e2:
			t.items[i], t.items[i+1] = t.items[i+1], t.items[i]
			s1, s2 = s2, e2+1
			e1, e2 = e2, e1
		case e1 < e2:
			s2 = e1 + 1
		default:
			// identical ranges, merged on the next pass
		}
		t.layout.setBounds(&t.items[i], s1, e1-s1+1)
		t.layout.setBounds(&t.items[i+1], s2, e2-s2+1)

		for j := i + 1; j < len(t.items)-1; j++ {
			a, _ := t.layout.bounds(&t.items[j])
			b, _ := t.layout.bounds(&t.items[j+1])
			if a <= b {
				break
			}
			t.items[j], t.items[j+1] = t.items[j+1], t.items[j]
		}
		truncated++
	}
	return truncated
}

func (t *IntervalTable[T]) canonicalizeTruncating() {
	if len(t.items) == 0 {
		return
	}
	t.sort()

	for i := 0; i < len(t.items)-1; i++ {
		a1, s1 := t.layout.bounds(&t.items[i])
		a2, _ := t.layout.bounds(&t.items[i+1])
		if a1+s1 > a2 {
			t.layout.setBounds(&t.items[i], a1, a2-a1)
		}
	}
	if max := t.layout.maxSize; max > 0 {
		for i := range t.items {
			if a, s := t.layout.bounds(&t.items[i]); s > max {
				t.layout.setBounds(&t.items[i], a, max)
			}
		}
	}

	out := t.items[:0]
	for i := range t.items {
		if _, s := t.layout.bounds(&t.items[i]); s > 0 {
			out = append(out, t.items[i])
		}
	}
	t.items = out
}

func (t *IntervalTable[T]) checkCanonical() {
	for i := range t.items {
		a1, s1 := t.layout.bounds(&t.items[i])
		if s1 == 0 {
			panic(fmt.Sprintf("interval table: empty element at %#x", a1))
		}
		if i+1 < len(t.items) {
			a2, _ := t.layout.bounds(&t.items[i+1])
			if a1 >= a2 {
				panic(fmt.Sprintf("interval table: elements out of order at %#x and %#x", a1, a2))
			}
			if a1+s1-1 >= a2 {
				panic(fmt.Sprintf("interval table: [%#x, %#x) overlaps %#x", a1, a1+s1, a2))
			}
		}
	}
}

// Lookup returns the index of the element containing addr.
func (t *IntervalTable[T]) Lookup(addr uint64) (int, bool) {
	if len(t.items) == 0 {
		return -1, false
	}
	if !t.canonical {
		panic("interval table: lookup before Canonicalize")
	}
	lo, hi := 0, len(t.items)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		a, s := t.layout.bounds(&t.items[mid])
		switch {
		case addr < a:
			hi = mid - 1
		case addr > a+s-1:
			lo = mid + 1
		default:
			return mid, true
		}
	}
	return -1, false
}
