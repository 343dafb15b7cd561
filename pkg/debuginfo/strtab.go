package debuginfo

import "unsafe"

const strChunkSize = 64 * 1024

// StringTable interns the names owned by one Entry. Strings are copied
// into append-only chunks so that a loaded object holds a few large
// allocations instead of one per symbol.
type StringTable struct {
	chunks [][]byte
	seen   map[string]string
	bytes  int
}

// Add returns the interned copy of s. Adding the same string twice
// returns the same string value.
func (t *StringTable) Add(s string) string {
	if s == "" {
		return ""
	}
	if r, ok := t.seen[s]; ok {
		return r
	}
	if t.seen == nil {
		t.seen = make(map[string]string)
	}

	var chunk []byte
	if n := len(t.chunks); n > 0 && cap(t.chunks[n-1])-len(t.chunks[n-1]) >= len(s) {
		chunk = t.chunks[n-1]
	} else {
		size := strChunkSize
		if len(s) > size {
			size = len(s)
		}
		chunk = make([]byte, 0, size)
		t.chunks = append(t.chunks, chunk)
	}

	off := len(chunk)
	chunk = append(chunk, s...)
	t.chunks[len(t.chunks)-1] = chunk
	t.bytes += len(s)

	// chunk never grows past its capacity, so the bytes below are never
	// moved or written again.
	r := unsafe.String(&chunk[off], len(s))
	t.seen[r] = r
	return r
}

// Len returns the number of distinct strings in the table.
func (t *StringTable) Len() int {
	return len(t.seen)
}

// Size returns the number of bytes stored and the number of chunks
// allocated to store them.
func (t *StringTable) Size() (bytes, chunks int) {
	return t.bytes, len(t.chunks)
}
