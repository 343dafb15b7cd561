package debuginfo

import (
	"strings"
	"testing"
	"unsafe"
)

func TestStringTable(t *testing.T) {
	var tab StringTable
	if s := tab.Add(""); s != "" {
		t.Fatalf("expected empty string got %q", s)
	}

	a := tab.Add(strings.Repeat("a", 3))
	b := tab.Add("aaa")
	if a != "aaa" || unsafe.StringData(a) != unsafe.StringData(b) {
		t.Fatal("interning the same string twice returned different copies")
	}
	if tab.Len() != 1 {
		t.Fatalf("expected 1 string got %d", tab.Len())
	}

	long := strings.Repeat("x", strChunkSize+1)
	if s := tab.Add(long); s != long {
		t.Fatal("long string corrupted")
	}
	tab.Add("after")
	bytes, chunks := tab.Size()
	if bytes != 3+len(long)+5 {
		t.Fatalf("wrong byte count %d", bytes)
	}
	if chunks != 3 {
		t.Fatalf("expected 3 chunks got %d", chunks)
	}
	if tab.Add("aaa") != "aaa" {
		t.Fatal("first chunk corrupted")
	}
}
