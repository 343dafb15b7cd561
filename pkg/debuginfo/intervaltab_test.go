package debuginfo

import (
	"math/rand"
	"testing"
)

func canonicalSymbols(syms ...Symbol) *SymbolTable {
	t := newSymbolTable()
	for _, sym := range syms {
		t.Insert(sym)
	}
	t.Canonicalize()
	return t
}

func TestSymbolTieBreak(t *testing.T) {
	tests := []struct {
		a, b string
		want string
	}{
		{"foo@V1", "foobar", "foo@V1"},
		{"foobar", "foo@V1", "foo@V1"},
		{"abc", "abc@V1", "abc@V1"},
		{"abc@V1", "abc", "abc@V1"},
		{"MPI_Send", "PMPI_Send", "PMPI_Send"},
		{"PMPI_Send", "MPI_Send", "PMPI_Send"},
		{"bbb", "aaa", "aaa"},
		{"abc@@V2", "abc@V1", "abc@@V2"},
		{"MPI_Recv", "PMPI_Send", "MPI_Recv"},
	}
	for _, tc := range tests {
		tab := canonicalSymbols(
			Symbol{Addr: 0x1000, Size: 0x10, Name: tc.a},
			Symbol{Addr: 0x1000, Size: 0x10, Name: tc.b})
		if tab.Len() != 1 {
			t.Fatalf("%s/%s: expected one symbol got %d", tc.a, tc.b, tab.Len())
		}
		if got := tab.At(0).Name; got != tc.want {
			t.Errorf("%s/%s: expected %s got %s", tc.a, tc.b, tc.want, got)
		}
	}
}

func TestSymbolMergeCascade(t *testing.T) {
	// merging the first pair makes the survivor identical to the third
	tab := canonicalSymbols(
		Symbol{Addr: 0x1000, Size: 0x10, Name: "long_name"},
		Symbol{Addr: 0x1000, Size: 0x10, Name: "mid"},
		Symbol{Addr: 0x1000, Size: 0x10, Name: "x"})
	if tab.Len() != 1 || tab.At(0).Name != "x" {
		t.Fatalf("expected only x got %v", tab.Items())
	}
}

func TestSymbolTruncation(t *testing.T) {
	tab := canonicalSymbols(
		Symbol{Addr: 100, Size: 20, Name: "first"},
		Symbol{Addr: 110, Size: 20, Name: "second"})
	if tab.Len() != 2 {
		t.Fatalf("expected two symbols got %d", tab.Len())
	}
	if s := tab.At(0); s.Name != "first" || s.Addr != 100 || s.Size != 10 {
		t.Fatalf("expected first [100,110) got %s [%d,%d)", s.Name, s.Addr, s.Addr+s.Size)
	}
	if s := tab.At(1); s.Name != "second" || s.Addr != 110 || s.Size != 20 {
		t.Fatalf("expected second [110,130) got %s [%d,%d)", s.Name, s.Addr, s.Addr+s.Size)
	}

	// same start: the longer one moves past the end of the shorter one
	tab = canonicalSymbols(
		Symbol{Addr: 100, Size: 30, Name: "outer"},
		Symbol{Addr: 100, Size: 10, Name: "inner"})
	if s := tab.At(0); s.Name != "inner" || s.Addr != 100 || s.Size != 10 {
		t.Fatalf("expected inner [100,110) got %s [%d,%d)", s.Name, s.Addr, s.Addr+s.Size)
	}
	if s := tab.At(1); s.Name != "outer" || s.Addr != 110 || s.Size != 20 {
		t.Fatalf("expected outer [110,130) got %s [%d,%d)", s.Name, s.Addr, s.Addr+s.Size)
	}
}

func TestLocationTruncation(t *testing.T) {
	tab := newLocationTable()
	tab.Insert(Location{Addr: 100, Size: 20, Line: 1})
	tab.Insert(Location{Addr: 110, Size: 20, Line: 2})
	tab.Insert(Location{Addr: 110, Size: 5, Line: 3})
	tab.Canonicalize()
	if tab.Len() != 2 {
		t.Fatalf("expected two locations got %v", tab.Items())
	}
	if l := tab.At(0); l.Addr != 100 || l.Size != 10 || l.Line != 1 {
		t.Fatalf("wrong first location %#v", l)
	}
	if l := tab.At(1); l.Addr != 110 || l.Line != 3 {
		t.Fatalf("wrong second location %#v", l)
	}
}

// checkTable verifies the canonical form and that Lookup finds exactly the
// element covering each address.
func checkTable(t *testing.T, tab *SymbolTable, lo, hi uint64) {
	t.Helper()
	items := tab.Items()
	for i := range items {
		if items[i].Size == 0 {
			t.Fatalf("empty element %#v", items[i])
		}
		if i > 0 && items[i-1].Addr+items[i-1].Size > items[i].Addr {
			t.Fatalf("overlap between %#v and %#v", items[i-1], items[i])
		}
		if idx, ok := tab.Lookup(items[i].Addr); !ok || idx != i {
			t.Fatalf("lookup of %#x returned %d %v", items[i].Addr, idx, ok)
		}
	}
	for addr := lo; addr < hi; addr++ {
		want := -1
		for i := range items {
			if addr >= items[i].Addr && addr < items[i].Addr+items[i].Size {
				want = i
			}
		}
		idx, ok := tab.Lookup(addr)
		if ok != (want >= 0) || (ok && idx != want) {
			t.Fatalf("lookup of %#x: expected %d got %d %v", addr, want, idx, ok)
		}
	}
}

func TestCanonicalizeRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	names := []string{"a", "bb", "ccc", "d@V1", "MPI_X", "PMPI_X", "eeee"}
	for i := 0; i < 200; i++ {
		tab := newSymbolTable()
		for n := rng.Intn(30); n > 0; n-- {
			tab.Insert(Symbol{
				Addr: uint64(rng.Intn(200)),
				Size: uint64(1 + rng.Intn(40)),
				Name: names[rng.Intn(len(names))],
			})
		}
		tab.Canonicalize()
		checkTable(t, tab, 0, 260)
	}
}

func TestLookupEmpty(t *testing.T) {
	tab := newSymbolTable()
	if _, ok := tab.Lookup(0x1000); ok {
		t.Fatal("lookup in empty table succeeded")
	}
	tab.Insert(Symbol{Addr: 0x1000, Size: 1, Name: "x"})
	defer func() {
		if recover() == nil {
			t.Fatal("lookup before Canonicalize did not panic")
		}
	}()
	tab.Lookup(0x1000)
}

func TestCFIBounds(t *testing.T) {
	tab := newCFITable()
	if _, _, ok := tab.Bounds(); ok {
		t.Fatal("empty table has bounds")
	}
	for _, r := range [][2]uint64{{0x2000, 0x10}, {0x1000, 0x20}, {0x3000, 0x8}} {
		rec := CfiRecord{}
		rec.Base, rec.Len = r[0], r[1]
		tab.Insert(rec)
	}
	tab.Canonicalize()
	min, max, ok := tab.Bounds()
	if !ok || min != 0x1000 || max != 0x3007 {
		t.Fatalf("expected [0x1000, 0x3007] got [%#x, %#x] %v", min, max, ok)
	}
}
