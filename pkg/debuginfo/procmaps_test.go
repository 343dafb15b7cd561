package debuginfo

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseMaps(t *testing.T) {
	const maps = `00400000-0040b000 r-xp 00000000 08:01 1234                       /bin/my prog
0060a000-0060b000 rw-p 0000a000 08:01 1234                       /bin/my prog
01d5e000-01d7f000 rw-p 00000000 00:00 0                          [heap]
7f2c4a1e0000-7f2c4a39b000 r-xp 00000000 08:01 5678               /lib/libc.so.6

7ffd8c3b5000-7ffd8c3d6000 rw-p 00000000 00:00 0
`
	got, err := ParseMaps(strings.NewReader(maps))
	if err != nil {
		t.Fatal(err)
	}
	want := []Mapping{
		{Addr: 0x400000, Len: 0xb000, Prot: ProtRead | ProtExec, Filename: "/bin/my prog"},
		{Addr: 0x60a000, Len: 0x1000, Offset: 0xa000, Prot: ProtRead | ProtWrite, Filename: "/bin/my prog"},
		{Addr: 0x1d5e000, Len: 0x21000, Prot: ProtRead | ProtWrite},
		{Addr: 0x7f2c4a1e0000, Len: 0x1bb000, Prot: ProtRead | ProtExec, Filename: "/lib/libc.so.6"},
		{Addr: 0x7ffd8c3b5000, Len: 0x21000, Prot: ProtRead | ProtWrite},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %#v got %#v", want, got)
	}

	for _, bad := range []string{"00400000 r-xp 0 0 0\n", "1000-0 r-xp 0 0 0\n", "zz-1000 r-xp 0 0 0\n", "1000-2000 r-xp\n"} {
		if _, err := ParseMaps(strings.NewReader(bad)); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := testLibrary().write(t, t.TempDir(), "libtest.so.1")
	r := NewRegistry(Options{Arch: ArchAMD64})
	e, err := r.LoadFile(path, testBase)
	if err != nil {
		t.Fatal(err)
	}
	if e.Start != testBase || e.Size != 0x2000 || e.Offset != testBase {
		t.Fatalf("wrong range %#x+%#x offset %#x", e.Start, e.Size, e.Offset)
	}
	if name, ok := r.FnName(testBase + 0x1015); !ok || name != "beta" {
		t.Fatalf("expected beta got %q %v", name, ok)
	}

	if _, err := r.LoadFile(path+".missing", 0); err == nil {
		t.Fatal("expected error for missing file")
	}
}
