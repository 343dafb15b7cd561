package debuginfo

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDebugLinkCRC(t *testing.T) {
	if crc := DebugLinkCRC(nil); crc != 0 {
		t.Fatalf("expected 0 for empty input got %#08x", crc)
	}
	if crc := DebugLinkCRC([]byte("123456789")); crc != 0xcbf43926 {
		t.Fatalf("expected 0xcbf43926 got %#08x", crc)
	}
}

func TestDebugLinkCandidates(t *testing.T) {
	got := debugLinkCandidates("/usr/lib/libfoo.so.1", "libfoo.debug", nil)
	want := []string{
		"/usr/lib/libfoo.debug",
		"/usr/lib/.debug/libfoo.debug",
		"/usr/lib/debug/usr/lib/libfoo.debug",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q got %q", want, got)
	}
	got = debugLinkCandidates("/lib/libfoo.so.1", "libfoo.debug", []string{"/a", "/b"})
	want = []string{"/lib/libfoo.debug", "/lib/.debug/libfoo.debug", "/a/lib/libfoo.debug", "/b/lib/libfoo.debug"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q got %q", want, got)
	}
}

// strippedWithLink returns an object without a symbol table that points to
// a separate debug file called name with checksum crc.
func strippedWithLink(name string, crc uint32) *testELF {
	b := testLibrary()
	b.section(".symtab").name = ".notsymtab"
	b.addSection(testSection{name: ".gnu_debuglink", data: debuglink(name, crc)})
	return b
}

// debugFile returns a debug file defining the function delta.
func debugFile() *testELF {
	b := newTestELF()
	b.addProg(elf.Prog64{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_X), Filesz: 0x2000, Memsz: 0x2000}, "")
	tab, strs := symtab([]testSym{fn("delta", 0x1040, 0x20)})
	b.addSection(testSection{name: ".text", typ: elf.SHT_NOBITS, addr: 0x1000, size: 0x100})
	b.addSection(testSection{name: ".symtab", typ: elf.SHT_SYMTAB, data: tab})
	b.addSection(testSection{name: ".strtab", typ: elf.SHT_STRTAB, data: strs})
	return b
}

func TestDebugLink(t *testing.T) {
	dbg := debugFile().bytes()
	crc := DebugLinkCRC(dbg)

	tests := []struct {
		name   string
		crc    uint32
		subdir string
		found  bool
	}{
		{"match", crc, "", true},
		{"match in .debug", crc, ".debug", true},
		{"mismatch", crc ^ 1, "", false},
	}
	for _, tc := range tests {
		dir := t.TempDir()
		path := strippedWithLink("libtest.debug", tc.crc).write(t, dir, "libtest.so.1")
		debugDir := dir
		if tc.subdir != "" {
			debugDir = dir + "/" + tc.subdir
		}
		if err := mkdirWrite(debugDir, "libtest.debug", dbg); err != nil {
			t.Fatal(err)
		}

		var rec recorder
		r := NewRegistry(Options{Arch: ArchAMD64, Verbosity: 2, Sink: &rec})
		if r.NotifyMmap(textMapping(path, 0x2000)) == nil {
			t.Fatalf("%s: object not loaded", tc.name)
		}
		name, ok := r.FnName(testBase + 0x1050)
		if ok != tc.found || (ok && name != "delta") {
			t.Errorf("%s: expected delta found=%v got %q %v", tc.name, tc.found, name, ok)
		}
		if !tc.found {
			mismatch := false
			for _, line := range rec.lines {
				if line == "... CRC mismatch (computed "+hex8(crc)+" wanted "+hex8(crc^1)+")" {
					mismatch = true
				}
			}
			if !mismatch {
				t.Errorf("%s: CRC mismatch not reported: %q", tc.name, rec.lines)
			}
		}
	}
}

func mkdirWrite(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

func hex8(x uint32) string {
	return fmt.Sprintf("%08x", x)
}
