package debuginfo

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// testSection is a section of a synthetic object file.
type testSection struct {
	name string
	typ  elf.SectionType
	addr uint64
	size uint64 // only used for SHT_NOBITS
	data []byte
}

// testProg is a program header of a synthetic object file. When section
// is set, the offset and file size of the header are taken from it.
type testProg struct {
	prog    elf.Prog64
	section string
}

// testELF builds little endian 64 bit object files.
type testELF struct {
	typ      elf.Type
	machine  elf.Machine
	sections []testSection
	progs    []testProg
}

func newTestELF() *testELF {
	return &testELF{typ: elf.ET_DYN, machine: elf.EM_X86_64}
}

func (b *testELF) addSection(s testSection) {
	if s.typ == 0 {
		s.typ = elf.SHT_PROGBITS
	}
	b.sections = append(b.sections, s)
}

func (b *testELF) addProg(p elf.Prog64, section string) {
	b.progs = append(b.progs, testProg{prog: p, section: section})
}

func align8(n int) int {
	return (n + 7) &^ 7
}

// layout returns the file offset of every section and the offset of the
// end of the last one.
func (b *testELF) layout() ([]int, int) {
	off := align8(64 + 56*len(b.progs))
	offsets := make([]int, len(b.sections))
	for i, s := range b.sections {
		offsets[i] = off
		if s.typ != elf.SHT_NOBITS {
			off = align8(off + len(s.data))
		}
	}
	return offsets, off
}

func (b *testELF) sectionOffset(name string) uint64 {
	offsets, _ := b.layout()
	for i := range b.sections {
		if b.sections[i].name == name {
			return uint64(offsets[i])
		}
	}
	return 0
}

func (b *testELF) section(name string) *testSection {
	for i := range b.sections {
		if b.sections[i].name == name {
			return &b.sections[i]
		}
	}
	return nil
}

func (b *testELF) bytes() []byte {
	order := binary.LittleEndian
	const ehsize, phentsize, shentsize = 64, 56, 64

	// section 0 is the null section, the last one the name table
	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0)
	names := make([]uint32, len(b.sections))
	for i, s := range b.sections {
		names[i] = uint32(shstrtab.Len())
		shstrtab.WriteString(s.name)
		shstrtab.WriteByte(0)
	}
	shstrName := uint32(shstrtab.Len())
	shstrtab.WriteString(".shstrtab\x00")

	offsets, off := b.layout()
	shstrOff := off
	off = align8(off + shstrtab.Len())
	shoff := off
	shnum := len(b.sections) + 2
	total := shoff + shnum*shentsize

	out := make([]byte, total)
	copy(out, elf.ELFMAG)
	out[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	out[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	out[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	order.PutUint16(out[16:], uint16(b.typ))
	order.PutUint16(out[18:], uint16(b.machine))
	order.PutUint32(out[20:], uint32(elf.EV_CURRENT))
	if len(b.progs) > 0 {
		order.PutUint64(out[32:], ehsize)
	}
	order.PutUint64(out[40:], uint64(shoff))
	order.PutUint16(out[52:], ehsize)
	order.PutUint16(out[54:], phentsize)
	order.PutUint16(out[56:], uint16(len(b.progs)))
	order.PutUint16(out[58:], shentsize)
	order.PutUint16(out[60:], uint16(shnum))
	order.PutUint16(out[62:], uint16(shnum-1))

	for i, p := range b.progs {
		prog := p.prog
		if p.section != "" {
			for j, s := range b.sections {
				if s.name == p.section {
					prog.Off = uint64(offsets[j])
					prog.Filesz = uint64(len(s.data))
					if prog.Memsz == 0 {
						prog.Memsz = prog.Filesz
					}
				}
			}
		}
		var buf bytes.Buffer
		binary.Write(&buf, order, &prog)
		copy(out[ehsize+i*phentsize:], buf.Bytes())
	}

	putShdr := func(idx int, sh elf.Section64) {
		var buf bytes.Buffer
		binary.Write(&buf, order, &sh)
		copy(out[shoff+idx*shentsize:], buf.Bytes())
	}
	for i, s := range b.sections {
		size := uint64(len(s.data))
		if s.typ == elf.SHT_NOBITS {
			size = s.size
		} else {
			copy(out[offsets[i]:], s.data)
		}
		putShdr(i+1, elf.Section64{Name: names[i], Type: uint32(s.typ), Addr: s.addr, Off: uint64(offsets[i]), Size: size})
	}
	copy(out[shstrOff:], shstrtab.Bytes())
	putShdr(shnum-1, elf.Section64{Name: shstrName, Type: uint32(elf.SHT_STRTAB), Off: uint64(shstrOff), Size: uint64(shstrtab.Len())})
	return out
}

func (b *testELF) write(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b.bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type testSym struct {
	name  string
	value uint64
	size  uint64
	bind  elf.SymBind
	typ   elf.SymType
}

// symtab encodes syms as a 64 bit symbol table and its string table.
func symtab(syms []testSym) (tab, strtab []byte) {
	order := binary.LittleEndian
	var strs bytes.Buffer
	strs.WriteByte(0)
	out := make([]byte, elf.Sym64Size*(len(syms)+1))
	for i, s := range syms {
		rec := out[elf.Sym64Size*(i+1):]
		order.PutUint32(rec[0:], uint32(strs.Len()))
		strs.WriteString(s.name)
		strs.WriteByte(0)
		rec[4] = byte(s.bind)<<4 | byte(s.typ)&0xf
		order.PutUint64(rec[8:], s.value)
		order.PutUint64(rec[16:], s.size)
	}
	return out, strs.Bytes()
}

func fn(name string, value, size uint64) testSym {
	return testSym{name: name, value: value, size: size, bind: elf.STB_GLOBAL, typ: elf.STT_FUNC}
}

// dynamic encodes a dynamic section with DT_STRTAB and DT_SONAME.
func dynamic(strtabAddr, soname uint64) []byte {
	order := binary.LittleEndian
	out := make([]byte, 16*3)
	order.PutUint64(out[0:], uint64(elf.DT_STRTAB))
	order.PutUint64(out[8:], strtabAddr)
	order.PutUint64(out[16:], uint64(elf.DT_SONAME))
	order.PutUint64(out[24:], soname)
	return out
}

// debuglink encodes a .gnu_debuglink section.
func debuglink(name string, crc uint32) []byte {
	n := (len(name) + 1 + 3) &^ 3
	out := make([]byte, n+4)
	copy(out, name)
	binary.LittleEndian.PutUint32(out[n:], crc)
	return out
}
