package debuginfo

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/go-delve/tracecore/pkg/dwarf/util"
	"github.com/go-delve/tracecore/pkg/logflags"
)

// Symbol is a function (or, optionally, data object) of a loaded object.
type Symbol struct {
	Addr uint64
	Size uint64
	Name string
	// TOCPtr is the TOC pointer in force at the entry of the function on
	// ABIs that call through function descriptors, zero elsewhere.
	TOCPtr uint64
}

// SymbolTable holds the symbols of one Entry.
type SymbolTable = IntervalTable[Symbol]

func newSymbolTable() *SymbolTable {
	return newIntervalTable(layout[Symbol]{
		bounds:    func(s *Symbol) (uint64, uint64) { return s.Addr, s.Size },
		setBounds: func(s *Symbol, addr, size uint64) { s.Addr, s.Size = addr, size },
		prefer:    preferSymbol,
	})
}

// preferSymbol picks which of two symbols covering the same range keeps
// it. The shorter name wins, where the length of a versioned name is the
// length up to the '@'. Of two names of equal length the versioned one
// wins, then the alphabetically smaller one.
func preferSymbol(a, b *Symbol) *Symbol {
	if pa, ok := preferMPI(a.Name, b.Name); ok {
		if pa {
			return a
		}
		return b
	}

	vlena, vera := unversioned(a.Name)
	vlenb, verb := unversioned(b.Name)

	switch {
	case vlena < vlenb:
		return a
	case vlenb < vlena:
		return b
	}

	switch {
	case vera && !verb:
		return a
	case verb && !vera:
		return b
	}

	if a.Name < b.Name {
		return a
	}
	return b
}

// preferMPI handles MPI libraries, which alias MPI_Foo and PMPI_Foo at the
// same address. The profiling name is kept. The first return value says
// whether a is preferred, the second whether the rule applied at all.
func preferMPI(a, b string) (preferA bool, ok bool) {
	if strings.HasPrefix(a, "MPI_") && strings.HasPrefix(b, "PMPI_") && a == b[1:] {
		return false, true
	}
	if strings.HasPrefix(b, "MPI_") && strings.HasPrefix(a, "PMPI_") && b == a[1:] {
		return true, true
	}
	return false, false
}

func unversioned(name string) (int, bool) {
	if i := strings.IndexByte(name, '@'); i >= 0 {
		return i, true
	}
	return len(name), false
}

// AddSymbol adds sym to the symbol table of e. Empty symbols are ignored.
func (e *Entry) AddSymbol(sym Symbol) {
	if sym.Size == 0 {
		return
	}
	sym.Name = e.strings.Add(sym.Name)
	e.Symbols.Insert(sym)
}

// rawSym is an ELF symbol table record of either class.
type rawSym struct {
	name  uint32
	info  uint8
	value uint64
	size  uint64
}

func (s *rawSym) bind() elf.SymBind { return elf.ST_BIND(s.info) }
func (s *rawSym) typ() elf.SymType  { return elf.ST_TYPE(s.info) }

func symbolRecordSize(class elf.Class) int {
	if class == elf.ELFCLASS64 {
		return elf.Sym64Size
	}
	return elf.Sym32Size
}

// readRawSyms decodes every record of a symbol table section.
func readRawSyms(data []byte, class elf.Class, order binary.ByteOrder) ([]rawSym, error) {
	recsz := symbolRecordSize(class)
	if len(data)%recsz != 0 {
		return nil, fmt.Errorf("symbol table size %d is not a multiple of %d", len(data), recsz)
	}
	syms := make([]rawSym, 0, len(data)/recsz)
	for off := 0; off < len(data); off += recsz {
		rec := data[off : off+recsz]
		var s rawSym
		s.name = order.Uint32(rec[0:])
		if class == elf.ELFCLASS64 {
			s.info = rec[4]
			s.value = order.Uint64(rec[8:])
			s.size = order.Uint64(rec[16:])
		} else {
			s.value = uint64(order.Uint32(rec[4:]))
			s.size = uint64(order.Uint32(rec[8:]))
			s.info = rec[12]
		}
		syms = append(syms, s)
	}
	return syms, nil
}

// symbolExtractor decides which ELF symbols make it into the symbol table
// of an Entry.
type symbolExtractor struct {
	e           *Entry
	order       binary.ByteOrder
	dataSyms    bool
	descriptors bool
	// opd holds the file bytes of the .opd section, used to dereference
	// function descriptors.
	opd []byte
	log logflags.Logger
}

type extracted struct {
	name    string
	addr    uint64
	size    uint64
	tocptr  uint64
	fromOPD bool
}

// accept applies the filtering rules to one symbol whose runtime address
// is addr.
func (x *symbolExtractor) accept(sym *rawSym, name string, addr uint64) (extracted, bool) {
	e := x.e
	out := extracted{name: name, addr: addr, size: sym.size}

	bind := sym.bind()
	plausible := (bind == elf.STB_GLOBAL || bind == elf.STB_LOCAL || bind == elf.STB_WEAK) &&
		(sym.typ() == elf.STT_FUNC || (x.dataSyms && sym.typ() == elf.STT_OBJECT))

	if !plausible && x.descriptors && sym.typ() == elf.STT_NOTYPE && sym.size > 0 && e.opd.contains(addr) {
		plausible = true
	}
	if !plausible {
		return out, false
	}

	if sym.name == 0 || name == "" || sym.size == 0 {
		x.trace("ignore -- size=0: %s", name)
		return out, false
	}
	if sym.value == 0 {
		x.trace("ignore -- valu=0: %s", name)
		return out, false
	}
	if e.got.contains(addr) {
		x.trace("ignore -- in GOT: %s", name)
		return out, false
	}
	if e.plt.contains(addr) {
		x.trace("ignore -- in PLT: %s", name)
		return out, false
	}

	inOPD := false
	if e.opd.contains(addr) {
		if !x.descriptors {
			x.trace("ignore -- in OPD: %s", name)
			return out, false
		}
		if addr%8 != 0 {
			x.trace("ignore -- not 8-aligned: %s", name)
			return out, false
		}
		off := addr - e.opd.Start
		if off+16 > uint64(len(x.opd)) {
			x.trace("ignore -- invalid OPD offset: %s", name)
			return out, false
		}
		out.addr = x.order.Uint64(x.opd[off:]) + e.Offset
		out.tocptr = x.order.Uint64(x.opd[off+8:]) + e.Offset
		out.fromOPD = true
		inOPD = true
	}

	if x.descriptors && e.opd.Start != 0 && !inOPD && strings.HasPrefix(name, ".") {
		out.name = name[1:]
	}

	if out.addr+out.size <= e.Start || out.addr >= e.Start+e.Size {
		x.trace("ignore -- outside mapped range: %s", name)
		return out, false
	}

	if x.descriptors && e.opd.Start != 0 && out.addr+out.size > e.opd.Start && out.addr < e.opd.end() {
		x.trace("ignore -- descriptor points into OPD: %s", name)
		return out, false
	}
	return out, true
}

func (x *symbolExtractor) trace(format string, args ...interface{}) {
	if logflags.Symtab() {
		x.log.Debugf(format, args...)
	}
}

// read adds the symbols of one symbol table section to the entry.
func (x *symbolExtractor) read(tabName string, class elf.Class, symtab, strtab []byte) error {
	if symtab == nil || strtab == nil {
		x.e.symerr(fmt.Sprintf("   object doesn't have a %s", tabName))
		return nil
	}
	syms, err := readRawSyms(symtab, class, x.order)
	if err != nil {
		return err
	}
	x.trace("reading %s (%d entries)", tabName, len(syms))

	if !x.descriptors {
		for i := 1; i < len(syms); i++ {
			name, _ := util.CString(strtab, uint64(syms[i].name))
			if out, ok := x.accept(&syms[i], name, x.e.Offset+syms[i].value); ok {
				x.e.AddSymbol(Symbol{Addr: out.addr, Size: out.size, Name: out.name})
			}
		}
		return nil
	}

	x.coalesce(syms, strtab)
	return nil
}

type symKey struct {
	addr uint64
	name string
}

// coalesce merges the records that describe the same function once
// through its descriptor and once directly, keyed by address and name,
// before handing them to the symbol table in key order.
func (x *symbolExtractor) coalesce(syms []rawSym, strtab []byte) {
	seen := make(map[symKey]*extracted)
	for i := 1; i < len(syms); i++ {
		name, _ := util.CString(strtab, uint64(syms[i].name))
		out, ok := x.accept(&syms[i], name, x.e.Offset+syms[i].value)
		if !ok {
			continue
		}
		key := symKey{out.addr, out.name}
		prev := seen[key]
		if prev == nil {
			out := out
			seen[key] = &out
			continue
		}
		switch {
		case prev.fromOPD && !out.fromOPD && (prev.size == 24 || prev.size == 16) && out.size != prev.size:
			x.trace("modify (old sz %d) %#x %s sz %d", prev.size, prev.addr, prev.name, out.size)
			prev.size = out.size
		case !prev.fromOPD && out.fromOPD && (out.size == 24 || out.size == 16):
			x.trace("modify (upd tocptr) %#x %s toc %#x", prev.addr, prev.name, out.tocptr)
			prev.tocptr = out.tocptr
		}
	}

	keys := make([]symKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].addr != keys[j].addr {
			return keys[i].addr < keys[j].addr
		}
		return keys[i].name < keys[j].name
	})
	for _, k := range keys {
		s := seen[k]
		x.e.AddSymbol(Symbol{Addr: s.addr, Size: s.size, Name: s.name, TOCPtr: s.tocptr})
	}
}
