package debuginfo

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"

	"github.com/go-delve/tracecore/pkg/dwarf/line"
	"github.com/go-delve/tracecore/pkg/dwarf/util"
	"github.com/go-delve/tracecore/pkg/logflags"
	"github.com/go-delve/tracecore/pkg/terminal"
)

// addrRange is a range of runtime addresses. A zero Start means the
// range is absent.
type addrRange struct {
	Start uint64
	Size  uint64
}

func (r addrRange) contains(addr uint64) bool {
	return r.Start != 0 && addr >= r.Start && addr < r.Start+r.Size
}

func (r addrRange) end() uint64 {
	return r.Start + r.Size
}

// Entry holds the debug information of one loaded object.
type Entry struct {
	// Start and Size are the range of runtime addresses covered by the
	// entry, Offset is added to link time addresses to obtain runtime
	// addresses.
	Start  uint64
	Size   uint64
	Offset uint64

	Filename string
	Soname   string

	Symbols   *SymbolTable
	Locations *LocationTable
	Scopes    *ScopeTable
	CFI       *CFITable

	got, plt, opd addrRange
	data, bss     addrRange

	strings       StringTable
	opts          *Options
	log           logflags.Logger
	cfiComplaints int
}

func newEntry(opts *Options, start, size uint64, filename string) *Entry {
	e := &Entry{
		Start:     start,
		Size:      size,
		Symbols:   newSymbolTable(),
		Locations: newLocationTable(),
		Scopes:    newScopeTable(),
		CFI:       newCFITable(),
		opts:      opts,
		log:       logflags.DebugInfoLogger(),
	}
	e.Filename = e.strings.Add(filename)
	return e
}

// End returns the first address after the entry.
func (e *Entry) End() uint64 {
	return e.Start + e.Size
}

// Contains returns true if addr is in [Start, Start+Size).
func (e *Entry) Contains(addr uint64) bool {
	return addr >= e.Start && addr < e.Start+e.Size
}

func (e *Entry) overlaps(addr, size uint64) bool {
	return addr < e.Start+e.Size && e.Start < addr+size
}

// Strings returns the string table holding the names of the entry.
func (e *Entry) Strings() *StringTable {
	return &e.strings
}

func (e *Entry) message(sev terminal.Severity, format string, args ...interface{}) {
	sink := e.opts.Sink
	if sink == nil {
		sink = terminal.Discard
	}
	sink.EmitLine(sev, fmt.Sprintf(format, args...))
}

// symerr reports a problem with the object being read at verbosity > 1.
func (e *Entry) symerr(msg string) {
	if e.opts.Verbosity > 1 {
		e.message(terminal.UserMsg, "%s", msg)
	}
}

// sectionsFromDebugFile are taken from the separate debug file, when
// there is one.
var sectionsFromDebugFile = map[string]bool{
	".symtab":            true,
	".strtab":            true,
	".debug_line":        true,
	".debug_line_str":    true,
	".debug_info":        true,
	".debug_abbrev":      true,
	".debug_str":         true,
	".debug_str_offsets": true,
	".debug_ranges":      true,
	".debug_rnglists":    true,
	".debug_addr":        true,
	".debug_frame":       true,
}

// load reads the object file of e and fills its tables. On failure the
// entry must be discarded.
func (e *Entry) load() error {
	if e.opts.Verbosity > 1 {
		e.message(terminal.UserMsg, "Reading syms from %s (%#x)", e.Filename, e.Start)
	}

	img, err := OpenImage(e.Filename, &e.opts.Arch)
	if err != nil {
		var ierr *ImageError
		if errors.As(err, &ierr) && ierr.Reason == errMmapFailed {
			e.message(terminal.UserMsg, "warning: mmap failed on %s", e.Filename)
			e.message(terminal.UserMsg, "         no symbols or debug info loaded")
		} else if ierr != nil {
			e.symerr(ierr.Reason)
		}
		return err
	}
	defer img.Close()

	if err := e.applyProgramHeaders(img); err != nil {
		e.symerr(err.(*ImageError).Reason)
		return err
	}

	e.got = e.sectionRange(img, ".got")
	e.plt = e.sectionRange(img, ".plt")
	e.opd = e.sectionRange(img, ".opd")

	var dbg *Image
	if s := img.Section(".gnu_debuglink"); s != nil && s.Data != nil {
		if name, crc, ok := parseDebugLink(s.Data, img); ok {
			if dbg = e.findDebugFile(name, crc); dbg != nil {
				defer dbg.Close()
			}
		}
	}

	section := func(name string) []byte {
		if dbg != nil && sectionsFromDebugFile[name] {
			if s := dbg.Section(name); s != nil && s.Data != nil {
				return s.Data
			}
		}
		if s := img.Section(name); s != nil {
			return s.Data
		}
		return nil
	}

	var opdData []byte
	if s := img.Section(".opd"); s != nil {
		opdData = s.Data
	}
	x := &symbolExtractor{
		e:           e,
		order:       img.Order,
		dataSyms:    e.opts.DataSyms,
		descriptors: e.opts.Arch.Descriptors,
		opd:         opdData,
		log:         logflags.SymtabLogger(),
	}
	if err := x.read("symbol table", img.Class, section(".symtab"), section(".strtab")); err != nil {
		e.symerr(err.Error())
		return &ImageError{Path: e.Filename, Reason: "bad symbol table", Err: err}
	}
	if err := x.read("dynamic symbol table", img.Class, section(".dynsym"), section(".dynstr")); err != nil {
		e.symerr(err.Error())
		return &ImageError{Path: e.Filename, Reason: "bad dynamic symbol table", Err: err}
	}

	if s := img.Section(".eh_frame"); s != nil && s.Data != nil {
		if err := e.readCFI(cfiSection{data: s.Data, addr: s.Addr, ehFrame: true}, img.Order); err != nil {
			logflags.CFILogger().Debugf("%s: .eh_frame: %v", e.Filename, err)
		}
	} else if data := section(".debug_frame"); data != nil {
		if err := e.readCFI(cfiSection{data: data}, img.Order); err != nil {
			logflags.CFILogger().Debugf("%s: .debug_frame: %v", e.Filename, err)
		}
	}

	if data := section(".debug_line"); data != nil {
		e.readLines(data, section(".debug_line_str"), img)
	}

	if info, abbrev := section(".debug_info"), section(".debug_abbrev"); info != nil && abbrev != nil {
		if err := e.readDebugInfo(info, abbrev, section); err != nil {
			e.log.Debugf("%s: scopes: %v", e.Filename, err)
		}
	}

	e.canonicalize()
	return nil
}

func (e *Entry) sectionRange(img *Image, name string) addrRange {
	s := img.Section(name)
	if s == nil {
		return addrRange{}
	}
	return addrRange{Start: s.Addr + e.Offset, Size: s.Size}
}

func (e *Entry) canonicalize() {
	e.Symbols.Canonicalize()
	e.Locations.Canonicalize()
	e.Scopes.Canonicalize()
	e.CFI.Canonicalize()
}

// applyProgramHeaders computes the load offset, the data and bss ranges
// and the soname of the object.
func (e *Entry) applyProgramHeaders(img *Image) error {
	var (
		haveLoad bool
		baseAddr uint64
		prevAddr uint64
	)
	for _, ph := range img.Progs() {
		switch ph.Type {
		case elf.PT_LOAD:
			if !haveLoad {
				haveLoad = true
				e.Offset = e.Start - ph.Vaddr
				baseAddr = ph.Vaddr
			}
			if ph.Vaddr < prevAddr {
				return img.fail(errPhdrOutOfOrder)
			}
			prevAddr = ph.Vaddr

			mapped := ph.Vaddr + e.Offset
			mappedEnd := mapped + ph.Memsz
			if e.data.Start == 0 && ph.Flags&(elf.PF_R|elf.PF_W|elf.PF_X) == elf.PF_R|elf.PF_W {
				e.data = addrRange{Start: mapped, Size: ph.Filesz}
				e.bss = addrRange{Start: mapped + ph.Filesz, Size: ph.Memsz - ph.Filesz}
			}

			mapped = e.opts.Arch.pageRoundDown(mapped)
			mappedEnd = e.opts.Arch.PageRoundUp(mappedEnd)
			if e.opts.DataSyms && mapped >= e.Start && mapped <= e.Start+e.Size && mappedEnd > e.Start+e.Size {
				e.Size = mappedEnd - e.Start
			}

		case elf.PT_DYNAMIC:
			if soname := readSoname(img, ph, baseAddr); soname != "" {
				e.Soname = e.strings.Add(soname)
			}
		}
	}
	if e.Soname == "" {
		e.Soname = "NONE"
	}
	return nil
}

// readSoname returns the DT_SONAME of a PT_DYNAMIC segment.
func readSoname(img *Image, ph ProgHeader, baseAddr uint64) string {
	dyn, ok := img.Bytes(ph.Off, ph.Filesz)
	if !ok {
		return ""
	}
	entsz := 8
	if img.Class == elf.ELFCLASS64 {
		entsz = 16
	}
	var (
		strtab, soname       uint64
		haveStrtab, haveName bool
	)
	for off := 0; off+entsz <= len(dyn); off += entsz {
		var tag, val uint64
		if entsz == 16 {
			tag, val = img.Order.Uint64(dyn[off:]), img.Order.Uint64(dyn[off+8:])
		} else {
			tag, val = uint64(img.Order.Uint32(dyn[off:])), uint64(img.Order.Uint32(dyn[off+4:]))
		}
		switch elf.DynTag(tag) {
		case elf.DT_NULL:
			off = len(dyn)
		case elf.DT_SONAME:
			soname, haveName = val, true
		case elf.DT_STRTAB:
			strtab, haveStrtab = val-baseAddr, true
		}
	}
	if !haveName || !haveStrtab {
		return ""
	}
	name, _ := util.CString(img.data, strtab+soname)
	return name
}

func (e *Entry) readLines(data, lineStr []byte, img *Image) {
	var logfn func(string, ...interface{})
	if logflags.DebugLineErrors() {
		logger := e.log
		logfn = func(format string, args ...interface{}) {
			logger.Warnf(format, args...)
		}
	}
	ptrSize := e.opts.Arch.PtrSize()
	for _, dbl := range line.ParseAll(data, lineStr, logfn, e.Offset, ptrSize, img.Order) {
		err := dbl.Rows(func(r line.Row) {
			e.AddLineInfo(r.File, r.Dir, r.Lo, r.Hi, r.Line)
		})
		if err != nil && logfn != nil {
			logfn("%s: %v", e.Filename, err)
		}
	}
}

func (e *Entry) readDebugInfo(info, abbrev []byte, section func(string) []byte) error {
	d, err := dwarf.New(abbrev, nil, nil, info, nil, nil, section(".debug_ranges"), section(".debug_str"))
	if err != nil {
		return err
	}
	for _, name := range []string{".debug_rnglists", ".debug_addr", ".debug_str_offsets", ".debug_line_str"} {
		if data := section(name); data != nil {
			if err := d.AddSection(name, data); err != nil {
				return err
			}
		}
	}
	return e.readScopes(d)
}
