package debuginfo

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-delve/tracecore/pkg/dwarf/util"
)

// Reasons reported by ImageError.
const (
	errMmapFailed     = "mmap failed"
	errBadHeader      = "Invalid ELF header, or missing stringtab/sectiontab."
	errPhdrBeyondEnd  = "ELF program header is beyond image end?!"
	errShdrBeyondEnd  = "ELF section header is beyond image end?!"
	errSectBeyondEnd  = "   section beyond image end?!"
	errPhdrOutOfOrder = "ELF Phdrs are out of order!?"
)

// ImageError is returned when an object file can not be used.
type ImageError struct {
	Path   string
	Reason string
	Err    error
}

func (err *ImageError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("%s: %s: %v", err.Path, err.Reason, err.Err)
	}
	return fmt.Sprintf("%s: %s", err.Path, err.Reason)
}

func (err *ImageError) Unwrap() error {
	return err.Err
}

// ProgHeader is an ELF program header.
type ProgHeader struct {
	Type   elf.ProgType
	Flags  elf.ProgFlag
	Off    uint64
	Vaddr  uint64
	Filesz uint64
	Memsz  uint64
}

// Section is an ELF section of an Image.
type Section struct {
	Name   string
	Type   elf.SectionType
	Offset uint64
	Size   uint64
	// Addr is the link time address of the section.
	Addr uint64
	// Data is nil for SHT_NOBITS sections.
	Data []byte
}

// Image is an object file mapped in memory. Slices returned by an Image
// are only valid until Close.
type Image struct {
	Path    string
	Class   elf.Class
	Order   binary.ByteOrder
	Type    elf.Type
	Machine elf.Machine

	data  []byte
	unmap func() error
	progs []ProgHeader
	sects []Section
}

// elfHeader holds the fields of the ELF file header that are used,
// widened to 64 bits.
type elfHeader struct {
	typ                  elf.Type
	machine              elf.Machine
	phoff, shoff         uint64
	phnum, shnum         int
	shstrndx             int
	phentsize, shentsize int
}

// OpenImage maps the object file at path and validates it for arch.
// The returned Image must be closed by the caller.
func OpenImage(path string, arch *Arch) (*Image, error) {
	data, unmap, err := mapFile(path)
	if err != nil {
		return nil, &ImageError{Path: path, Reason: errMmapFailed, Err: err}
	}
	img := &Image{Path: path, data: data, unmap: unmap}
	if err := img.parse(arch); err != nil {
		img.Close()
		return nil, err
	}
	return img, nil
}

// IsELF reads the header of the file at path and returns true if it is
// an object that OpenImage would accept for arch.
func IsELF(path string, arch *Arch) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, binary.Size(elf.Header64{}))
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return false
	}
	_, _, err = readHeader(buf[:n], arch)
	return err == nil
}

// Close unmaps the image. It is safe to call Close more than once.
func (img *Image) Close() error {
	if img.unmap == nil {
		return nil
	}
	err := img.unmap()
	img.unmap = nil
	img.data = nil
	img.sects = nil
	return err
}

// Len returns the size of the image.
func (img *Image) Len() int {
	return len(img.data)
}

// Progs returns the program headers of the image.
func (img *Image) Progs() []ProgHeader {
	return img.progs
}

// Sections returns all sections of the image.
func (img *Image) Sections() []Section {
	return img.sects
}

// Section returns the first section called name, or nil.
func (img *Image) Section(name string) *Section {
	for i := range img.sects {
		if img.sects[i].Name == name {
			return &img.sects[i]
		}
	}
	return nil
}

// Bytes returns size bytes of the image starting at off.
func (img *Image) Bytes(off, size uint64) ([]byte, bool) {
	if off > uint64(len(img.data)) || size > uint64(len(img.data))-off {
		return nil, false
	}
	return img.data[off : off+size], true
}

func (img *Image) fail(reason string) error {
	return &ImageError{Path: img.Path, Reason: reason}
}

func readHeader(d []byte, arch *Arch) (*elfHeader, binary.ByteOrder, error) {
	bad := &ImageError{Reason: errBadHeader}
	if len(d) < elf.EI_NIDENT || string(d[:4]) != elf.ELFMAG {
		return nil, nil, bad
	}
	if elf.Class(d[elf.EI_CLASS]) != arch.Class || elf.Data(d[elf.EI_DATA]) != arch.Data || elf.Version(d[elf.EI_VERSION]) != elf.EV_CURRENT {
		return nil, nil, bad
	}
	order := arch.ByteOrder()
	rdr := bytes.NewReader(d)

	var hdr elfHeader
	switch arch.Class {
	case elf.ELFCLASS64:
		var h elf.Header64
		if err := binary.Read(rdr, order, &h); err != nil {
			return nil, nil, bad
		}
		hdr = elfHeader{
			typ: elf.Type(h.Type), machine: elf.Machine(h.Machine),
			phoff: h.Phoff, shoff: h.Shoff,
			phnum: int(h.Phnum), shnum: int(h.Shnum), shstrndx: int(h.Shstrndx),
			phentsize: int(h.Phentsize), shentsize: int(h.Shentsize),
		}
	default:
		var h elf.Header32
		if err := binary.Read(rdr, order, &h); err != nil {
			return nil, nil, bad
		}
		hdr = elfHeader{
			typ: elf.Type(h.Type), machine: elf.Machine(h.Machine),
			phoff: uint64(h.Phoff), shoff: uint64(h.Shoff),
			phnum: int(h.Phnum), shnum: int(h.Shnum), shstrndx: int(h.Shstrndx),
			phentsize: int(h.Phentsize), shentsize: int(h.Shentsize),
		}
	}

	if hdr.typ != elf.ET_EXEC && hdr.typ != elf.ET_DYN {
		return nil, nil, bad
	}
	if hdr.machine != arch.Machine {
		return nil, nil, bad
	}
	if hdr.shstrndx == 0 || hdr.phoff == 0 || hdr.phnum == 0 || hdr.shoff == 0 || hdr.shnum == 0 {
		return nil, nil, bad
	}
	return &hdr, order, nil
}

func (img *Image) parse(arch *Arch) error {
	hdr, order, err := readHeader(img.data, arch)
	if err != nil {
		err.(*ImageError).Path = img.Path
		return err
	}
	img.Class, img.Order = arch.Class, order
	img.Type, img.Machine = hdr.typ, hdr.machine

	phsz, shsz := uint64(binary.Size(elf.Prog32{})), uint64(binary.Size(elf.Section32{}))
	if arch.Class == elf.ELFCLASS64 {
		phsz, shsz = uint64(binary.Size(elf.Prog64{})), uint64(binary.Size(elf.Section64{}))
	}

	phdrs, ok := img.Bytes(hdr.phoff, uint64(hdr.phnum)*phsz)
	if !ok {
		return img.fail(errPhdrBeyondEnd)
	}
	shdrs, ok := img.Bytes(hdr.shoff, uint64(hdr.shnum)*shsz)
	if !ok {
		return img.fail(errShdrBeyondEnd)
	}
	if hdr.shstrndx >= hdr.shnum {
		return img.fail(errBadHeader)
	}

	img.progs = make([]ProgHeader, hdr.phnum)
	for i := range img.progs {
		img.progs[i] = readProg(phdrs[uint64(i)*phsz:], arch.Class, order)
	}

	sects := make([]Section, hdr.shnum)
	names := make([]uint32, hdr.shnum)
	for i := range sects {
		sects[i], names[i] = readSection(shdrs[uint64(i)*shsz:], arch.Class, order)
	}
	strsect := &sects[hdr.shstrndx]
	shstrtab, ok := img.Bytes(strsect.Offset, strsect.Size)
	if !ok {
		return img.fail(errBadHeader)
	}
	for i := range sects {
		s := &sects[i]
		s.Name, _ = util.CString(shstrtab, uint64(names[i]))
		if s.Type == elf.SHT_NOBITS {
			continue
		}
		s.Data, ok = img.Bytes(s.Offset, s.Size)
		if !ok {
			return &ImageError{Path: img.Path, Reason: errSectBeyondEnd, Err: fmt.Errorf("section %s", s.Name)}
		}
	}
	img.sects = sects
	return nil
}

func readProg(b []byte, class elf.Class, order binary.ByteOrder) ProgHeader {
	rdr := bytes.NewReader(b)
	if class == elf.ELFCLASS64 {
		var p elf.Prog64
		binary.Read(rdr, order, &p)
		return ProgHeader{Type: elf.ProgType(p.Type), Flags: elf.ProgFlag(p.Flags), Off: p.Off, Vaddr: p.Vaddr, Filesz: p.Filesz, Memsz: p.Memsz}
	}
	var p elf.Prog32
	binary.Read(rdr, order, &p)
	return ProgHeader{Type: elf.ProgType(p.Type), Flags: elf.ProgFlag(p.Flags), Off: uint64(p.Off), Vaddr: uint64(p.Vaddr), Filesz: uint64(p.Filesz), Memsz: uint64(p.Memsz)}
}

// readSection decodes a section header and returns it together with the
// offset of its name in the section name table.
func readSection(b []byte, class elf.Class, order binary.ByteOrder) (Section, uint32) {
	rdr := bytes.NewReader(b)
	if class == elf.ELFCLASS64 {
		var s elf.Section64
		binary.Read(rdr, order, &s)
		return Section{Type: elf.SectionType(s.Type), Offset: s.Off, Size: s.Size, Addr: s.Addr}, s.Name
	}
	var s elf.Section32
	binary.Read(rdr, order, &s)
	return Section{Type: elf.SectionType(s.Type), Offset: uint64(s.Off), Size: uint64(s.Size), Addr: uint64(s.Addr)}, s.Name
}
