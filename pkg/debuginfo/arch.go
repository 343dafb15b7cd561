package debuginfo

import (
	"debug/elf"
	"encoding/binary"
	"runtime"

	"github.com/go-delve/tracecore/pkg/dwarf/regnum"
)

// Arch describes the objects that can be loaded on one architecture.
type Arch struct {
	Name    string
	Class   elf.Class
	Data    elf.Data
	Machine elf.Machine
	Frame   regnum.Frame

	// Descriptors is set on ABIs where function symbols point to a
	// descriptor in .opd instead of code.
	Descriptors bool

	// WritableText allows text mappings that are also writable, some
	// x86 loaders produce them.
	WritableText bool

	// PageSize is used to round segment ends.
	PageSize uint64

	// MinInsnSize is the size of the shortest instruction, subtracting
	// it from a return address gives an address inside the call.
	MinInsnSize uint64
}

var (
	ArchAMD64 = Arch{Name: "amd64", Class: elf.ELFCLASS64, Data: elf.ELFDATA2LSB, Machine: elf.EM_X86_64, Frame: regnum.AMD64, PageSize: 4096, MinInsnSize: 1}
	Arch386   = Arch{Name: "386", Class: elf.ELFCLASS32, Data: elf.ELFDATA2LSB, Machine: elf.EM_386, Frame: regnum.I386, WritableText: true, PageSize: 4096, MinInsnSize: 1}
	ArchARM64 = Arch{Name: "arm64", Class: elf.ELFCLASS64, Data: elf.ELFDATA2LSB, Machine: elf.EM_AARCH64, Frame: regnum.ARM64, PageSize: 4096, MinInsnSize: 4}
	ArchPPC64 = Arch{Name: "ppc64", Class: elf.ELFCLASS64, Data: elf.ELFDATA2MSB, Machine: elf.EM_PPC64, Frame: regnum.PPC64, Descriptors: true, PageSize: 65536, MinInsnSize: 4}
)

// HostArch returns the Arch of the running program. The zero Arch is
// returned for architectures that are not supported.
func HostArch() Arch {
	switch runtime.GOARCH {
	case "amd64":
		return ArchAMD64
	case "386":
		return Arch386
	case "arm64":
		return ArchARM64
	case "ppc64":
		return ArchPPC64
	}
	return Arch{}
}

// ByteOrder returns the byte order of the architecture.
func (a *Arch) ByteOrder() binary.ByteOrder {
	if a.Data == elf.ELFDATA2MSB {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// PtrSize returns the size of a pointer in bytes.
func (a *Arch) PtrSize() int {
	if a.Class == elf.ELFCLASS64 {
		return 8
	}
	return 4
}

func (a *Arch) pageSize() uint64 {
	if a.PageSize == 0 {
		return 4096
	}
	return a.PageSize
}

// PageRoundUp rounds x up to a multiple of the page size.
func (a *Arch) PageRoundUp(x uint64) uint64 {
	ps := a.pageSize()
	return (x + ps - 1) &^ (ps - 1)
}

func (a *Arch) pageRoundDown(x uint64) uint64 {
	return x &^ (a.pageSize() - 1)
}
