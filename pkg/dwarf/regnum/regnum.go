// Package regnum maps the DWARF register numbers used by call frame
// information to the registers the unwinder tracks.
package regnum

import "fmt"

// The mapping between hardware registers and DWARF registers is specified
// by each architecture's psABI:
// AMD64: System V ABI AMD64 Architecture Processor Supplement, figure 3.36
// I386: System V ABI Intel386 Architecture Processor Supplement, table 2.14
// ARM64: DWARF for the Arm 64-bit Architecture, table 1
// PPC64: 64-bit PowerPC ELF Application Binary Interface, section 3.4

const (
	AMD64_Rbp = 6
	AMD64_Rsp = 7
	AMD64_Rip = 16

	I386_Esp = 4
	I386_Ebp = 5
	I386_Eip = 8

	ARM64_BP = 29 // also X29
	ARM64_LR = 30 // also X30
	ARM64_SP = 31

	PPC64_R1 = 1  // stack pointer
	PPC64_LR = 65 // link register
)

// Frame describes the registers that take part in unwinding on one
// architecture.
type Frame struct {
	Name string
	SP   uint64
	FP   uint64
	// PC is the register holding the return address in CIEs that
	// follow the psABI.
	PC uint64
	// PtrSize is the size of a stack word.
	PtrSize int
}

var (
	AMD64 = Frame{Name: "amd64", SP: AMD64_Rsp, FP: AMD64_Rbp, PC: AMD64_Rip, PtrSize: 8}
	I386  = Frame{Name: "386", SP: I386_Esp, FP: I386_Ebp, PC: I386_Eip, PtrSize: 4}
	ARM64 = Frame{Name: "arm64", SP: ARM64_SP, FP: ARM64_BP, PC: ARM64_LR, PtrSize: 8}
	// PPC64 has no frame pointer, r1 is both the stack pointer and the
	// head of the back chain.
	PPC64 = Frame{Name: "ppc64le", SP: PPC64_R1, FP: PPC64_R1, PC: PPC64_LR, PtrSize: 8}
)

// ForArch returns the Frame for a GOARCH value.
func ForArch(goarch string) (Frame, bool) {
	switch goarch {
	case "amd64":
		return AMD64, true
	case "386":
		return I386, true
	case "arm64":
		return ARM64, true
	case "ppc64", "ppc64le":
		return PPC64, true
	}
	return Frame{}, false
}

// ToName returns a printable name for a DWARF register number.
func (f Frame) ToName(num uint64) string {
	switch num {
	case f.SP:
		return "sp"
	case f.FP:
		return "fp"
	case f.PC:
		return "pc"
	}
	return fmt.Sprintf("r%d", num)
}
