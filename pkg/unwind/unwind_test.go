package unwind

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/go-delve/tracecore/pkg/debuginfo"
	"github.com/go-delve/tracecore/pkg/dwarf/frame"
)

const stackBase = 0x7fff0000

// fakeStack is a piece of memory of the traced process holding a stack.
type fakeStack struct {
	base  uint64
	data  []byte
	order binary.ByteOrder
	word  int
}

func newFakeStack(arch *debuginfo.Arch) *fakeStack {
	return &fakeStack{base: stackBase, data: make([]byte, 0x1000), order: arch.ByteOrder(), word: arch.PtrSize()}
}

func (s *fakeStack) ReadMemory(buf []byte, addr uint64) (int, error) {
	if addr < s.base || addr+uint64(len(buf)) > s.base+uint64(len(s.data)) {
		return 0, errors.New("unmapped")
	}
	return copy(buf, s.data[addr-s.base:]), nil
}

func (s *fakeStack) put(addr, val uint64) {
	b := s.data[addr-s.base:]
	if s.word == 4 {
		s.order.PutUint32(b, uint32(val))
	} else {
		s.order.PutUint64(b, val)
	}
}

type fakeThread struct {
	*fakeStack
	regs Registers
}

func (t *fakeThread) Registers() (Registers, error) { return t.regs, nil }
func (t *fakeThread) StackHighest() uint64            { return stackBase + 0xff8 }

func cfi(base, length uint64, cfaOff int64, ra, sp, fp frame.Recovery) debuginfo.CfiRecord {
	return debuginfo.CfiRecord{Summary: frame.Summary{
		Base: base, Len: length,
		CFAFromSP: true, CFAOff: cfaOff,
		RA: ra, SP: sp, FP: fp,
	}}
}

var (
	same    = frame.Recovery{Kind: frame.RecoverSame}
	unknown = frame.Recovery{Kind: frame.RecoverUnknown}
)

func memAt(off int64) frame.Recovery { return frame.Recovery{Kind: frame.RecoverMemCFARel, Off: off} }
func cfaAt(off int64) frame.Recovery { return frame.Recovery{Kind: frame.RecoverCFARel, Off: off} }

func registry(arch debuginfo.Arch, start, size uint64, syms []debuginfo.Symbol, recs ...debuginfo.CfiRecord) *debuginfo.Registry {
	reg := debuginfo.NewRegistry(debuginfo.Options{Arch: arch})
	e := reg.NewEntry(start, size, "/lib/libtest.so")
	for _, sym := range syms {
		e.AddSymbol(sym)
	}
	for _, rec := range recs {
		e.AddCfiRecord(rec)
	}
	reg.Add(e)
	return reg
}

func TestFramePointers(t *testing.T) {
	reg := debuginfo.NewRegistry(debuginfo.Options{Arch: debuginfo.ArchAMD64})
	mem := newFakeStack(&debuginfo.ArchAMD64)
	mem.put(stackBase+0x100, stackBase+0x200)
	mem.put(stackBase+0x108, 0x401234)
	mem.put(stackBase+0x200, 0)
	mem.put(stackBase+0x208, 0x401500)

	u := New(reg, 0)
	th := &fakeThread{mem, Registers{PC: 0x401000, SP: stackBase + 0x80, FP: stackBase + 0x100}}
	ips, err := u.ThreadStack(th, 10)
	if err != nil {
		t.Fatal(err)
	}
	if want := []uint64{0x401000, 0x401234, 0x401500}; !reflect.DeepEqual(ips, want) {
		t.Fatalf("expected %#x got %#x", want, ips)
	}

	ips, _ = u.ThreadStack(th, 2)
	if want := []uint64{0x401000, 0x401234}; !reflect.DeepEqual(ips, want) {
		t.Fatalf("expected %#x got %#x", want, ips)
	}
	if ips, _ := u.ThreadStack(th, 0); len(ips) != 0 {
		t.Fatalf("expected empty trace got %#x", ips)
	}
}

func TestFramePointerAtStackTop(t *testing.T) {
	reg := debuginfo.NewRegistry(debuginfo.Options{Arch: debuginfo.ArchAMD64})
	mem := newFakeStack(&debuginfo.ArchAMD64)
	mem.data = make([]byte, 0x2000)
	u := New(reg, 0)

	// the highest frame pointer allowed is the last word of the page
	// containing the top of the stack
	top := uint64(stackBase + 0xff8)
	mem.put(top, 0)
	mem.put(top+8, 0x401777)
	regs := Registers{PC: 0x401000, SP: stackBase + 0x80, FP: top}
	ips := u.Stack(regs, regs.SP, stackBase+0x800, mem, 10)
	if want := []uint64{0x401000, 0x401777}; !reflect.DeepEqual(ips, want) {
		t.Fatalf("expected %#x got %#x", want, ips)
	}

	mem.put(top+8, 0)
	mem.put(top+16, 0x401888)
	regs.FP = top + 8
	ips = u.Stack(regs, regs.SP, stackBase+0x800, mem, 10)
	if want := []uint64{0x401000}; !reflect.DeepEqual(ips, want) {
		t.Fatalf("expected %#x got %#x", want, ips)
	}
}

func TestHugeStack(t *testing.T) {
	reg := debuginfo.NewRegistry(debuginfo.Options{Arch: debuginfo.ArchAMD64})
	mem := newFakeStack(&debuginfo.ArchAMD64)
	mem.put(stackBase+0x100, 0)
	mem.put(stackBase+0x108, 0x401234)

	regs := Registers{PC: 0x401000, SP: stackBase + 0x80, FP: stackBase + 0x100}
	ips := New(reg, 0x100).Stack(regs, regs.SP, stackBase+0xff8, mem, 10)
	if len(ips) != 1 || ips[0] != 0x401000 {
		t.Fatalf("expected a single frame got %#x", ips)
	}
	ips = New(reg, 0).Stack(regs, regs.SP, stackBase+0xff8, mem, 10)
	if len(ips) != 2 {
		t.Fatalf("expected two frames got %#x", ips)
	}
}

func TestCFI(t *testing.T) {
	reg := registry(debuginfo.ArchAMD64, 0x400000, 0x10000, nil,
		cfi(0x401000, 0x100, 16, memAt(-8), cfaAt(0), same),
		cfi(0x402000, 0x10, 8, unknown, cfaAt(0), same),
		cfi(0x403000, 0x10, 0x10000, memAt(-8), cfaAt(0), same))

	mem := newFakeStack(&debuginfo.ArchAMD64)
	mem.put(stackBase+0x108, 0x401080)
	mem.put(stackBase+0x118, 0x402005)
	// frame pointer chain, only used when there is no CFI
	mem.put(stackBase+0x400, 0)
	mem.put(stackBase+0x408, 0x401234)

	u := New(reg, 0)
	if u.Strategy() != CFIFirst {
		t.Fatalf("wrong strategy %d", u.Strategy())
	}
	regs := Registers{PC: 0x401010, SP: stackBase + 0x100, FP: stackBase + 0x400}
	ips := u.Stack(regs, regs.SP, stackBase+0xff8, mem, 10)
	if want := []uint64{0x401010, 0x401080, 0x402005}; !reflect.DeepEqual(ips, want) {
		t.Fatalf("expected %#x got %#x", want, ips)
	}

	// the saved return address is out of the stack
	regs.PC = 0x403000
	ips = u.Stack(regs, regs.SP, stackBase+0xff8, mem, 10)
	if want := []uint64{0x403000, 0x401234}; !reflect.DeepEqual(ips, want) {
		t.Fatalf("expected %#x got %#x", want, ips)
	}

	// unloading the object invalidates cached records
	reg.NotifyMunmap(0x400000, 0x10000)
	regs.PC = 0x401010
	ips = u.Stack(regs, regs.SP, stackBase+0xff8, mem, 10)
	if want := []uint64{0x401010, 0x401234}; !reflect.DeepEqual(ips, want) {
		t.Fatalf("expected %#x got %#x", want, ips)
	}
}

func TestFramePointersFirst(t *testing.T) {
	reg := registry(debuginfo.Arch386, 0x8048000, 0x1000, nil,
		cfi(0x8048000, 0x10, 8, memAt(-4), cfaAt(0), same))
	mem := newFakeStack(&debuginfo.Arch386)
	mem.put(stackBase+0x84, 0xdeadbeef)
	mem.put(stackBase+0x100, stackBase+0x200)
	mem.put(stackBase+0x104, 0x8048123)
	mem.put(stackBase+0x200, 0)
	mem.put(stackBase+0x204, 0x8048456)

	u := New(reg, 0)
	if u.Strategy() != FPFirst {
		t.Fatalf("wrong strategy %d", u.Strategy())
	}
	regs := Registers{PC: 0x8048004, SP: stackBase + 0x80, FP: stackBase + 0x100}
	ips := u.Stack(regs, regs.SP, stackBase+0xffc, mem, 10)
	if want := []uint64{0x8048004, 0x8048123, 0x8048456}; !reflect.DeepEqual(ips, want) {
		t.Fatalf("expected %#x got %#x", want, ips)
	}

	// without a frame pointer the CFI is used
	regs.FP = 0
	ips = u.Stack(regs, regs.SP, stackBase+0xffc, mem, 10)
	if want := []uint64{0x8048004, 0xdeadbeef}; !reflect.DeepEqual(ips, want) {
		t.Fatalf("expected %#x got %#x", want, ips)
	}
}

func TestLinkRegister(t *testing.T) {
	syms := []debuginfo.Symbol{
		{Addr: 0x10001000, Size: 0x100, Name: "callee"},
		{Addr: 0x10002000, Size: 0x100, Name: "caller"},
		{Addr: 0x10003000, Size: 0x100, Name: "outer"},
	}
	reg := registry(debuginfo.ArchPPC64, 0x10000000, 0x10000, syms)
	mem := newFakeStack(&debuginfo.ArchPPC64)
	mem.put(stackBase+0x100, stackBase+0x200)
	mem.put(stackBase+0x200, stackBase+0x300)
	mem.put(stackBase+0x210, 0x10002030)
	mem.put(stackBase+0x300, 0)
	mem.put(stackBase+0x310, 0x10003040)

	u := New(reg, 0)
	if u.Strategy() != FPOnly {
		t.Fatalf("wrong strategy %d", u.Strategy())
	}

	tests := []struct {
		lr   uint64
		want []uint64
	}{
		// the innermost function did not save the link register yet
		{0x10002020, []uint64{0x10001010, 0x10002020, 0x10003040}},
		{0x10001050, []uint64{0x10001010, 0x10002030, 0x10003040}},
	}
	for _, tc := range tests {
		regs := Registers{PC: 0x10001010, SP: stackBase + 0x100, FP: stackBase + 0x100, LR: tc.lr}
		ips := u.Stack(regs, regs.SP, stackBase+0xff8, mem, 10)
		if !reflect.DeepEqual(ips, tc.want) {
			t.Errorf("lr %#x: expected %#x got %#x", tc.lr, tc.want, ips)
		}
	}
}
