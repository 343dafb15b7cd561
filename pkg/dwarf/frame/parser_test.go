package frame

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-delve/tracecore/pkg/dwarf/leb128"
)

func TestParseCIE(t *testing.T) {
	ctx := &parseContext{
		buf:    bytes.NewBuffer([]byte{3, 0, 1, 124, 16, 12, 7, 8, 5, 16, 2, 0, 36, 0, 0, 0, 0, 0, 0, 0, 0, 16, 64, 0, 0, 0, 0, 0}),
		common: &CommonInformationEntry{Length: 12},
		length: 12,
		order:  binary.LittleEndian,
	}
	ctx.totalLen = ctx.buf.Len()
	_ = parseCIE(ctx)

	common := ctx.common

	if common.Version != 3 {
		t.Fatalf("Expected Version 3, but get %d", common.Version)
	}
	if common.Augmentation != "" {
		t.Fatalf("Expected Augmentation \"\", but get %s", common.Augmentation)
	}
	if common.CodeAlignmentFactor != 1 {
		t.Fatalf("Expected CodeAlignmentFactor 1, but get %d", common.CodeAlignmentFactor)
	}
	if common.DataAlignmentFactor != -4 {
		t.Fatalf("Expected DataAlignmentFactor -4, but get %d", common.DataAlignmentFactor)
	}
	if common.ReturnAddressRegister != 16 {
		t.Fatalf("Expected ReturnAddressRegister 16, but get %d", common.ReturnAddressRegister)
	}
	initialInstructions := []byte{12, 7, 8, 5, 16, 2, 0}
	if !bytes.Equal(common.InitialInstructions, initialInstructions) {
		t.Fatalf("Expected InitialInstructions %v, but get %v", initialInstructions, common.InitialInstructions)
	}
}

// section assembles a .debug_frame or .eh_frame section in memory.
type section struct {
	buf bytes.Buffer
}

// entry appends a length-prefixed entry and returns its offset.
func (s *section) entry(body []byte) int {
	off := s.buf.Len()
	binary.Write(&s.buf, binary.LittleEndian, uint32(len(body)))
	s.buf.Write(body)
	return off
}

func debugFrameCIE(instrs ...byte) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, uint32(0xffffffff))
	b.WriteByte(1) // version
	b.WriteByte(0) // augmentation
	b.WriteByte(1) // code alignment
	leb128.EncodeSigned(&b, -8)
	b.WriteByte(16) // return address register
	b.Write(instrs)
	return b.Bytes()
}

func debugFrameFDE(cie int, begin, size uint64, instrs ...byte) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, uint32(cie))
	binary.Write(&b, binary.LittleEndian, begin)
	binary.Write(&b, binary.LittleEndian, size)
	b.Write(instrs)
	return b.Bytes()
}

func TestParseDebugFrame(t *testing.T) {
	var s section
	cie := s.entry(debugFrameCIE(DW_CFA_def_cfa, 7, 8, DW_CFA_offset|16, 1))
	s.entry(debugFrameFDE(cie, 0x1000, 0x20, DW_CFA_advance_loc|1))
	s.entry(debugFrameFDE(cie, 0x2000, 0x10))

	fdes, err := Parse(s.buf.Bytes(), binary.LittleEndian, 0x400000, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(fdes) != 2 {
		t.Fatalf("expected 2 FDEs got %d", len(fdes))
	}
	if fdes[0].Begin() != 0x401000 || fdes[0].End() != 0x401020 {
		t.Fatalf("wrong range for first FDE [%#x, %#x)", fdes[0].Begin(), fdes[0].End())
	}
	if fdes[0].CIE != fdes[1].CIE {
		t.Fatalf("FDEs should share their CIE")
	}
	if fdes[0].CIE.DataAlignmentFactor != -8 {
		t.Fatalf("expected data alignment -8 got %d", fdes[0].CIE.DataAlignmentFactor)
	}
	if !bytes.Equal(fdes[0].Instructions, []byte{DW_CFA_advance_loc | 1}) {
		t.Fatalf("wrong instructions %v", fdes[0].Instructions)
	}
}

func TestParseEHFrame(t *testing.T) {
	const ehFrameAddr = 0x4000
	var s section

	var cie bytes.Buffer
	binary.Write(&cie, binary.LittleEndian, uint32(0))
	cie.WriteByte(1)
	cie.WriteString("zR\x00")
	cie.WriteByte(1)
	leb128.EncodeSigned(&cie, -8)
	cie.WriteByte(16)
	cie.WriteByte(1) // augmentation data length
	cie.WriteByte(byte(ptrEncPCRel | ptrEncSdata4))
	cie.Write([]byte{DW_CFA_def_cfa, 7, 8, DW_CFA_offset | 16, 1})
	cieOff := s.entry(cie.Bytes())

	fdeOff := s.buf.Len()
	idOff := fdeOff + 4
	beginOff := idOff + 4
	var fde bytes.Buffer
	binary.Write(&fde, binary.LittleEndian, uint32(idOff-cieOff))
	binary.Write(&fde, binary.LittleEndian, int32(0x1000-(ehFrameAddr+beginOff)))
	binary.Write(&fde, binary.LittleEndian, int32(0x30))
	fde.WriteByte(0) // augmentation data length
	fde.Write([]byte{DW_CFA_advance_loc | 4, DW_CFA_def_cfa_offset, 16})
	s.entry(fde.Bytes())
	s.entry(nil) // terminator

	fdes, err := Parse(s.buf.Bytes(), binary.LittleEndian, 0x500000, 8, ehFrameAddr)
	if err != nil {
		t.Fatal(err)
	}
	if len(fdes) != 1 {
		t.Fatalf("expected 1 FDE got %d", len(fdes))
	}
	if fdes[0].Begin() != 0x501000 || fdes[0].End() != 0x501030 {
		t.Fatalf("wrong range [%#x, %#x)", fdes[0].Begin(), fdes[0].End())
	}
	if fdes[0].CIE.Augmentation != "zR" {
		t.Fatalf("wrong augmentation %q", fdes[0].CIE.Augmentation)
	}
}

func TestParseTruncated(t *testing.T) {
	var s section
	s.entry(debugFrameCIE(DW_CFA_def_cfa, 7, 8))
	data := s.buf.Bytes()
	data = append(data, 0x40, 0, 0, 0, 0xff)
	if _, err := Parse(data, binary.LittleEndian, 0, 8, 0); err == nil {
		t.Fatal("expected error for truncated entry")
	}
}

func TestParseUnknownCIE(t *testing.T) {
	var s section
	s.entry(debugFrameCIE(DW_CFA_def_cfa, 7, 8))
	s.entry(debugFrameFDE(0x100, 0x1000, 0x10))
	if _, err := Parse(s.buf.Bytes(), binary.LittleEndian, 0, 8, 0); err == nil {
		t.Fatal("expected error for FDE pointing to a missing CIE")
	}
}
