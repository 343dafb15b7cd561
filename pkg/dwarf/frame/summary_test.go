package frame

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/go-delve/tracecore/pkg/dwarf/regnum"
)

func TestSummarize(t *testing.T) {
	var s section
	cie := s.entry(debugFrameCIE(DW_CFA_def_cfa, regnum.AMD64_Rsp, 8, DW_CFA_offset|regnum.AMD64_Rip, 1))
	s.entry(debugFrameFDE(cie, 0x1000, 0x20,
		DW_CFA_advance_loc|1,
		DW_CFA_def_cfa_offset, 16,
		DW_CFA_offset|regnum.AMD64_Rbp, 2,
		DW_CFA_advance_loc|3,
		DW_CFA_def_cfa_register, regnum.AMD64_Rbp,
		DW_CFA_advance_loc|0x10,
		DW_CFA_def_cfa, regnum.AMD64_Rsp, 8,
		DW_CFA_restore|regnum.AMD64_Rbp))

	fdes, err := Parse(s.buf.Bytes(), binary.LittleEndian, 0, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	sums, failed, err := fdes[0].Summarize(regnum.AMD64)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 0 {
		t.Fatalf("unexpected failed rows %v", failed)
	}

	ra := Recovery{Kind: RecoverMemCFARel, Off: -8}
	sp := Recovery{Kind: RecoverCFARel}
	same := Recovery{Kind: RecoverSame}
	savedFP := Recovery{Kind: RecoverMemCFARel, Off: -16}
	expected := []Summary{
		{Base: 0x1000, Len: 1, CFAFromSP: true, CFAOff: 8, RA: ra, SP: sp, FP: same},
		{Base: 0x1001, Len: 3, CFAFromSP: true, CFAOff: 16, RA: ra, SP: sp, FP: savedFP},
		{Base: 0x1004, Len: 0x10, CFAFromSP: false, CFAOff: 16, RA: ra, SP: sp, FP: savedFP},
		{Base: 0x1014, Len: 0xc, CFAFromSP: true, CFAOff: 8, RA: ra, SP: sp, FP: same},
	}
	if len(sums) != len(expected) {
		t.Fatalf("expected %d rows got %d: %v", len(expected), len(sums), sums)
	}
	for i := range expected {
		if sums[i] != expected[i] {
			t.Errorf("row %d: expected %s got %s", i, &expected[i], &sums[i])
		}
	}
}

func TestSummarizeRejects(t *testing.T) {
	for _, tc := range []struct {
		name   string
		instrs []byte
		reason string
	}{
		{"other register", []byte{DW_CFA_def_cfa, 3, 8, DW_CFA_offset | regnum.AMD64_Rip, 1}, "CFA computed from r3"},
		{"expression", []byte{DW_CFA_def_cfa_expression, 1, 0x77, DW_CFA_offset | regnum.AMD64_Rip, 1}, "CFA rule expression"},
		{"same ra", []byte{DW_CFA_def_cfa, regnum.AMD64_Rsp, 8, DW_CFA_same_value, regnum.AMD64_Rip}, "return address rule same_value"},
		{"register fp", []byte{DW_CFA_def_cfa, regnum.AMD64_Rsp, 8, DW_CFA_offset | regnum.AMD64_Rip, 1, DW_CFA_register, regnum.AMD64_Rbp, 3}, "frame pointer rule register"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var s section
			cie := s.entry(debugFrameCIE())
			s.entry(debugFrameFDE(cie, 0x2000, 0x10, tc.instrs...))
			fdes, err := Parse(s.buf.Bytes(), binary.LittleEndian, 0, 8, 0)
			if err != nil {
				t.Fatal(err)
			}
			sums, failed, err := fdes[0].Summarize(regnum.AMD64)
			if err != nil {
				t.Fatal(err)
			}
			if len(sums) != 0 || len(failed) != 1 {
				t.Fatalf("expected one failed row got %v %v", sums, failed)
			}
			if !strings.Contains(failed[0].Error(), tc.reason) {
				t.Fatalf("expected reason %q got %q", tc.reason, failed[0].Error())
			}
		})
	}
}

func TestSummarizeUndefinedRA(t *testing.T) {
	var s section
	cie := s.entry(debugFrameCIE(DW_CFA_def_cfa, regnum.AMD64_Rsp, 8))
	s.entry(debugFrameFDE(cie, 0x3000, 0x8))
	fdes, err := Parse(s.buf.Bytes(), binary.LittleEndian, 0, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	sums, _, err := fdes[0].Summarize(regnum.AMD64)
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 || sums[0].RA.Kind != RecoverUnknown {
		t.Fatalf("expected a single row with unknown return address got %v", sums)
	}
}

func TestRememberRestoreState(t *testing.T) {
	var s section
	cie := s.entry(debugFrameCIE(DW_CFA_def_cfa, regnum.AMD64_Rsp, 8, DW_CFA_offset|regnum.AMD64_Rip, 1))
	s.entry(debugFrameFDE(cie, 0x1000, 0x10,
		DW_CFA_remember_state,
		DW_CFA_def_cfa_offset, 32,
		DW_CFA_advance_loc|4,
		DW_CFA_restore_state))

	fdes, err := Parse(s.buf.Bytes(), binary.LittleEndian, 0, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	var offs []int64
	err = fdes[0].Rows(func(lo, hi uint64, frame *FrameContext) {
		offs = append(offs, frame.CFA.Offset)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(offs) != 2 || offs[0] != 32 || offs[1] != 8 {
		t.Fatalf("expected CFA offsets [32 8] got %v", offs)
	}
}

func TestMalformedInstructions(t *testing.T) {
	var s section
	cie := s.entry(debugFrameCIE(DW_CFA_def_cfa, regnum.AMD64_Rsp, 8))
	s.entry(debugFrameFDE(cie, 0x1000, 0x10, DW_CFA_restore_state))
	s.entry(debugFrameFDE(cie, 0x2000, 0x10, 0x3a))
	fdes, err := Parse(s.buf.Bytes(), binary.LittleEndian, 0, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, fde := range fdes {
		if _, _, err := fde.Summarize(regnum.AMD64); err == nil {
			t.Fatalf("expected error for FDE at %#x", fde.Begin())
		}
	}
}
