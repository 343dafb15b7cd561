package frame

import (
	"bytes"
	"fmt"

	"github.com/go-delve/tracecore/pkg/dwarf/regnum"
)

// maxRowLen is the longest address range a single unwind row may cover.
const maxRowLen = 10000000

// RecoveryKind says how a register of the caller is recovered from the
// callee's state.
type RecoveryKind uint8

const (
	// RecoverUnknown means the value cannot be recovered and unwinding stops.
	RecoverUnknown RecoveryKind = iota
	// RecoverSame means the caller's value is the callee's value.
	RecoverSame
	// RecoverCFARel means the value is CFA+Off.
	RecoverCFARel
	// RecoverMemCFARel means the value is stored in memory at CFA+Off.
	RecoverMemCFARel
)

func (k RecoveryKind) String() string {
	switch k {
	case RecoverUnknown:
		return "unknown"
	case RecoverSame:
		return "same"
	case RecoverCFARel:
		return "cfa+"
	case RecoverMemCFARel:
		return "[cfa+]"
	}
	return fmt.Sprintf("RecoveryKind(%d)", uint8(k))
}

// Recovery is a recovery rule for one register.
type Recovery struct {
	Kind RecoveryKind
	Off  int64
}

func (r Recovery) String() string {
	switch r.Kind {
	case RecoverCFARel:
		return fmt.Sprintf("cfa%+d", r.Off)
	case RecoverMemCFARel:
		return fmt.Sprintf("[cfa%+d]", r.Off)
	}
	return r.Kind.String()
}

// Summary is one row of an unwind table reduced to the rules needed to
// recover the return address, stack pointer and frame pointer of the
// caller.
type Summary struct {
	Base, Len uint64
	// CFAFromSP is true when the CFA is computed from the stack pointer,
	// false when it is computed from the frame pointer.
	CFAFromSP bool
	CFAOff    int64
	RA        Recovery
	SP        Recovery
	FP        Recovery
}

func (s *Summary) String() string {
	base := "fp"
	if s.CFAFromSP {
		base = "sp"
	}
	return fmt.Sprintf("[%#x-%#x) cfa=%s%+d ra=%s sp=%s fp=%s", s.Base, s.Base+s.Len, base, s.CFAOff, s.RA, s.SP, s.FP)
}

// RowError describes an unwind row that could not be summarised.
type RowError struct {
	Base, Len uint64
	Reason    string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("cannot summarise row [%#x, %#x): %s", e.Base, e.Base+e.Len, e.Reason)
}

// Rows executes the instructions of fde and calls fn once for every row
// of its unwind table. A row covers [lo, hi) and fn sees the register
// rules in effect for that range.
func (fde *FrameDescriptionEntry) Rows(fn func(lo, hi uint64, frame *FrameContext)) error {
	frame, err := executeCIEInstructions(fde.CIE, fde.order)
	if err != nil {
		return err
	}
	frame.loc = fde.Begin()
	frame.buf = bytes.NewBuffer(fde.Instructions)

	for frame.buf.Len() > 0 {
		prev := frame.loc
		if err := frame.step(); err != nil {
			return err
		}
		if frame.loc > prev {
			fn(prev, frame.loc, frame)
		}
	}
	if frame.loc < fde.End() {
		fn(frame.loc, fde.End(), frame)
	}
	return nil
}

// Summarize returns the summaries of every row of fde. Rows that cannot
// be expressed as a Summary are returned as RowErrors; they do not stop
// the walk. The returned error is only set when the instructions of fde
// or its CIE are malformed.
func (fde *FrameDescriptionEntry) Summarize(regs regnum.Frame) ([]Summary, []*RowError, error) {
	var (
		out    []Summary
		failed []*RowError
	)
	err := fde.Rows(func(lo, hi uint64, frame *FrameContext) {
		s, reason := summarize(lo, hi, frame, regs)
		if reason != "" {
			failed = append(failed, &RowError{Base: lo, Len: hi - lo, Reason: reason})
			return
		}
		out = append(out, s)
	})
	return out, failed, err
}

func summarize(lo, hi uint64, frame *FrameContext, regs regnum.Frame) (Summary, string) {
	s := Summary{Base: lo, Len: hi - lo}
	if lo >= hi {
		return s, "empty range"
	}
	if hi-lo > maxRowLen {
		return s, "range too large"
	}

	if frame.CFA.Rule != RuleCFA {
		return s, fmt.Sprintf("CFA rule %v", frame.CFA.Rule)
	}
	switch frame.CFA.Reg {
	case regs.SP:
		s.CFAFromSP = true
	case regs.FP:
		s.CFAFromSP = false
	default:
		return s, fmt.Sprintf("CFA computed from %s", regs.ToName(frame.CFA.Reg))
	}
	s.CFAOff = frame.CFA.Offset

	var ok bool
	if s.RA, ok = recoveryFor(frame.Reg(frame.RetAddrReg)); !ok {
		return s, fmt.Sprintf("return address rule %v", frame.Reg(frame.RetAddrReg).Rule)
	}
	if s.RA.Kind == RecoverSame {
		return s, "return address rule same_value"
	}

	s.SP = Recovery{Kind: RecoverCFARel, Off: 0}

	if s.FP, ok = recoveryFor(frame.Reg(regs.FP)); !ok {
		return s, fmt.Sprintf("frame pointer rule %v", frame.Reg(regs.FP).Rule)
	}
	if s.FP.Kind == RecoverUnknown {
		s.FP.Kind = RecoverSame
	}

	return s, ""
}

func recoveryFor(rule DWRule) (Recovery, bool) {
	switch rule.Rule {
	case RuleUndefined:
		return Recovery{Kind: RecoverUnknown}, true
	case RuleSameVal:
		return Recovery{Kind: RecoverSame}, true
	case RuleOffset:
		return Recovery{Kind: RecoverMemCFARel, Off: rule.Offset}, true
	case RuleValOffset:
		return Recovery{Kind: RecoverCFARel, Off: rule.Offset}, true
	}
	return Recovery{}, false
}
