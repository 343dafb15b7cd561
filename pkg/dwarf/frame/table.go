package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-delve/tracecore/pkg/dwarf/leb128"
	"github.com/go-delve/tracecore/pkg/dwarf/util"
)

// DWRule wrapper of rule defined for register values.
type DWRule struct {
	Rule       Rule
	Offset     int64
	Reg        uint64
	Expression []byte
}

// FrameContext holds the state of the CFA virtual machine while the
// instructions of a CIE and of one of its FDEs are executed.
type FrameContext struct {
	loc             uint64
	order           binary.ByteOrder
	CFA             DWRule
	Regs            map[uint64]DWRule
	initialRegs     map[uint64]DWRule
	buf             *bytes.Buffer
	cie             *CommonInformationEntry
	RetAddrReg      uint64
	codeAlignment   uint64
	dataAlignment   int64
	rememberedState *stateStack
	err             error
}

// Loc returns the address the current row starts at.
func (frame *FrameContext) Loc() uint64 {
	return frame.loc
}

// Reg returns the rule for register reg in the current row. Registers
// without an explicit rule are undefined.
func (frame *FrameContext) Reg(reg uint64) DWRule {
	return frame.Regs[reg]
}

type rowState struct {
	cfa  DWRule
	regs map[uint64]DWRule
}

// stateStack is a stack where `DW_CFA_remember_state` pushes
// its CFA and registers state and `DW_CFA_restore_state`
// pops them.
type stateStack struct {
	items []rowState
}

func (stack *stateStack) push(state rowState) {
	stack.items = append(stack.items, state)
}

func (stack *stateStack) pop() (rowState, bool) {
	if len(stack.items) == 0 {
		return rowState{}, false
	}
	restored := stack.items[len(stack.items)-1]
	stack.items = stack.items[:len(stack.items)-1]
	return restored, true
}

// Instructions used to recreate the table from the .debug_frame data.
const (
	DW_CFA_nop                          = 0x0        // No ops
	DW_CFA_set_loc                      = 0x01       // op1: address
	DW_CFA_advance_loc1                 = iota       // op1: 1-bytes delta
	DW_CFA_advance_loc2                              // op1: 2-byte delta
	DW_CFA_advance_loc4                              // op1: 4-byte delta
	DW_CFA_offset_extended                           // op1: ULEB128 register, op2: ULEB128 offset
	DW_CFA_restore_extended                          // op1: ULEB128 register
	DW_CFA_undefined                                 // op1: ULEB128 register
	DW_CFA_same_value                                // op1: ULEB128 register
	DW_CFA_register                                  // op1: ULEB128 register, op2: ULEB128 register
	DW_CFA_remember_state                            // No ops
	DW_CFA_restore_state                             // No ops
	DW_CFA_def_cfa                                   // op1: ULEB128 register, op2: ULEB128 offset
	DW_CFA_def_cfa_register                          // op1: ULEB128 register
	DW_CFA_def_cfa_offset                            // op1: ULEB128 offset
	DW_CFA_def_cfa_expression                        // op1: BLOCK
	DW_CFA_expression                                // op1: ULEB128 register, op2: BLOCK
	DW_CFA_offset_extended_sf                        // op1: ULEB128 register, op2: SLEB128 BLOCK
	DW_CFA_def_cfa_sf                                // op1: ULEB128 register, op2: SLEB128 offset
	DW_CFA_def_cfa_offset_sf                         // op1: SLEB128 offset
	DW_CFA_val_offset                                // op1: ULEB128, op2: ULEB128
	DW_CFA_val_offset_sf                             // op1: ULEB128, op2: SLEB128
	DW_CFA_val_expression                            // op1: ULEB128, op2: BLOCK
	DW_CFA_GNU_window_save              = 0x2d       // No ops
	DW_CFA_GNU_args_size                = 0x2e       // op1: ULEB128 size
	DW_CFA_GNU_negative_offset_extended = 0x2f       // op1: ULEB128 register, op2: ULEB128 offset
	DW_CFA_advance_loc                  = (0x1 << 6) // High 2 bits: 0x1, low 6: delta
	DW_CFA_offset                       = (0x2 << 6) // High 2 bits: 0x2, low 6: register
	DW_CFA_restore                      = (0x3 << 6) // High 2 bits: 0x3, low 6: register
)

// Rule rule defined for register values.
type Rule byte

const (
	RuleUndefined Rule = iota
	RuleSameVal
	RuleOffset
	RuleValOffset
	RuleRegister
	RuleExpression
	RuleValExpression
	RuleCFA // Value is rule.Reg + rule.Offset
)

func (r Rule) String() string {
	switch r {
	case RuleUndefined:
		return "undefined"
	case RuleSameVal:
		return "same_value"
	case RuleOffset:
		return "offset"
	case RuleValOffset:
		return "val_offset"
	case RuleRegister:
		return "register"
	case RuleExpression:
		return "expression"
	case RuleValExpression:
		return "val_expression"
	case RuleCFA:
		return "cfa"
	}
	return fmt.Sprintf("rule(%d)", byte(r))
}

const low_6_offset = 0x3f

var errShortInstruction = errors.New("truncated CFA instruction")

type instruction func(frame *FrameContext)

// Mapping from DWARF opcode to function.
var fnlookup = map[byte]instruction{
	DW_CFA_advance_loc:                  advanceloc,
	DW_CFA_offset:                       offset,
	DW_CFA_restore:                      restore,
	DW_CFA_set_loc:                      setloc,
	DW_CFA_advance_loc1:                 advanceloc1,
	DW_CFA_advance_loc2:                 advanceloc2,
	DW_CFA_advance_loc4:                 advanceloc4,
	DW_CFA_offset_extended:              offsetextended,
	DW_CFA_restore_extended:             restoreextended,
	DW_CFA_undefined:                    undefined,
	DW_CFA_same_value:                   samevalue,
	DW_CFA_register:                     register,
	DW_CFA_remember_state:               rememberstate,
	DW_CFA_restore_state:                restorestate,
	DW_CFA_def_cfa:                      defcfa,
	DW_CFA_def_cfa_register:             defcfaregister,
	DW_CFA_def_cfa_offset:               defcfaoffset,
	DW_CFA_def_cfa_expression:           defcfaexpression,
	DW_CFA_expression:                   expression,
	DW_CFA_offset_extended_sf:           offsetextendedsf,
	DW_CFA_def_cfa_sf:                   defcfasf,
	DW_CFA_def_cfa_offset_sf:            defcfaoffsetsf,
	DW_CFA_val_offset:                   valoffset,
	DW_CFA_val_offset_sf:                valoffsetsf,
	DW_CFA_val_expression:               valexpression,
	DW_CFA_GNU_window_save:              windowsave,
	DW_CFA_GNU_args_size:                argssize,
	DW_CFA_GNU_negative_offset_extended: negativeoffsetextended,
}

// executeCIEInstructions runs the initial instructions of cie. The
// resulting register rules are what DW_CFA_restore goes back to.
func executeCIEInstructions(cie *CommonInformationEntry, order binary.ByteOrder) (*FrameContext, error) {
	initialInstructions := make([]byte, len(cie.InitialInstructions))
	copy(initialInstructions, cie.InitialInstructions)
	frame := &FrameContext{
		cie:             cie,
		order:           order,
		Regs:            make(map[uint64]DWRule),
		RetAddrReg:      cie.ReturnAddressRegister,
		codeAlignment:   cie.CodeAlignmentFactor,
		dataAlignment:   cie.DataAlignmentFactor,
		buf:             bytes.NewBuffer(initialInstructions),
		rememberedState: &stateStack{},
	}

	for frame.buf.Len() > 0 && frame.err == nil {
		executeDwarfInstruction(frame)
	}
	if frame.err != nil {
		return nil, frame.err
	}

	frame.initialRegs = make(map[uint64]DWRule, len(frame.Regs))
	for k, v := range frame.Regs {
		frame.initialRegs[k] = v
	}
	return frame, nil
}

// step executes a single instruction.
func (frame *FrameContext) step() error {
	executeDwarfInstruction(frame)
	return frame.err
}

func (frame *FrameContext) fail(err error) {
	if frame.err == nil {
		frame.err = err
	}
}

func executeDwarfInstruction(frame *FrameContext) {
	instruction, err := frame.buf.ReadByte()
	if err != nil {
		frame.fail(errShortInstruction)
		return
	}

	if instruction == DW_CFA_nop {
		return
	}

	fn, err := lookupFunc(instruction, frame.buf)
	if err != nil {
		frame.fail(err)
		return
	}

	fn(frame)
}

func lookupFunc(instruction byte, buf *bytes.Buffer) (instruction, error) {
	const high_2_bits = 0xc0
	var restore bool

	// Special case the 3 opcodes that have their argument encoded in the opcode itself.
	switch instruction & high_2_bits {
	case DW_CFA_advance_loc:
		instruction = DW_CFA_advance_loc
		restore = true

	case DW_CFA_offset:
		instruction = DW_CFA_offset
		restore = true

	case DW_CFA_restore:
		instruction = DW_CFA_restore
		restore = true
	}

	if restore {
		// Restore the last byte as it actually contains the argument for the opcode.
		if err := buf.UnreadByte(); err != nil {
			return nil, err
		}
	}

	fn, ok := fnlookup[instruction]
	if !ok {
		return nil, fmt.Errorf("unexpected DWARF CFA opcode: %#x", instruction)
	}

	return fn, nil
}

func (frame *FrameContext) readByte() byte {
	b, err := frame.buf.ReadByte()
	if err != nil {
		frame.fail(errShortInstruction)
	}
	return b
}

func (frame *FrameContext) uleb() uint64 {
	n, c := leb128.DecodeUnsigned(frame.buf)
	if c == 0 {
		frame.fail(errShortInstruction)
	}
	return n
}

func (frame *FrameContext) sleb() int64 {
	n, c := leb128.DecodeSigned(frame.buf)
	if c == 0 {
		frame.fail(errShortInstruction)
	}
	return n
}

func (frame *FrameContext) block() []byte {
	l := frame.uleb()
	if uint64(frame.buf.Len()) < l {
		frame.fail(errShortInstruction)
		return nil
	}
	return frame.buf.Next(int(l))
}

func (frame *FrameContext) advance(delta uint64) {
	frame.loc += delta * frame.codeAlignment
}

func (frame *FrameContext) restoreReg(reg uint64) {
	if oldrule, ok := frame.initialRegs[reg]; ok {
		frame.Regs[reg] = oldrule
	} else {
		delete(frame.Regs, reg)
	}
}

func advanceloc(frame *FrameContext) {
	b := frame.readByte()
	frame.advance(uint64(b & low_6_offset))
}

func advanceloc1(frame *FrameContext) {
	frame.advance(uint64(frame.readByte()))
}

func advanceloc2(frame *FrameContext) {
	delta, err := util.ReadUintRaw(frame.buf, frame.order, 2)
	if err != nil {
		frame.fail(errShortInstruction)
	}
	frame.advance(delta)
}

func advanceloc4(frame *FrameContext) {
	delta, err := util.ReadUintRaw(frame.buf, frame.order, 4)
	if err != nil {
		frame.fail(errShortInstruction)
	}
	frame.advance(delta)
}

func offset(frame *FrameContext) {
	reg := uint64(frame.readByte() & low_6_offset)
	off := frame.uleb()
	frame.Regs[reg] = DWRule{Offset: int64(off) * frame.dataAlignment, Rule: RuleOffset}
}

func restore(frame *FrameContext) {
	frame.restoreReg(uint64(frame.readByte() & low_6_offset))
}

func setloc(frame *FrameContext) {
	loc, err := util.ReadUintRaw(frame.buf, frame.order, frame.cie.ptrSize)
	if err != nil {
		frame.fail(errShortInstruction)
		return
	}
	frame.loc = loc + frame.cie.staticBase
}

func offsetextended(frame *FrameContext) {
	reg := frame.uleb()
	off := frame.uleb()
	frame.Regs[reg] = DWRule{Offset: int64(off) * frame.dataAlignment, Rule: RuleOffset}
}

func negativeoffsetextended(frame *FrameContext) {
	reg := frame.uleb()
	off := frame.uleb()
	frame.Regs[reg] = DWRule{Offset: -int64(off) * frame.dataAlignment, Rule: RuleOffset}
}

func undefined(frame *FrameContext) {
	reg := frame.uleb()
	frame.Regs[reg] = DWRule{Rule: RuleUndefined}
}

func samevalue(frame *FrameContext) {
	reg := frame.uleb()
	frame.Regs[reg] = DWRule{Rule: RuleSameVal}
}

func register(frame *FrameContext) {
	reg1 := frame.uleb()
	reg2 := frame.uleb()
	frame.Regs[reg1] = DWRule{Reg: reg2, Rule: RuleRegister}
}

func rememberstate(frame *FrameContext) {
	clonedRegs := make(map[uint64]DWRule, len(frame.Regs))
	for k, v := range frame.Regs {
		clonedRegs[k] = v
	}
	frame.rememberedState.push(rowState{cfa: frame.CFA, regs: clonedRegs})
}

func restorestate(frame *FrameContext) {
	restored, ok := frame.rememberedState.pop()
	if !ok {
		frame.fail(errors.New("DW_CFA_restore_state without DW_CFA_remember_state"))
		return
	}

	frame.CFA = restored.cfa
	frame.Regs = restored.regs
}

func restoreextended(frame *FrameContext) {
	frame.restoreReg(frame.uleb())
}

func defcfa(frame *FrameContext) {
	reg := frame.uleb()
	off := frame.uleb()

	frame.CFA = DWRule{Rule: RuleCFA, Reg: reg, Offset: int64(off)}
}

func defcfaregister(frame *FrameContext) {
	frame.CFA.Reg = frame.uleb()
}

func defcfaoffset(frame *FrameContext) {
	frame.CFA.Offset = int64(frame.uleb())
}

func defcfasf(frame *FrameContext) {
	reg := frame.uleb()
	off := frame.sleb()

	frame.CFA = DWRule{Rule: RuleCFA, Reg: reg, Offset: off * frame.dataAlignment}
}

func defcfaoffsetsf(frame *FrameContext) {
	frame.CFA.Offset = frame.sleb() * frame.dataAlignment
}

func defcfaexpression(frame *FrameContext) {
	frame.CFA = DWRule{Rule: RuleExpression, Expression: frame.block()}
}

func expression(frame *FrameContext) {
	reg := frame.uleb()
	frame.Regs[reg] = DWRule{Rule: RuleExpression, Expression: frame.block()}
}

func offsetextendedsf(frame *FrameContext) {
	reg := frame.uleb()
	off := frame.sleb()
	frame.Regs[reg] = DWRule{Offset: off * frame.dataAlignment, Rule: RuleOffset}
}

func valoffset(frame *FrameContext) {
	reg := frame.uleb()
	off := frame.uleb()
	frame.Regs[reg] = DWRule{Offset: int64(off) * frame.dataAlignment, Rule: RuleValOffset}
}

func valoffsetsf(frame *FrameContext) {
	reg := frame.uleb()
	off := frame.sleb()
	frame.Regs[reg] = DWRule{Offset: off * frame.dataAlignment, Rule: RuleValOffset}
}

func valexpression(frame *FrameContext) {
	reg := frame.uleb()
	frame.Regs[reg] = DWRule{Rule: RuleValExpression, Expression: frame.block()}
}

func windowsave(frame *FrameContext) {}

func argssize(frame *FrameContext) {
	frame.uleb()
}
