package line

import (
	"bytes"
	"fmt"

	"github.com/go-delve/tracecore/pkg/dwarf/leb128"
	"github.com/go-delve/tracecore/pkg/dwarf/util"
)

// UnknownFile is the file name reported for rows whose file index is not
// in the file table.
const UnknownFile = "???"

// Row is an address range attributed to a source line.
// The range is [Lo, Hi).
type Row struct {
	File string
	Dir  string
	Line int
	Lo   uint64
	Hi   uint64
}

type StateMachine struct {
	dbl           *DebugLineInfo
	file          uint64
	line          int
	address       uint64
	column        uint
	isStmt        bool
	isa           uint64 // instruction set architecture register (DWARFv4)
	basicBlock    bool
	endSeq        bool
	prologueEnd   bool
	epilogueBegin bool
	// valid is true if the current value of the state machine is the address of
	// an instruction (in DWARF terms the current
	// value of the state machine should be appended to the matrix representing
	// the compilation unit)
	valid bool

	buf     *bytes.Buffer // remaining instructions
	opcodes []opcodefn
	err     error

	definedFiles []*FileEntry // files defined with DW_LINE_define_file

	haveLast    bool
	lastAddress uint64
	lastFile    uint64
	lastLine    int
}

type opcodefn func(*StateMachine, *bytes.Buffer)

// Standard opcodes
const (
	DW_LNS_copy             = 1
	DW_LNS_advance_pc       = 2
	DW_LNS_advance_line     = 3
	DW_LNS_set_file         = 4
	DW_LNS_set_column       = 5
	DW_LNS_negate_stmt      = 6
	DW_LNS_set_basic_block  = 7
	DW_LNS_const_add_pc     = 8
	DW_LNS_fixed_advance_pc = 9
	DW_LNS_prologue_end     = 10
	DW_LNS_epilogue_begin   = 11
	DW_LNS_set_isa          = 12
)

// Extended opcodes
const (
	DW_LINE_end_sequence      = 1
	DW_LINE_set_address       = 2
	DW_LINE_define_file       = 3
	DW_LINE_set_discriminator = 4
)

var standardopcodes = map[byte]opcodefn{
	DW_LNS_copy:             copyfn,
	DW_LNS_advance_pc:       advancepc,
	DW_LNS_advance_line:     advanceline,
	DW_LNS_set_file:         setfile,
	DW_LNS_set_column:       setcolumn,
	DW_LNS_negate_stmt:      negatestmt,
	DW_LNS_set_basic_block:  setbasicblock,
	DW_LNS_const_add_pc:     constaddpc,
	DW_LNS_fixed_advance_pc: fixedadvancepc,
	DW_LNS_prologue_end:     prologueend,
	DW_LNS_epilogue_begin:   epiloguebegin,
	DW_LNS_set_isa:          setisa,
}

func newStateMachine(dbl *DebugLineInfo, instructions []byte) *StateMachine {
	opcodes := make([]opcodefn, len(standardopcodes)+1)
	opcodes[0] = execExtendedOpcode
	for op := range standardopcodes {
		opcodes[op] = standardopcodes[op]
	}
	sm := &StateMachine{dbl: dbl, buf: bytes.NewBuffer(instructions), opcodes: opcodes}
	sm.reset()
	return sm
}

func (sm *StateMachine) reset() {
	sm.file = 1
	sm.line = 1
	sm.column = 0
	sm.isa = 0
	sm.address = sm.dbl.staticBase
	sm.isStmt = sm.dbl.Prologue.InitialIsStmt == uint8(1)
	sm.basicBlock = false
	sm.endSeq = false
	sm.prologueEnd = false
	sm.epilogueBegin = false
	sm.haveLast = false
}

// Rows runs the line number program and calls fn for every address range
// it describes. A range is produced each time a row with is_stmt set is
// appended to the matrix: it starts at the previous such row and ends at
// the current one, and carries the file and line of the previous row.
// Rows stops at the first malformed instruction and returns the error.
func (lineInfo *DebugLineInfo) Rows(fn func(Row)) error {
	if lineInfo == nil {
		return nil
	}
	sm := newStateMachine(lineInfo, lineInfo.Instructions)
	for sm.buf.Len() > 0 {
		sm.next()
		if sm.err != nil {
			return sm.err
		}
		if !sm.valid {
			continue
		}
		if sm.isStmt {
			if sm.haveLast {
				file, dir := lineInfo.fileAt(sm.lastFile, sm.definedFiles)
				fn(Row{File: file, Dir: dir, Line: sm.lastLine, Lo: sm.lastAddress, Hi: sm.address})
			}
			sm.haveLast = true
			sm.lastAddress, sm.lastFile, sm.lastLine = sm.address, sm.file, sm.line
		}
		if sm.endSeq {
			sm.reset()
		}
	}
	return nil
}

// fileAt resolves a file register value. Before DWARF 5 file indices
// start at 1.
func (lineInfo *DebugLineInfo) fileAt(idx uint64, defined []*FileEntry) (string, string) {
	if lineInfo.Prologue.Version < 5 {
		if idx == 0 {
			return UnknownFile, ""
		}
		idx--
	}
	if idx < uint64(len(lineInfo.FileNames)) {
		fe := lineInfo.FileNames[idx]
		return fe.Name, fe.Dir
	}
	idx -= uint64(len(lineInfo.FileNames))
	if idx < uint64(len(defined)) {
		return defined[idx].Name, defined[idx].Dir
	}
	return UnknownFile, ""
}

func (sm *StateMachine) next() {
	if sm.valid {
		// valid is set by either a special opcode or a DW_LNS_copy, in both cases
		// we need to reset basic_block, prologue_end and epilogue_begin
		sm.basicBlock = false
		sm.prologueEnd = false
		sm.epilogueBegin = false
	}
	sm.valid = false
	b, err := sm.buf.ReadByte()
	if err != nil {
		sm.err = err
		return
	}
	if b < sm.dbl.Prologue.OpcodeBase {
		if int(b) < len(sm.opcodes) {
			sm.opcodes[b](sm, sm.buf)
		} else {
			// unimplemented standard opcode, read the number of arguments specified
			// in the prologue and do nothing with them
			opnum := sm.dbl.Prologue.StdOpLengths[b-1]
			for i := 0; i < int(opnum); i++ {
				leb128.DecodeUnsigned(sm.buf)
			}
			sm.dbl.Logf("unknown opcode %d(0x%x), %d arguments, address 0x%x", b, b, opnum, sm.address)
		}
	} else {
		execSpecialOpcode(sm, b)
	}
}

func execSpecialOpcode(sm *StateMachine, instr byte) {
	var (
		opcode  = uint8(instr)
		decoded = opcode - sm.dbl.Prologue.OpcodeBase
	)

	sm.line += int(sm.dbl.Prologue.LineBase + int8(decoded%sm.dbl.Prologue.LineRange))
	sm.address += uint64(decoded/sm.dbl.Prologue.LineRange) * uint64(sm.dbl.Prologue.MinInstrLength)
	sm.valid = true
}

func execExtendedOpcode(sm *StateMachine, buf *bytes.Buffer) {
	n, _ := leb128.DecodeUnsigned(buf)
	if n == 0 || n > uint64(buf.Len()) {
		sm.err = fmt.Errorf("bad extended opcode length %d at address %#x", n, sm.address)
		return
	}
	args := bytes.NewBuffer(buf.Next(int(n)))
	b, _ := args.ReadByte()
	switch b {
	case DW_LINE_end_sequence:
		sm.endSeq = true
		sm.valid = true
	case DW_LINE_set_address:
		addr, err := util.ReadUintRaw(args, sm.dbl.order, args.Len())
		if err != nil {
			sm.err = fmt.Errorf("DW_LNE_set_address: %v", err)
			return
		}
		sm.address = addr + sm.dbl.staticBase
	case DW_LINE_define_file:
		entry, err := readFileEntry(sm.dbl, args)
		if err != nil {
			sm.err = err
			return
		}
		if entry != nil {
			sm.definedFiles = append(sm.definedFiles, entry)
		}
	default:
		// DW_LINE_set_discriminator and vendor extensions carry nothing
		// that affects addresses.
	}
}

func copyfn(sm *StateMachine, buf *bytes.Buffer) {
	sm.valid = true
}

func advancepc(sm *StateMachine, buf *bytes.Buffer) {
	addr, _ := leb128.DecodeUnsigned(buf)
	sm.address += addr * uint64(sm.dbl.Prologue.MinInstrLength)
}

func advanceline(sm *StateMachine, buf *bytes.Buffer) {
	line, _ := leb128.DecodeSigned(buf)
	sm.line += int(line)
}

func setfile(sm *StateMachine, buf *bytes.Buffer) {
	sm.file, _ = leb128.DecodeUnsigned(buf)
}

func setcolumn(sm *StateMachine, buf *bytes.Buffer) {
	c, _ := leb128.DecodeUnsigned(buf)
	sm.column = uint(c)
}

func negatestmt(sm *StateMachine, buf *bytes.Buffer) {
	sm.isStmt = !sm.isStmt
}

func setbasicblock(sm *StateMachine, buf *bytes.Buffer) {
	sm.basicBlock = true
}

func constaddpc(sm *StateMachine, buf *bytes.Buffer) {
	sm.address += uint64((255-sm.dbl.Prologue.OpcodeBase)/sm.dbl.Prologue.LineRange) * uint64(sm.dbl.Prologue.MinInstrLength)
}

func fixedadvancepc(sm *StateMachine, buf *bytes.Buffer) {
	operand, err := util.ReadUintRaw(buf, sm.dbl.order, 2)
	if err != nil {
		sm.err = err
		return
	}
	sm.address += operand
}

func prologueend(sm *StateMachine, buf *bytes.Buffer) {
	sm.prologueEnd = true
}

func epiloguebegin(sm *StateMachine, buf *bytes.Buffer) {
	sm.epilogueBegin = true
}

func setisa(sm *StateMachine, buf *bytes.Buffer) {
	c, _ := leb128.DecodeUnsigned(buf)
	sm.isa = c
}
