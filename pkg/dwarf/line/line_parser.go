// Package line reads the .debug_line section and runs its line number
// programs, producing the address ranges covered by each source line.
package line

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-delve/tracecore/pkg/dwarf/leb128"
	"github.com/go-delve/tracecore/pkg/dwarf/util"
)

// DebugLinePrologue prologue of .debug_line data.
type DebugLinePrologue struct {
	UnitLength     uint64
	Version        uint16
	Length         uint64
	MinInstrLength uint8
	MaxOpPerInstr  uint8
	InitialIsStmt  uint8
	LineBase       int8
	LineRange      uint8
	OpcodeBase     uint8
	StdOpLengths   []uint8
}

// DebugLineInfo info of .debug_line data.
type DebugLineInfo struct {
	Prologue     *DebugLinePrologue
	IncludeDirs  []string
	FileNames    []*FileEntry
	Instructions []byte

	Logf func(string, ...interface{})

	// debugLineStr is the contents of the .debug_line_str section.
	debugLineStr []byte

	// staticBase is added to every address produced by the line program.
	staticBase uint64

	ptrSize    int
	offsetSize int
	order      binary.ByteOrder
}

// FileEntry file entry in File Name Table.
type FileEntry struct {
	Name        string
	Dir         string
	DirIdx      uint64
	LastModTime uint64
	Length      uint64
}

type DebugLines []*DebugLineInfo

var errTruncatedHeader = errors.New("truncated line program header")

// ParseAll parses all debug_line units found in data. Units that cannot
// be parsed are skipped.
func ParseAll(data []byte, debugLineStr []byte, logfn func(string, ...interface{}), staticBase uint64, ptrSize int, order binary.ByteOrder) DebugLines {
	var (
		lines = make(DebugLines, 0)
		buf   = bytes.NewBuffer(data)
	)

	for buf.Len() > 0 {
		dbl, err := Parse("", buf, debugLineStr, logfn, staticBase, ptrSize, order)
		if err != nil {
			if logfn != nil {
				logfn("line unit at %#x: %v", len(data)-buf.Len(), err)
			}
			if dbl == nil {
				break
			}
			continue
		}
		lines = append(lines, dbl)
	}

	return lines
}

// Parse parses a single debug_line unit from buf. Compdir is the
// DW_AT_comp_dir attribute of the associated compile unit, it is the
// directory of entry 0 for DWARF versions before 5.
// When the unit length can be read the whole unit is consumed from buf
// even if its header turns out to be malformed; in that case a non-nil
// DebugLineInfo is returned together with the error.
func Parse(compdir string, buf *bytes.Buffer, debugLineStr []byte, logfn func(string, ...interface{}), staticBase uint64, ptrSize int, order binary.ByteOrder) (*DebugLineInfo, error) {
	dbl := new(DebugLineInfo)
	dbl.Logf = logfn
	if logfn == nil {
		dbl.Logf = func(string, ...interface{}) {}
	}
	dbl.staticBase = staticBase
	dbl.ptrSize = ptrSize
	dbl.order = order
	dbl.debugLineStr = debugLineStr

	unit, err := dbl.readUnit(buf)
	if err != nil {
		return nil, err
	}

	hdr, err := parseDebugLinePrologue(dbl, unit)
	if err != nil {
		return dbl, err
	}

	if dbl.Prologue.Version >= 5 {
		if err := parseIncludeDirs5(dbl, hdr); err != nil {
			return dbl, err
		}
		if err := parseFileEntries5(dbl, hdr); err != nil {
			return dbl, err
		}
	} else {
		dbl.IncludeDirs = append(dbl.IncludeDirs, compdir)
		if err := parseIncludeDirs2(dbl, hdr); err != nil {
			return dbl, err
		}
		if err := parseFileEntries2(dbl, hdr); err != nil {
			return dbl, err
		}
	}

	dbl.Instructions = unit.Bytes()
	return dbl, nil
}

// readUnit reads the unit length and returns a buffer over the rest of the unit.
func (dbl *DebugLineInfo) readUnit(buf *bytes.Buffer) (*bytes.Buffer, error) {
	if buf.Len() < 4 {
		buf.Next(buf.Len())
		return nil, errTruncatedHeader
	}
	length := uint64(dbl.order.Uint32(buf.Next(4)))
	dbl.offsetSize = 4
	if length == 0xffffffff {
		if buf.Len() < 8 {
			buf.Next(buf.Len())
			return nil, errTruncatedHeader
		}
		length = dbl.order.Uint64(buf.Next(8))
		dbl.offsetSize = 8
	}
	if length > uint64(buf.Len()) {
		buf.Next(buf.Len())
		return nil, fmt.Errorf("unit length %#x exceeds section", length)
	}
	dbl.Prologue = &DebugLinePrologue{UnitLength: length}
	return bytes.NewBuffer(buf.Next(int(length))), nil
}

// parseDebugLinePrologue reads the fixed part of the header and returns a
// buffer over the directory and file tables. On return unit is positioned
// at the first instruction.
func parseDebugLinePrologue(dbl *DebugLineInfo, unit *bytes.Buffer) (*bytes.Buffer, error) {
	p := dbl.Prologue

	if unit.Len() < 2 {
		return nil, errTruncatedHeader
	}
	p.Version = dbl.order.Uint16(unit.Next(2))
	if p.Version < 2 || p.Version > 5 {
		return nil, fmt.Errorf("unsupported line table version %d", p.Version)
	}
	if p.Version >= 5 {
		if unit.Len() < 2 {
			return nil, errTruncatedHeader
		}
		dbl.ptrSize = int(unit.Next(1)[0]) // address_size
		unit.Next(1)                       // segment_selector_size
	}

	if unit.Len() < dbl.offsetSize {
		return nil, errTruncatedHeader
	}
	var err error
	p.Length, err = util.ReadUintRaw(unit, dbl.order, dbl.offsetSize)
	if err != nil || p.Length > uint64(unit.Len()) {
		return nil, errTruncatedHeader
	}
	hdr := bytes.NewBuffer(unit.Next(int(p.Length)))

	fixed := 5
	if p.Version >= 4 {
		fixed++
	}
	if hdr.Len() < fixed {
		return nil, errTruncatedHeader
	}
	p.MinInstrLength = hdr.Next(1)[0]
	if p.Version >= 4 {
		p.MaxOpPerInstr = hdr.Next(1)[0]
	} else {
		p.MaxOpPerInstr = 1
	}
	p.InitialIsStmt = hdr.Next(1)[0]
	p.LineBase = int8(hdr.Next(1)[0])
	p.LineRange = hdr.Next(1)[0]
	p.OpcodeBase = hdr.Next(1)[0]
	if p.LineRange == 0 {
		return nil, errors.New("line_range is zero")
	}
	if p.OpcodeBase == 0 {
		return nil, errors.New("opcode_base is zero")
	}

	if hdr.Len() < int(p.OpcodeBase-1) {
		return nil, errTruncatedHeader
	}
	p.StdOpLengths = make([]uint8, p.OpcodeBase-1)
	copy(p.StdOpLengths, hdr.Next(int(p.OpcodeBase-1)))

	return hdr, nil
}

// parseIncludeDirs2 parses the directory table for DWARF version 2 through 4.
func parseIncludeDirs2(info *DebugLineInfo, buf *bytes.Buffer) error {
	for {
		str, _, err := util.ParseString(buf)
		if err != nil {
			return fmt.Errorf("reading include directories: %w", err)
		}
		if str == "" {
			return nil
		}

		info.IncludeDirs = append(info.IncludeDirs, str)
	}
}

// parseFileEntries2 parses the file table for DWARF 2 through 4.
func parseFileEntries2(info *DebugLineInfo, buf *bytes.Buffer) error {
	for {
		entry, err := readFileEntry(info, buf)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		info.FileNames = append(info.FileNames, entry)
	}
}

// readFileEntry reads a DWARF 2-4 file entry, it returns nil at the end of
// the table.
func readFileEntry(info *DebugLineInfo, buf *bytes.Buffer) (*FileEntry, error) {
	entry := new(FileEntry)

	var err error
	entry.Name, _, err = util.ParseString(buf)
	if err != nil {
		return nil, fmt.Errorf("reading file entry: %w", err)
	}
	if entry.Name == "" {
		return nil, nil
	}

	entry.DirIdx, _ = leb128.DecodeUnsigned(buf)
	entry.LastModTime, _ = leb128.DecodeUnsigned(buf)
	entry.Length, _ = leb128.DecodeUnsigned(buf)
	if entry.DirIdx < uint64(len(info.IncludeDirs)) {
		entry.Dir = info.IncludeDirs[entry.DirIdx]
	}

	return entry, nil
}

// parseIncludeDirs5 parses the directory table for DWARF version 5.
func parseIncludeDirs5(info *DebugLineInfo, buf *bytes.Buffer) error {
	dirEntryFormReader := readEntryFormat(buf, info.Logf, info.order, info.offsetSize)
	if dirEntryFormReader == nil {
		return errTruncatedHeader
	}
	dirCount, _ := leb128.DecodeUnsigned(buf)
	if dirCount > uint64(buf.Len()) {
		return errTruncatedHeader
	}
	info.IncludeDirs = make([]string, 0, dirCount)
	for i := uint64(0); i < dirCount; i++ {
		dir := ""
		dirEntryFormReader.reset()
		for dirEntryFormReader.next(buf) {
			if dirEntryFormReader.contentType == _DW_LNCT_path {
				dir = info.formString(dirEntryFormReader)
			}
		}
		if dirEntryFormReader.err != nil {
			return fmt.Errorf("reading directory entries table: %w", dirEntryFormReader.err)
		}
		info.IncludeDirs = append(info.IncludeDirs, dir)
	}
	return nil
}

// parseFileEntries5 parses the file table for DWARF 5.
func parseFileEntries5(info *DebugLineInfo, buf *bytes.Buffer) error {
	fileEntryFormReader := readEntryFormat(buf, info.Logf, info.order, info.offsetSize)
	if fileEntryFormReader == nil {
		return errTruncatedHeader
	}
	fileCount, _ := leb128.DecodeUnsigned(buf)
	if fileCount > uint64(buf.Len()) {
		return errTruncatedHeader
	}
	info.FileNames = make([]*FileEntry, 0, fileCount)
	for i := uint64(0); i < fileCount; i++ {
		entry := new(FileEntry)

		fileEntryFormReader.reset()
		for fileEntryFormReader.next(buf) {
			switch fileEntryFormReader.contentType {
			case _DW_LNCT_path:
				entry.Name = info.formString(fileEntryFormReader)
			case _DW_LNCT_directory_index:
				entry.DirIdx = fileEntryFormReader.u64
			case _DW_LNCT_timestamp:
				entry.LastModTime = fileEntryFormReader.u64
			case _DW_LNCT_size:
				entry.Length = fileEntryFormReader.u64
			}
		}
		if fileEntryFormReader.err != nil {
			return fmt.Errorf("reading file entries table: %w", fileEntryFormReader.err)
		}

		if entry.DirIdx < uint64(len(info.IncludeDirs)) {
			entry.Dir = info.IncludeDirs[entry.DirIdx]
		}
		info.FileNames = append(info.FileNames, entry)
	}
	return nil
}

func (info *DebugLineInfo) formString(rdr *formReader) string {
	switch rdr.formCode {
	case _DW_FORM_string:
		return rdr.str
	case _DW_FORM_line_strp:
		s, ok := util.CString(info.debugLineStr, rdr.u64)
		if !ok {
			info.Logf("bad .debug_line_str offset %#x", rdr.u64)
		}
		return s
	}
	info.Logf("unsupported string form %#x", rdr.formCode)
	return ""
}
