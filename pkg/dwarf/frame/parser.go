// Package frame contains data structures and
// related functions for parsing and searching
// through Dwarf .debug_frame and .eh_frame data, and for
// summarising the unwind table of each FDE into per-range
// recovery rules.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-delve/tracecore/pkg/dwarf/leb128"
	"github.com/go-delve/tracecore/pkg/dwarf/util"
)

type parsefunc func(*parseContext) parsefunc

type parseContext struct {
	staticBase uint64

	buf         *bytes.Buffer
	totalLen    int
	entries     FrameDescriptionEntries
	ciemap      map[int]*CommonInformationEntry
	common      *CommonInformationEntry
	frame       *FrameDescriptionEntry
	length      uint32
	ptrSize     int
	ehFrameAddr uint64
	order       binary.ByteOrder
	err         error
}

// Parse takes in data (a byte slice) and returns FrameDescriptionEntries,
// which is a slice of FrameDescriptionEntry. Each FrameDescriptionEntry
// has a pointer to CommonInformationEntry.
// If ehFrameAddr is not zero the .eh_frame format will be used, a minor variant of DWARF's .debug_frame.
// ehFrameAddr is the link-time address of the .eh_frame section; staticBase
// is added to every address read.
func Parse(data []byte, order binary.ByteOrder, staticBase uint64, ptrSize int, ehFrameAddr uint64) (FrameDescriptionEntries, error) {
	var (
		buf  = bytes.NewBuffer(data)
		pctx = &parseContext{buf: buf, totalLen: len(data), entries: newFrameIndex(), staticBase: staticBase, ptrSize: ptrSize, ehFrameAddr: ehFrameAddr, order: order, ciemap: map[int]*CommonInformationEntry{}}
	)

	for fn := parselength; buf.Len() != 0 && fn != nil; {
		fn = fn(pctx)
	}

	for i := range pctx.entries {
		pctx.entries[i].order = order
	}

	return pctx.entries, pctx.err
}

func (ctx *parseContext) parsingEHFrame() bool {
	return ctx.ehFrameAddr > 0
}

func (ctx *parseContext) cieEntry(cieid uint32) bool {
	if ctx.parsingEHFrame() {
		return cieid == 0x00
	}
	return cieid == 0xffffffff
}

func (ctx *parseContext) offset() int {
	return ctx.totalLen - ctx.buf.Len()
}

func (ctx *parseContext) fail(err error) parsefunc {
	if ctx.err == nil {
		ctx.err = fmt.Errorf("frame info at %#x: %w", ctx.offset(), err)
	}
	return nil
}

var errTruncated = errors.New("truncated entry")

func parselength(ctx *parseContext) parsefunc {
	start := ctx.offset()
	if ctx.buf.Len() < 4 {
		return ctx.fail(errTruncated)
	}
	ctx.length = ctx.order.Uint32(ctx.buf.Next(4))

	if ctx.length == 0 {
		// ZERO terminator
		return parselength
	}
	if ctx.length == 0xffffffff {
		return ctx.fail(errors.New("64-bit DWARF frame info not supported"))
	}
	if ctx.buf.Len() < int(ctx.length) || ctx.length < 4 {
		return ctx.fail(errTruncated)
	}

	idOff := ctx.offset()
	cieid := ctx.order.Uint32(ctx.buf.Next(4))

	ctx.length -= 4 // take off the length of the CIE id / CIE pointer.

	if ctx.cieEntry(cieid) {
		ctx.common = &CommonInformationEntry{Length: ctx.length, staticBase: ctx.staticBase, ptrSize: ctx.ptrSize, CIE_id: cieid}
		ctx.ciemap[start] = ctx.common
		return parseCIE
	}

	if ctx.parsingEHFrame() {
		// The CIE pointer of an .eh_frame FDE is relative to its own position.
		cieid = uint32(idOff) - cieid
	}

	common := ctx.ciemap[int(cieid)]
	if common == nil {
		return ctx.fail(fmt.Errorf("unknown CIE_id %#x", cieid))
	}

	ctx.frame = &FrameDescriptionEntry{Length: ctx.length, CIE: common}
	return parseFDE
}

func parseFDE(ctx *parseContext) parsefunc {
	startOff := ctx.offset()
	r := ctx.buf.Next(int(ctx.length))

	reader := bytes.NewReader(r)
	begin, err := ctx.readEncodedPtr(ctx.ehFrameAddr+uint64(startOff), reader, ctx.frame.CIE.ptrEncAddr)
	if err != nil {
		return ctx.fail(err)
	}
	ctx.frame.begin = begin + ctx.staticBase

	// For the size field in .eh_frame only the size encoding portion of the
	// address pointer encoding is considered.
	// See decode_frame_entry_1 in gdb/dwarf2-frame.c.
	// For .debug_frame ptrEncAddr is always ptrEncAbs and never has flags.
	size, err := ctx.readEncodedPtr(0, reader, ctx.frame.CIE.ptrEncAddr&0x0f)
	if err != nil {
		return ctx.fail(err)
	}
	ctx.frame.size = size

	if ctx.frame.CIE.hasAugmentationData() {
		// Augmentation data of the FDE (the LSDA pointer) is skipped.
		n, _ := leb128.DecodeUnsigned(reader)
		if uint64(reader.Len()) < n {
			return ctx.fail(errTruncated)
		}
		reader.Seek(int64(n), 1)
	}

	// Insert into the tree after setting address range begin
	// otherwise compares won't work.
	ctx.entries = append(ctx.entries, ctx.frame)

	// The rest of this entry consists of the instructions
	// so we can just grab all of the data from the buffer
	// cursor to length.
	ctx.frame.Instructions = r[len(r)-reader.Len():]
	ctx.length = 0

	return parselength
}

func parseCIE(ctx *parseContext) parsefunc {
	data := ctx.buf.Next(int(ctx.length))
	buf := bytes.NewBuffer(data)
	var err error

	// parse version
	ctx.common.Version, err = buf.ReadByte()
	if err != nil {
		return ctx.fail(errTruncated)
	}

	// parse augmentation
	ctx.common.Augmentation, _, err = util.ParseString(buf)
	if err != nil {
		return ctx.fail(err)
	}

	if ctx.common.Version >= 4 && !ctx.parsingEHFrame() {
		// address_size and segment_selector_size
		buf.Next(2)
	}

	// parse code alignment factor
	ctx.common.CodeAlignmentFactor, _ = leb128.DecodeUnsigned(buf)

	// parse data alignment factor
	ctx.common.DataAlignmentFactor, _ = leb128.DecodeSigned(buf)

	// parse return address register
	if ctx.parsingEHFrame() && ctx.common.Version == 1 {
		b, _ := buf.ReadByte()
		ctx.common.ReturnAddressRegister = uint64(b)
	} else {
		ctx.common.ReturnAddressRegister, _ = leb128.DecodeUnsigned(buf)
	}

	ctx.common.ptrEncAddr = ptrEncAbs

	if ctx.common.hasAugmentationData() {
		augdataLength, _ := leb128.DecodeUnsigned(buf)
		if uint64(buf.Len()) < augdataLength {
			return ctx.fail(errTruncated)
		}
		augdata := buf.Next(int(augdataLength))
		r := bytes.NewBuffer(augdata)
		for _, ch := range ctx.common.Augmentation[1:] {
			switch ch {
			case 'L':
				// LSDA encoding, the LSDA pointer itself is in the FDE
				r.ReadByte()
			case 'R':
				b, _ := r.ReadByte()
				ctx.common.ptrEncAddr = ptrEnc(b)
				if !ctx.common.ptrEncAddr.Supported() {
					return ctx.fail(fmt.Errorf("pointer encoding not supported %#x", ctx.common.ptrEncAddr))
				}
			case 'P':
				b, _ := r.ReadByte()
				personality := ptrEnc(b)
				if !personality.Supported() {
					return ctx.fail(fmt.Errorf("pointer encoding not supported %#x", personality))
				}
				if _, err := ctx.readEncodedPtr(0, r, personality); err != nil {
					return ctx.fail(err)
				}
			case 'S':
				// signal frame, nothing to read
			default:
				// The rest of the augmentation data cannot be interpreted but
				// its length is known so it has already been skipped.
			}
		}
	} else if ctx.common.Augmentation != "" && ctx.common.Augmentation != "eh" {
		return ctx.fail(fmt.Errorf("unsupported augmentation %q", ctx.common.Augmentation))
	}

	// parse initial instructions
	// The rest of this entry consists of the instructions
	// so we can just grab all of the data from the buffer
	// cursor to length.
	ctx.common.InitialInstructions = buf.Bytes()
	ctx.length = 0

	return parselength
}

// readEncodedPtr reads a pointer from buf encoded as specified by ptrEnc.
// addr is the address of the pointer, used for PC relative encodings.
func (ctx *parseContext) readEncodedPtr(addr uint64, buf leb128.Reader, ptrEnc ptrEnc) (uint64, error) {
	if ptrEnc == ptrEncOmit {
		return 0, nil
	}

	var ptr uint64
	var err error

	switch ptrEnc & 0xf {
	case ptrEncAbs, ptrEncSigned:
		ptr, err = util.ReadUintRaw(buf, ctx.order, ctx.ptrSize)
	case ptrEncUleb:
		ptr, _ = leb128.DecodeUnsigned(buf)
	case ptrEncUdata2:
		ptr, err = util.ReadUintRaw(buf, ctx.order, 2)
	case ptrEncSdata2:
		ptr, err = util.ReadUintRaw(buf, ctx.order, 2)
		ptr = uint64(int16(ptr))
	case ptrEncUdata4:
		ptr, err = util.ReadUintRaw(buf, ctx.order, 4)
	case ptrEncSdata4:
		ptr, err = util.ReadUintRaw(buf, ctx.order, 4)
		ptr = uint64(int32(ptr))
	case ptrEncUdata8, ptrEncSdata8:
		ptr, err = util.ReadUintRaw(buf, ctx.order, 8)
	case ptrEncSleb:
		n, _ := leb128.DecodeSigned(buf)
		ptr = uint64(n)
	default:
		return 0, fmt.Errorf("pointer encoding not supported %#x", ptrEnc)
	}
	if err != nil {
		return 0, errTruncated
	}

	if ptrEnc&0xf0 == ptrEncPCRel {
		ptr += addr
	}

	return ptr, nil
}
