package debuginfo

import (
	"encoding/binary"

	"github.com/go-delve/tracecore/pkg/dwarf/frame"
	"github.com/go-delve/tracecore/pkg/logflags"
	"github.com/go-delve/tracecore/pkg/terminal"
)

const (
	maxCfiLen        = 2000000
	maxCfiComplaints = 3
)

// CfiRecord says how to recover the caller's return address, stack
// pointer and frame pointer anywhere in [Base, Base+Len).
type CfiRecord struct {
	frame.Summary
}

// CFITable holds the call frame information of one Entry.
type CFITable = IntervalTable[CfiRecord]

func newCFITable() *CFITable {
	t := newIntervalTable(layout[CfiRecord]{
		bounds:    func(r *CfiRecord) (uint64, uint64) { return r.Base, r.Len },
		setBounds: func(r *CfiRecord, addr, size uint64) { r.Base, r.Len = addr, size },
	})
	t.trackBounds = true
	return t
}

// AddCfiRecord adds rec to the CFI table of e. Records with an invalid
// length or lying entirely outside of the entry are dropped.
func (e *Entry) AddCfiRecord(rec CfiRecord) {
	if rec.Len == 0 || rec.Len >= maxCfiLen {
		logflags.CFILogger().Debugf("dropping cfi record with length %#x at %#x", rec.Len, rec.Base)
		return
	}
	if rec.Base >= e.Start+e.Size || rec.Base+rec.Len-1 < e.Start {
		if e.cfiComplaints < maxCfiComplaints {
			e.cfiComplaints++
			if e.opts.Verbosity > 1 {
				e.message(terminal.DebugMsg, "warning: CFI record %#x .. %#x outside segment %#x .. %#x",
					rec.Base, rec.Base+rec.Len-1, e.Start, e.Start+e.Size-1)
			}
		}
		return
	}
	e.CFI.Insert(rec)
}

// cfiSection is an unwind section located in an object image.
type cfiSection struct {
	data []byte
	// addr is the link time address of the section, only needed for
	// .eh_frame, whose pointers may be relative to it.
	addr    uint64
	ehFrame bool
}

// readCFI parses sec and adds a record for every unwind row that can be
// summarised. Rows that cannot be summarised are logged and skipped.
func (e *Entry) readCFI(sec cfiSection, order binary.ByteOrder) error {
	regs := e.opts.Arch.Frame
	ehFrameAddr := uint64(0)
	if sec.ehFrame {
		ehFrameAddr = sec.addr
	}
	fdes, err := frame.Parse(sec.data, order, e.Offset, regs.PtrSize, ehFrameAddr)
	if err != nil {
		return err
	}

	log := logflags.CFILogger()
	for _, fde := range fdes {
		rows, failed, err := fde.Summarize(regs)
		if err != nil {
			log.Debugf("fde [%#x, %#x): %v", fde.Begin(), fde.End(), err)
			continue
		}
		for _, rerr := range failed {
			if logflags.CFI() {
				log.Debug(rerr.Error())
			}
		}
		for _, row := range rows {
			e.AddCfiRecord(CfiRecord{row})
		}
	}
	return nil
}
