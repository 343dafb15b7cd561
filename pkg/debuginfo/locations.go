package debuginfo

import (
	"sync"

	"github.com/go-delve/tracecore/pkg/terminal"
)

const (
	// MaxLocSize is the largest address range a single line may cover.
	MaxLocSize = 4095
	// MaxLineno is the largest line number that can be recorded.
	MaxLineno = 1<<20 - 1
)

// Location attributes [Addr, Addr+Size) to a source line.
type Location struct {
	Addr uint64
	Size uint64
	Line int
	File string
	// Dir is empty when the directory is unknown.
	Dir string
}

// LocationTable holds the line information of one Entry.
type LocationTable = IntervalTable[Location]

func newLocationTable() *LocationTable {
	return newIntervalTable(layout[Location]{
		bounds:    func(l *Location) (uint64, uint64) { return l.Addr, l.Size },
		setBounds: func(l *Location, addr, size uint64) { l.Addr, l.Size = addr, size },
		maxSize:   MaxLocSize,
	})
}

var hugeLinenoOnce sync.Once

// AddLineInfo records that [this, next) belongs to line of file.
// Suspicious ranges are reduced to a single byte, ranges outside of the
// entry are ignored.
func (e *Entry) AddLineInfo(file, dir string, this, next uint64, line int) {
	if this == next {
		return
	}
	size := next - this
	if this > next {
		if e.opts.Verbosity > 2 {
			e.message(terminal.DebugMsg, "warning: line info addresses out of order: %#x %#x", this, next)
		}
		size = 1
	}
	if size > MaxLocSize {
		size = 1
	}

	if this >= e.Start+e.Size || next-1 < e.Start {
		return
	}

	if line < 0 {
		return
	}
	if line > MaxLineno {
		hugeLinenoOnce.Do(func() {
			e.message(terminal.UserMsg, "warning: ignoring line info entry with huge line number (%d)", line)
			e.message(terminal.UserMsg, "         Can't handle line numbers greater than %d, sorry", MaxLineno)
			e.message(terminal.UserMsg, "(Nb: this message is only shown once)")
		})
		return
	}

	e.Locations.Insert(Location{
		Addr: this,
		Size: size,
		Line: line,
		File: e.strings.Add(file),
		Dir:  e.strings.Add(dir),
	})
}
