// Package errormgr collects the errors found in the traced program,
// removes duplicates, matches them against suppressions and decides
// which ones the user gets to see.
package errormgr

// ErrorKind is a tool defined error kind.
type ErrorKind int

// Error is one reported error. Equal errors share one record whose Count
// is incremented.
type Error struct {
	// Unique identifies the error in XML output.
	Unique uint32
	Tid    int
	Kind   ErrorKind
	Addr   uint64
	String string
	// Extra is for the tool's use.
	Extra interface{}
	// Trace is the stack trace of the thread that caused the error,
	// innermost frame first.
	Trace []uint64

	// Supp is the suppression matching the error, nil if the error is
	// not suppressed.
	Supp  *Suppression
	Count int
}

// Resolution is how closely stack traces are compared when looking for
// duplicates.
type Resolution uint8

const (
	// LowRes compares the first two frames.
	LowRes Resolution = iota
	// MedRes compares the first four frames.
	MedRes
	// HighRes compares the whole trace.
	HighRes
)

func (res Resolution) String() string {
	switch res {
	case LowRes:
		return "low"
	case MedRes:
		return "med"
	case HighRes:
		return "high"
	}
	return "unknown"
}

// EqTrace reports whether the traces a and b are equal at resolution res.
// At high resolution both traces must have the same length.
func EqTrace(res Resolution, a, b []uint64) bool {
	n := len(a)
	switch res {
	case LowRes:
		n = 2
	case MedRes:
		n = 4
	default:
		if len(a) != len(b) {
			return false
		}
	}
	if n > len(a) || n > len(b) {
		if len(a) != len(b) {
			return false
		}
		n = len(a)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Tool provides the tool specific parts of error management: printing,
// comparing and suppressing the errors of its kinds.
type Tool interface {
	// Name is the name of the tool in suppression files.
	Name() string

	// EqError reports whether two errors of the same kind and with equal
	// stack traces are the same error.
	EqError(res Resolution, e1, e2 *Error) bool
	// PrintError prints err, its stack trace can be printed with
	// m.PrintTrace.
	PrintError(m *Manager, err *Error)

	// ErrorName returns the suppression kind matching err, or the empty
	// string if err can not be suppressed.
	ErrorName(err *Error) string
	// ExtraSuppressionInfo returns the lines printed after the kind line
	// of a suppression generated for err.
	ExtraSuppressionInfo(err *Error) []string

	// RecognisedSuppression sets the kind of supp from the kind name
	// read from a suppression file. It returns false if the name is not
	// known to the tool.
	RecognisedSuppression(name string, supp *Suppression) bool
	// ReadExtraSuppressionInfo reads the lines following the kind line
	// of supp. It returns false if they are malformed.
	ReadExtraSuppressionInfo(lines *LineReader, supp *Suppression) bool
	// ErrorMatchesSuppression reports whether err is of a kind supp
	// suppresses. Stack traces are matched separately.
	ErrorMatchesSuppression(err *Error, supp *Suppression) bool
}
