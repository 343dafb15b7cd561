package errormgr

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-delve/tracecore/pkg/logflags"
	"github.com/go-delve/tracecore/pkg/terminal"
)

// MaxSuppCallers is the largest number of caller lines in a suppression.
const MaxSuppCallers = 24

// MaxSuppLineLen is the longest line accepted in a suppression file.
const MaxSuppLineLen = 1 << 20

// SuppLocKind is the kind of a caller line of a suppression.
type SuppLocKind uint8

const (
	// FunName matches the function containing the frame.
	FunName SuppLocKind = iota
	// ObjName matches the object containing the frame.
	ObjName
	// DotDotDot matches zero or more frames.
	DotDotDot
)

// SuppLoc is one caller line of a suppression.
type SuppLoc struct {
	Kind SuppLocKind
	// Name is a glob pattern, empty for DotDotDot.
	Name string
}

func (loc SuppLoc) String() string {
	switch loc.Kind {
	case FunName:
		return "fun:" + loc.Name
	case ObjName:
		return "obj:" + loc.Name
	}
	return "..."
}

func parseSuppLoc(line string) (SuppLoc, bool) {
	switch {
	case strings.HasPrefix(line, "fun:"):
		return SuppLoc{Kind: FunName, Name: line[len("fun:"):]}, true
	case strings.HasPrefix(line, "obj:"):
		return SuppLoc{Kind: ObjName, Name: line[len("obj:"):]}, true
	case line == "...":
		return SuppLoc{Kind: DotDotDot}, true
	}
	return SuppLoc{}, false
}

// Suppression is a pattern matching errors that are counted but not
// shown.
type Suppression struct {
	Name     string
	KindName string
	// Kind, String and Extra are set by the tool.
	Kind   ErrorKind
	String string
	Extra  interface{}

	// Callers is matched against a prefix of the stack trace.
	Callers []SuppLoc

	// Count is the number of errors suppressed.
	Count int

	// File and Line locate the opening brace of the suppression.
	File string
	Line int
}

// LineReader returns the meaningful lines of a suppression file: leading
// and trailing blanks are removed, empty lines and lines starting with '#'
// are skipped.
type LineReader struct {
	s    *bufio.Scanner
	line int
}

// NewLineReader returns a LineReader reading from r.
func NewLineReader(r io.Reader) *LineReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), MaxSuppLineLen)
	return &LineReader{s: s}
}

// Next returns the next line, eof is true when there are no more lines.
func (lr *LineReader) Next() (line string, eof bool) {
	for lr.s.Scan() {
		lr.line++
		line := strings.TrimSpace(lr.s.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		return line, false
	}
	return "", true
}

// Line returns the number of the line last read.
func (lr *LineReader) Line() int {
	return lr.line
}

// Err returns the first read error.
func (lr *LineReader) Err() error {
	return lr.s.Err()
}

// readError describes the read error of lr as a syntax error on the line
// that could not be read.
func (lr *LineReader) readError(filename string) *SuppressionError {
	msg := fmt.Sprintf("read error: %v", lr.Err())
	if errors.Is(lr.Err(), bufio.ErrTooLong) {
		msg = fmt.Sprintf("line longer than %d bytes", MaxSuppLineLen)
	}
	return &SuppressionError{File: filename, Line: lr.line + 1, Msg: msg}
}

// SuppressionError is a syntax error in a suppression file, it is fatal.
type SuppressionError struct {
	File string
	Line int
	Msg  string
	// Err is set when the file could not be opened.
	Err error
}

func (err *SuppressionError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("can't open suppressions file %q: %v", err.File, err.Err)
	}
	return fmt.Sprintf("in suppressions file %q near line %d: %s", err.File, err.Line, err.Msg)
}

func (err *SuppressionError) Unwrap() error {
	return err.Err
}

// Report prints err the way a fatal error is shown to the user.
func (err *SuppressionError) Report(out terminal.Emitter) {
	if err.Err != nil {
		out.EmitLine(terminal.UserMsg, fmt.Sprintf("FATAL: can't open suppressions file \"%s\"", err.File))
		return
	}
	out.EmitLine(terminal.UserMsg, fmt.Sprintf("FATAL: in suppressions file \"%s\" near line %d:", err.File, err.Line))
	out.EmitLine(terminal.UserMsg, "   "+err.Msg)
	out.EmitLine(terminal.UserMsg, "exiting now.")
}

// SuppParser reads suppression files for one tool.
type SuppParser struct {
	Tool Tool
	// MaxCallers caps the number of caller lines kept for each
	// suppression, further lines are ignored. Zero means MaxSuppCallers.
	MaxCallers int
}

func toolNamePresent(name, names string) bool {
	for _, n := range strings.Split(names, ",") {
		if n == name {
			return true
		}
	}
	return false
}

// ParseFile reads the suppressions in the file at path.
func (p *SuppParser) ParseFile(path string) ([]*Suppression, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, &SuppressionError{File: path, Err: err}
	}
	defer fh.Close()
	return p.Parse(fh, path)
}

// Parse reads the suppressions in r, filename is only used in errors.
// Suppressions meant for other tools are skipped. The returned error is
// a *SuppressionError.
func (p *SuppParser) Parse(r io.Reader, filename string) ([]*Suppression, error) {
	maxCallers := p.MaxCallers
	if maxCallers <= 0 {
		maxCallers = MaxSuppCallers
	}
	log := logflags.SuppressionsLogger()
	lr := NewLineReader(r)
	bomb := func(msg string) ([]*Suppression, error) {
		if lr.Err() != nil {
			return nil, lr.readError(filename)
		}
		return nil, &SuppressionError{File: filename, Line: lr.Line(), Msg: msg}
	}

	var supps []*Suppression
	for {
		line, eof := lr.Next()
		if eof {
			break
		}
		if line != "{" {
			return bomb("expected '{' or end-of-file")
		}
		supp := &Suppression{File: filename, Line: lr.Line()}

		line, eof = lr.Next()
		if eof || line == "}" {
			return bomb("unexpected '}'")
		}
		supp.Name = line

		line, eof = lr.Next()
		if eof {
			return bomb("unexpected end-of-file")
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return bomb("malformed 'tool1,tool2,...:supp' line")
		}
		toolNames, kindName := line[:colon], line[colon+1:]

		if !toolNamePresent(p.Tool.Name(), toolNames) {
			log.Debugf("skipping suppression %q for %s", supp.Name, toolNames)
			for {
				line, eof = lr.Next()
				if eof {
					return bomb("unexpected end-of-file")
				}
				if line == "}" {
					break
				}
			}
			continue
		}
		supp.KindName = kindName
		if !p.Tool.RecognisedSuppression(kindName, supp) {
			return bomb("unknown tool suppression type")
		}
		if !p.Tool.ReadExtraSuppressionInfo(lr, supp) {
			return bomb("bad or missing extra suppression info")
		}

		for {
			line, eof = lr.Next()
			if eof {
				return bomb("unexpected end-of-file")
			}
			if line == "}" {
				if len(supp.Callers) == 0 {
					return bomb("missing stack trace")
				}
				break
			}
			if len(supp.Callers) == MaxSuppCallers {
				return bomb("too many callers in stack trace")
			}
			if len(supp.Callers) > 0 && len(supp.Callers) >= maxCallers {
				// ignore the remaining callers
				for line != "}" && !eof {
					line, eof = lr.Next()
				}
				break
			}
			loc, ok := parseSuppLoc(line)
			if !ok {
				return bomb("location should be \"...\", or should start with \"fun:\" or \"obj:\"")
			}
			supp.Callers = append(supp.Callers, loc)
		}

		wildcardsOnly := true
		for _, loc := range supp.Callers {
			if loc.Kind != DotDotDot {
				wildcardsOnly = false
				break
			}
		}
		if wildcardsOnly {
			return bomb("suppression must contain at least one location line which is not \"...\"")
		}

		log.Debugf("suppression %q %s:%s with %d callers", supp.Name, toolNames, kindName, len(supp.Callers))
		supps = append(supps, supp)
	}
	if lr.Err() != nil {
		return nil, lr.readError(filename)
	}
	return supps, nil
}
