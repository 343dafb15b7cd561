package terminal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Severity classifies a diagnostic line.
type Severity uint8

const (
	// UserMsg lines are meant for the user: errors, summaries, warnings.
	UserMsg Severity = iota
	// DebugMsg lines are printed at higher verbosity levels.
	DebugMsg
	// ClientMsg lines are requested by the traced program.
	ClientMsg
)

func (sev Severity) marker() string {
	switch sev {
	case DebugMsg:
		return "--"
	case ClientMsg:
		return "**"
	}
	return "=="
}

const (
	ansiReset = "\x1b[0m"
	ansiDim   = "\x1b[2m"
	ansiBold  = "\x1b[1m"
)

// Emitter receives diagnostic lines.
type Emitter interface {
	EmitLine(sev Severity, text string)
}

type discard struct{}

func (discard) EmitLine(Severity, string) {}

// Discard is an Emitter that drops every line.
var Discard Emitter = discard{}

// Sink writes diagnostic lines prefixed with the process id, as in
// "==1234== message". Lines are optionally copied to a transcript file.
type Sink struct {
	out   io.Writer
	pid   int
	color bool
	xml   bool

	file *bufio.Writer
	fh   io.Closer
}

// NewSink returns a Sink writing to f. Colors are used when f is a
// terminal.
func NewSink(f *os.File, pid int) *Sink {
	color := isatty.IsTerminal(f.Fd()) && strings.ToLower(os.Getenv("TERM")) != "dumb"
	var w io.Writer = f
	if color {
		w = colorable.NewColorable(f)
	}
	return &Sink{out: w, pid: pid, color: color}
}

// NewWriterSink returns a Sink writing uncolored lines to w.
func NewWriterSink(w io.Writer, pid int) *Sink {
	return &Sink{out: w, pid: pid}
}

// SetXML switches user messages to XML mode, where they are written
// without the process id prefix.
func (s *Sink) SetXML(xml bool) {
	s.xml = xml
}

// XML returns true if the sink is in XML mode.
func (s *Sink) XML() bool {
	return s.xml
}

// EmitLine writes one line of text.
func (s *Sink) EmitLine(sev Severity, text string) {
	var line string
	if s.xml && sev == UserMsg {
		line = text + "\n"
	} else {
		line = fmt.Sprintf("%s%d%s %s\n", sev.marker(), s.pid, sev.marker(), text)
	}
	s.echo(line)

	if s.color {
		switch sev {
		case DebugMsg:
			line = ansiDim + line[:len(line)-1] + ansiReset + "\n"
		case ClientMsg:
			line = ansiBold + line[:len(line)-1] + ansiReset + "\n"
		}
	}
	io.WriteString(s.out, line)
}

// Printf formats a line and emits it.
func (s *Sink) Printf(sev Severity, format string, args ...interface{}) {
	s.EmitLine(sev, fmt.Sprintf(format, args...))
}

// Write writes p unchanged, it is used for output that is not made of
// diagnostic lines.
func (s *Sink) Write(p []byte) (int, error) {
	if s.file != nil {
		s.file.Write(p)
	}
	return s.out.Write(p)
}

func (s *Sink) echo(str string) {
	if s.file != nil {
		s.file.WriteString(str)
	}
}

// TranscribeTo starts copying every line to fh.
func (s *Sink) TranscribeTo(fh io.WriteCloser) {
	if s.file != nil {
		s.CloseTranscript()
	}
	s.fh = fh
	s.file = bufio.NewWriter(fh)
}

// CloseTranscript flushes and closes the transcript file.
func (s *Sink) CloseTranscript() error {
	if s.file == nil {
		return nil
	}
	s.file.Flush()
	err := s.fh.Close()
	s.file = nil
	s.fh = nil
	return err
}
