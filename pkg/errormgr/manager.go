package errormgr

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-delve/tracecore/pkg/logflags"
	"github.com/go-delve/tracecore/pkg/terminal"
	"github.com/go-delve/tracecore/pkg/unwind"
)

// Default limits on the number of errors collected.
const (
	DefaultErrorsSlowlyAfter = 100
	DefaultErrorsShownLimit  = 1000
	DefaultErrorsFoundLimit  = 10000000

	DefaultNumCallers = 12
	DefaultDBCommand  = "gdb -nw %f %p"
)

// GenSuppressions says when suppressions are printed for new errors.
type GenSuppressions uint8

const (
	GenSuppressionsNo GenSuppressions = iota
	// GenSuppressionsAsk asks the user for every error.
	GenSuppressionsAsk
	GenSuppressionsAll
)

// ParseGenSuppressions parses the values accepted by --gen-suppressions.
func ParseGenSuppressions(s string) (GenSuppressions, error) {
	switch s {
	case "no", "":
		return GenSuppressionsNo, nil
	case "yes":
		return GenSuppressionsAsk, nil
	case "all":
		return GenSuppressionsAll, nil
	}
	return GenSuppressionsNo, fmt.Errorf("invalid value %q for gen-suppressions, must be one of no, yes or all", s)
}

// ParseResolution parses the values accepted by the resolution setting.
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "low":
		return LowRes, nil
	case "med", "":
		return MedRes, nil
	case "high":
		return HighRes, nil
	}
	return MedRes, fmt.Errorf("invalid value %q for resolution, must be one of low, med or high", s)
}

// Config holds the policy of a Manager.
type Config struct {
	Verbosity int
	XML       bool

	// ErrorLimit enables the cutoffs of ErrorsShownLimit and
	// ErrorsFoundLimit.
	ErrorLimit bool
	// ErrorsSlowlyAfter is the number of shown errors after which stack
	// traces are compared at low resolution.
	ErrorsSlowlyAfter int
	ErrorsShownLimit  int
	ErrorsFoundLimit  int
	// Resolution is how closely the traces of new errors are compared
	// with recorded ones before ErrorsSlowlyAfter is reached.
	Resolution Resolution

	// NumCallers is the number of frames recorded for each error.
	NumCallers    int
	ShowBelowMain bool
	// ShowThreadIDs prints a "Thread N:" line when an error comes from a
	// different thread than the previous one.
	ShowThreadIDs bool

	GenSuppressions GenSuppressions
	DBAttach        bool
	// DBCommand is the debugger command line, %p is replaced by the pid
	// and %f by the executable of the traced process.
	DBCommand  string
	Pid        int
	Executable string
}

// DefaultConfig returns the default error manager policy.
func DefaultConfig() Config {
	return Config{
		Verbosity:         1,
		ErrorLimit:        true,
		ErrorsSlowlyAfter: DefaultErrorsSlowlyAfter,
		ErrorsShownLimit:  DefaultErrorsShownLimit,
		ErrorsFoundLimit:  DefaultErrorsFoundLimit,
		Resolution:        MedRes,
		NumCallers:        DefaultNumCallers,
		DBCommand:         DefaultDBCommand,
		Pid:               os.Getpid(),
	}
}

// Threads gives access to the threads of the traced process.
type Threads interface {
	Thread(tid int) (unwind.Thread, bool)
}

// Stats counts the work done searching the error and suppression lists.
type Stats struct {
	SuppSearches, SuppCmps uint64
	ErrSearches, ErrCmps   uint64
}

// Manager records errors and suppressions. It is not safe for concurrent
// use, callers serialise access to it.
type Manager struct {
	cfg  Config
	tool Tool
	unw  *unwind.Unwinder
	out  terminal.Emitter
	raw  io.Writer

	threads  Threads
	prompter Prompter
	// runDebugger runs the debugger command line.
	runDebugger func(args []string) error

	// errors and supps are kept most recently matched first.
	errors []*Error
	supps  []*Suppression

	nFound, nSuppressed, nShown int
	uniqueCounter               uint32
	firstShownContext           bool
	stoppingMessage             bool
	slowdownMessage             bool
	lastTidPrinted              int

	stats Stats
	log   logflags.Logger
}

// New returns a Manager reporting the errors of tool to out. Stack traces
// are taken and printed with unw.
func New(cfg Config, tool Tool, unw *unwind.Unwinder, out terminal.Emitter) *Manager {
	if cfg.NumCallers <= 0 {
		cfg.NumCallers = DefaultNumCallers
	}
	if cfg.DBCommand == "" {
		cfg.DBCommand = DefaultDBCommand
	}
	if out == nil {
		out = terminal.Discard
	}
	raw, ok := out.(io.Writer)
	if !ok {
		raw = os.Stdout
	}
	return &Manager{
		cfg:               cfg,
		tool:              tool,
		unw:               unw,
		out:               out,
		raw:               raw,
		runDebugger:       runCommand,
		firstShownContext: true,
		lastTidPrinted:    1,
		log:               logflags.ErrorManagerLogger(),
	}
}

// SetThreads sets the source of the stack traces of ReportError.
func (m *Manager) SetThreads(threads Threads) {
	m.threads = threads
}

// SetPrompter sets where the answers to the debugger attach and
// suppression printing questions are read from.
func (m *Manager) SetPrompter(p Prompter) {
	m.prompter = p
}

// SetOutput sets where generated suppressions are written.
func (m *Manager) SetOutput(w io.Writer) {
	m.raw = w
}

// Config returns the policy of m.
func (m *Manager) Config() *Config {
	return &m.cfg
}

// Out returns the sink errors are printed to.
func (m *Manager) Out() terminal.Emitter {
	return m.out
}

// XML returns true if errors are printed as XML.
func (m *Manager) XML() bool {
	return m.cfg.XML
}

// Errors returns the recorded errors, most recently matched first.
func (m *Manager) Errors() []*Error {
	return m.errors
}

// Suppressions returns the loaded suppressions.
func (m *Manager) Suppressions() []*Suppression {
	return m.supps
}

// Counts returns the number of unsuppressed errors found, of suppressed
// errors, and of errors shown to the user.
func (m *Manager) Counts() (found, suppressed, shown int) {
	return m.nFound, m.nSuppressed, m.nShown
}

// Stats returns the search statistics.
func (m *Manager) Stats() Stats {
	return m.stats
}

func (m *Manager) umsg(format string, args ...interface{}) {
	m.out.EmitLine(terminal.UserMsg, fmt.Sprintf(format, args...))
}

func (m *Manager) dmsg(format string, args ...interface{}) {
	m.out.EmitLine(terminal.DebugMsg, fmt.Sprintf(format, args...))
}

// LoadSuppressions reads the suppression files at paths. Any error is
// fatal and is a *SuppressionError.
func (m *Manager) LoadSuppressions(paths []string) error {
	p := &SuppParser{Tool: m.tool, MaxCallers: m.cfg.NumCallers}
	for _, path := range paths {
		if m.cfg.Verbosity > 1 {
			m.dmsg("Reading suppressions file: %s", path)
		}
		supps, err := p.ParseFile(path)
		if err != nil {
			return err
		}
		m.AddSuppressions(supps)
	}
	return nil
}

// AddSuppressions adds supps to the suppressions of m. Later suppressions
// are searched first.
func (m *Manager) AddSuppressions(supps []*Suppression) {
	for _, su := range supps {
		m.supps = append([]*Suppression{su}, m.supps...)
	}
}

// StackTrace returns the stack trace of thread tid.
func (m *Manager) StackTrace(tid int) []uint64 {
	if m.threads == nil || m.unw == nil {
		return nil
	}
	th, ok := m.threads.Thread(tid)
	if !ok {
		m.log.Debugf("no thread %d", tid)
		return nil
	}
	trace, err := m.unw.ThreadStack(th, m.cfg.NumCallers)
	if err != nil {
		m.log.Debugf("thread %d: %v", tid, err)
	}
	return trace
}

func (m *Manager) newError(tid int, kind ErrorKind, addr uint64, s string, extra interface{}, trace []uint64) *Error {
	e := &Error{
		Unique: m.uniqueCounter,
		Tid:    tid,
		Kind:   kind,
		Addr:   addr,
		String: s,
		Extra:  extra,
		Trace:  trace,
		Count:  1,
	}
	m.uniqueCounter++
	return e
}

func (m *Manager) eqError(res Resolution, e1, e2 *Error) bool {
	if e1.Kind != e2.Kind {
		return false
	}
	if !EqTrace(res, e1.Trace, e2.Trace) {
		return false
	}
	return m.tool.EqError(res, e1, e2)
}

// ReportError records an error of thread tid, using the current stack
// trace of the thread. It returns true if the error is suppressed.
func (m *Manager) ReportError(tid int, kind ErrorKind, addr uint64, s string, extra interface{}) bool {
	return m.ReportErrorWithTrace(tid, kind, addr, s, extra, m.StackTrace(tid))
}

// ReportErrorWithTrace is like ReportError with a known stack trace.
//
// An error equal to one already recorded only increments the count of the
// existing record. A new error is checked against the suppressions; an
// unsuppressed one is printed and the interactive actions are offered.
func (m *Manager) ReportErrorWithTrace(tid int, kind ErrorKind, addr uint64, s string, extra interface{}, trace []uint64) bool {
	if m.cfg.ErrorLimit && !m.cfg.XML &&
		(m.nShown >= m.cfg.ErrorsShownLimit || m.nFound >= m.cfg.ErrorsFoundLimit) {
		if !m.stoppingMessage {
			m.umsg("")
			if m.nShown >= m.cfg.ErrorsShownLimit {
				m.umsg("More than %d different errors detected.  I'm not reporting any more.", m.cfg.ErrorsShownLimit)
			} else {
				m.umsg("More than %d total errors detected.  I'm not reporting any more.", m.cfg.ErrorsFoundLimit)
			}
			m.umsg("Final error counts will be inaccurate.  Go fix your program!")
			m.umsg("Rerun with --error-limit=no to disable this cutoff.  Note")
			m.umsg("that errors may occur in your program without prior warning,")
			m.umsg("because errors are no longer being displayed.")
			m.umsg("")
			m.stoppingMessage = true
		}
		return false
	}

	res := m.cfg.Resolution
	if m.nShown >= m.cfg.ErrorsSlowlyAfter && !m.cfg.XML {
		res = LowRes
		if !m.slowdownMessage {
			m.umsg("")
			m.umsg("More than %d errors detected.  Subsequent errors", m.cfg.ErrorsSlowlyAfter)
			m.umsg("will still be recorded, but in less detail than before.")
			m.slowdownMessage = true
		}
	}

	e := m.newError(tid, kind, addr, s, extra, trace)

	m.stats.ErrSearches++
	for i, p := range m.errors {
		m.stats.ErrCmps++
		if !m.eqError(res, p, e) {
			continue
		}
		p.Count++
		if p.Supp != nil {
			p.Supp.Count++
			m.nSuppressed++
		} else {
			m.nFound++
		}
		moveToFront(m.errors, i)
		return p.Supp != nil
	}

	e.Supp = m.isSuppressible(e)
	m.errors = append(m.errors, nil)
	copy(m.errors[1:], m.errors)
	m.errors[0] = e

	if e.Supp != nil {
		m.nSuppressed++
		e.Supp.Count++
		return true
	}
	m.nFound++
	m.show(e, true)
	return false
}

// UniqueError reports an error that is known to happen only once: it is
// neither recorded nor compared with other errors, but it can be
// suppressed. A nil trace is replaced by the stack trace of tid. It
// returns true if the error is suppressed.
func (m *Manager) UniqueError(tid int, kind ErrorKind, addr uint64, s string, extra interface{}, trace []uint64, print, allowDBAttach, count bool) bool {
	if trace == nil {
		trace = m.StackTrace(tid)
	}
	e := m.newError(tid, kind, addr, s, extra, trace)
	su := m.isSuppressible(e)
	if su != nil {
		m.nSuppressed++
		su.Count++
		return true
	}
	if count {
		m.nFound++
	}
	if print {
		m.show(e, allowDBAttach)
	}
	return false
}

func (m *Manager) show(e *Error, allowDBAttach bool) {
	if !m.firstShownContext {
		m.umsg("")
	}
	m.PrintError(e)
	m.firstShownContext = false
	m.nShown++
	m.doActions(e, allowDBAttach)
}

func moveToFront[T any](s []T, i int) {
	if i == 0 {
		return
	}
	x := s[i]
	copy(s[1:i+1], s[:i])
	s[0] = x
}

// PrintError prints e with the tool's printer.
func (m *Manager) PrintError(e *Error) {
	if m.cfg.XML {
		m.umsg("<error>")
		m.umsg("  <unique>0x%x</unique>", e.Unique)
		m.umsg("  <tid>%d</tid>", e.Tid)
	} else if m.cfg.ShowThreadIDs && e.Tid > 0 && e.Tid != m.lastTidPrinted {
		m.umsg("Thread %d:", e.Tid)
		m.lastTidPrinted = e.Tid
	}
	m.tool.PrintError(m, e)
	if m.cfg.XML {
		m.umsg("</error>")
	}
}

// PrintTrace prints a stack trace the way errors show them.
func (m *Manager) PrintTrace(trace []uint64) {
	if m.unw == nil {
		return
	}
	m.unw.Print(m.out, trace, m.cfg.XML, m.cfg.ShowBelowMain)
}

// frameName returns the function or object name of ip, "???" when
// unknown.
func (m *Manager) frameName(kind SuppLocKind, ip uint64) string {
	if m.unw == nil {
		return "???"
	}
	reg := m.unw.Registry()
	var (
		name string
		ok   bool
	)
	switch kind {
	case FunName:
		name, ok = reg.FnNameNoDemangle(ip)
	case ObjName:
		name, ok = reg.ObjName(ip)
	}
	if !ok {
		return "???"
	}
	return name
}

// SuppMatchesTrace reports whether the callers of su match a prefix of
// trace.
func (m *Manager) SuppMatchesTrace(su *Suppression, trace []uint64) bool {
	return Match(false, su.Callers, trace,
		func(loc SuppLoc) bool { return loc.Kind == DotDotDot },
		func(SuppLoc) bool { return false },
		func(loc SuppLoc, ip uint64) bool {
			return StringMatch(loc.Name, m.frameName(loc.Kind, ip))
		})
}

// isSuppressible returns the first suppression matching e and moves it to
// the front of the list.
func (m *Manager) isSuppressible(e *Error) *Suppression {
	m.stats.SuppSearches++
	for i, su := range m.supps {
		m.stats.SuppCmps++
		if m.tool.ErrorMatchesSuppression(e, su) && m.SuppMatchesTrace(su, e.Trace) {
			moveToFront(m.supps, i)
			return su
		}
	}
	return nil
}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func (m *Manager) showUsedSuppressions() bool {
	if m.cfg.XML {
		m.umsg("<suppcounts>")
	}
	anySupp := false
	for _, su := range m.supps {
		if su.Count <= 0 {
			continue
		}
		anySupp = true
		if m.cfg.XML {
			m.dmsg("  <pair>\n    <count>%d</count>\n    <name>%s</name>\n  </pair>", su.Count, xmlEscaper.Replace(su.Name))
		} else {
			m.dmsg("supp: %6d %s", su.Count, su.Name)
		}
	}
	if m.cfg.XML {
		m.umsg("</suppcounts>")
	}
	return anySupp
}

// ShowAllErrors prints the error summary. At verbosity above 1 every
// unsuppressed error is printed again, least frequent first, followed by
// the suppressions used.
func (m *Manager) ShowAllErrors() {
	if m.cfg.Verbosity == 0 {
		return
	}

	var contexts []*Error
	for _, e := range m.errors {
		if e.Supp == nil {
			contexts = append(contexts, e)
		}
	}
	nSuppContexts := 0
	for _, su := range m.supps {
		if su.Count > 0 {
			nSuppContexts++
		}
	}

	if m.cfg.XML {
		m.showUsedSuppressions()
		return
	}

	m.umsg("ERROR SUMMARY: %d errors from %d contexts (suppressed: %d from %d)",
		m.nFound, len(contexts), m.nSuppressed, nSuppContexts)
	if m.cfg.Verbosity <= 1 {
		return
	}

	sort.SliceStable(contexts, func(i, j int) bool { return contexts[i].Count < contexts[j].Count })
	for i, e := range contexts {
		m.umsg("")
		m.umsg("%d errors in context %d of %d:", e.Count, i+1, len(contexts))
		m.PrintError(e)
	}

	if nSuppContexts > 0 {
		m.umsg("")
	}
	anySupp := m.showUsedSuppressions()
	if len(contexts) > 0 {
		if anySupp {
			m.umsg("")
		}
		m.umsg("IN SUMMARY: %d errors from %d contexts (suppressed: %d from %d)",
			m.nFound, len(contexts), m.nSuppressed, nSuppContexts)
		m.umsg("")
	}
}

// ShowErrorCountsAsXML prints the number of occurrences of every
// unsuppressed error.
func (m *Manager) ShowErrorCountsAsXML() {
	m.umsg("<errorcounts>")
	for _, e := range m.errors {
		if e.Supp != nil || e.Count <= 0 {
			continue
		}
		m.umsg("  <pair>")
		m.umsg("    <count>%d</count>", e.Count)
		m.umsg("    <unique>0x%x</unique>", e.Unique)
		m.umsg("  </pair>")
	}
	m.umsg("</errorcounts>")
}

// PrintStats prints the search statistics.
func (m *Manager) PrintStats() {
	m.dmsg(" errormgr: %d supplist searches, %d comparisons during search", m.stats.SuppSearches, m.stats.SuppCmps)
	m.dmsg(" errormgr: %d errlist searches, %d comparisons during search", m.stats.ErrSearches, m.stats.ErrCmps)
}
