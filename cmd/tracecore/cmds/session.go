package cmds

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/mattn/go-isatty"

	"github.com/go-delve/tracecore/pkg/config"
	"github.com/go-delve/tracecore/pkg/debuginfo"
	"github.com/go-delve/tracecore/pkg/errormgr"
	"github.com/go-delve/tracecore/pkg/terminal"
	"github.com/go-delve/tracecore/pkg/terminal/starbind"
	"github.com/go-delve/tracecore/pkg/unwind"
)

// session is the state shared by the commands of one invocation: the
// registry of loaded objects, the unwinder and the error manager, all
// reporting to the same sink.
type session struct {
	conf *config.Config
	sink *terminal.Sink
	reg  *debuginfo.Registry
	unw  *unwind.Unwinder
	tool *errormgr.GenericTool
	mgr  *errormgr.Manager

	prompter *errormgr.LinerPrompter
}

var errNoKinds = errors.New("no error kinds configured")

func newSession(conf *config.Config, sink *terminal.Sink) (*session, error) {
	if len(conf.ErrorKinds) == 0 {
		return nil, errNoKinds
	}
	gen, err := errormgr.ParseGenSuppressions(conf.GenSuppressions)
	if err != nil {
		return nil, err
	}
	res, err := errormgr.ParseResolution(conf.Resolution)
	if err != nil {
		return nil, err
	}
	sink.SetXML(conf.XML)

	arch := debuginfo.HostArch()
	if arch.Name == "" {
		return nil, fmt.Errorf("unsupported architecture %s", runtime.GOARCH)
	}
	arch.WritableText = arch.WritableText || conf.AllowWritableText
	reg := debuginfo.NewRegistry(debuginfo.Options{
		Arch:      arch,
		DataSyms:  conf.DataSyms,
		DebugDirs: conf.DebugInfoDirectories,
		Verbosity: conf.Verbosity,
		Sink:      sink,
	})
	unw := unwind.New(reg, conf.MaxStackFrame)
	tool := errormgr.NewGenericTool(conf.Tool, conf.ErrorKinds...)

	cfg := errormgr.DefaultConfig()
	cfg.Verbosity = conf.Verbosity
	cfg.XML = conf.XML
	cfg.ErrorLimit = conf.ErrorLimit
	cfg.ErrorsSlowlyAfter = conf.ErrorsSlowlyAfter
	cfg.ErrorsShownLimit = conf.ErrorsShownLimit
	cfg.ErrorsFoundLimit = conf.ErrorsFoundLimit
	cfg.Resolution = res
	cfg.NumCallers = conf.NumCallers
	cfg.ShowBelowMain = conf.ShowBelowMain
	cfg.GenSuppressions = gen
	cfg.DBAttach = conf.DBAttach
	cfg.DBCommand = conf.DBCommand

	s := &session{
		conf: conf,
		sink: sink,
		reg:  reg,
		unw:  unw,
		tool: tool,
		mgr:  errormgr.New(cfg, tool, unw, sink),
	}
	return s, nil
}

// interactive installs a terminal prompter when the configuration asks
// questions after errors and stdin is a terminal.
func (s *session) interactive() {
	cfg := s.mgr.Config()
	if !cfg.DBAttach && cfg.GenSuppressions != errormgr.GenSuppressionsAsk {
		return
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		s.mgr.SetPrompter(errormgr.NewReaderPrompter(os.Stdin, os.Stdout))
		return
	}
	s.prompter = errormgr.NewLinerPrompter()
	s.mgr.SetPrompter(s.prompter)
}

// loadSuppressions reads the configured suppression files. A syntax
// error is reported in the FATAL format and returned.
func (s *session) loadSuppressions() error {
	err := s.mgr.LoadSuppressions(s.conf.Suppressions)
	var serr *errormgr.SuppressionError
	if errors.As(err, &serr) {
		serr.Report(s.sink)
	}
	return err
}

// summary prints the error summary, used at the end of commands that
// report errors.
func (s *session) summary(stats bool) {
	found, suppressed, _ := s.mgr.Counts()
	if found+suppressed > 0 || s.conf.Verbosity > 1 {
		s.mgr.ShowAllErrors()
		if s.conf.XML {
			s.mgr.ShowErrorCountsAsXML()
		}
	}
	if stats {
		s.mgr.PrintStats()
	}
}

func (s *session) close() {
	if s.prompter != nil {
		s.prompter.Close()
		s.prompter = nil
	}
}

func (s *session) Registry() *debuginfo.Registry  { return s.reg }
func (s *session) Unwinder() *unwind.Unwinder      { return s.unw }
func (s *session) ErrorManager() *errormgr.Manager { return s.mgr }
func (s *session) Tool() *errormgr.GenericTool     { return s.tool }

var _ starbind.Context = (*session)(nil)
