package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v2"

	"github.com/go-delve/tracecore/pkg/config"
	"github.com/go-delve/tracecore/pkg/debuginfo"
	"github.com/go-delve/tracecore/pkg/errormgr"
	"github.com/go-delve/tracecore/pkg/logflags"
	"github.com/go-delve/tracecore/pkg/terminal"
	"github.com/go-delve/tracecore/pkg/terminal/starbind"
	"github.com/go-delve/tracecore/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// flags overriding the configuration file.
	confFlags configFlags

	// showStats prints the error manager statistics after a script.
	showStats bool

	// base is added to the link addresses of the object loaded by symbols
	// and describe.
	base uint64
	// symbolsPrefix restricts symbols to names starting with it.
	symbolsPrefix string
	// scriptArgs is the argument string passed to the main function of a
	// script.
	scriptArgs string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

// errReported is returned by commands that already printed their error.
var errReported = errors.New("error already reported")

const tracecoreCommandLongDesc = `tracecore is the core of a dynamic analysis tool.

It reads the symbol tables, line numbers, scopes and call frame information
of the objects mapped by a process, unwinds stacks using them and collects
the errors reported against those stacks, filtering them with suppression
files.

The subcommands below expose each layer, scripts written in starlark can
drive all of them (see 'tracecore help script').`

// configFlags are the command line flags that override config.yml.
type configFlags struct {
	verbose         int
	quiet           bool
	xml             bool
	suppressions    []string
	genSuppressions string
	numCallers      int
	showBelowMain   bool
	dbAttach        bool
	debugDirs       []string
}

func (f *configFlags) register(fs *pflag.FlagSet) {
	fs.CountVarP(&f.verbose, "verbose", "v", "Be more verbose, can be repeated.")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "Only print errors.")
	fs.BoolVar(&f.xml, "xml", false, "Print errors in XML.")
	fs.StringArrayVar(&f.suppressions, "suppressions", nil, "Suppression file to read, can be repeated.")
	fs.StringVar(&f.genSuppressions, "gen-suppressions", "", "Print suppressions for errors: no, yes (ask) or all.")
	fs.IntVar(&f.numCallers, "num-callers", 0, "Number of frames collected for each error.")
	fs.BoolVar(&f.showBelowMain, "show-below-main", false, "Keep printing stack frames below main.")
	fs.BoolVar(&f.dbAttach, "db-attach", false, "Offer to start a debugger after each error.")
	fs.StringArrayVar(&f.debugDirs, "debug-info-directory", nil, "Directory searched for separate debug files, can be repeated.")
}

// apply returns a copy of base with the flags that were set on the
// command line applied.
func (f *configFlags) apply(fs *pflag.FlagSet, base *config.Config) *config.Config {
	c := *base
	c.Suppressions = append([]string(nil), base.Suppressions...)
	if fs.Changed("verbose") {
		c.Verbosity += f.verbose
	}
	if fs.Changed("quiet") && f.quiet {
		c.Verbosity = 0
	}
	if fs.Changed("xml") {
		c.XML = f.xml
	}
	c.Suppressions = append(c.Suppressions, f.suppressions...)
	if fs.Changed("gen-suppressions") {
		c.GenSuppressions = f.genSuppressions
	}
	if fs.Changed("num-callers") {
		c.NumCallers = f.numCallers
	}
	if fs.Changed("show-below-main") {
		c.ShowBelowMain = f.showBelowMain
	}
	if fs.Changed("db-attach") {
		c.DBAttach = f.dbAttach
	}
	if fs.Changed("debug-info-directory") {
		c.DebugInfoDirectories = f.debugDirs
	}
	return &c
}

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main tracecore root command.
	rootCommand = &cobra.Command{
		Use:          "tracecore",
		Short:        "tracecore loads debug info, unwinds stacks and manages errors.",
		Long:         tracecoreCommandLongDesc,
		SilenceUsage: true,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'tracecore help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'tracecore help log').")
	confFlags.register(rootCommand.PersistentFlags())

	// 'symbols' subcommand.
	symbolsCommand := &cobra.Command{
		Use:   "symbols <object>",
		Short: "Print the symbol table of an object.",
		Long: `Loads an object as if its text was mapped at its link address and prints
the symbols kept after merging aliases and resolving overlaps.`,
		Args: cobra.ExactArgs(1),
		Run:  run(symbolsCmd),
	}
	symbolsCommand.Flags().Uint64Var(&base, "base", 0, "Address added to the link address of the object.")
	symbolsCommand.Flags().StringVar(&symbolsPrefix, "prefix", "", "Only print the names of symbols starting with prefix.")
	rootCommand.AddCommand(symbolsCommand)

	// 'describe' subcommand.
	describeCommand := &cobra.Command{
		Use:   "describe <object> <address>...",
		Short: "Describe addresses inside an object.",
		Long: `Loads an object and prints the function, source position and object of
every address, the way stack traces print them.

Addresses are interpreted in the object's address space shifted by --base,
use the 0x prefix for hexadecimal.`,
		Args: cobra.MinimumNArgs(2),
		Run:  run(describeCmd),
	}
	describeCommand.Flags().Uint64Var(&base, "base", 0, "Address added to the link address of the object.")
	rootCommand.AddCommand(describeCommand)

	// 'maps' subcommand.
	mapsCommand := &cobra.Command{
		Use:   "maps <pid|file>",
		Short: "Load the objects mapped by a process.",
		Long: `Reads /proc/<pid>/maps, or a file in the same format, and notifies every
mapping to the debug info registry. The objects whose text was loaded are
listed.`,
		Args: cobra.ExactArgs(1),
		Run:  run(mapsCmd),
	}
	rootCommand.AddCommand(mapsCommand)

	// 'supp' subcommand.
	suppCommand := &cobra.Command{
		Use:   "supp <file>...",
		Short: "Check suppression files.",
		Long: `Parses suppression files and lists the suppressions they contain. A syntax
error is reported in the same format used at startup.`,
		Args: cobra.MinimumNArgs(1),
		Run:  run(suppCmd),
	}
	rootCommand.AddCommand(suppCommand)

	// 'script' subcommand.
	scriptCommand := &cobra.Command{
		Use:   "script <file.star>",
		Short: "Run a starlark script.",
		Long: `Executes a starlark script. If the script defines a function called main it
is called with the arguments given by --args, split at spaces; single
quotes group words.

The error summary is printed when the script ends. Use the help builtin
for the list of functions available to scripts.`,
		Args: cobra.ExactArgs(1),
		Run:  run(scriptCmd),
	}
	scriptCommand.Flags().StringVarP(&scriptArgs, "args", "a", "", "Arguments passed to main.")
	scriptCommand.Flags().BoolVar(&showStats, "stats", false, "Print error manager statistics at the end.")
	rootCommand.AddCommand(scriptCommand)

	// 'repl' subcommand.
	replCommand := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive starlark session.",
		Run:   run(replCmd),
	}
	rootCommand.AddCommand(replCommand)

	// 'config' subcommand.
	configCommand := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration.",
		Run: func(cmd *cobra.Command, args []string) {
			if err := configCmd(cmd.OutOrStdout(), confFlags.apply(cmd.Flags(), conf)); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				os.Exit(1)
			}
		},
	}
	rootCommand.AddCommand(configCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tracecore\n%s\n", version.TracecoreVersion)
			if confFlags.verbose > 0 {
				fmt.Printf("%s\n", version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	debuginfo	Log loading and unloading of objects
	symtab		Log every symbol considered while reading symbol tables
	cfi		Log rejected call frame information records
	debuglineerr	Log recoverable errors reading .debug_line
	unwind		Log every unwound frame
	errormgr	Log error manager decisions
	suppressions	Log suppression loading and matching
	script		Log starlark script execution

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

type commandFunc func(s *session, out io.Writer, args []string) error

// run adapts fn to a cobra command: logging is set up, a session is
// created from the effective configuration and the process exits with
// status 1 if fn fails.
func run(fn commandFunc) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		os.Exit(execute(cmd, fn, args))
	}
}

func execute(cmd *cobra.Command, fn commandFunc, args []string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	c := confFlags.apply(cmd.Flags(), conf)
	s, err := newSession(c, terminal.NewSink(os.Stderr, os.Getpid()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer s.close()
	if err := s.loadSuppressions(); err != nil {
		return 1
	}
	if err := fn(s, cmd.OutOrStdout(), args); err != nil {
		if err != errReported {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		return 1
	}
	return 0
}

func symbolsCmd(s *session, out io.Writer, args []string) error {
	e, err := s.reg.LoadFile(args[0], base)
	if err != nil {
		return err
	}
	pager := terminal.NewPager(out)
	pager.Start()
	defer pager.Stop()

	if symbolsPrefix != "" {
		for _, name := range s.reg.SymbolsWithPrefix(symbolsPrefix) {
			fmt.Fprintln(pager, name)
		}
		return nil
	}
	printObject(pager, e)
	for _, sym := range e.Symbols.Items() {
		fmt.Fprintf(pager, "%#016x %8d %s\n", sym.Addr, sym.Size, sym.Name)
	}
	return nil
}

func printObject(out io.Writer, e *debuginfo.Entry) {
	fmt.Fprintf(out, "%#x-%#x %s (soname %s): %d symbols, %d locations, %d scopes, %d cfi records\n",
		e.Start, e.End(), e.Filename, e.Soname, e.Symbols.Len(), e.Locations.Len(), e.Scopes.Len(), e.CFI.Len())
}

func parseAddr(s string) (uint64, error) {
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return addr, nil
}

func describeCmd(s *session, out io.Writer, args []string) error {
	addrs := make([]uint64, 0, len(args)-1)
	for _, arg := range args[1:] {
		addr, err := parseAddr(arg)
		if err != nil {
			return err
		}
		addrs = append(addrs, addr)
	}
	if _, err := s.reg.LoadFile(args[0], base); err != nil {
		return err
	}
	for _, addr := range addrs {
		fmt.Fprintln(out, s.reg.DescribeIP(addr, s.conf.XML))
	}
	return nil
}

func mapsCmd(s *session, out io.Writer, args []string) error {
	path := args[0]
	if pid, err := strconv.Atoi(path); err == nil {
		path = fmt.Sprintf("/proc/%d/maps", pid)
	}
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	maps, err := debuginfo.ParseMaps(fh)
	if err != nil {
		return err
	}
	for _, m := range maps {
		s.reg.NotifyMmap(m)
	}
	s.reg.Entries(func(e *debuginfo.Entry) bool {
		printObject(out, e)
		return true
	})
	fmt.Fprintf(out, "%d mappings, %d objects loaded\n", len(maps), s.reg.Len())
	return nil
}

func suppCmd(s *session, out io.Writer, args []string) error {
	p := &errormgr.SuppParser{Tool: s.tool, MaxCallers: s.conf.NumCallers}
	for _, path := range args {
		supps, err := p.ParseFile(path)
		if err != nil {
			var serr *errormgr.SuppressionError
			if errors.As(err, &serr) {
				serr.Report(s.sink)
				return errReported
			}
			return err
		}
		for _, su := range supps {
			fmt.Fprintf(out, "%s:%d: %s (%s, %d callers)\n", su.File, su.Line, su.Name, su.KindName, len(su.Callers))
			for _, loc := range su.Callers {
				fmt.Fprintf(out, "   %s\n", loc)
			}
		}
		s.mgr.AddSuppressions(supps)
	}
	fmt.Fprintf(out, "%d suppressions\n", len(s.mgr.Suppressions()))
	return nil
}

func scriptCmd(s *session, out io.Writer, args []string) error {
	s.interactive()
	env := starbind.New(s, out)
	var mainArgs []interface{}
	for _, arg := range config.SplitQuotedFields(scriptArgs, '\'') {
		mainArgs = append(mainArgs, arg)
	}
	v, err := env.Execute(args[0], nil, "main", mainArgs)
	if err != nil {
		return err
	}
	if v != nil && v != starlark.None {
		fmt.Fprintln(out, v)
	}
	s.summary(showStats)
	return nil
}

func replCmd(s *session, out io.Writer, args []string) error {
	s.interactive()
	env := starbind.New(s, out)
	if err := env.REPL(); err != nil {
		return err
	}
	s.summary(showStats)
	return nil
}

func configCmd(out io.Writer, c *config.Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	path, _ := config.GetConfigFilePath("config.yml")
	fmt.Fprintf(out, "# %s\n", path)
	_, err = out.Write(b)
	return err
}
