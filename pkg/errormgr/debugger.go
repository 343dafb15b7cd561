package errormgr

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cosiner/argv"
)

// DebuggerCommand expands the %p and %f escapes of template and splits
// the result into arguments. %p is replaced by pid, %f by exe, %% by a
// single percent sign.
func DebuggerCommand(template string, pid int, exe string) ([]string, error) {
	if exe == "" {
		exe = "/proc/" + strconv.Itoa(pid) + "/exe"
	}
	var buf strings.Builder
	for i := 0; i < len(template); i++ {
		if template[i] != '%' || i+1 >= len(template) {
			buf.WriteByte(template[i])
			continue
		}
		i++
		switch template[i] {
		case 'p':
			buf.WriteString(strconv.Itoa(pid))
		case 'f':
			buf.WriteString(exe)
		case '%':
			buf.WriteByte('%')
		default:
			return nil, fmt.Errorf("unknown escape %%%c in debugger command %q", template[i], template)
		}
	}
	cmdline := buf.String()
	v, err := argv.Argv(cmdline,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 || len(v[0]) == 0 {
		return nil, fmt.Errorf("illegal debugger command '%s'", cmdline)
	}
	return v[0], nil
}

func runCommand(args []string) error {
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	return cmd.Run()
}

// StartDebugger runs the debugger command on the traced process and waits
// for it to exit.
func (m *Manager) StartDebugger(tid int) {
	args, err := DebuggerCommand(m.cfg.DBCommand, m.cfg.Pid, m.cfg.Executable)
	if err == nil {
		m.umsg("starting debugger with cmd: %s", strings.Join(args, " "))
		m.log.Debugf("debugger for thread %d: %q", tid, args)
		err = m.runDebugger(args)
	}
	if err != nil {
		m.umsg("Warning: Debugger attach failed! (%v)", err)
		m.umsg("")
		return
	}
	m.umsg("")
	m.umsg("Debugger has detached.  We continue.")
}
