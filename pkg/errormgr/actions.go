package errormgr

import (
	"fmt"
	"io"
)

// doActions offers to attach a debugger to the faulting process and to
// print a suppression for e.
func (m *Manager) doActions(e *Error, allowDBAttach bool) {
	stillNoisy := true

	if allowDBAttach && m.actionRequested("Attach to debugger", &m.cfg.DBAttach) {
		m.StartDebugger(e.Tid)
	}

	if m.cfg.GenSuppressions == GenSuppressionsAll ||
		(m.cfg.GenSuppressions == GenSuppressionsAsk && m.actionRequested("Print suppression", &stillNoisy)) {
		m.GenSuppression(e)
	}
	if m.cfg.GenSuppressions == GenSuppressionsAsk && !stillNoisy {
		m.cfg.GenSuppressions = GenSuppressionsNo
	}
}

// GenSuppression writes a suppression matching e, in the format read by
// LoadSuppressions.
func (m *Manager) GenSuppression(e *Error) {
	name := m.tool.ErrorName(e)
	if name == "" {
		m.umsg("(%s does not allow error to be suppressed)", m.tool.Name())
		return
	}
	WriteSuppression(m.raw, m.tool.Name(), name, m.tool.ExtraSuppressionInfo(e), m.suppCallers(e.Trace))
}

// suppCallers returns the frames of trace as suppression locations.
func (m *Manager) suppCallers(trace []uint64) []SuppLoc {
	if m.unw == nil {
		return nil
	}
	reg := m.unw.Registry()
	var locs []SuppLoc
	m.unw.Apply(trace, m.cfg.ShowBelowMain, func(i int, ip uint64) {
		if len(locs) >= MaxSuppCallers {
			return
		}
		if name, ok := reg.FnNameNoDemangle(ip); ok {
			locs = append(locs, SuppLoc{Kind: FunName, Name: name})
		} else if name, ok := reg.ObjName(ip); ok {
			locs = append(locs, SuppLoc{Kind: ObjName, Name: name})
		} else {
			locs = append(locs, SuppLoc{Kind: ObjName, Name: "*"})
		}
	})
	return locs
}

// WriteSuppression writes a suppression block to w.
func WriteSuppression(w io.Writer, tool, kind string, extra []string, callers []SuppLoc) {
	fmt.Fprintln(w, "{")
	fmt.Fprintln(w, "   <insert a suppression name here>")
	fmt.Fprintf(w, "   %s:%s\n", tool, kind)
	for _, line := range extra {
		fmt.Fprintf(w, "   %s\n", line)
	}
	for _, loc := range callers {
		fmt.Fprintf(w, "   %s\n", loc)
	}
	fmt.Fprintln(w, "}")
}
