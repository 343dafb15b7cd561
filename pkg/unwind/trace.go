package unwind

import (
	"fmt"

	"github.com/go-delve/tracecore/pkg/terminal"
)

// belowMain are the functions after which traces are cut unless frames
// below main are requested.
var belowMain = map[string]bool{
	"main":               true,
	"__libc_start_main":  true,
	"generic_start_main": true,
}

// Apply calls fn for every frame of trace. Every address but the first
// is a return address and is moved back into the call instruction
// before fn sees it. Apply stops at the first zero address and, unless
// showBelowMain is set, after main.
func (u *Unwinder) Apply(trace []uint64, showBelowMain bool, fn func(i int, ip uint64)) {
	for i := 0; i < len(trace); i++ {
		ip := trace[i]
		if i > 0 {
			if ip == 0 {
				return
			}
			ip -= u.arch.MinInsnSize
		}
		mainDone := false
		if !showBelowMain {
			name, _ := u.reg.FnNameNoDemangle(ip)
			mainDone = belowMain[name]
		}
		fn(i, ip)
		if mainDone {
			return
		}
	}
}

// Print writes trace to out, one frame per line.
func (u *Unwinder) Print(out terminal.Emitter, trace []uint64, xml, showBelowMain bool) {
	if len(trace) == 0 {
		return
	}
	if xml {
		out.EmitLine(terminal.UserMsg, "  <stack>")
	}
	u.Apply(trace, showBelowMain, func(i int, ip uint64) {
		desc := u.reg.DescribeIP(ip, xml)
		switch {
		case xml:
			out.EmitLine(terminal.UserMsg, "    "+desc)
		case i == 0:
			out.EmitLine(terminal.UserMsg, fmt.Sprintf("   at %s", desc))
		default:
			out.EmitLine(terminal.UserMsg, fmt.Sprintf("   by %s", desc))
		}
	})
	if xml {
		out.EmitLine(terminal.UserMsg, "  </stack>")
	}
}
