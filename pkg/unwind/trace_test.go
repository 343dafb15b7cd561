package unwind

import (
	"reflect"
	"strings"
	"testing"

	"github.com/go-delve/tracecore/pkg/debuginfo"
	"github.com/go-delve/tracecore/pkg/terminal"
)

type recorder struct {
	lines []string
}

func (r *recorder) EmitLine(sev terminal.Severity, text string) {
	r.lines = append(r.lines, text)
}

func traceRegistry() *debuginfo.Registry {
	return registry(debuginfo.ArchAMD64, 0x400000, 0x10000, []debuginfo.Symbol{
		{Addr: 0x401000, Size: 0x100, Name: "f"},
		{Addr: 0x401100, Size: 0x100, Name: "main"},
		{Addr: 0x401200, Size: 0x100, Name: "__libc_start_main"},
	})
}

func TestApply(t *testing.T) {
	u := New(traceRegistry(), 0)
	trace := []uint64{0x401010, 0x401105, 0x401205}

	tests := []struct {
		trace         []uint64
		showBelowMain bool
		want          []uint64
	}{
		{trace, false, []uint64{0x401010, 0x401104}},
		{trace, true, []uint64{0x401010, 0x401104, 0x401204}},
		{[]uint64{0x401010, 0, 0x401205}, true, []uint64{0x401010}},
		{nil, false, nil},
	}
	for _, tc := range tests {
		var got []uint64
		u.Apply(tc.trace, tc.showBelowMain, func(i int, ip uint64) {
			if i != len(got) {
				t.Fatalf("frame %d visited out of order", i)
			}
			got = append(got, ip)
		})
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%#x %v: expected %#x got %#x", tc.trace, tc.showBelowMain, tc.want, got)
		}
	}
}

func TestPrint(t *testing.T) {
	u := New(traceRegistry(), 0)
	trace := []uint64{0x401010, 0x401105, 0x401205}

	var rec recorder
	u.Print(&rec, trace, false, false)
	want := []string{
		"   at 0x401010: f (in /lib/libtest.so)",
		"   by 0x401104: main (in /lib/libtest.so)",
	}
	if !reflect.DeepEqual(rec.lines, want) {
		t.Fatalf("expected %q got %q", want, rec.lines)
	}

	rec.lines = nil
	u.Print(&rec, trace, true, false)
	if len(rec.lines) != 4 || rec.lines[0] != "  <stack>" || rec.lines[3] != "  </stack>" {
		t.Fatalf("unexpected xml %q", rec.lines)
	}
	if !strings.HasPrefix(rec.lines[1], "    <frame>\n      <ip>0x401010</ip>") {
		t.Fatalf("unexpected frame %q", rec.lines[1])
	}

	rec.lines = nil
	u.Print(&rec, nil, true, false)
	if len(rec.lines) != 0 {
		t.Fatalf("empty trace printed %q", rec.lines)
	}
}

func TestStrategyFor(t *testing.T) {
	tests := []struct {
		arch debuginfo.Arch
		want Strategy
	}{
		{debuginfo.ArchAMD64, CFIFirst},
		{debuginfo.ArchARM64, CFIFirst},
		{debuginfo.Arch386, FPFirst},
		{debuginfo.ArchPPC64, FPOnly},
	}
	for _, tc := range tests {
		if got := StrategyFor(&tc.arch); got != tc.want {
			t.Errorf("%s: expected %d got %d", tc.arch.Name, tc.want, got)
		}
	}
}
