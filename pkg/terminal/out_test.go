package terminal

import (
	"bytes"
	"strings"
	"testing"
)

type closeBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closeBuffer) Close() error {
	b.closed = true
	return nil
}

func TestSinkPrefix(t *testing.T) {
	tests := []struct {
		sev  Severity
		xml  bool
		want string
	}{
		{UserMsg, false, "==42== hello\n"},
		{DebugMsg, false, "--42-- hello\n"},
		{ClientMsg, false, "**42** hello\n"},
		{UserMsg, true, "hello\n"},
		{DebugMsg, true, "--42-- hello\n"},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		s := NewWriterSink(&buf, 42)
		s.SetXML(tc.xml)
		s.EmitLine(tc.sev, "hello")
		if buf.String() != tc.want {
			t.Errorf("sev=%d xml=%v: expected %q got %q", tc.sev, tc.xml, tc.want, buf.String())
		}
	}
}

func TestSinkPrintf(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf, 3)
	s.Printf(UserMsg, "%d errors in %s", 2, "main")
	if buf.String() != "==3== 2 errors in main\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
	if s.XML() {
		t.Fatal("new sink is in XML mode")
	}
}

func TestSinkTranscript(t *testing.T) {
	var buf bytes.Buffer
	var tr closeBuffer
	s := NewWriterSink(&buf, 1)
	s.EmitLine(UserMsg, "before")
	s.TranscribeTo(&tr)
	s.EmitLine(UserMsg, "during")
	s.Write([]byte("raw\n"))
	if err := s.CloseTranscript(); err != nil {
		t.Fatal(err)
	}
	s.EmitLine(UserMsg, "after")

	if !tr.closed {
		t.Fatal("transcript not closed")
	}
	if tr.String() != "==1== during\nraw\n" {
		t.Fatalf("unexpected transcript %q", tr.String())
	}
	if buf.String() != "==1== before\n==1== during\nraw\n==1== after\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
	if err := s.CloseTranscript(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestDiscard(t *testing.T) {
	Discard.EmitLine(UserMsg, "nothing")
}

func TestPagerPassthrough(t *testing.T) {
	var buf bytes.Buffer
	p := NewPager(&buf)
	p.Write([]byte("one\n"))
	p.Stop()
	p.Write([]byte("two\n"))
	if buf.String() != "one\ntwo\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestPagerLargeOutput(t *testing.T) {
	p := &Pager{lines: 3, columns: 10}
	p.buf = []byte("a\nb\nc\n")
	if p.largeOutput() {
		t.Fatal("three lines reported as large")
	}
	p.buf = []byte("a\nb\nc\nd\n")
	if !p.largeOutput() {
		t.Fatal("four lines not reported as large")
	}
	p.buf = []byte(strings.Repeat("x", 45))
	if !p.largeOutput() {
		t.Fatal("wrapped line not reported as large")
	}
}
