package terminal

import (
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-isatty"
)

// Pager writes to w. Once Start has been called and more than a screenful
// of text has been written, the output is piped to a pager instead.
type Pager struct {
	mode     pagerMode
	w        io.Writer
	buf      []byte
	cmd      *exec.Cmd
	cmdStdin io.WriteCloser
	pager    string
	lastnl   bool

	lines, columns int
}

type pagerMode uint8

const (
	pagerNormal pagerMode = iota
	pagerMaybe
	pagerPaging
)

// NewPager returns a Pager writing to w.
func NewPager(w io.Writer) *Pager {
	return &Pager{w: w}
}

func (p *Pager) Write(b []byte) (int, error) {
	switch p.mode {
	case pagerMaybe:
		p.buf = append(p.buf, b...)
		if !p.largeOutput() {
			if len(b) > 0 {
				p.lastnl = b[len(b)-1] == '\n'
			}
			return p.w.Write(b)
		}
		if !p.startPager() {
			p.mode = pagerNormal
			return p.w.Write(b)
		}
		if !p.lastnl {
			p.w.Write([]byte("\n"))
		}
		p.w.Write([]byte("Sending output to pager...\n"))
		p.cmdStdin.Write(p.buf)
		p.buf = nil
		p.mode = pagerPaging
		return len(b), nil
	case pagerPaging:
		return p.cmdStdin.Write(b)
	}
	return p.w.Write(b)
}

func (p *Pager) startPager() bool {
	p.cmd = exec.Command(p.pager)
	p.cmd.Stdout = os.Stdout
	p.cmd.Stderr = os.Stderr
	var err error
	p.cmdStdin, err = p.cmd.StdinPipe()
	if err == nil {
		err = p.cmd.Start()
	}
	if err != nil {
		p.cmd = nil
		return false
	}
	return true
}

// Start enables paging, if the output is a terminal. TRACECORE_PAGER
// overrides PAGER, which defaults to more.
func (p *Pager) Start() {
	if p.mode != pagerNormal {
		return
	}
	pager := os.Getenv("TRACECORE_PAGER")
	if pager == "" {
		if f, ok := p.w.(*os.File); ok && !isatty.IsTerminal(f.Fd()) {
			return
		}
		if strings.ToLower(os.Getenv("TERM")) == "dumb" {
			return
		}
		pager = os.Getenv("PAGER")
		if pager == "" {
			pager = "more"
		}
	}
	p.pager = pager
	p.mode = pagerMaybe
	p.lastnl = true
	if !p.getWindowSize() {
		p.mode = pagerNormal
	}
}

// Stop waits for the pager to exit and returns to writing directly.
func (p *Pager) Stop() {
	if p.mode == pagerNormal {
		return
	}
	p.mode = pagerNormal
	p.buf = nil
	if p.cmd != nil {
		p.cmdStdin.Close()
		p.cmd.Wait()
		p.cmd = nil
		p.cmdStdin = nil
	}
}

func (p *Pager) largeOutput() bool {
	lines := 0
	lineStart := 0
	for i := range p.buf {
		if i-lineStart > p.columns || p.buf[i] == '\n' {
			lineStart = i
			lines++
			if lines > p.lines {
				return true
			}
		}
	}
	return false
}
