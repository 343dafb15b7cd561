package errormgr

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/go-delve/liner"
)

// Prompter asks the user a question and returns the answer line.
type Prompter interface {
	Prompt(prompt string) (string, error)
}

// LinerPrompter reads answers from the terminal with line editing.
type LinerPrompter struct {
	line *liner.State
}

// NewLinerPrompter puts the terminal in raw mode, Close restores it.
func NewLinerPrompter() *LinerPrompter {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	return &LinerPrompter{line: line}
}

func (p *LinerPrompter) Prompt(prompt string) (string, error) {
	return p.line.Prompt(prompt)
}

func (p *LinerPrompter) Close() error {
	return p.line.Close()
}

// ReaderPrompter writes the prompt to w and reads the answer from r.
type ReaderPrompter struct {
	r *bufio.Reader
	w io.Writer
}

func NewReaderPrompter(r io.Reader, w io.Writer) *ReaderPrompter {
	return &ReaderPrompter{r: bufio.NewReader(r), w: w}
}

func (p *ReaderPrompter) Prompt(prompt string) (string, error) {
	fmt.Fprint(p.w, prompt)
	line, err := p.r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// actionRequested asks whether action should be done. Answering c or C
// clears *flag so the question is not asked again, as does a read error.
func (m *Manager) actionRequested(action string, flag *bool) bool {
	if !*flag {
		return false
	}
	m.umsg("")
	if m.prompter == nil {
		*flag = false
		return false
	}
	for {
		answer, err := m.prompter.Prompt(fmt.Sprintf("==%d== ---- %s ? --- [Return/N/n/Y/y/C/c] ---- ", m.cfg.Pid, action))
		if err != nil {
			m.log.Debugf("prompt: %v", err)
			*flag = false
			return false
		}
		switch answer {
		case "":
			return false
		case "n", "N":
			return false
		case "y", "Y":
			return true
		case "c", "C":
			*flag = false
			return false
		}
	}
}
