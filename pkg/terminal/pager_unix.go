//go:build !windows

package terminal

import "golang.org/x/sys/unix"

func (p *Pager) getWindowSize() bool {
	ws, err := unix.IoctlGetWinsize(unix.Stdout, unix.TIOCGWINSZ)
	if err != nil {
		return false
	}
	p.lines = int(ws.Row)
	p.columns = int(ws.Col)
	return true
}
