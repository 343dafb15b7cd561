package terminal

import "golang.org/x/sys/windows"

func (p *Pager) getWindowSize() bool {
	h, err := windows.GetStdHandle(windows.STD_OUTPUT_HANDLE)
	if err != nil {
		return false
	}
	var info windows.ConsoleScreenBufferInfo
	if err := windows.GetConsoleScreenBufferInfo(h, &info); err != nil {
		return false
	}
	p.columns = int(info.Window.Right - info.Window.Left + 1)
	p.lines = int(info.Window.Bottom - info.Window.Top + 1)
	return true
}
