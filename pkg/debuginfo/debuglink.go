package debuginfo

import (
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/go-delve/tracecore/pkg/dwarf/util"
	"github.com/go-delve/tracecore/pkg/terminal"
)

// DefaultDebugDir is searched for separate debug files when no debug
// directories are configured.
const DefaultDebugDir = "/usr/lib/debug"

// DebugLinkCRC computes the checksum stored in .gnu_debuglink sections.
func DebugLinkCRC(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// parseDebugLink splits the contents of a .gnu_debuglink section into the
// file name and its CRC, which follows the name at the next 4 byte
// boundary.
func parseDebugLink(data []byte, img *Image) (name string, crc uint32, ok bool) {
	name, ok = util.CString(data, 0)
	if !ok || name == "" {
		return "", 0, false
	}
	off := (len(name) + 1 + 3) &^ 3
	if off+4 > len(data) {
		return "", 0, false
	}
	return name, img.Order.Uint32(data[off:]), true
}

// debugLinkCandidates returns the paths where the debug file name of the
// object at objpath is looked for, in order.
func debugLinkCandidates(objpath, name string, debugDirs []string) []string {
	objdir := filepath.Dir(objpath)
	r := []string{
		filepath.Join(objdir, name),
		filepath.Join(objdir, ".debug", name),
	}
	if len(debugDirs) == 0 {
		debugDirs = []string{DefaultDebugDir}
	}
	for _, dir := range debugDirs {
		r = append(r, filepath.Join(dir, objdir, name))
	}
	return r
}

// openDebugFile maps path and returns it if its checksum is crc.
func (e *Entry) openDebugFile(path string, crc uint32) *Image {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if e.opts.Verbosity > 1 {
		e.message(terminal.UserMsg, "Reading debug info from %s...", path)
	}
	img, err := OpenImage(path, &e.opts.Arch)
	if err != nil {
		e.log.Debugf("debug file %s: %v", path, err)
		return nil
	}
	if calccrc := DebugLinkCRC(img.data); calccrc != crc {
		if e.opts.Verbosity > 1 {
			e.message(terminal.UserMsg, "... CRC mismatch (computed %08x wanted %08x)", calccrc, crc)
		}
		img.Close()
		return nil
	}
	return img
}

// findDebugFile returns the first candidate debug file whose checksum
// matches crc, or nil.
func (e *Entry) findDebugFile(name string, crc uint32) *Image {
	for _, path := range debugLinkCandidates(e.Filename, name, e.opts.DebugDirs) {
		if img := e.openDebugFile(path, crc); img != nil {
			return img
		}
	}
	return nil
}
