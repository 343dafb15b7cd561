package debuginfo

import (
	"bufio"
	"debug/elf"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// LoadFile registers the object at path as if its text had been mapped
// at its link address plus base.
func (r *Registry) LoadFile(path string, base uint64) (*Entry, error) {
	img, err := OpenImage(path, &r.opts.Arch)
	if err != nil {
		return nil, err
	}
	var start, end uint64
	haveLoad := false
	for _, ph := range img.Progs() {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		if !haveLoad {
			start = r.opts.Arch.pageRoundDown(ph.Vaddr)
			haveLoad = true
		}
		if ph.Flags&elf.PF_X != 0 {
			end = r.opts.Arch.PageRoundUp(ph.Vaddr + ph.Memsz)
		}
	}
	img.Close()
	if end <= start {
		return nil, fmt.Errorf("%s: no executable segment", path)
	}
	e := r.NotifyMmap(Mapping{Addr: base + start, Len: end - start, Prot: ProtRead | ProtExec, Filename: path})
	if e == nil {
		return nil, fmt.Errorf("%s: could not read debug information", path)
	}
	return e, nil
}

// ParseMaps reads mappings in the format of /proc/<pid>/maps.
// Anonymous mappings are returned with an empty Filename.
func ParseMaps(rd io.Reader) ([]Mapping, error) {
	var maps []Mapping
	s := bufio.NewScanner(rd)
	lineno := 0
	for s.Scan() {
		lineno++
		fields := strings.Fields(s.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 5 {
			return nil, fmt.Errorf("maps line %d: too few fields", lineno)
		}
		lo, hi, ok := strings.Cut(fields[0], "-")
		if !ok {
			return nil, fmt.Errorf("maps line %d: bad address range %q", lineno, fields[0])
		}
		start, err1 := strconv.ParseUint(lo, 16, 64)
		end, err2 := strconv.ParseUint(hi, 16, 64)
		off, err3 := strconv.ParseUint(fields[2], 16, 64)
		if err1 != nil || err2 != nil || err3 != nil || end < start {
			return nil, fmt.Errorf("maps line %d: malformed mapping", lineno)
		}
		m := Mapping{Addr: start, Len: end - start, Offset: off}
		perms := fields[1]
		if strings.IndexByte(perms, 'r') >= 0 {
			m.Prot |= ProtRead
		}
		if strings.IndexByte(perms, 'w') >= 0 {
			m.Prot |= ProtWrite
		}
		if strings.IndexByte(perms, 'x') >= 0 {
			m.Prot |= ProtExec
		}
		if len(fields) > 5 && strings.HasPrefix(fields[5], "/") {
			m.Filename = strings.Join(fields[5:], " ")
		}
		maps = append(maps, m)
	}
	return maps, s.Err()
}
