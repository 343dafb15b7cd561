package debuginfo

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/derekparker/trie"
	"github.com/ianlancetaylor/demangle"
)

// findSym returns the symbol covering addr. Without anywhere only a
// symbol starting exactly at addr is returned. The first entry whose
// range contains addr decides the result.
func (r *Registry) findSym(addr uint64, anywhere bool) (*Entry, *Symbol) {
	e := r.FindEntry(addr)
	if e == nil {
		return nil, nil
	}
	i, ok := e.Symbols.Lookup(addr)
	if !ok {
		return nil, nil
	}
	sym := e.Symbols.At(i)
	if !anywhere && sym.Addr != addr {
		return nil, nil
	}
	return e, sym
}

func (r *Registry) findLoc(addr uint64) *Location {
	e := r.FindEntry(addr)
	if e == nil {
		return nil
	}
	i, ok := e.Locations.Lookup(addr)
	if !ok {
		return nil
	}
	return e.Locations.At(i)
}

// FindScope returns the innermost scope containing addr.
func (r *Registry) FindScope(addr uint64) *Scope {
	e := r.FindEntry(addr)
	if e == nil {
		return nil
	}
	i, ok := e.Scopes.Lookup(addr)
	if !ok {
		return nil
	}
	return e.Scopes.At(i).Scope
}

type fnNameKey struct {
	addr       uint64
	anywhere   bool
	withOffset bool
	demangle   bool
}

func (r *Registry) fnName(addr uint64, anywhere, withOffset, demangle bool) (string, bool) {
	key := fnNameKey{addr, anywhere, withOffset, demangle}
	if v, ok := r.fnNames.Get(key); ok {
		name := v.(string)
		return name, name != ""
	}
	name := ""
	if _, sym := r.findSym(addr, anywhere); sym != nil {
		name = sym.Name
		if demangle {
			name = demangleName(name)
		}
		if withOffset && addr != sym.Addr {
			name = fmt.Sprintf("%s+%d", name, addr-sym.Addr)
		}
	}
	r.fnNames.Add(key, name)
	return name, name != ""
}

// demangleName returns the C++ or Rust demangled form of name, or name
// itself if it is not mangled. A symbol version suffix is kept.
func demangleName(name string) string {
	base, version := name, ""
	if i := strings.IndexByte(name, '@'); i > 0 {
		base, version = name[:i], name[i:]
	}
	d, err := demangle.ToString(base)
	if err != nil {
		return name
	}
	return d + version
}

// LookupFnName returns the name of the function at addr. With anywhere
// set addr may be anywhere inside the function, otherwise it must be its
// entry point.
func (r *Registry) LookupFnName(addr uint64, anywhere, demangle bool) (string, bool) {
	return r.fnName(addr, anywhere, false, demangle)
}

// FnName returns the demangled name of the function containing addr.
func (r *Registry) FnName(addr uint64) (string, bool) {
	return r.fnName(addr, true, false, true)
}

// FnNameWithOffset is like FnName but appends the distance from the
// start of the function, as in "main+12", when it is not zero.
func (r *Registry) FnNameWithOffset(addr uint64) (string, bool) {
	return r.fnName(addr, true, true, true)
}

// FnNameIfEntry returns the name of the function starting at addr.
func (r *Registry) FnNameIfEntry(addr uint64) (string, bool) {
	return r.fnName(addr, false, false, true)
}

// FnNameNoDemangle is FnName without demangling. Suppressions match
// against these names.
func (r *Registry) FnNameNoDemangle(addr uint64) (string, bool) {
	return r.fnName(addr, true, false, false)
}

// SymbolAt returns the symbol containing addr together with its entry.
func (r *Registry) SymbolAt(addr uint64) (*Entry, *Symbol) {
	return r.findSym(addr, true)
}

// ObjName returns the file name of the object containing addr.
func (r *Registry) ObjName(addr uint64) (string, bool) {
	if e := r.FindEntry(addr); e != nil {
		return e.Filename, true
	}
	return "", false
}

// FileLine returns the source position of addr. Dir is empty when the
// directory is not known.
func (r *Registry) FileLine(addr uint64) (file, dir string, line int, ok bool) {
	loc := r.findLoc(addr)
	if loc == nil {
		return "", "", 0, false
	}
	return loc.File, loc.Dir, loc.Line, true
}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// DescribeIP returns a one line description of ip, or the XML frame
// element describing it.
func (r *Registry) DescribeIP(ip uint64, xml bool) string {
	fn, knowFn := r.FnName(ip)
	obj, knowObj := r.ObjName(ip)
	file, dir, lineno, knowLoc := r.FileLine(ip)

	var buf strings.Builder
	if xml {
		buf.WriteString("<frame>")
		fmt.Fprintf(&buf, "\n      <ip>0x%X</ip>", ip)
		if knowObj {
			fmt.Fprintf(&buf, "\n      <obj>%s</obj>", xmlEscaper.Replace(obj))
		}
		if knowFn {
			fmt.Fprintf(&buf, "\n      <fn>%s</fn>", xmlEscaper.Replace(fn))
		}
		if knowLoc {
			if dir != "" {
				fmt.Fprintf(&buf, "\n      <dir>%s</dir>", dir)
			}
			fmt.Fprintf(&buf, "\n      <file>%s</file>", xmlEscaper.Replace(file))
			fmt.Fprintf(&buf, "\n      <line>%d</line>", lineno)
		}
		buf.WriteString("\n    </frame>")
		return buf.String()
	}

	fmt.Fprintf(&buf, "0x%X: ", ip)
	switch {
	case knowFn:
		buf.WriteString(fn)
		if !knowLoc && knowObj {
			fmt.Fprintf(&buf, " (in %s)", obj)
		}
	case knowObj && !knowLoc:
		fmt.Fprintf(&buf, "(within %s)", obj)
	default:
		buf.WriteString("???")
	}
	if knowLoc {
		fmt.Fprintf(&buf, " (%s:%d)", file, lineno)
	}
	return buf.String()
}

// SectKind is the kind of section an address belongs to.
type SectKind uint8

const (
	SectUnknown SectKind = iota
	SectText
	SectData
	SectBSS
	SectGOT
	SectPLT
)

func (k SectKind) String() string {
	switch k {
	case SectText:
		return "Text"
	case SectData:
		return "Data"
	case SectBSS:
		return "BSS"
	case SectGOT:
		return "GOT"
	case SectPLT:
		return "PLT"
	}
	return "Unknown"
}

// SectKind returns the kind of section containing addr and the name of
// the object it belongs to.
func (r *Registry) SectKind(addr uint64) (SectKind, string) {
	for _, e := range r.entries {
		switch {
		case e.Contains(addr):
			return SectText, e.Filename
		case e.data.contains(addr):
			return SectData, e.Filename
		case e.bss.contains(addr):
			return SectBSS, e.Filename
		case e.plt.contains(addr):
			return SectPLT, e.Filename
		case e.got.contains(addr):
			return SectGOT, e.Filename
		}
	}
	return SectUnknown, ""
}

// LookupSymbol returns the first symbol called name in an object whose
// soname matches the glob pattern sonamePattern.
func (r *Registry) LookupSymbol(sonamePattern, name string) (*Entry, *Symbol) {
	for _, e := range r.entries {
		if ok, _ := path.Match(sonamePattern, e.Soname); !ok {
			continue
		}
		syms := e.Symbols.Items()
		for i := range syms {
			if syms[i].Name == name {
				return e, &syms[i]
			}
		}
	}
	return nil, nil
}

// SymbolsWithPrefix returns the sorted names of all loaded symbols that
// start with prefix.
func (r *Registry) SymbolsWithPrefix(prefix string) []string {
	if r.symTrie == nil || r.symTrieGen != r.generation {
		t := trie.New()
		for _, e := range r.entries {
			for _, sym := range e.Symbols.Items() {
				if _, ok := t.Find(sym.Name); !ok {
					t.Add(sym.Name, nil)
				}
			}
		}
		r.symTrie, r.symTrieGen = t, r.generation
	}
	names := r.symTrie.PrefixSearch(prefix)
	sort.Strings(names)
	return names
}
