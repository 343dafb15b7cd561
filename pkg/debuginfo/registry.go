package debuginfo

import (
	"os"

	"github.com/derekparker/trie"
	lru "github.com/hashicorp/golang-lru"

	"github.com/go-delve/tracecore/pkg/logflags"
	"github.com/go-delve/tracecore/pkg/terminal"
)

const fnNameCacheSize = 4096

// Prot is a set of memory protection bits, with the same values as the
// PROT_ constants of Linux.
type Prot uint8

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

// Mapping describes a region of memory that was mapped by the traced
// process.
type Mapping struct {
	Addr     uint64
	Len      uint64
	Offset   uint64
	Prot     Prot
	Filename string
}

// Options configures a Registry.
type Options struct {
	Arch Arch
	// DataSyms collects data objects together with functions.
	DataSyms bool
	// DebugDirs are searched for separate debug files, DefaultDebugDir
	// is used when empty.
	DebugDirs []string
	Verbosity int
	// Sink receives user visible diagnostics, it may be nil.
	Sink terminal.Emitter
}

// Registry keeps track of the objects loaded by a process and of their
// debug information. Entries never overlap.
//
// A Registry is not safe for concurrent use. Notifications must not be
// delivered while a lookup is in progress.
type Registry struct {
	opts       Options
	entries    []*Entry
	generation uint64

	cfiSearches uint64
	fnNames     *lru.Cache

	symTrie    *trie.Trie
	symTrieGen uint64

	log logflags.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Arch.Name == "" {
		opts.Arch = HostArch()
	}
	cache, _ := lru.New(fnNameCacheSize)
	return &Registry{
		opts:    opts,
		fnNames: cache,
		log:     logflags.DebugInfoLogger(),
	}
}

// Options returns the options of r.
func (r *Registry) Options() *Options {
	return &r.opts
}

// Generation is incremented every time an entry is added or removed.
func (r *Registry) Generation() uint64 {
	return r.generation
}

func (r *Registry) changed() {
	r.generation++
	r.fnNames.Purge()
}

// Len returns the number of loaded entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Entries calls fn for every entry, in search order, until fn returns
// false.
func (r *Registry) Entries(fn func(*Entry) bool) {
	for _, e := range r.entries {
		if !fn(e) {
			return
		}
	}
}

// qualifies returns true if m is a text mapping of an object file.
func (r *Registry) qualifies(m Mapping) bool {
	if m.Filename == "" || m.Offset != 0 || m.Len == 0 {
		return false
	}
	if m.Prot&ProtRead == 0 || m.Prot&ProtExec == 0 {
		return false
	}
	if m.Prot&ProtWrite != 0 && !r.opts.Arch.WritableText {
		return false
	}
	fi, err := os.Stat(m.Filename)
	if err != nil || !fi.Mode().IsRegular() {
		return false
	}
	return IsELF(m.Filename, &r.opts.Arch)
}

// NotifyMmap is called when the traced process maps memory. If the
// mapping is the text of an object file, the debug information of the
// object is loaded, replacing any entry that overlaps it. The new entry
// is returned, or nil if the mapping did not qualify or could not be
// read.
func (r *Registry) NotifyMmap(m Mapping) *Entry {
	if !r.qualifies(m) {
		return nil
	}
	r.unload(m.Addr, m.Len)

	e := newEntry(&r.opts, m.Addr, m.Len, m.Filename)
	if err := e.load(); err != nil {
		r.log.Debugf("not loading %s: %v", m.Filename, err)
		return nil
	}
	r.log.Debugf("loaded %s at %#x-%#x: %d symbols, %d locations, %d scopes, %d cfi records",
		e.Filename, e.Start, e.End(), e.Symbols.Len(), e.Locations.Len(), e.Scopes.Len(), e.CFI.Len())
	r.entries = append(r.entries, e)
	r.changed()
	return e
}

// NotifyMunmap is called when the traced process unmaps memory. Every
// entry overlapping the range is discarded, the number of discarded
// entries is returned.
func (r *Registry) NotifyMunmap(addr, size uint64) int {
	return r.unload(addr, size)
}

// NotifyMprotect is called when the traced process changes the
// protection of a range. Entries are never discarded, the return value
// says whether the range is now executable.
func (r *Registry) NotifyMprotect(addr, size uint64, prot Prot) bool {
	exe := prot&ProtExec != 0
	if r.opts.Arch.WritableText {
		exe = exe || prot&ProtRead != 0
	}
	return exe
}

func (r *Registry) unload(addr, size uint64) int {
	if size == 0 {
		return 0
	}
	n := 0
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.overlaps(addr, size) {
			r.log.Debugf("discarding %s at %#x-%#x", e.Filename, e.Start, e.End())
			n++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(r.entries); i++ {
		r.entries[i] = nil
	}
	r.entries = kept
	if n > 0 {
		r.changed()
	}
	return n
}

// FindEntry returns the entry whose range contains addr.
func (r *Registry) FindEntry(addr uint64) *Entry {
	for _, e := range r.entries {
		if e.Contains(addr) {
			return e
		}
	}
	return nil
}

// FindCFI returns the CFI record covering ip. Entries whose CFI does not
// cover ip are skipped without searching their table. Every 16th
// successful search moves the matching entry one place toward the front.
func (r *Registry) FindCFI(ip uint64) (*CfiRecord, bool) {
	for i, e := range r.entries {
		minAddr, maxAddr, ok := e.CFI.Bounds()
		if !ok || ip < minAddr || ip > maxAddr {
			continue
		}
		j, found := e.CFI.Lookup(ip)
		if !found {
			continue
		}
		rec := e.CFI.At(j)
		r.cfiSearches++
		if r.cfiSearches&0xF == 0 && i > 0 {
			r.entries[i-1], r.entries[i] = r.entries[i], r.entries[i-1]
		}
		return rec, true
	}
	return nil, false
}

// NewEntry returns an empty entry for [start, start+size). It can be
// filled with AddSymbol, AddLineInfo, AddScopeInfo and AddCfiRecord and
// then registered with Add.
func (r *Registry) NewEntry(start, size uint64, filename string) *Entry {
	e := newEntry(&r.opts, start, size, filename)
	e.Soname = "NONE"
	return e
}

// Add canonicalizes the tables of e and registers it, discarding the
// entries it overlaps.
func (r *Registry) Add(e *Entry) {
	r.unload(e.Start, e.Size)
	e.canonicalize()
	r.entries = append(r.entries, e)
	r.changed()
}
