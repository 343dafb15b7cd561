package starbind

import (
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"

	"github.com/go-delve/tracecore/pkg/debuginfo"
	"github.com/go-delve/tracecore/pkg/errormgr"
	"github.com/go-delve/tracecore/pkg/unwind"
)

// Object describes a loaded object.
type Object struct {
	Filename  string
	Soname    string
	Start     uint64
	Size      uint64
	Offset    uint64
	Symbols   int
	Locations int
	Scopes    int
	CFI       int
}

func objectOf(e *debuginfo.Entry) *Object {
	if e == nil {
		return nil
	}
	return &Object{
		Filename:  e.Filename,
		Soname:    e.Soname,
		Start:     e.Start,
		Size:      e.Size,
		Offset:    e.Offset,
		Symbols:   e.Symbols.Len(),
		Locations: e.Locations.Len(),
		Scopes:    e.Scopes.Len(),
		CFI:       e.CFI.Len(),
	}
}

// Position is the source position of an address.
type Position struct {
	File string
	Dir  string
	Line int
}

// ErrorRecord is a recorded error as seen by scripts.
type ErrorRecord struct {
	Unique      uint32
	Tid         int
	Kind        string
	Addr        uint64
	Message     string
	Trace       []uint64
	Count       int
	Suppression string
}

// wordStack is a stack given by a script as a list of words starting at
// Base.
type wordStack struct {
	base  uint64
	words []uint64
	arch  *debuginfo.Arch
}

func (s *wordStack) ReadMemory(buf []byte, addr uint64) (int, error) {
	w := uint64(s.arch.PtrSize())
	if addr < s.base || (addr-s.base)%w != 0 || len(buf) != int(w) {
		return 0, errors.New("unaligned read")
	}
	i := (addr - s.base) / w
	if i >= uint64(len(s.words)) {
		return 0, errors.New("read outside of the stack")
	}
	if w == 4 {
		s.arch.ByteOrder().PutUint32(buf, uint32(s.words[i]))
	} else {
		s.arch.ByteOrder().PutUint64(buf, s.words[i])
	}
	return len(buf), nil
}

func (env *Env) errorKind(name string) (errormgr.ErrorKind, error) {
	k, ok := env.ctx.Tool().Kind(name)
	if !ok {
		return 0, fmt.Errorf("unknown error kind %q, must be one of %s", name, strings.Join(env.ctx.Tool().Kinds(), ", "))
	}
	return k, nil
}

func (env *Env) starlarkPredeclare() (starlark.StringDict, map[string]string) {
	env.env = starlark.StringDict{}
	env.doc = make(map[string]string)

	env.builtin("load_object", "(Path, Base)", `loads the object at Path as if its text was mapped at its link address plus Base.

Returns the loaded object.`, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		var base uint64
		if err := unpackArgs(args, kwargs, []string{"Path", "Base"}, &path, &base); err != nil {
			return nil, err
		}
		e, err := env.ctx.Registry().LoadFile(path, base)
		if err != nil {
			return nil, err
		}
		return env.interfaceToStarlarkValue(objectOf(e)), nil
	})

	env.builtin("mmap", "(Addr, Len, Filename, Offset, Prot)", `notifies the registry that the traced process mapped Filename at Addr.

Prot is a combination of 1 (read), 2 (write) and 4 (execute), read and execute when not given.
Returns the loaded object or None if the mapping is not the text of an object.`, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		m := debuginfo.Mapping{Prot: debuginfo.ProtRead | debuginfo.ProtExec}
		prot := -1
		if err := unpackArgs(args, kwargs, []string{"Addr", "Len", "Filename", "Offset", "Prot"}, &m.Addr, &m.Len, &m.Filename, &m.Offset, &prot); err != nil {
			return nil, err
		}
		if prot >= 0 {
			m.Prot = debuginfo.Prot(prot)
		}
		return env.interfaceToStarlarkValue(objectOf(env.ctx.Registry().NotifyMmap(m))), nil
	})

	env.builtin("munmap", "(Addr, Len)", "discards the objects overlapping [Addr, Addr+Len) and returns how many were discarded.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addr, size uint64
		if err := unpackArgs(args, kwargs, []string{"Addr", "Len"}, &addr, &size); err != nil {
			return nil, err
		}
		return starlark.MakeInt(env.ctx.Registry().NotifyMunmap(addr, size)), nil
	})

	env.builtin("objects", "()", "returns the list of loaded objects.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var objs []*Object
		env.ctx.Registry().Entries(func(e *debuginfo.Entry) bool {
			objs = append(objs, objectOf(e))
			return true
		})
		return env.interfaceToStarlarkValue(objs), nil
	})

	env.builtin("symbols", "(Addr)", "returns the symbols of the object containing Addr.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addr uint64
		if err := unpackArgs(args, kwargs, []string{"Addr"}, &addr); err != nil {
			return nil, err
		}
		e := env.ctx.Registry().FindEntry(addr)
		if e == nil {
			return nil, fmt.Errorf("no object at %#x", addr)
		}
		return env.interfaceToStarlarkValue(e.Symbols.Items()), nil
	})

	env.builtin("fn_name", "(Addr, Offset)", `returns the name of the function containing Addr, or None.

If Offset is true the distance from the start of the function is appended, as in "main+12".`, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addr uint64
		var withOffset bool
		if err := unpackArgs(args, kwargs, []string{"Addr", "Offset"}, &addr, &withOffset); err != nil {
			return nil, err
		}
		lookup := env.ctx.Registry().FnName
		if withOffset {
			lookup = env.ctx.Registry().FnNameWithOffset
		}
		if name, ok := lookup(addr); ok {
			return starlark.String(name), nil
		}
		return starlark.None, nil
	})

	env.builtin("obj_name", "(Addr)", "returns the file name of the object containing Addr, or None.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addr uint64
		if err := unpackArgs(args, kwargs, []string{"Addr"}, &addr); err != nil {
			return nil, err
		}
		if name, ok := env.ctx.Registry().ObjName(addr); ok {
			return starlark.String(name), nil
		}
		return starlark.None, nil
	})

	env.builtin("file_line", "(Addr)", "returns the source position of Addr, or None.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addr uint64
		if err := unpackArgs(args, kwargs, []string{"Addr"}, &addr); err != nil {
			return nil, err
		}
		file, dir, line, ok := env.ctx.Registry().FileLine(addr)
		if !ok {
			return starlark.None, nil
		}
		return env.interfaceToStarlarkValue(&Position{File: file, Dir: dir, Line: line}), nil
	})

	env.builtin("describe", "(Addr, XML)", "returns a one line description of Addr, or its XML frame element.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addr uint64
		var xml bool
		if err := unpackArgs(args, kwargs, []string{"Addr", "XML"}, &addr, &xml); err != nil {
			return nil, err
		}
		return starlark.String(env.ctx.Registry().DescribeIP(addr, xml)), nil
	})

	env.builtin("sect_kind", "(Addr)", "returns the kind of section containing Addr and the name of its object.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addr uint64
		if err := unpackArgs(args, kwargs, []string{"Addr"}, &addr); err != nil {
			return nil, err
		}
		kind, obj := env.ctx.Registry().SectKind(addr)
		return starlark.Tuple{starlark.String(kind.String()), starlark.String(obj)}, nil
	})

	env.builtin("complete", "(Prefix)", "returns the sorted names of the loaded symbols starting with Prefix.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var prefix string
		if err := unpackArgs(args, kwargs, []string{"Prefix"}, &prefix); err != nil {
			return nil, err
		}
		return env.interfaceToStarlarkValue(env.ctx.Registry().SymbolsWithPrefix(prefix)), nil
	})

	env.builtin("lookup_symbol", "(Soname, Name)", "returns the first symbol called Name in an object whose soname matches the glob Soname, or None.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var soname, name string
		if err := unpackArgs(args, kwargs, []string{"Soname", "Name"}, &soname, &name); err != nil {
			return nil, err
		}
		_, sym := env.ctx.Registry().LookupSymbol(soname, name)
		return env.interfaceToStarlarkValue(sym), nil
	})

	env.builtin("stack_trace", "(PC, SP, FP, LR, Words, Max)", `unwinds a stack given as a list of words starting at SP.

Returns the list of return addresses, innermost first.`, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var regs unwind.Registers
		var words []uint64
		depth := env.ctx.ErrorManager().Config().NumCallers
		if err := unpackArgs(args, kwargs, []string{"PC", "SP", "FP", "LR", "Words", "Max"}, &regs.PC, &regs.SP, &regs.FP, &regs.LR, &words, &depth); err != nil {
			return nil, err
		}
		u := env.ctx.Unwinder()
		mem := &wordStack{base: regs.SP, words: words, arch: &u.Registry().Options().Arch}
		top := regs.SP
		if len(words) > 0 {
			top = regs.SP + uint64(len(words)-1)*uint64(mem.arch.PtrSize())
		}
		return env.interfaceToStarlarkValue(u.Stack(regs, regs.SP, top, mem, depth)), nil
	})

	env.builtin("print_trace", "(Trace)", "prints a stack trace the way errors print it.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var trace []uint64
		if err := unpackArgs(args, kwargs, []string{"Trace"}, &trace); err != nil {
			return nil, err
		}
		env.ctx.ErrorManager().PrintTrace(trace)
		return starlark.None, nil
	})

	env.builtin("load_suppressions", "(Path)", "reads a suppressions file.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		if err := unpackArgs(args, kwargs, []string{"Path"}, &path); err != nil {
			return nil, err
		}
		return starlark.None, env.ctx.ErrorManager().LoadSuppressions([]string{path})
	})

	env.builtin("report_error", "(Kind, Message, Trace, Addr, Tid)", `reports an error of kind Kind with the given stack trace.

Returns True if the error is suppressed.`, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			kindName, msg string
			trace         []uint64
			addr          uint64
			tid           = 1
		)
		if err := unpackArgs(args, kwargs, []string{"Kind", "Message", "Trace", "Addr", "Tid"}, &kindName, &msg, &trace, &addr, &tid); err != nil {
			return nil, err
		}
		kind, err := env.errorKind(kindName)
		if err != nil {
			return nil, err
		}
		return starlark.Bool(env.ctx.ErrorManager().ReportErrorWithTrace(tid, kind, addr, msg, nil, trace)), nil
	})

	env.builtin("unique_error", "(Kind, Message, Trace, Addr, Tid)", `reports an error that is not recorded, printing it unless it is suppressed.

Returns True if the error is suppressed.`, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			kindName, msg string
			trace         []uint64
			addr          uint64
			tid           = 1
		)
		if err := unpackArgs(args, kwargs, []string{"Kind", "Message", "Trace", "Addr", "Tid"}, &kindName, &msg, &trace, &addr, &tid); err != nil {
			return nil, err
		}
		kind, err := env.errorKind(kindName)
		if err != nil {
			return nil, err
		}
		return starlark.Bool(env.ctx.ErrorManager().UniqueError(tid, kind, addr, msg, nil, trace, true, false, true)), nil
	})

	env.builtin("errors", "()", "returns the recorded errors, most recently seen first.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		tool := env.ctx.Tool()
		var r []ErrorRecord
		for _, e := range env.ctx.ErrorManager().Errors() {
			rec := ErrorRecord{
				Unique:  e.Unique,
				Tid:     e.Tid,
				Kind:    tool.ErrorName(e),
				Addr:    e.Addr,
				Message: e.String,
				Trace:   e.Trace,
				Count:   e.Count,
			}
			if e.Supp != nil {
				rec.Suppression = e.Supp.Name
			}
			r = append(r, rec)
		}
		return env.interfaceToStarlarkValue(r), nil
	})

	env.builtin("error_counts", "()", "returns a dict with the number of errors found, suppressed and shown.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		found, suppressed, shown := env.ctx.ErrorManager().Counts()
		return env.interfaceToStarlarkValue(map[string]int{"found": found, "suppressed": suppressed, "shown": shown}), nil
	})

	env.builtin("show_all_errors", "()", "prints the error summary.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		m := env.ctx.ErrorManager()
		m.ShowAllErrors()
		if m.XML() {
			m.ShowErrorCountsAsXML()
		}
		return starlark.None, nil
	})

	env.builtin("string_match", "(Pattern, S)", "reports whether S matches the glob Pattern, where * matches any run of characters and ? any single character.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var pattern, s string
		if err := unpackArgs(args, kwargs, []string{"Pattern", "S"}, &pattern, &s); err != nil {
			return nil, err
		}
		return starlark.Bool(errormgr.StringMatch(pattern, s)), nil
	})

	return env.env, env.doc
}
