package debuginfo

import (
	"debug/dwarf"
	"sort"
)

// Scope is a lexical scope: a compilation unit, a function or a block.
// Scopes form a tree through Outer, rooted at the compilation unit.
type Scope struct {
	Outer *Scope
	Tag   dwarf.Tag
	Name  string
}

// ScopeRange attributes [Addr, Addr+Size) to the innermost scope covering
// it. The range does not own the scope.
type ScopeRange struct {
	Addr  uint64
	Size  uint64
	Scope *Scope
}

// ScopeTable holds the scope ranges of one Entry.
type ScopeTable = IntervalTable[ScopeRange]

func newScopeTable() *ScopeTable {
	return newIntervalTable(layout[ScopeRange]{
		bounds:    func(r *ScopeRange) (uint64, uint64) { return r.Addr, r.Size },
		setBounds: func(r *ScopeRange, addr, size uint64) { r.Addr, r.Size = addr, size },
	})
}

// AddScopeInfo records that [this, next) belongs to scope.
func (e *Entry) AddScopeInfo(this, next uint64, scope *Scope) {
	if next <= this {
		return
	}
	e.Scopes.Insert(ScopeRange{Addr: this, Size: next - this, Scope: scope})
}

// scopeNode is a scope read from .debug_info together with its address
// ranges and nested scopes.
type scopeNode struct {
	scope    *Scope
	ranges   [][2]uint64
	children []*scopeNode
}

// readScopes walks the compilation units of d and adds a range for every
// piece of code to its innermost enclosing scope. Nested scopes cut holes
// into their parents, so the resulting ranges never overlap.
func (e *Entry) readScopes(d *dwarf.Data) error {
	rdr := d.Reader()
	for {
		ent, err := rdr.Next()
		if err != nil {
			return err
		}
		if ent == nil {
			return nil
		}
		if ent.Tag != dwarf.TagCompileUnit {
			rdr.SkipChildren()
			continue
		}
		cu, err := e.readScopeNode(d, rdr, ent, nil)
		if err != nil {
			return err
		}
		e.addScopeNode(cu)
	}
}

func (e *Entry) readScopeNode(d *dwarf.Data, rdr *dwarf.Reader, ent *dwarf.Entry, outer *Scope) (*scopeNode, error) {
	name, _ := ent.Val(dwarf.AttrName).(string)
	n := &scopeNode{scope: &Scope{Outer: outer, Tag: ent.Tag, Name: e.strings.Add(name)}}
	if ranges, err := d.Ranges(ent); err == nil {
		n.ranges = ranges
	}
	if !ent.Children {
		return n, nil
	}
	for {
		child, err := rdr.Next()
		if err != nil {
			return nil, err
		}
		if child == nil || child.Tag == 0 {
			return n, nil
		}
		switch child.Tag {
		case dwarf.TagSubprogram, dwarf.TagLexDwarfBlock, dwarf.TagInlinedSubroutine:
			c, err := e.readScopeNode(d, rdr, child, n.scope)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, c)
		default:
			if child.Children {
				rdr.SkipChildren()
			}
		}
	}
}

func (e *Entry) addScopeNode(n *scopeNode) {
	var inner [][2]uint64
	for _, c := range n.children {
		inner = append(inner, c.ranges...)
	}
	sort.Slice(inner, func(i, j int) bool { return inner[i][0] < inner[j][0] })

	for _, rng := range n.ranges {
		cur := rng[0]
		for _, hole := range inner {
			if hole[1] <= cur || hole[0] >= rng[1] {
				continue
			}
			if hole[0] > cur {
				e.AddScopeInfo(cur+e.Offset, hole[0]+e.Offset, n.scope)
			}
			if hole[1] > cur {
				cur = hole[1]
			}
		}
		if cur < rng[1] {
			e.AddScopeInfo(cur+e.Offset, rng[1]+e.Offset, n.scope)
		}
	}
	for _, c := range n.children {
		e.addScopeNode(c)
	}
}
