package errormgr

import "sort"

// GenericTool is a Tool whose errors are distinguished by kind and
// message only. Kinds are named after the suppression kinds that match
// them.
type GenericTool struct {
	name   string
	kinds  []string
	byName map[string]ErrorKind
}

// NewGenericTool returns a tool called name. The i-th element of kinds is
// the name of ErrorKind(i).
func NewGenericTool(name string, kinds ...string) *GenericTool {
	t := &GenericTool{name: name, kinds: kinds, byName: make(map[string]ErrorKind, len(kinds))}
	for i, kind := range kinds {
		t.byName[kind] = ErrorKind(i)
	}
	return t
}

func (t *GenericTool) Name() string { return t.name }

// Kinds returns the kind names, sorted.
func (t *GenericTool) Kinds() []string {
	r := append([]string(nil), t.kinds...)
	sort.Strings(r)
	return r
}

// Kind returns the kind called name.
func (t *GenericTool) Kind(name string) (ErrorKind, bool) {
	k, ok := t.byName[name]
	return k, ok
}

func (t *GenericTool) kindName(k ErrorKind) string {
	if k < 0 || int(k) >= len(t.kinds) {
		return ""
	}
	return t.kinds[k]
}

func (t *GenericTool) EqError(res Resolution, e1, e2 *Error) bool {
	return e1.String == e2.String
}

func (t *GenericTool) PrintError(m *Manager, err *Error) {
	if m.XML() {
		m.umsg("  <kind>%s</kind>", t.kindName(err.Kind))
		m.umsg("  <what>%s</what>", xmlEscaper.Replace(err.String))
	} else {
		m.umsg("%s", err.String)
	}
	m.PrintTrace(err.Trace)
	if err.Addr != 0 {
		if m.XML() {
			m.umsg("  <auxwhat>Address 0x%x</auxwhat>", err.Addr)
		} else {
			m.umsg(" Address 0x%x", err.Addr)
		}
	}
}

func (t *GenericTool) ErrorName(err *Error) string {
	return t.kindName(err.Kind)
}

func (t *GenericTool) ExtraSuppressionInfo(err *Error) []string {
	return nil
}

func (t *GenericTool) RecognisedSuppression(name string, supp *Suppression) bool {
	k, ok := t.byName[name]
	if ok {
		supp.Kind = k
	}
	return ok
}

func (t *GenericTool) ReadExtraSuppressionInfo(lines *LineReader, supp *Suppression) bool {
	return true
}

func (t *GenericTool) ErrorMatchesSuppression(err *Error, supp *Suppression) bool {
	return err.Kind == supp.Kind
}
