// Package params computes, for every entry in a protocol tree, which
// outer values it needs before it can be decoded (or, for the encoder,
// before it can be encoded) and which of its own names are looked up
// by some other entry's expression. The decoder and encoder both
// consult this table rather than re-deriving reference scope rules
// inline during the walk.
package params

import "github.com/asdf1011/bdec/ir"

// Direction records whether a name flows into an entry from its
// enclosing scope (In) or is produced by the entry for others to read
// (Out). The encoder reads the same table; no separate encoder table
// with flipped directions is built. Seen from the encoder, an Out name
// is a value it must have in hand (from the caller-supplied value
// tree, solved, or mocked) before an expression that depends on it can
// be computed.
type Direction int

const (
	In Direction = iota
	Out
)

// Table is the immutable result of Analyze.
type Table struct {
	inputs    map[ir.Entry][]string
	publishes map[string]bool
}

// Inputs returns the names e's own Length/Count/Value/constraint
// expressions reference. The decoder must be able to resolve each of
// these from the active scope chain before decoding e; the encoder
// must have them available (from caller-supplied or mocked values)
// before it can compute e's derived fields.
func (t *Table) Inputs(e ir.Entry) []string {
	return t.inputs[e]
}

// Publishes reports whether some entry elsewhere in the tree
// references name in one of its expressions, meaning the entry named
// name must have its decoded value recorded into the scope chain (or,
// symmetrically, must be present/mocked during encode) for that
// reference to resolve.
func (t *Table) Publishes(name string) bool {
	return t.publishes[name]
}

// Direction reports how name flows relative to entry owner: In if
// owner's own expressions consume name, Out otherwise. Out is returned
// for any name owner does not consume, whether or not owner is the
// entry that name refers to.
func (t *Table) Direction(owner ir.Entry, name string) Direction {
	for _, n := range t.inputs[owner] {
		if n == name {
			return In
		}
	}
	return Out
}

// Analyze walks root once and builds its Table.
func Analyze(root ir.Entry) *Table {
	t := &Table{inputs: map[ir.Entry][]string{}, publishes: map[string]bool{}}
	analyze(root, t)
	return t
}

func analyze(e ir.Entry, t *Table) {
	switch v := e.(type) {
	case *ir.FieldEntry:
		collect(v, v.Length, t)
	case *ir.SequenceEntry:
		// The Length is evaluated before any child decodes, so its
		// references must come from the enclosing scope. The derived
		// Value and the sequence's own constraints evaluate after the
		// children, with the children in scope: a reference to an own
		// child is internal, not an input the caller must supply.
		collect(v, v.Length, t)
		children := make(map[string]bool, len(v.Children))
		for _, ch := range v.Children {
			children[ch.Name] = true
		}
		collectExcept(v, v.Value, children, t)
		for _, c := range v.Constraints {
			collectExcept(v, c.Limit, children, t)
		}
		for _, ch := range v.Children {
			analyze(ch.Entry, t)
		}
		return
	case *ir.ChoiceEntry:
		for _, alt := range v.Alternatives {
			analyze(alt.Entry, t)
		}
	case *ir.SequenceOfEntry:
		collect(v, v.Count, t)
		collect(v, v.Length, t)
		if v.EndMarkerPath != "" {
			t.publishes[lastSegment(v.EndMarkerPath)] = true
		}
		analyze(v.Item, t)
	}
	for _, c := range e.EntryConstraints() {
		collect(e, c.Limit, t)
	}
}

func collect(owner ir.Entry, expr ir.Expr, t *Table) {
	collectExcept(owner, expr, nil, t)
}

// collectExcept records expr's references against owner, skipping the
// inputs entry (but still marking publication) for any reference whose
// first segment is in internal.
func collectExcept(owner ir.Entry, expr ir.Expr, internal map[string]bool, t *Table) {
	if expr == nil {
		return
	}
	for _, ref := range ir.Refs(expr) {
		name := ref.Segments()[0]
		t.publishes[name] = true
		if internal[name] {
			continue
		}
		t.inputs[owner] = append(t.inputs[owner], name)
	}
}

func lastSegment(path string) string {
	segs := (ir.Ref{Path: path}).Segments()
	if len(segs) == 0 {
		return path
	}
	return segs[len(segs)-1]
}
