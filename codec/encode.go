package codec

import (
	"github.com/asdf1011/bdec/bitstream"
	"github.com/asdf1011/bdec/exprengine"
	"github.com/asdf1011/bdec/ir"
	"github.com/asdf1011/bdec/params"
)

// Encode writes entry's wire representation to w from the value tree
// described in values.go. Hidden entries whose value is absent from
// the supplied tree are synthesized by mockValue: pinned from a
// constant equality constraint, or zero-filled as a last resort.
//
// A length-bearing field whose own value is absent but whose sibling's
// Length/Count expression depends on it (the "len: u8; s: Text(len*8)"
// shape) is resolved by encoding that later
// sibling into a scratch buffer first, measuring its actual emitted
// bit count, and solving the expression for the absent field — see
// solveForwardReference. This only resolves a single forward hop (one
// absent field, one dependent sibling); a chain of several unresolved
// forward references, or a length expression spanning more than one
// unknown, is Unsolvable.
func Encode(entry ir.Entry, value interface{}, w *bitstream.Writer) error {
	tbl := params.Analyze(entry)
	return encodeEntryChecked(entry, value, w, newScope(nil), tbl)
}

func encodeEntry(e ir.Entry, value interface{}, w *bitstream.Writer, scope *Scope, tbl *params.Table) error {
	switch v := e.(type) {
	case *ir.FieldEntry:
		return encodeField(v, value, w, scope)
	case *ir.SequenceEntry:
		return encodeSequence(v, value, w, scope, tbl)
	case *ir.ChoiceEntry:
		return encodeChoice(v, value, w, scope, tbl)
	case *ir.SequenceOfEntry:
		return encodeSequenceOf(v, value, w, scope, tbl)
	default:
		return &CodecError{Kind: InvalidFormat, Entry: e.EntryName()}
	}
}

// encodeEntryChecked is encodeEntry preceded by the same tbl.Inputs
// check decodeEntry runs: every name e's own expressions need must
// already be bound in scope before e is committed to w. Call sites
// that are genuinely committing an entry's final encoding use this;
// solveForwardReference's scratch encode of a later sibling does not,
// since that sibling's Length expression deliberately references the
// very name solveForwardReference is still trying to resolve.
func encodeEntryChecked(e ir.Entry, value interface{}, w *bitstream.Writer, scope *Scope, tbl *params.Table) error {
	if err := checkInputsResolved(e, scope, tbl); err != nil {
		return err
	}
	return encodeEntry(e, value, w, scope, tbl)
}

// encodeField writes f's value. Integer and Float need their declared
// bit width resolved up front to know how much to emit; Text, Hex, and
// Binary don't — their byte/bit count comes from the value itself — so
// evaluating f.Length is deferred to those two branches. That deferral
// is what lets solveForwardReference scratch-encode a Text/Hex/Binary
// field whose own Length expression references a sibling that hasn't
// been solved yet.
func encodeField(f *ir.FieldEntry, value interface{}, w *bitstream.Writer, scope *Scope) error {
	if err := checkConstraints(f.Name, f.Constraints, value, scope); err != nil {
		return err
	}

	switch f.Format {
	case ir.Integer:
		length, err := evalExpr(f.Length, scope)
		if err != nil {
			return err
		}
		if length < 0 {
			return &CodecError{Kind: InvalidFormat, Entry: f.Name}
		}
		n := uint8(length)

		raw, ok := toUint64(value)
		if !ok {
			return &CodecError{Kind: InvalidFormat, Entry: f.Name}
		}
		if f.Endianness == ir.Little {
			if length%8 != 0 {
				return &CodecError{Kind: InvalidFormat, Entry: f.Name}
			}
			return wrapBitstreamErr(w.AppendLE(raw, n), f.Name, w.Len())
		}
		return wrapBitstreamErr(w.AppendBE(raw, n), f.Name, w.Len())

	case ir.Text:
		s, ok := value.(string)
		if !ok {
			return &CodecError{Kind: InvalidFormat, Entry: f.Name}
		}
		return appendBytes(w, []byte(s), f.Name)

	case ir.Hex:
		bs, ok := value.([]byte)
		if !ok {
			return &CodecError{Kind: InvalidFormat, Entry: f.Name}
		}
		return appendBytes(w, bs, f.Name)

	case ir.Binary:
		b, ok := value.(bitstream.Bits)
		if !ok {
			return &CodecError{Kind: InvalidFormat, Entry: f.Name}
		}
		return wrapBitstreamErr(w.AppendBits(b), f.Name, w.Len())

	case ir.Float:
		length, err := evalExpr(f.Length, scope)
		if err != nil {
			return err
		}
		end := bsEndian(f.Endianness)
		switch length {
		case 32:
			fv, ok := toFloat32(value)
			if !ok {
				return &CodecError{Kind: InvalidFormat, Entry: f.Name}
			}
			return wrapBitstreamErr(w.AppendFloat32(fv, end), f.Name, w.Len())
		case 64:
			fv, ok := toFloat64(value)
			if !ok {
				return &CodecError{Kind: InvalidFormat, Entry: f.Name}
			}
			return wrapBitstreamErr(w.AppendFloat64(fv, end), f.Name, w.Len())
		default:
			return &CodecError{Kind: InvalidFormat, Entry: f.Name}
		}

	default:
		return &CodecError{Kind: InvalidFormat, Entry: f.Name}
	}
}

func appendBytes(w *bitstream.Writer, bs []byte, entry string) error {
	for _, b := range bs {
		if err := w.AppendBE(uint64(b), 8); err != nil {
			return wrapBitstreamErr(err, entry, w.Len())
		}
	}
	return nil
}

func encodeSequence(s *ir.SequenceEntry, value interface{}, w *bitstream.Writer, parent *Scope, tbl *params.Table) error {
	sv, ok := value.(*SequenceValue)
	if !ok {
		solved, err := solveSequenceValue(s, value, parent)
		if err != nil {
			return err
		}
		sv = solved
	}

	start := w.Len()
	scope := newScope(parent)
	buffered := map[string]bitstream.Bits{}

	for i, ch := range s.Children {
		if bits, ok := buffered[ch.Name]; ok {
			if err := wrapBitstreamErr(w.AppendBits(bits), ch.Name, w.Len()); err != nil {
				return err
			}
			scope.set(ch.Name, sv.Fields[ch.Name])
			continue
		}

		v, present := sv.Fields[ch.Name]
		if !present || v == nil {
			var (
				solvedVal interface{}
				found     bool
				err       error
			)
			if fe, ok := ch.Entry.(*ir.FieldEntry); ok && fe.Format == ir.Integer {
				solvedVal, found, err = solveForwardReference(s.Children[i+1:], ch.Name, sv, scope, tbl, buffered)
				if err != nil {
					return err
				}
			}
			if found {
				v = solvedVal
			} else {
				mocked, err := mockValue(ch.Entry, scope, tbl)
				if err != nil {
					return err
				}
				v = mocked
			}
		}
		if err := encodeEntryChecked(ch.Entry, v, w, scope, tbl); err != nil {
			return err
		}
		scope.set(ch.Name, v)
	}

	if s.Length != nil {
		declared, err := evalExpr(s.Length, scope)
		switch {
		case isMissingInput(err):
			// The length references a sibling still being solved from
			// this very encoding (a scratch pass run by
			// solveForwardReference); the solver reconciles the two by
			// construction, so there is nothing to verify yet.
		case err != nil:
			return err
		case int64(w.Len()-start) != declared:
			return &CodecError{Kind: UnderRun, Entry: s.Name, Pos: int64(w.Len())}
		}
	}

	return checkConstraints(s.Name, s.Constraints, sv, scope)
}

// solveSequenceValue handles encoding a value-bearing Sequence from its
// derived scalar alone: the caller supplied the scalar the Sequence's
// Value expression computes rather than a field map, so the expression
// must be inverted to recover the one child value it derives from.
// Expressions referencing more than one distinct child are
// underdetermined from a single scalar and are Unsolvable, matching
// the single-unknown stance Solve itself takes.
func solveSequenceValue(s *ir.SequenceEntry, value interface{}, scope *Scope) (*SequenceValue, error) {
	if s.Value == nil {
		return nil, &CodecError{Kind: InvalidFormat, Entry: s.Name}
	}
	target, ok := toInt64(value)
	if !ok {
		return nil, &CodecError{Kind: InvalidFormat, Entry: s.Name}
	}

	var unknown string
	for _, ref := range ir.Refs(s.Value) {
		if _, bound := scope.get(ref.Segments()[0]); bound {
			continue
		}
		if unknown != "" && unknown != ref.Path {
			return nil, &CodecError{Kind: Unsolvable, Entry: s.Name}
		}
		unknown = ref.Path
	}
	if unknown == "" {
		return nil, &CodecError{Kind: Unsolvable, Entry: s.Name}
	}

	solved, err := exprengine.Solve(s.Value, unknown, target, exprEnv{scope})
	if err != nil {
		return nil, &CodecError{Kind: Unsolvable, Entry: s.Name, Err: err}
	}
	fields := map[string]interface{}{
		(ir.Ref{Path: unknown}).Segments()[0]: uint64(solved),
	}
	return &SequenceValue{Fields: fields, Value: target}, nil
}

// lengthExprOf returns the expression that bounds e's emitted bit
// count (a Field's own width, a Sequence's declared total length, or a
// length-terminated SequenceOf's total length), or nil if e has none.
func lengthExprOf(e ir.Entry) ir.Expr {
	switch v := e.(type) {
	case *ir.FieldEntry:
		return v.Length
	case *ir.SequenceEntry:
		return v.Length
	case *ir.SequenceOfEntry:
		if v.Terminator == ir.TerminatedByLength {
			return v.Length
		}
		return nil
	default:
		return nil
	}
}

// solveForwardReference looks for the first entry in rest that can
// pin name's value from its own already-known value: a
// count-terminated SequenceOf whose Count expression references name
// is solved against its item count directly, and a length-bearing
// entry (a Field's own width, a sized Sequence, a length-terminated
// SequenceOf) is encoded into a scratch buffer to learn its actual bit
// count, with the expression solved against that count. The scratch
// encoding is recorded in buffered so the main loop appends it
// verbatim instead of re-encoding it when it reaches that child.
func solveForwardReference(rest []ir.SequenceChild, name string, sv *SequenceValue, scope *Scope, tbl *params.Table, buffered map[string]bitstream.Bits) (interface{}, bool, error) {
	for _, later := range rest {
		if tbl.Direction(later.Entry, name) != params.In {
			continue
		}
		lv, present := sv.Fields[later.Name]
		if !present || lv == nil {
			continue
		}

		if so, ok := later.Entry.(*ir.SequenceOfEntry); ok && so.Terminator == ir.TerminatedByCount && exprReferences(so.Count, name) {
			items, ok := lv.([]interface{})
			if !ok {
				return nil, false, &CodecError{Kind: InvalidFormat, Entry: later.Name}
			}
			solved, err := exprengine.Solve(so.Count, name, int64(len(items)), exprEnv{scope})
			if err != nil {
				return nil, false, &CodecError{Kind: Unsolvable, Entry: name, Err: err}
			}
			return uint64(solved), true, nil
		}

		expr := lengthExprOf(later.Entry)
		if expr == nil || !exprReferences(expr, name) {
			continue
		}

		sw := bitstream.NewWriter()
		if err := encodeEntry(later.Entry, lv, sw, scope, tbl); err != nil {
			return nil, false, err
		}
		actual := int64(sw.Len())
		solved, err := exprengine.Solve(expr, name, actual, exprEnv{scope})
		if err != nil {
			return nil, false, &CodecError{Kind: Unsolvable, Entry: name, Err: err}
		}

		buffered[later.Name] = bitstream.Bits{Data: sw.Finish(), NumBits: sw.Len()}
		return uint64(solved), true, nil
	}
	return nil, false, nil
}

func exprReferences(expr ir.Expr, name string) bool {
	for _, ref := range ir.Refs(expr) {
		if segs := ref.Segments(); len(segs) > 0 && segs[0] == name {
			return true
		}
	}
	return false
}

// encodeChoice dispatches directly when value carries a stored tag. A
// hidden Choice (value is nil, or absent from the caller's tree and
// routed here through mockValue) has no tag to dispatch on, so it
// falls through to tryAlternatives, which mirrors decodeChoice's own
// try-in-order, first-success rule on the encode side.
func encodeChoice(c *ir.ChoiceEntry, value interface{}, w *bitstream.Writer, scope *Scope, tbl *params.Table) error {
	if value == nil {
		return tryAlternatives(c, w, scope, tbl)
	}
	cv, ok := value.(*ChoiceValue)
	if !ok {
		return &CodecError{Kind: InvalidFormat, Entry: c.Name}
	}
	for _, alt := range c.Alternatives {
		if alt.Name == cv.Option {
			return encodeEntryChecked(alt.Entry, cv.Value, w, scope, tbl)
		}
	}
	return &CodecError{Kind: NoChoiceMatched, Entry: c.Name}
}

// tryAlternatives encodes each alternative in declaration order onto a
// scratch buffer, synthesizing its value with mockValue, and commits
// the first one that succeeds by appending the scratch bits to w. An
// alternative that fails (a constraint rejects the mocked value, or
// the mocked value itself is Unsolvable) is discarded and the next is
// tried; NoChoiceMatched is returned if none succeed.
func tryAlternatives(c *ir.ChoiceEntry, w *bitstream.Writer, scope *Scope, tbl *params.Table) error {
	for _, alt := range c.Alternatives {
		mocked, err := mockValue(alt.Entry, scope, tbl)
		if err != nil {
			continue
		}
		sw := bitstream.NewWriter()
		if err := encodeEntry(alt.Entry, mocked, sw, scope, tbl); err != nil {
			continue
		}
		return wrapBitstreamErr(w.AppendBits(bitstream.Bits{Data: sw.Finish(), NumBits: sw.Len()}), c.Name, w.Len())
	}
	return &CodecError{Kind: NoChoiceMatched, Entry: c.Name}
}

func encodeSequenceOf(s *ir.SequenceOfEntry, value interface{}, w *bitstream.Writer, parent *Scope, tbl *params.Table) error {
	items, ok := value.([]interface{})
	if !ok {
		return &CodecError{Kind: InvalidFormat, Entry: s.Name}
	}
	if s.Terminator == ir.TerminatedByCount {
		n, err := evalExpr(s.Count, parent)
		switch {
		case isMissingInput(err):
			// Count references a sibling being solved from this item
			// list; solveForwardReference pins it to len(items).
		case err != nil:
			return err
		case n != int64(len(items)):
			return &CodecError{Kind: InvalidFormat, Entry: s.Name}
		}
	}
	start := w.Len()
	for _, item := range items {
		scope := newScope(parent)
		if err := encodeEntryChecked(s.Item, item, w, scope, tbl); err != nil {
			return err
		}
	}
	if s.Terminator == ir.TerminatedByLength {
		declared, err := evalExpr(s.Length, parent)
		switch {
		case isMissingInput(err):
			// Scratch pass; see encodeSequence's length check.
		case err != nil:
			return err
		case int64(w.Len()-start) != declared:
			return &CodecError{Kind: UnderRun, Entry: s.Name, Pos: int64(w.Len())}
		}
	}
	return nil
}

// mockValue synthesizes a value for a hidden entry the caller didn't
// supply. A Field is pinned from a constant equality constraint if one
// exists, otherwise zero-filled to its declared width. A Choice is
// resolved by mockChoiceValue, trying alternatives in order. A hidden
// Sequence or SequenceOf with no supplied value is Unsolvable, since
// synthesizing a whole repeated or nested subtree has no single
// well-defined default the way a scalar field or a tagged union does.
func mockValue(e ir.Entry, scope *Scope, tbl *params.Table) (interface{}, error) {
	switch v := e.(type) {
	case *ir.FieldEntry:
		return mockFieldValue(v, scope)
	case *ir.ChoiceEntry:
		return mockChoiceValue(v, scope, tbl)
	default:
		return nil, &CodecError{Kind: Unsolvable, Entry: e.EntryName()}
	}
}

// mockChoiceValue tries each alternative in declaration order: mock a
// value for it, then trial-encode that value onto a scratch buffer to
// confirm the alternative's own constraints accept it. The first
// alternative that trial-encodes cleanly is returned as a *ChoiceValue
// so the caller's normal encode path commits it for real; this mirrors
// encodeChoice's own tryAlternatives, but returns the winning tag and
// value instead of writing bits directly, since mockValue's caller
// still needs to record the choice under the child's name in scope.
func mockChoiceValue(c *ir.ChoiceEntry, scope *Scope, tbl *params.Table) (interface{}, error) {
	for _, alt := range c.Alternatives {
		mocked, err := mockValue(alt.Entry, scope, tbl)
		if err != nil {
			continue
		}
		sw := bitstream.NewWriter()
		if err := encodeEntry(alt.Entry, mocked, sw, scope, tbl); err != nil {
			continue
		}
		return &ChoiceValue{Option: alt.Name, Value: mocked}, nil
	}
	return nil, &CodecError{Kind: Unsolvable, Entry: c.Name}
}

func mockFieldValue(f *ir.FieldEntry, scope *Scope) (interface{}, error) {
	for _, c := range f.Constraints {
		if c.Op != ir.Eq {
			continue
		}
		if c.BinaryLimit != nil {
			return append([]byte(nil), c.BinaryLimit...), nil
		}
		if c.Limit != nil {
			if v, err := evalExpr(c.Limit, scope); err == nil {
				if f.Format == ir.Integer {
					return uint64(v), nil
				}
			}
		}
	}

	length, err := evalExpr(f.Length, scope)
	if err != nil {
		return nil, &CodecError{Kind: Unsolvable, Entry: f.Name, Err: err}
	}
	return zeroValue(f, length)
}

func zeroValue(f *ir.FieldEntry, length int64) (interface{}, error) {
	switch f.Format {
	case ir.Integer:
		return uint64(0), nil
	case ir.Float:
		if length == 32 {
			return float32(0), nil
		}
		return float64(0), nil
	case ir.Text:
		if length%8 != 0 {
			return nil, &CodecError{Kind: InvalidFormat, Entry: f.Name}
		}
		return string(make([]byte, length/8)), nil
	case ir.Hex:
		if length%8 != 0 {
			return nil, &CodecError{Kind: InvalidFormat, Entry: f.Name}
		}
		return make([]byte, length/8), nil
	case ir.Binary:
		return bitstream.Bits{Data: make([]byte, (length+7)/8), NumBits: uint64(length)}, nil
	default:
		return nil, &CodecError{Kind: InvalidFormat, Entry: f.Name}
	}
}
