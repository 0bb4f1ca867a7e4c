// Package codec implements the decoder and encoder: a recursive walk
// over an ir.Entry tree that reads (or writes) a bitstream.Reader /
// bitstream.Writer, dispatching on the concrete entry variant with an
// exhaustive type switch.
package codec

import (
	"errors"
	"fmt"

	"github.com/asdf1011/bdec/bitstream"
	"github.com/asdf1011/bdec/exprengine"
	"github.com/asdf1011/bdec/ir"
	"github.com/asdf1011/bdec/params"
)

// Decode reads entry's wire representation from r and returns the
// decoded value tree described in values.go.
func Decode(entry ir.Entry, r *bitstream.Reader) (interface{}, error) {
	tbl := params.Analyze(entry)
	value, _, err := decodeEntry(entry, r, newScope(nil), tbl, "")
	return value, err
}

// decodeEntry dispatches by entry variant. endMarkerTarget, when
// non-empty, is the name of the entry (anywhere in this subtree) whose
// successful decode signals the nearest enclosing end-marked
// SequenceOf to stop after this iteration; hitEndMarker reports whether
// that entry was reached.
//
// Before dispatching, it consults tbl, checking that every name e's
// own Length/Count/Value/constraint expressions need (tbl.Inputs(e))
// is already bound in scope, so a missing cross-entry reference is
// reported as
// MissingInput attributed to the entry that needed it rather than
// surfacing later, and more ambiguously, from deep inside whichever
// expression happens to evaluate it first.
func decodeEntry(e ir.Entry, r *bitstream.Reader, scope *Scope, tbl *params.Table, endMarkerTarget string) (value interface{}, hitEndMarker bool, err error) {
	if err := checkInputsResolved(e, scope, tbl); err != nil {
		return nil, false, err
	}
	switch v := e.(type) {
	case *ir.FieldEntry:
		val, err := decodeField(v, r, scope)
		if err != nil {
			return nil, false, err
		}
		return val, endMarkerTarget != "" && v.Name == endMarkerTarget, nil
	case *ir.SequenceEntry:
		return decodeSequence(v, r, scope, tbl, endMarkerTarget)
	case *ir.ChoiceEntry:
		return decodeChoice(v, r, scope, tbl, endMarkerTarget)
	case *ir.SequenceOfEntry:
		val, err := decodeSequenceOf(v, r, scope, tbl)
		if err != nil {
			return nil, false, err
		}
		return val, endMarkerTarget != "" && v.Name == endMarkerTarget, nil
	default:
		return nil, false, fmt.Errorf("codec: unknown entry type %T", e)
	}
}

// checkInputsResolved reports MissingInput if some name tbl.Inputs(e)
// requires is not yet bound anywhere in scope's chain. tbl.Inputs
// records only a reference's first path segment (params.collect), so
// this checks exactly what the scope chain can answer; a deeper
// dotted-path segment that doesn't exist is still caught later by
// exprEnv.Resolve when the expression is actually evaluated.
func checkInputsResolved(e ir.Entry, scope *Scope, tbl *params.Table) error {
	for _, name := range tbl.Inputs(e) {
		if _, ok := scope.get(name); !ok {
			return &CodecError{Kind: MissingInput, Entry: e.EntryName(), Err: fmt.Errorf("codec: entry %q requires input %q, not present in scope", e.EntryName(), name)}
		}
	}
	return nil
}

func evalExpr(expr ir.Expr, scope *Scope) (int64, error) {
	v, err := exprengine.Eval(expr, exprEnv{scope})
	if err != nil {
		var mr *exprengine.MissingRefError
		if errors.As(err, &mr) {
			return 0, &CodecError{Kind: MissingInput, Entry: mr.Path, Err: err}
		}
		return 0, &CodecError{Kind: InvalidFormat, Err: err}
	}
	return v, nil
}

func bsEndian(e ir.Endianness) bitstream.Endianness {
	if e == ir.Little {
		return bitstream.LittleEndian
	}
	return bitstream.BigEndian
}

func decodeField(f *ir.FieldEntry, r *bitstream.Reader, scope *Scope) (interface{}, error) {
	length, err := evalExpr(f.Length, scope)
	if err != nil {
		return nil, err
	}
	if length < 0 || length > 64 && f.Format == ir.Integer {
		return nil, &CodecError{Kind: InvalidFormat, Entry: f.Name}
	}
	n := uint8(length)

	var value interface{}
	switch f.Format {
	case ir.Integer:
		var raw uint64
		if f.Endianness == ir.Little {
			if length%8 != 0 {
				return nil, &CodecError{Kind: InvalidFormat, Entry: f.Name}
			}
			raw, err = r.TakeLE(n)
		} else {
			raw, err = r.Take(n)
		}
		if err != nil {
			return nil, wrapBitstreamErr(err, f.Name, r.Pos())
		}
		value = raw

	case ir.Text:
		if length%8 != 0 {
			return nil, &CodecError{Kind: InvalidFormat, Entry: f.Name}
		}
		bs, berr := r.TakeBytes(int(length / 8))
		if berr != nil {
			return nil, wrapBitstreamErr(berr, f.Name, r.Pos())
		}
		value = string(bs)

	case ir.Hex:
		if length%8 != 0 {
			return nil, &CodecError{Kind: InvalidFormat, Entry: f.Name}
		}
		bs, berr := r.TakeBytes(int(length / 8))
		if berr != nil {
			return nil, wrapBitstreamErr(berr, f.Name, r.Pos())
		}
		value = bs

	case ir.Binary:
		bits, berr := r.TakeBits(uint64(length))
		if berr != nil {
			return nil, wrapBitstreamErr(berr, f.Name, r.Pos())
		}
		value = bits

	case ir.Float:
		end := bsEndian(f.Endianness)
		switch length {
		case 32:
			fv, ferr := r.ReadFloat32(end)
			if ferr != nil {
				return nil, wrapBitstreamErr(ferr, f.Name, r.Pos())
			}
			value = fv
		case 64:
			fv, ferr := r.ReadFloat64(end)
			if ferr != nil {
				return nil, wrapBitstreamErr(ferr, f.Name, r.Pos())
			}
			value = fv
		default:
			return nil, &CodecError{Kind: InvalidFormat, Entry: f.Name}
		}

	default:
		return nil, &CodecError{Kind: InvalidFormat, Entry: f.Name}
	}

	if err := checkConstraints(f.Name, f.Constraints, value, scope); err != nil {
		return nil, err
	}
	return value, nil
}

// decodeSequence decodes children in declaration order, threading a
// fresh Scope so later siblings (and descendants) can reference
// earlier ones by name. When Length is set, the children are confined
// to a window of exactly that many bits: a child reading past the
// window fails with EndOfData even if the outer stream has more data,
// and bits left unconsumed inside the window after the last child are
// an UnderRun.
func decodeSequence(s *ir.SequenceEntry, r *bitstream.Reader, parent *Scope, tbl *params.Table, endMarkerTarget string) (interface{}, bool, error) {
	var window *bitstream.Limit
	if s.Length != nil {
		l, err := evalExpr(s.Length, parent)
		if err != nil {
			return nil, false, err
		}
		if l < 0 {
			return nil, false, &CodecError{Kind: InvalidFormat, Entry: s.Name}
		}
		lim, lerr := r.PushLimit(uint64(l))
		if lerr != nil {
			return nil, false, wrapBitstreamErr(lerr, s.Name, r.Pos())
		}
		window = &lim
	}

	scope := newScope(parent)
	fields := make(map[string]interface{}, len(s.Children))
	hitEnd := false

	for _, ch := range s.Children {
		val, hit, err := decodeEntry(ch.Entry, r, scope, tbl, endMarkerTarget)
		if err != nil {
			return nil, false, err
		}
		fields[ch.Name] = val
		scope.set(ch.Name, val)
		if hit {
			hitEnd = true
		}
	}

	if window != nil {
		if r.Remaining() > 0 {
			return nil, false, &CodecError{Kind: UnderRun, Entry: s.Name, Pos: int64(r.Pos())}
		}
		r.PopLimit(*window)
	}

	sv := &SequenceValue{Fields: fields}
	if s.Value != nil {
		v, err := evalExpr(s.Value, scope)
		if err != nil {
			return nil, false, err
		}
		sv.Value = v
	}

	if err := checkConstraints(s.Name, s.Constraints, sv, scope); err != nil {
		return nil, false, err
	}

	return sv, hitEnd || (endMarkerTarget != "" && s.Name == endMarkerTarget), nil
}

// decodeChoice tries each alternative in order against a snapshot of
// the reader, restoring on failure and committing on the first
// success.
func decodeChoice(c *ir.ChoiceEntry, r *bitstream.Reader, scope *Scope, tbl *params.Table, endMarkerTarget string) (interface{}, bool, error) {
	for _, alt := range c.Alternatives {
		snap := r.Snapshot()
		val, hit, err := decodeEntry(alt.Entry, r, scope, tbl, endMarkerTarget)
		if err == nil {
			return &ChoiceValue{Option: alt.Name, Value: val}, hit, nil
		}
		r.Restore(snap)
	}
	return nil, false, &CodecError{Kind: NoChoiceMatched, Entry: c.Name}
}

func decodeSequenceOf(s *ir.SequenceOfEntry, r *bitstream.Reader, parent *Scope, tbl *params.Table) (interface{}, error) {
	var items []interface{}

	switch s.Terminator {
	case ir.TerminatedByCount:
		n, err := evalExpr(s.Count, parent)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, &CodecError{Kind: InvalidFormat, Entry: s.Name}
		}
		items = make([]interface{}, 0, n)
		for i := int64(0); i < n; i++ {
			scope := newScope(parent)
			val, _, err := decodeEntry(s.Item, r, scope, tbl, "")
			if err != nil {
				return nil, err
			}
			items = append(items, val)
		}

	case ir.TerminatedByLength:
		lengthBits, err := evalExpr(s.Length, parent)
		if err != nil {
			return nil, err
		}
		if lengthBits < 0 {
			return nil, &CodecError{Kind: InvalidFormat, Entry: s.Name}
		}
		window, lerr := r.PushLimit(uint64(lengthBits))
		if lerr != nil {
			return nil, wrapBitstreamErr(lerr, s.Name, r.Pos())
		}
		for r.Remaining() > 0 {
			scope := newScope(parent)
			val, _, err := decodeEntry(s.Item, r, scope, tbl, "")
			if err != nil {
				return nil, err
			}
			items = append(items, val)
		}
		r.PopLimit(window)

	case ir.TerminatedByEndMarker:
		target := lastSegment(s.EndMarkerPath)
		for {
			if r.Remaining() == 0 {
				return nil, &CodecError{Kind: UnterminatedRepetition, Entry: s.Name}
			}
			scope := newScope(parent)
			val, hit, err := decodeEntry(s.Item, r, scope, tbl, target)
			if err != nil {
				return nil, err
			}
			items = append(items, val)
			if hit {
				break
			}
		}

	default:
		return nil, &CodecError{Kind: InvalidFormat, Entry: s.Name}
	}

	return items, nil
}

func lastSegment(path string) string {
	segs := (ir.Ref{Path: path}).Segments()
	if len(segs) == 0 {
		return path
	}
	return segs[len(segs)-1]
}

func checkConstraints(name string, cs []ir.Constraint, value interface{}, scope *Scope) error {
	for _, c := range cs {
		if c.BinaryLimit != nil {
			if err := checkBinaryConstraint(name, c, value); err != nil {
				return err
			}
			continue
		}
		limit, err := evalExpr(c.Limit, scope)
		if err != nil {
			return err
		}
		iv, ok := toInt64(value)
		if !ok {
			return &CodecError{Kind: ConstraintFailed, Entry: name, Op: c.Op}
		}
		if !compareOp(iv, c.Op, limit) {
			return &CodecError{Kind: ConstraintFailed, Entry: name, Op: c.Op}
		}
	}
	return nil
}

func compareOp(v int64, op ir.CompareOp, limit int64) bool {
	switch op {
	case ir.Eq:
		return v == limit
	case ir.Ne:
		return v != limit
	case ir.Lt:
		return v < limit
	case ir.Le:
		return v <= limit
	case ir.Gt:
		return v > limit
	case ir.Ge:
		return v >= limit
	default:
		return false
	}
}

// checkBinaryConstraint matches an equality constraint against raw
// bytes bit-for-bit: the expected operand is zero-padded up to the
// actual value's bit length when it's shorter, and comparison happens
// over that original (possibly sub-byte) bit length, not a padded one.
func checkBinaryConstraint(name string, c ir.Constraint, value interface{}) error {
	var actual []byte
	var actualBits uint64
	switch x := value.(type) {
	case []byte:
		actual = x
		actualBits = uint64(len(x)) * 8
	case bitstream.Bits:
		actual = x.Data
		actualBits = x.NumBits
	default:
		return &CodecError{Kind: ConstraintFailed, Entry: name, Op: c.Op}
	}

	expected := c.BinaryLimit
	if uint64(len(expected))*8 < actualBits {
		padded := make([]byte, (actualBits+7)/8)
		copy(padded, expected)
		expected = padded
	}

	if !bitsEqual(actual, expected, actualBits) {
		return &CodecError{Kind: ConstraintFailed, Entry: name, Op: c.Op}
	}
	return nil
}

func bitsEqual(a, b []byte, numBits uint64) bool {
	fullBytes := numBits / 8
	for i := uint64(0); i < fullBytes; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	rem := numBits % 8
	if rem == 0 {
		return true
	}
	mask := byte(0xFF << (8 - rem))
	return a[fullBytes]&mask == b[fullBytes]&mask
}
