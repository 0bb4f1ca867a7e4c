package params

import (
	"fmt"

	"github.com/asdf1011/bdec/exprengine"
	"github.com/asdf1011/bdec/ir"
)

// CheckConstraintWidths reports an error if some Integer field's
// equality constraint cannot fit in the field's declared bit width,
// for the general case where the constraint's Limit is an expression
// rather than a constant (ir.Validate already covers the fully
// constant case directly). It builds a table of every constant-width
// Integer field's own possible range, tightened by that field's own
// constant comparison constraints, and uses exprengine.EvalRange to
// propagate those ranges through the Limit expression.
//
// This lives in params rather than ir because exprengine imports ir
// for its Expr types; ir calling back into exprengine would be an
// import cycle. params already sits above ir as a derived-analysis
// layer for exactly this reason (see Analyze), so the range check
// belongs here alongside it.
func CheckConstraintWidths(root ir.Entry) error {
	ranges := collectRanges(root)
	return checkWidths(root, ranges)
}

// rangeTable implements exprengine.RangeEnv by resolving a reference's
// first path segment against every Integer field's statically known
// range.
type rangeTable map[string]exprengine.Range

func (rt rangeTable) RangeOf(path string) (exprengine.Range, bool) {
	segs := (ir.Ref{Path: path}).Segments()
	if len(segs) == 0 {
		return exprengine.Range{}, false
	}
	r, ok := rt[segs[0]]
	return r, ok
}

func collectRanges(e ir.Entry) rangeTable {
	rt := rangeTable{}
	var walk func(ir.Entry)
	walk = func(e ir.Entry) {
		switch v := e.(type) {
		case *ir.FieldEntry:
			if v.Format == ir.Integer {
				if r, ok := fieldRange(v); ok {
					rt[v.Name] = r
				}
			}
		case *ir.SequenceEntry:
			for _, ch := range v.Children {
				walk(ch.Entry)
			}
		case *ir.ChoiceEntry:
			for _, alt := range v.Alternatives {
				walk(alt.Entry)
			}
		case *ir.SequenceOfEntry:
			walk(v.Item)
		}
	}
	walk(e)
	return rt
}

// fieldRange computes f's possible range from its declared bit width,
// tightened by any of its own constant comparison constraints. Fields
// with an expression-derived width are skipped (ok=false): a reference
// to one then makes EvalRange correctly report "unknown" for whatever
// downstream expression depends on it, rather than a guessed bound.
func fieldRange(f *ir.FieldEntry) (r exprengine.Range, ok bool) {
	lit, isConst := f.Length.(ir.Const)
	if !isConst || lit.Value <= 0 || lit.Value >= 64 {
		return exprengine.Range{}, false
	}
	r = exprengine.Range{Min: 0, Max: (int64(1) << uint(lit.Value)) - 1}
	for _, c := range f.Constraints {
		lc, isConst := c.Limit.(ir.Const)
		if !isConst {
			continue
		}
		switch c.Op {
		case ir.Eq:
			r = exprengine.Range{Min: lc.Value, Max: lc.Value}
		case ir.Lt:
			if lc.Value-1 < r.Max {
				r.Max = lc.Value - 1
			}
		case ir.Le:
			if lc.Value < r.Max {
				r.Max = lc.Value
			}
		case ir.Gt:
			if lc.Value+1 > r.Min {
				r.Min = lc.Value + 1
			}
		case ir.Ge:
			if lc.Value > r.Min {
				r.Min = lc.Value
			}
		}
	}
	return r, true
}

func checkWidths(e ir.Entry, ranges rangeTable) error {
	switch v := e.(type) {
	case *ir.FieldEntry:
		return checkFieldWidth(v, ranges)
	case *ir.SequenceEntry:
		for _, ch := range v.Children {
			if err := checkWidths(ch.Entry, ranges); err != nil {
				return err
			}
		}
	case *ir.ChoiceEntry:
		for _, alt := range v.Alternatives {
			if err := checkWidths(alt.Entry, ranges); err != nil {
				return err
			}
		}
	case *ir.SequenceOfEntry:
		return checkWidths(v.Item, ranges)
	}
	return nil
}

func checkFieldWidth(f *ir.FieldEntry, ranges rangeTable) error {
	lit, isConst := f.Length.(ir.Const)
	if !isConst || f.Format != ir.Integer || lit.Value >= 64 {
		return nil
	}
	for _, c := range f.Constraints {
		if c.Op != ir.Eq || c.Limit == nil {
			continue
		}
		if _, isConst := c.Limit.(ir.Const); isConst {
			continue // covered by ir.Validate's constant-only check
		}
		r, ok := exprengine.EvalRange(c.Limit, ranges)
		if !ok {
			continue // can't bound it statically; the decode/encode-time constraint check still applies
		}
		if !exprengine.FitsInBits(r, int(lit.Value)) {
			return fmt.Errorf("params: field %q equality constraint range [%d,%d] does not fit in %d bits", f.Name, r.Min, r.Max, lit.Value)
		}
	}
	return nil
}
