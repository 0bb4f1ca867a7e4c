package exprengine

import "github.com/asdf1011/bdec/ir"

// Range is an inclusive interval [Min, Max] of possible integer values.
// RangeEnv resolves references to intervals rather than single values,
// which is all static analysis has available before a stream exists.
type Range struct {
	Min, Max int64
}

// RangeEnv resolves a reference's possible range for static analysis.
type RangeEnv interface {
	RangeOf(path string) (Range, bool)
}

// EvalRange computes an over-approximation of expr's possible values:
// the narrowest interval guaranteed to contain every value expr can
// evaluate to for some combination of inputs within their own ranges.
// params.CheckConstraintWidths uses it to check that an equality
// constraint's Limit fits within a field's declared bit width; nothing
// in this module uses it to choose an integer width (ir.Validate already covers the
// fully-constant case directly; this covers the expression-derived
// case).
func EvalRange(expr ir.Expr, env RangeEnv) (Range, bool) {
	switch e := expr.(type) {
	case ir.Const:
		return Range{e.Value, e.Value}, true
	case ir.Ref:
		return env.RangeOf(e.Path)
	case ir.BinOp:
		l, ok := EvalRange(e.Left, env)
		if !ok {
			return Range{}, false
		}
		r, ok := EvalRange(e.Right, env)
		if !ok {
			return Range{}, false
		}
		return rangeOp(e.Op, l, r)
	default:
		return Range{}, false
	}
}

func rangeOp(op ir.Op, l, r Range) (Range, bool) {
	switch op {
	case ir.Add:
		return Range{l.Min + r.Min, l.Max + r.Max}, true
	case ir.Sub:
		return Range{l.Min - r.Max, l.Max - r.Min}, true
	case ir.Mul:
		return extrema(l.Min*r.Min, l.Min*r.Max, l.Max*r.Min, l.Max*r.Max), true
	case ir.Div:
		if r.Min <= 0 && r.Max >= 0 {
			// divisor range straddles zero: cannot bound without more
			// precision than this analysis carries.
			return Range{}, false
		}
		return extrema(
			DivideWithRounding(l.Min, r.Min, false), DivideWithRounding(l.Min, r.Max, false),
			DivideWithRounding(l.Max, r.Min, false), DivideWithRounding(l.Max, r.Max, false),
		), true
	case ir.Mod:
		if r.Min <= 0 {
			return Range{}, false
		}
		return Range{0, r.Max - 1}, true
	default:
		return Range{}, false
	}
}

func extrema(vals ...int64) Range {
	min, max := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return Range{min, max}
}

// FitsInBits reports whether every value in r is representable as an
// unsigned integer in the given bit width.
func FitsInBits(r Range, bits int) bool {
	if r.Min < 0 {
		return false
	}
	if bits >= 64 {
		return true
	}
	return r.Max < (int64(1) << uint(bits))
}
