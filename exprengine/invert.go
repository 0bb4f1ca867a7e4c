package exprengine

import (
	"fmt"

	"github.com/asdf1011/bdec/ir"
)

// UnsolvableError reports an expression the encoder could not invert for
// unknownPath: either unknownPath does not occur in expr, it occurs more
// than once, or an operator in its path (Mod, or Mul/Div by zero) is not
// invertible in isolation.
type UnsolvableError struct {
	UnknownPath string
	Reason      string
}

func (e *UnsolvableError) Error() string {
	return fmt.Sprintf("exprengine: cannot solve for %q: %s", e.UnknownPath, e.Reason)
}

// Solve inverts expr for the single reference named unknownPath, given
// that the whole expression must evaluate to target and env resolves
// every other reference in expr. This is how the encoder recovers the
// value of a hidden entry whose bits were never stored but that some
// other entry's Length/Count/Value expression depends on.
//
// The engine walks expr top-down toward the occurrence of unknownPath,
// peeling one operator at a time: each step evaluates the sibling
// subtree (which must not itself reference the unknown) and folds it
// into a running residual target for the remaining subtree. A Mod node,
// or a Mul/Div node whose residual does not divide evenly, makes the
// expression non-invertible and Solve returns UnsolvableError.
func Solve(expr ir.Expr, unknownPath string, target int64, env Env) (int64, error) {
	if !references(expr, unknownPath) {
		return 0, &UnsolvableError{UnknownPath: unknownPath, Reason: "expression does not reference it"}
	}
	return solve(expr, unknownPath, target, env)
}

func solve(expr ir.Expr, unknown string, target int64, env Env) (int64, error) {
	switch e := expr.(type) {
	case ir.Ref:
		if e.Path == unknown {
			return target, nil
		}
		return 0, &UnsolvableError{UnknownPath: unknown, Reason: "reached an unrelated reference"}
	case ir.Const:
		return 0, &UnsolvableError{UnknownPath: unknown, Reason: "reached a constant while unknown remains unresolved"}
	case ir.BinOp:
		leftHas := references(e.Left, unknown)
		rightHas := references(e.Right, unknown)
		if leftHas == rightHas {
			return 0, &UnsolvableError{UnknownPath: unknown, Reason: "unknown appears zero or multiple times under one operator"}
		}
		if leftHas {
			other, err := Eval(e.Right, env)
			if err != nil {
				return 0, err
			}
			residual, err := invertStep(e.Op, target, other, true)
			if err != nil {
				return 0, &UnsolvableError{UnknownPath: unknown, Reason: err.Error()}
			}
			return solve(e.Left, unknown, residual, env)
		}
		other, err := Eval(e.Left, env)
		if err != nil {
			return 0, err
		}
		residual, err := invertStep(e.Op, target, other, false)
		if err != nil {
			return 0, &UnsolvableError{UnknownPath: unknown, Reason: err.Error()}
		}
		return solve(e.Right, unknown, residual, env)
	default:
		return 0, fmt.Errorf("exprengine: unknown expression type %T", expr)
	}
}

// invertStep solves "unknownSide OP other == target" (unknownFirst true)
// or "other OP unknownSide == target" (unknownFirst false) for
// unknownSide, returning the residual target to continue solving with.
func invertStep(op ir.Op, target, other int64, unknownFirst bool) (int64, error) {
	switch op {
	case ir.Add:
		return target - other, nil
	case ir.Sub:
		if unknownFirst {
			return target + other, nil
		}
		return other - target, nil
	case ir.Mul:
		if other == 0 {
			return 0, fmt.Errorf("multiplied by zero, residual is ambiguous")
		}
		if target%other != 0 {
			return 0, fmt.Errorf("residual %d does not divide evenly by %d", target, other)
		}
		return target / other, nil
	case ir.Div:
		if other == 0 {
			return 0, fmt.Errorf("divided by zero, residual is ambiguous")
		}
		if unknownFirst {
			// unknown / other == target  =>  unknown == target*other, exactly
			// (reconstructible only when the division was exact).
			q := target * other
			if DivideWithRounding(q, other, false) != target {
				return 0, fmt.Errorf("division residual is not reconstructible")
			}
			return q, nil
		}
		return 0, fmt.Errorf("cannot invert a divisor")
	case ir.Mod:
		return 0, fmt.Errorf("modulo is not invertible")
	default:
		return 0, fmt.Errorf("unknown operator %v", op)
	}
}

func references(expr ir.Expr, path string) bool {
	switch e := expr.(type) {
	case ir.Ref:
		return e.Path == path
	case ir.Const:
		return false
	case ir.BinOp:
		return references(e.Left, path) || references(e.Right, path)
	default:
		return false
	}
}
