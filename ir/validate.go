package ir

import "fmt"

// Validate checks the structural invariants that can be verified
// statically, without an input stream:
//
//   - A SequenceOf has exactly one of {count, length, end-marker}.
//   - Field bit widths that are constant literals are in range (1..64
//     for Integer, byte-aligned for Text/Hex, 32 or 64 for Float);
//     expression-derived widths are checked at decode/encode time
//     instead, since they depend on the input.
//   - A Choice has at least one alternative (also enforced at
//     construction by NewChoice, so this is a defense-in-depth check for
//     trees assembled via an external IR loader rather than the builders
//     in this package).
//   - Equality constraints on fixed-width Integer fields fit in the
//     field's declared width, when both are constant. The general,
//     expression-derived case of this same check (the Limit is a Ref
//     or BinOp rather than a Const) lives in params.CheckConstraintWidths
//     instead of here: it needs exprengine's range analysis, and
//     exprengine already imports this package for Expr, so this
//     package can't import exprengine back without a cycle.
//
// That every reference names a reachable entry is not checked here: it
// depends on where in the tree the check runs, and is instead enforced
// incrementally by the decoder/encoder, which consult the table
// params.Analyze builds and fail with MissingInput/Unsolvable if a
// reference can't be resolved from the active scope chain.
func Validate(root Entry) error {
	return validate(root)
}

func validate(e Entry) error {
	switch v := e.(type) {
	case *FieldEntry:
		return validateField(v)
	case *SequenceEntry:
		for _, ch := range v.Children {
			if err := validate(ch.Entry); err != nil {
				return err
			}
		}
		return nil
	case *ChoiceEntry:
		if len(v.Alternatives) == 0 {
			return fmt.Errorf("ir: choice %q has no alternatives", v.Name)
		}
		for _, alt := range v.Alternatives {
			if err := validate(alt.Entry); err != nil {
				return err
			}
		}
		return nil
	case *SequenceOfEntry:
		if err := validateTerminator(v); err != nil {
			return err
		}
		return validate(v.Item)
	default:
		return fmt.Errorf("ir: unknown entry type %T", e)
	}
}

func validateTerminator(s *SequenceOfEntry) error {
	set := 0
	if s.Count != nil {
		set++
	}
	if s.Length != nil {
		set++
	}
	if s.EndMarkerPath != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("ir: sequence-of %q must have exactly one terminator, has %d", s.Name, set)
	}
	switch s.Terminator {
	case TerminatedByCount:
		if s.Count == nil {
			return fmt.Errorf("ir: sequence-of %q declares count terminator but has no Count expression", s.Name)
		}
	case TerminatedByLength:
		if s.Length == nil {
			return fmt.Errorf("ir: sequence-of %q declares length terminator but has no Length expression", s.Name)
		}
	case TerminatedByEndMarker:
		if s.EndMarkerPath == "" {
			return fmt.Errorf("ir: sequence-of %q declares end-marker terminator but has no EndMarkerPath", s.Name)
		}
	default:
		return fmt.Errorf("ir: sequence-of %q has unknown terminator kind %d", s.Name, s.Terminator)
	}
	return nil
}

func validateField(f *FieldEntry) error {
	lit, isConst := f.Length.(Const)

	switch f.Format {
	case Integer:
		if isConst && (lit.Value < 1 || lit.Value > 64) {
			return fmt.Errorf("ir: field %q has integer bit width %d, want 1..64", f.Name, lit.Value)
		}
		if f.Endianness == Little && isConst && lit.Value%8 != 0 {
			return fmt.Errorf("ir: field %q is little-endian with non-byte-aligned width %d", f.Name, lit.Value)
		}
	case Text, Hex:
		if isConst && lit.Value%8 != 0 {
			return fmt.Errorf("ir: field %q format %s requires byte-aligned length, got %d bits", f.Name, f.Format, lit.Value)
		}
	case Binary:
		// any width is legal
	case Float:
		if isConst && lit.Value != 32 && lit.Value != 64 {
			return fmt.Errorf("ir: field %q is Float with width %d, want 32 or 64", f.Name, lit.Value)
		}
	default:
		return fmt.Errorf("ir: field %q has unknown format %d", f.Name, f.Format)
	}

	for _, c := range f.Constraints {
		if c.Op == Eq && isConst && f.Format == Integer && c.Limit != nil {
			if lc, ok := c.Limit.(Const); ok {
				if lc.Value < 0 {
					continue // signed interpretation, width check not meaningful here
				}
				if lit.Value < 64 && lc.Value>>uint(lit.Value) != 0 {
					return fmt.Errorf("ir: field %q equality constraint %d does not fit in %d bits", f.Name, lc.Value, lit.Value)
				}
			}
		}
	}
	return nil
}
