package codec

// Decode produces, and Encode consumes, a value tree built from plain
// Go types keyed to each entry variant:
//
//   - Field(Integer)       uint64
//   - Field(Text)          string
//   - Field(Hex)           []byte
//   - Field(Binary)        bitstream.Bits
//   - Field(Float)         float32 (32-bit) or float64 (64-bit)
//   - Sequence             *SequenceValue
//   - Choice               *ChoiceValue
//   - SequenceOf           []interface{}
//
// A renderer walks the same shapes to produce output text; this
// package only builds and consumes the values.

// SequenceValue is the decoded result of a Sequence: its children by
// name, plus its derived scalar Value when the entry declares one.
type SequenceValue struct {
	Fields map[string]interface{}
	Value  interface{}
}

// ChoiceValue is the decoded result of a Choice: which alternative
// matched, and that alternative's own decoded value.
type ChoiceValue struct {
	Option string
	Value  interface{}
}
