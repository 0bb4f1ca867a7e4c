// Package ir defines the protocol intermediate representation: an
// immutable tree of entries (fields, sequences, choices, and
// sequence-of nodes) built once and walked by the decoder and encoder.
package ir

// Format selects how a Field's bits are interpreted.
type Format int

const (
	Integer Format = iota
	Text
	Hex
	Binary
	Float
)

func (f Format) String() string {
	switch f {
	case Integer:
		return "integer"
	case Text:
		return "text"
	case Hex:
		return "hex"
	case Binary:
		return "binary"
	case Float:
		return "float"
	default:
		return "unknown"
	}
}

// Endianness selects multi-byte ordering for a Field.
type Endianness int

const (
	Big Endianness = iota
	Little
)

// CompareOp is a relational or equality constraint operator.
type CompareOp int

const (
	Eq CompareOp = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

func (c CompareOp) String() string {
	switch c {
	case Eq:
		return "="
	case Ne:
		return "!="
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	default:
		return "?"
	}
}

// Constraint restricts an entry's decoded value against an expression.
// Limit holds an integer constraint; BinaryLimit holds a raw constraint
// against Hex/Binary field equality (bit-for-bit comparison, see codec
// package for semantics).
type Constraint struct {
	Op          CompareOp
	Limit       Expr
	BinaryLimit []byte // set only for Eq constraints on Hex/Binary fields
}

// Entry is the sealed interface implemented by the four protocol entry
// variants. Dispatch on concrete type is exhaustive via a type switch in
// the decoder and encoder, rather than runtime reflection.
type Entry interface {
	isEntry()
	EntryName() string
	IsHidden() bool
	EntryConstraints() []Constraint
}

// common holds the fields shared by every entry variant.
type common struct {
	Name        string
	Hidden      bool
	Constraints []Constraint
}

func (c common) EntryName() string              { return c.Name }
func (c common) IsHidden() bool                 { return c.Hidden }
func (c common) EntryConstraints() []Constraint { return c.Constraints }

// FieldEntry is a terminal entry reading Length bits and parsing them
// according to Format/Endianness.
type FieldEntry struct {
	common
	Format     Format
	Endianness Endianness
	Length     Expr // in bits
}

func (*FieldEntry) isEntry() {}

// SequenceChild names one named child of a Sequence, in declaration order.
type SequenceChild struct {
	Name  string
	Entry Entry
}

// SequenceEntry is an ordered list of named children decoded in
// declaration order. Value, if non-nil, computes a scalar derived from
// child values; Length, if non-nil, is the sequence's total bit length.
type SequenceEntry struct {
	common
	Children []SequenceChild
	Value    Expr
	Length   Expr
}

func (*SequenceEntry) isEntry() {}

// ChoiceAlternative is one named, ordered alternative of a Choice.
type ChoiceAlternative struct {
	Name  string
	Entry Entry
}

// ChoiceEntry is a non-empty, ordered list of alternatives tried in
// order on a stream snapshot; the first alternative that decodes
// successfully wins.
type ChoiceEntry struct {
	common
	Alternatives []ChoiceAlternative
}

func (*ChoiceEntry) isEntry() {}

// SequenceOfTerminator selects how a SequenceOf knows when to stop.
type SequenceOfTerminator int

const (
	TerminatedByCount SequenceOfTerminator = iota
	TerminatedByLength
	TerminatedByEndMarker
)

// SequenceOfEntry decodes exactly one child entry repeatedly. Exactly one
// of Count, Length, or EndMarkerPath is active, selected by Terminator.
// EndMarkerPath names the entry elsewhere in the tree (by dotted path
// rooted at the SequenceOf's parent) whose decode sets the shared
// "should end" boolean.
type SequenceOfEntry struct {
	common
	Item          Entry
	Terminator    SequenceOfTerminator
	Count         Expr
	Length        Expr
	EndMarkerPath string
}

func (*SequenceOfEntry) isEntry() {}

// NewField constructs a FieldEntry.
func NewField(name string, format Format, endianness Endianness, length Expr, opts ...Option) *FieldEntry {
	f := &FieldEntry{
		common:     common{Name: name},
		Format:     format,
		Endianness: endianness,
		Length:     length,
	}
	for _, o := range opts {
		o.applyCommon(&f.common)
	}
	return f
}

// NewSequence constructs a SequenceEntry.
func NewSequence(name string, children []SequenceChild, opts ...Option) *SequenceEntry {
	s := &SequenceEntry{common: common{Name: name}, Children: children}
	for _, o := range opts {
		o.applyCommon(&s.common)
		if so, ok := o.(sequenceOption); ok {
			so.applySequence(s)
		}
	}
	return s
}

// NewChoice constructs a ChoiceEntry. Panics if alts is empty, per
// invariant 4 (a Choice has at least one alternative).
func NewChoice(name string, alts []ChoiceAlternative, opts ...Option) *ChoiceEntry {
	if len(alts) == 0 {
		panic("ir: Choice " + name + " must have at least one alternative")
	}
	c := &ChoiceEntry{common: common{Name: name}, Alternatives: alts}
	for _, o := range opts {
		o.applyCommon(&c.common)
	}
	return c
}

// NewSequenceOfCount constructs a count-terminated SequenceOf.
func NewSequenceOfCount(name string, item Entry, count Expr, opts ...Option) *SequenceOfEntry {
	s := &SequenceOfEntry{common: common{Name: name}, Item: item, Terminator: TerminatedByCount, Count: count}
	for _, o := range opts {
		o.applyCommon(&s.common)
	}
	return s
}

// NewSequenceOfLength constructs a length-terminated SequenceOf.
func NewSequenceOfLength(name string, item Entry, length Expr, opts ...Option) *SequenceOfEntry {
	s := &SequenceOfEntry{common: common{Name: name}, Item: item, Terminator: TerminatedByLength, Length: length}
	for _, o := range opts {
		o.applyCommon(&s.common)
	}
	return s
}

// NewSequenceOfEndMarker constructs an end-marker-terminated SequenceOf.
// markerPath names the entry (dotted path rooted at this SequenceOf's
// parent) that signals termination when it successfully decodes.
func NewSequenceOfEndMarker(name string, item Entry, markerPath string, opts ...Option) *SequenceOfEntry {
	s := &SequenceOfEntry{common: common{Name: name}, Item: item, Terminator: TerminatedByEndMarker, EndMarkerPath: markerPath}
	for _, o := range opts {
		o.applyCommon(&s.common)
	}
	return s
}

// Option configures optional entry attributes (hidden flag, constraints,
// sequence value/length) at construction time.
type Option interface {
	applyCommon(*common)
}

type sequenceOption interface {
	applySequence(*SequenceEntry)
}

type hiddenOption struct{}

func (hiddenOption) applyCommon(c *common) { c.Hidden = true }

// Hidden marks an entry as suppressed from rendered output (but not from
// decode/encode flow).
func Hidden() Option { return hiddenOption{} }

type constraintOption struct{ c Constraint }

func (o constraintOption) applyCommon(c *common) { c.Constraints = append(c.Constraints, o.c) }

// WithConstraint attaches a relational/equality constraint to an entry.
func WithConstraint(op CompareOp, limit Expr) Option {
	return constraintOption{c: Constraint{Op: op, Limit: limit}}
}

// WithBinaryEquals attaches an equality constraint against raw bytes, for
// Hex/Binary fields (bit-for-bit comparison; see codec package).
func WithBinaryEquals(expected []byte) Option {
	return constraintOption{c: Constraint{Op: Eq, BinaryLimit: expected}}
}

type sequenceValueOption struct{ v Expr }

func (sequenceValueOption) applyCommon(*common) {}
func (o sequenceValueOption) applySequence(s *SequenceEntry) { s.Value = o.v }

// WithSequenceValue sets a Sequence's derived scalar value expression.
func WithSequenceValue(v Expr) Option { return sequenceValueOption{v: v} }

type sequenceLengthOption struct{ l Expr }

func (sequenceLengthOption) applyCommon(*common) {}
func (o sequenceLengthOption) applySequence(s *SequenceEntry) { s.Length = o.l }

// WithSequenceLength sets a Sequence's total bit length expression.
func WithSequenceLength(l Expr) Option { return sequenceLengthOption{l: l} }
