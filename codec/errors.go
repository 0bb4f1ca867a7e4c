package codec

import (
	"errors"
	"fmt"

	"github.com/asdf1011/bdec/bitstream"
	"github.com/asdf1011/bdec/ir"
)

// ErrorKind classifies a CodecError, mirroring the error taxonomy laid
// out in the protocol description: every failure a decode or encode
// can produce fits exactly one of these.
type ErrorKind int

const (
	EndOfData ErrorKind = iota
	UnderRun
	ConstraintFailed
	NoChoiceMatched
	UnterminatedRepetition
	InvalidFormat
	ValueTooWide
	Unsolvable
	MissingInput
)

func (k ErrorKind) String() string {
	switch k {
	case EndOfData:
		return "end of data"
	case UnderRun:
		return "under run"
	case ConstraintFailed:
		return "constraint failed"
	case NoChoiceMatched:
		return "no choice matched"
	case UnterminatedRepetition:
		return "unterminated repetition"
	case InvalidFormat:
		return "invalid format"
	case ValueTooWide:
		return "value too wide"
	case Unsolvable:
		return "unsolvable"
	case MissingInput:
		return "missing input"
	default:
		return "unknown"
	}
}

// CodecError is returned by Decode and Encode. Entry names the entry
// where the failure occurred; Op is set for ConstraintFailed. Pos is
// the bit position (bits already consumed from the reader on decode,
// or already written to the writer on encode) at the point of failure,
// reported by wrapBitstreamErr for stream-level
// failures (EndOfData, ValueTooWide, and stream-caused InvalidFormat);
// it is left at its zero value for errors with no associated reader
// position, such as encode-time solving failures.
type CodecError struct {
	Kind  ErrorKind
	Entry string
	Op    ir.CompareOp
	Pos   int64
	Err   error
}

func (e *CodecError) Error() string {
	pos := ""
	if e.Pos != 0 {
		pos = fmt.Sprintf(" at bit %d", e.Pos)
	}
	if e.Kind == ConstraintFailed {
		return fmt.Sprintf("codec: %s: entry %q failed constraint %s%s", e.Kind, e.Entry, e.Op, pos)
	}
	if e.Err != nil {
		return fmt.Sprintf("codec: %s: entry %q%s: %v", e.Kind, e.Entry, pos, e.Err)
	}
	return fmt.Sprintf("codec: %s: entry %q%s", e.Kind, e.Entry, pos)
}

func (e *CodecError) Unwrap() error { return e.Err }

// isMissingInput reports whether err is a CodecError of kind
// MissingInput, the signal that an expression referenced a name not yet
// bound in scope.
func isMissingInput(err error) bool {
	var ce *CodecError
	return errors.As(err, &ce) && ce.Kind == MissingInput
}

// wrapBitstreamErr translates a bitstream-level error into a CodecError
// with the appropriate ErrorKind, attributing it to entry at the given
// bit position (the reader's Pos() on decode, the writer's Len() on
// encode).
func wrapBitstreamErr(err error, entry string, pos uint64) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, bitstream.ErrEndOfData):
		return &CodecError{Kind: EndOfData, Entry: entry, Pos: int64(pos), Err: err}
	case errors.Is(err, bitstream.ErrValueTooWide):
		return &CodecError{Kind: ValueTooWide, Entry: entry, Pos: int64(pos), Err: err}
	default:
		return &CodecError{Kind: InvalidFormat, Entry: entry, Pos: int64(pos), Err: err}
	}
}
