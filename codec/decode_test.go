package codec

import (
	"testing"

	"github.com/asdf1011/bdec/bitstream"
	"github.com/asdf1011/bdec/ir"
	"github.com/stretchr/testify/require"
)

func TestDecodeBigEndian16BitInteger(t *testing.T) {
	f := ir.NewField("value", ir.Integer, ir.Big, ir.Lit(16))
	r := bitstream.NewReaderBytes([]byte{0x01, 0x02})

	v, err := Decode(f, r)
	require.NoError(t, err)
	require.Equal(t, uint64(0x0102), v)
}

func TestDecodeLittleEndian16BitInteger(t *testing.T) {
	f := ir.NewField("value", ir.Integer, ir.Little, ir.Lit(16))
	r := bitstream.NewReaderBytes([]byte{0x01, 0x02})

	v, err := Decode(f, r)
	require.NoError(t, err)
	require.Equal(t, uint64(0x0201), v)
}

func TestDecodeLengthPrefixedText(t *testing.T) {
	length := ir.NewField("length", ir.Integer, ir.Big, ir.Lit(8))
	text := ir.NewField("text", ir.Text, ir.Big, ir.Times(ir.Field("length"), ir.Lit(8)))
	msg := ir.NewSequence("message", []ir.SequenceChild{
		{Name: "length", Entry: length},
		{Name: "text", Entry: text},
	})

	r := bitstream.NewReaderBytes([]byte{5, 'h', 'e', 'l', 'l', 'o'})
	v, err := Decode(msg, r)
	require.NoError(t, err)

	sv := v.(*SequenceValue)
	require.Equal(t, uint64(5), sv.Fields["length"])
	require.Equal(t, "hello", sv.Fields["text"])
}

func TestDecodeChoiceFirstMatch(t *testing.T) {
	// Two alternatives both capable of matching the same byte; the first
	// declared alternative must win.
	low := ir.NewField("low", ir.Integer, ir.Big, ir.Lit(8), ir.WithConstraint(ir.Lt, ir.Lit(100)))
	any := ir.NewField("any", ir.Integer, ir.Big, ir.Lit(8))
	choice := ir.NewChoice("pick", []ir.ChoiceAlternative{
		{Name: "low", Entry: low},
		{Name: "any", Entry: any},
	})

	r := bitstream.NewReaderBytes([]byte{42})
	v, err := Decode(choice, r)
	require.NoError(t, err)

	cv := v.(*ChoiceValue)
	require.Equal(t, "low", cv.Option)
	require.Equal(t, uint64(42), cv.Value)
}

func TestDecodeChoiceFallsThroughOnConstraintFailure(t *testing.T) {
	low := ir.NewField("low", ir.Integer, ir.Big, ir.Lit(8), ir.WithConstraint(ir.Lt, ir.Lit(100)))
	any := ir.NewField("any", ir.Integer, ir.Big, ir.Lit(8))
	choice := ir.NewChoice("pick", []ir.ChoiceAlternative{
		{Name: "low", Entry: low},
		{Name: "any", Entry: any},
	})

	r := bitstream.NewReaderBytes([]byte{200})
	v, err := Decode(choice, r)
	require.NoError(t, err)

	cv := v.(*ChoiceValue)
	require.Equal(t, "any", cv.Option)
	require.Equal(t, uint64(200), cv.Value)
}

func TestDecodeChoiceNoAlternativeMatches(t *testing.T) {
	only := ir.NewField("only", ir.Integer, ir.Big, ir.Lit(8), ir.WithConstraint(ir.Eq, ir.Lit(1)))
	choice := ir.NewChoice("pick", []ir.ChoiceAlternative{{Name: "only", Entry: only}})

	r := bitstream.NewReaderBytes([]byte{2})
	_, err := Decode(choice, r)
	require.Error(t, err)

	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, NoChoiceMatched, ce.Kind)
}

func TestDecodeEndMarkedSequenceOf(t *testing.T) {
	// Item is a single-bit tag: 0 continues the loop, 1 ends it (and is
	// itself the last item produced). Stream "0 0 0 1" -> 4 items.
	continueTag := ir.NewField("continue_tag", ir.Integer, ir.Big, ir.Lit(1), ir.WithConstraint(ir.Eq, ir.Lit(0)))
	endTag := ir.NewField("end_tag", ir.Integer, ir.Big, ir.Lit(1), ir.WithConstraint(ir.Eq, ir.Lit(1)))
	item := ir.NewChoice("item", []ir.ChoiceAlternative{
		{Name: "continue", Entry: continueTag},
		{Name: "end", Entry: endTag},
	})
	seqOf := ir.NewSequenceOfEndMarker("items", item, "end_tag")

	r := bitstream.NewReader([]byte{0b0001_0000}, 4)
	v, err := Decode(seqOf, r)
	require.NoError(t, err)

	items := v.([]interface{})
	require.Len(t, items, 4)
	require.Equal(t, "continue", items[0].(*ChoiceValue).Option)
	require.Equal(t, "continue", items[1].(*ChoiceValue).Option)
	require.Equal(t, "continue", items[2].(*ChoiceValue).Option)
	require.Equal(t, "end", items[3].(*ChoiceValue).Option)
}

func TestDecodeUnterminatedEndMarkedSequenceOf(t *testing.T) {
	tag := ir.NewField("continue_tag", ir.Integer, ir.Big, ir.Lit(1), ir.WithConstraint(ir.Eq, ir.Lit(0)))
	item := ir.NewChoice("item", []ir.ChoiceAlternative{{Name: "continue", Entry: tag}})
	seqOf := ir.NewSequenceOfEndMarker("items", item, "end_tag")

	r := bitstream.NewReader([]byte{0b0000_0000}, 2)
	_, err := Decode(seqOf, r)
	require.Error(t, err)

	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, UnterminatedRepetition, ce.Kind)
}

func TestDecodeConstraintFailure(t *testing.T) {
	f := ir.NewField("magic", ir.Integer, ir.Big, ir.Lit(8), ir.WithConstraint(ir.Eq, ir.Lit(0xAB)))
	r := bitstream.NewReaderBytes([]byte{0xCD})

	_, err := Decode(f, r)
	require.Error(t, err)

	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, ConstraintFailed, ce.Kind)
	require.Equal(t, "magic", ce.Entry)
}

func TestDecodeEndOfDataPropagatesAsCodecError(t *testing.T) {
	f := ir.NewField("value", ir.Integer, ir.Big, ir.Lit(16))
	r := bitstream.NewReader([]byte{0x01}, 8)

	_, err := Decode(f, r)
	require.Error(t, err)

	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, EndOfData, ce.Kind)
}

func TestDecodeEndOfDataReportsBitPositionAfterPriorFields(t *testing.T) {
	a := ir.NewField("a", ir.Integer, ir.Big, ir.Lit(8))
	b := ir.NewField("b", ir.Integer, ir.Big, ir.Lit(16))
	seq := ir.NewSequence("msg", []ir.SequenceChild{{Name: "a", Entry: a}, {Name: "b", Entry: b}})

	r := bitstream.NewReader([]byte{0x01, 0x02}, 16)
	_, err := Decode(seq, r)
	require.Error(t, err)

	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, EndOfData, ce.Kind)
	require.Equal(t, int64(8), ce.Pos)
}

func TestDecodeSequenceUnderRunWhenChildrenLeaveBits(t *testing.T) {
	a := ir.NewField("a", ir.Integer, ir.Big, ir.Lit(8))
	seq := ir.NewSequence("msg", []ir.SequenceChild{{Name: "a", Entry: a}}, ir.WithSequenceLength(ir.Lit(16)))

	r := bitstream.NewReaderBytes([]byte{1, 2})
	_, err := Decode(seq, r)
	require.Error(t, err)

	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, UnderRun, ce.Kind)
	require.Equal(t, "msg", ce.Entry)
}

func TestDecodeSequenceWindowBlocksChildOverRead(t *testing.T) {
	// The sequence allocates 8 bits but its child wants 16; the child must
	// fail with EndOfData at the window edge even though the underlying
	// stream holds more bytes.
	a := ir.NewField("a", ir.Integer, ir.Big, ir.Lit(16))
	seq := ir.NewSequence("msg", []ir.SequenceChild{{Name: "a", Entry: a}}, ir.WithSequenceLength(ir.Lit(8)))

	r := bitstream.NewReaderBytes([]byte{1, 2, 3})
	_, err := Decode(seq, r)
	require.Error(t, err)

	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, EndOfData, ce.Kind)
}

func TestDecodeCountTerminatedSequenceOf(t *testing.T) {
	count := ir.NewField("count", ir.Integer, ir.Big, ir.Lit(8))
	item := ir.NewField("item", ir.Integer, ir.Big, ir.Lit(8))
	msg := ir.NewSequence("msg", []ir.SequenceChild{
		{Name: "count", Entry: count},
		{Name: "items", Entry: ir.NewSequenceOfCount("items", item, ir.Field("count"))},
	})

	r := bitstream.NewReaderBytes([]byte{3, 10, 20, 30})
	v, err := Decode(msg, r)
	require.NoError(t, err)

	items := v.(*SequenceValue).Fields["items"].([]interface{})
	require.Equal(t, []interface{}{uint64(10), uint64(20), uint64(30)}, items)
}

func TestDecodeLengthTerminatedSequenceOf(t *testing.T) {
	item := ir.NewField("item", ir.Integer, ir.Big, ir.Lit(8))
	seqOf := ir.NewSequenceOfLength("items", item, ir.Lit(16))

	r := bitstream.NewReaderBytes([]byte{0xAA, 0xBB, 0xCC})
	v, err := Decode(seqOf, r)
	require.NoError(t, err)

	require.Equal(t, []interface{}{uint64(0xAA), uint64(0xBB)}, v)
	// The third byte is outside the declared length and stays unread.
	require.Equal(t, uint64(8), r.Remaining())
}

func TestDecodeSequenceDerivedValueFeedsConstraint(t *testing.T) {
	major := ir.NewField("major", ir.Integer, ir.Big, ir.Lit(8))
	minor := ir.NewField("minor", ir.Integer, ir.Big, ir.Lit(8))
	version := ir.NewSequence("version", []ir.SequenceChild{
		{Name: "major", Entry: major},
		{Name: "minor", Entry: minor},
	},
		ir.WithSequenceValue(ir.Plus(ir.Times(ir.Field("major"), ir.Lit(256)), ir.Field("minor"))),
		ir.WithConstraint(ir.Ge, ir.Lit(0x0200)),
	)

	v, err := Decode(version, bitstream.NewReaderBytes([]byte{0x02, 0x01}))
	require.NoError(t, err)
	require.Equal(t, int64(0x0201), v.(*SequenceValue).Value)

	_, err = Decode(version, bitstream.NewReaderBytes([]byte{0x01, 0xFF}))
	require.Error(t, err)

	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, ConstraintFailed, ce.Kind)
}

func TestDecodeFloat32Field(t *testing.T) {
	f := ir.NewField("ratio", ir.Float, ir.Big, ir.Lit(32))

	w := bitstream.NewWriter()
	require.NoError(t, w.AppendFloat32(1.5, bitstream.BigEndian))

	v, err := Decode(f, bitstream.NewReaderBytes(w.Finish()))
	require.NoError(t, err)
	require.Equal(t, float32(1.5), v)
}

func TestDecodeFloatWithBadWidthIsInvalidFormat(t *testing.T) {
	f := ir.NewField("ratio", ir.Float, ir.Big, ir.Lit(16))
	_, err := Decode(f, bitstream.NewReaderBytes([]byte{0, 0}))
	require.Error(t, err)

	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, InvalidFormat, ce.Kind)
}

func TestDecodeTextWithNonByteAlignedLengthIsInvalidFormat(t *testing.T) {
	f := ir.NewField("s", ir.Text, ir.Big, ir.Lit(12))
	_, err := Decode(f, bitstream.NewReaderBytes([]byte{0, 0}))
	require.Error(t, err)

	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, InvalidFormat, ce.Kind)
}

func TestDecodeLittleEndianNonByteAlignedIsInvalidFormat(t *testing.T) {
	f := ir.NewField("v", ir.Integer, ir.Little, ir.Lit(12))
	_, err := Decode(f, bitstream.NewReaderBytes([]byte{0, 0}))
	require.Error(t, err)

	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, InvalidFormat, ce.Kind)
}

func TestDecodeHexFieldEqualityConstraintBitForBit(t *testing.T) {
	f := ir.NewField("magic", ir.Hex, ir.Big, ir.Lit(24), ir.WithBinaryEquals([]byte{0xDE, 0xAD, 0xBE}))
	r := bitstream.NewReaderBytes([]byte{0xDE, 0xAD, 0xBE})

	v, err := Decode(f, r)
	require.NoError(t, err)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE}, v)
}

func TestDecodeBinaryFieldEqualityConstraintSubByte(t *testing.T) {
	f := ir.NewField("flags", ir.Binary, ir.Big, ir.Lit(4), ir.WithBinaryEquals([]byte{0b1010_0000}))
	r := bitstream.NewReader([]byte{0b1010_1111}, 4)

	_, err := Decode(f, r)
	require.NoError(t, err)
}
