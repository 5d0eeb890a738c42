package value

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/dsqlcore/dsqlite/internal/dsqlerr"
)

// Tag identifies the variant of a Value on the wire (spec §4.2).
type Tag byte

const (
	TagNull Tag = iota
	TagInteger
	TagReal
	TagText
	TagBlob
)

// Value is the tagged union spec §3 describes: {Null, Integer, Real, Text,
// Blob}. Exactly one of the typed fields is meaningful, selected by Tag.
type Value struct {
	Tag  Tag
	I    int64
	R    float64
	Text string
	Blob []byte
}

// Null is the singleton NULL value.
var Null = Value{Tag: TagNull}

func Integer(i int64) Value { return Value{Tag: TagInteger, I: i} }
func Real(r float64) Value  { return Value{Tag: TagReal, R: r} }
func Text(s string) Value   { return Value{Tag: TagText, Text: s} }
func Blob(b []byte) Value   { return Value{Tag: TagBlob, Blob: b} }

func (v Value) IsNull() bool { return v.Tag == TagNull }

// Encode appends the wire form of v to buf: one tag byte followed by a
// variant-specific payload (spec §4.2).
func (v Value) Encode(buf []byte) []byte {
	buf = append(buf, byte(v.Tag))
	switch v.Tag {
	case TagNull:
		// no payload
	case TagInteger:
		buf = PutVarint(buf, v.I)
	case TagReal:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v.R))
		buf = append(buf, b[:]...)
	case TagText:
		buf = PutUvarint(buf, uint64(len(v.Text)))
		buf = append(buf, v.Text...)
	case TagBlob:
		buf = PutUvarint(buf, uint64(len(v.Blob)))
		buf = append(buf, v.Blob...)
	}
	return buf
}

// Decode parses one Value from the front of buf, returning the value and
// the number of bytes consumed.
func Decode(buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return Value{}, 0, dsqlerr.E(dsqlerr.KindRecord, "value: empty buffer", nil)
	}
	tag := Tag(buf[0])
	off := 1
	switch tag {
	case TagNull:
		return Null, off, nil
	case TagInteger:
		i, n, err := Varint(buf[off:])
		if err != nil {
			return Value{}, 0, dsqlerr.E(dsqlerr.KindRecord, "value: bad integer", err)
		}
		return Integer(i), off + n, nil
	case TagReal:
		if len(buf[off:]) < 8 {
			return Value{}, 0, dsqlerr.E(dsqlerr.KindRecord, "value: truncated real", nil)
		}
		bits := binary.BigEndian.Uint64(buf[off : off+8])
		return Real(math.Float64frombits(bits)), off + 8, nil
	case TagText:
		l, n, err := Uvarint(buf[off:])
		if err != nil {
			return Value{}, 0, dsqlerr.E(dsqlerr.KindRecord, "value: bad text length", err)
		}
		off += n
		if uint64(len(buf[off:])) < l {
			return Value{}, 0, dsqlerr.E(dsqlerr.KindRecord, "value: truncated text", nil)
		}
		return Text(string(buf[off : off+int(l)])), off + int(l), nil
	case TagBlob:
		l, n, err := Uvarint(buf[off:])
		if err != nil {
			return Value{}, 0, dsqlerr.E(dsqlerr.KindRecord, "value: bad blob length", err)
		}
		off += n
		if uint64(len(buf[off:])) < l {
			return Value{}, 0, dsqlerr.E(dsqlerr.KindRecord, "value: truncated blob", nil)
		}
		dst := make([]byte, l)
		copy(dst, buf[off:off+int(l)])
		return Blob(dst), off + int(l), nil
	default:
		return Value{}, 0, dsqlerr.E(dsqlerr.KindRecord, "value: unknown tag", nil)
	}
}

// class groups tags for ordering: numeric (Integer/Real) compares across
// int<->real by widening; Text and Blob each compare only to themselves.
func (v Value) class() int {
	switch v.Tag {
	case TagInteger, TagReal:
		return 0
	case TagText:
		return 1
	case TagBlob:
		return 2
	default:
		return 3 // Null
	}
}

// Comparable reports whether two values may be ordered (spec §3: mixed
// non-numeric classes are incomparable and may only be compared for
// equality).
func (v Value) Comparable(o Value) bool {
	return v.class() == o.class()
}

// Compare orders v against o within a comparable class. Returns <0, 0, >0.
// It does not panic on values that are not Comparable, but the result is
// then meaningless — callers (notably the B+Tree, which only ever compares
// opaque key bytes, never Values, spec §3) must check Comparable first if
// values of mixed class can occur.
func (v Value) Compare(o Value) int {
	switch v.class() {
	case 0: // numeric: widen to float64 unless both are Integer
		if v.Tag == TagInteger && o.Tag == TagInteger {
			switch {
			case v.I < o.I:
				return -1
			case v.I > o.I:
				return 1
			default:
				return 0
			}
		}
		vf, of := v.asFloat(), o.asFloat()
		switch {
		case vf < of:
			return -1
		case vf > of:
			return 1
		default:
			return 0
		}
	case 1:
		return bytes.Compare([]byte(v.Text), []byte(o.Text))
	case 2:
		return bytes.Compare(v.Blob, o.Blob)
	default:
		return 0 // both Null
	}
}

// Equal reports value equality, valid across all classes (even
// incomparable ones, where only equality — never ordering — is defined).
func (v Value) Equal(o Value) bool {
	if v.Tag != o.Tag {
		if v.class() == 0 && o.class() == 0 {
			return v.asFloat() == o.asFloat()
		}
		return false
	}
	switch v.Tag {
	case TagNull:
		return true
	case TagInteger:
		return v.I == o.I
	case TagReal:
		return v.R == o.R
	case TagText:
		return v.Text == o.Text
	case TagBlob:
		return bytes.Equal(v.Blob, o.Blob)
	default:
		return false
	}
}

func (v Value) asFloat() float64 {
	if v.Tag == TagInteger {
		return float64(v.I)
	}
	return v.R
}
