// Package record implements the key+values framing of spec §4.3:
//
//	serialize = varint(key_len) | key | varint(value_count) | values...
//
// Grounded on the teacher's row_codec.go wire-format discipline (explicit
// length-prefixing, no reflection, no encoding/json), generalized to frame
// a key alongside the values and to use the value package's tagged Value
// union instead of the teacher's []any rows.
package record

import (
	"bytes"

	"github.com/dsqlcore/dsqlite/internal/dsqlerr"
	"github.com/dsqlcore/dsqlite/internal/value"
)

// Record pairs an opaque, lexicographically-ordered key with an ordered
// sequence of Values (spec §3).
type Record struct {
	Key    []byte
	Values []value.Value
}

// Serialize encodes r per spec §4.3.
func (r Record) Serialize() []byte {
	buf := make([]byte, 0, 16+len(r.Key)+8*len(r.Values))
	buf = value.PutUvarint(buf, uint64(len(r.Key)))
	buf = append(buf, r.Key...)
	buf = value.PutUvarint(buf, uint64(len(r.Values)))
	for _, v := range r.Values {
		buf = v.Encode(buf)
	}
	return buf
}

// Deserialize decodes a Record from the front of buf. Trailing bytes are
// not an error — cells are self-sized by the page layout that contains
// them (spec §4.3).
func Deserialize(buf []byte) (Record, error) {
	klen, n, err := value.Uvarint(buf)
	if err != nil {
		return Record{}, dsqlerr.E(dsqlerr.KindRecord, "record: bad key length", err)
	}
	off := n
	if uint64(len(buf[off:])) < klen {
		return Record{}, dsqlerr.E(dsqlerr.KindRecord, "record: truncated key", nil)
	}
	key := make([]byte, klen)
	copy(key, buf[off:off+int(klen)])
	off += int(klen)

	vcount, n, err := value.Uvarint(buf[off:])
	if err != nil {
		return Record{}, dsqlerr.E(dsqlerr.KindRecord, "record: bad value count", err)
	}
	off += n

	values := make([]value.Value, vcount)
	for i := range values {
		v, n, err := value.Decode(buf[off:])
		if err != nil {
			return Record{}, dsqlerr.E(dsqlerr.KindRecord, "record: bad value", err)
		}
		values[i] = v
		off += n
	}
	return Record{Key: key, Values: values}, nil
}

// KeyEqual reports whether two keys compare equal byte-for-byte.
func KeyEqual(a, b []byte) bool { return bytes.Equal(a, b) }

// KeyLess reports whether a sorts strictly before b (lexicographic order,
// spec §3).
func KeyLess(a, b []byte) bool { return bytes.Compare(a, b) < 0 }

// KeyCompare is the three-way lexicographic comparator over opaque keys.
func KeyCompare(a, b []byte) int { return bytes.Compare(a, b) }
