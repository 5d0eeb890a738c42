// Package value implements the tagged Value union and the varint codec
// used to frame it (spec §4.2). The wire format is grounded on the
// teacher's row_codec.go tag-byte scheme, generalized from a 6-tag
// []any SQL row to the 5-variant {Null,Integer,Real,Text,Blob} union
// this storage core exposes to its callers.
package value

import "github.com/dsqlcore/dsqlite/internal/dsqlerr"

// maxVarintBytes bounds decoding: 10 bytes covers a full 64-bit value
// (64/7 = 9.14, rounded up); anything longer is
// either corrupt or a truncation and must fail rather than loop forever.
const maxVarintBytes = 10

// PutUvarint appends the unsigned varint encoding of v to buf and returns
// the extended slice. Encoding uses 7 data bits per byte with the high bit
// as a continuation flag, least-significant group first.
func PutUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// Uvarint decodes an unsigned varint from the front of buf. It returns the
// value, the number of bytes consumed, and an error on truncation or
// overflow (more than maxVarintBytes bytes without a terminator).
func Uvarint(buf []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(buf); i++ {
		if i == maxVarintBytes {
			return 0, 0, dsqlerr.E(dsqlerr.KindRecord, "uvarint overflow", nil)
		}
		b := buf[i]
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, dsqlerr.E(dsqlerr.KindRecord, "uvarint truncated", nil)
}

// PutVarint appends the zigzag-encoded signed varint for v to buf.
func PutVarint(buf []byte, v int64) []byte {
	uv := uint64(v<<1) ^ uint64(v>>63)
	return PutUvarint(buf, uv)
}

// Varint decodes a zigzag signed varint from the front of buf.
func Varint(buf []byte) (int64, int, error) {
	uv, n, err := Uvarint(buf)
	if err != nil {
		return 0, 0, err
	}
	v := int64(uv>>1) ^ -(int64(uv) & 1)
	return v, n, nil
}
