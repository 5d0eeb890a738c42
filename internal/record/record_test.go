package record

import (
	"testing"

	"github.com/dsqlcore/dsqlite/internal/value"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	r := Record{
		Key: []byte("some-key"),
		Values: []value.Value{
			value.Integer(42),
			value.Text("payload"),
			value.Null,
			value.Blob([]byte{1, 2, 3}),
		},
	}
	buf := r.Serialize()
	got, err := Deserialize(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !KeyEqual(got.Key, r.Key) {
		t.Fatalf("key = %q, want %q", got.Key, r.Key)
	}
	if len(got.Values) != len(r.Values) {
		t.Fatalf("got %d values, want %d", len(got.Values), len(r.Values))
	}
	for i := range r.Values {
		if !got.Values[i].Equal(r.Values[i]) {
			t.Fatalf("value %d = %+v, want %+v", i, got.Values[i], r.Values[i])
		}
	}
}

func TestSerializeEmptyKeyAndValues(t *testing.T) {
	r := Record{Key: []byte{}, Values: nil}
	buf := r.Serialize()
	got, err := Deserialize(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Key) != 0 || len(got.Values) != 0 {
		t.Fatalf("got %+v, want empty key and values", got)
	}
}

func TestDeserializeIgnoresTrailingBytes(t *testing.T) {
	r := Record{Key: []byte("k"), Values: []value.Value{value.Integer(1)}}
	buf := append(r.Serialize(), 0xDE, 0xAD, 0xBE, 0xEF)
	got, err := Deserialize(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !KeyEqual(got.Key, r.Key) {
		t.Fatalf("key = %q, want %q", got.Key, r.Key)
	}
}

func TestDeserializeTruncatedBuffer(t *testing.T) {
	r := Record{Key: []byte("longer-key"), Values: []value.Value{value.Text("hello")}}
	buf := r.Serialize()
	if _, err := Deserialize(buf[:len(buf)/2]); err == nil {
		t.Fatal("expected an error decoding a truncated record")
	}
}

func TestKeyOrdering(t *testing.T) {
	if !KeyLess([]byte("a"), []byte("b")) {
		t.Fatal("\"a\" should sort before \"b\"")
	}
	if KeyLess([]byte("b"), []byte("a")) {
		t.Fatal("\"b\" should not sort before \"a\"")
	}
	if KeyCompare([]byte("x"), []byte("x")) != 0 {
		t.Fatal("identical keys should compare equal")
	}
}
