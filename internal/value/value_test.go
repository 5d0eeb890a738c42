package value

import "testing"

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	buf := v.Encode(nil)
	got, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode %+v: %v", v, err)
	}
	if n != len(buf) {
		t.Fatalf("decode consumed %d bytes, want %d", n, len(buf))
	}
	return got
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Value{
		Null,
		Integer(0),
		Integer(-1),
		Integer(1 << 40),
		Real(3.5),
		Real(-0.0),
		Text(""),
		Text("hello, world"),
		Blob([]byte{}),
		Blob([]byte{0, 1, 2, 255}),
	}
	for _, v := range cases {
		got := roundTrip(t, v)
		if !got.Equal(v) {
			t.Fatalf("round trip: got %+v, want %+v", got, v)
		}
	}
}

func TestDecodeTruncatedInputs(t *testing.T) {
	cases := [][]byte{
		{},
		{byte(TagInteger)},
		{byte(TagReal), 1, 2, 3},
		{byte(TagText), 5, 'h', 'i'},
		{byte(TagBlob), 5, 1, 2},
		{0xFF},
	}
	for i, buf := range cases {
		if _, _, err := Decode(buf); err == nil {
			t.Fatalf("case %d: expected an error for %v", i, buf)
		}
	}
}

func TestCompareIntegerAndReal(t *testing.T) {
	if Integer(1).Compare(Integer(2)) >= 0 {
		t.Fatal("1 should sort before 2")
	}
	if Real(1.5).Compare(Integer(1)) <= 0 {
		t.Fatal("1.5 should sort after 1")
	}
	if Integer(3).Compare(Real(3.0)) != 0 {
		t.Fatal("3 and 3.0 should compare equal across numeric types")
	}
}

func TestCompareTextAndBlob(t *testing.T) {
	if Text("a").Compare(Text("b")) >= 0 {
		t.Fatal("\"a\" should sort before \"b\"")
	}
	if Blob([]byte{1}).Compare(Blob([]byte{2})) >= 0 {
		t.Fatal("blob {1} should sort before {2}")
	}
}

func TestComparableRejectsMixedClasses(t *testing.T) {
	if Text("x").Comparable(Blob([]byte("x"))) {
		t.Fatal("text and blob should not be comparable for ordering")
	}
	if Integer(1).Comparable(Text("1")) {
		t.Fatal("integer and text should not be comparable for ordering")
	}
}

func TestEqualAcrossIncomparableClasses(t *testing.T) {
	if Text("x").Equal(Blob([]byte("x"))) {
		t.Fatal("different tags with the same bytes should not be Equal")
	}
	if !Null.Equal(Value{Tag: TagNull}) {
		t.Fatal("two Null values should be equal")
	}
}
