package value

import (
	"math"
	"strings"
	"testing"
)

func TestRoundTripScalars(t *testing.T) {
	cases := []Value{
		NewBool(true),
		NewBool(false),
		NewSint(-12),
		NewUsint(200),
		NewInt(-1000),
		NewUint(60000),
		NewDint(-123456789),
		NewUdint(3000000000),
		NewLint(-1 << 40),
		NewUlint(1 << 62),
		NewReal(3.5),
		NewReal(float32(math.NaN())),
		NewLreal(2.71828),
		NewLreal(math.NaN()),
		NewString("hello"),
		NewShortString("world"),
	}

	for _, v := range cases {
		encoded, err := Encode(v)
		if err != nil {
			t.Fatalf("Encode(%v): %v", v.Kind(), err)
		}
		decoded, err := Decode(v.Kind(), encoded)
		if err != nil {
			t.Fatalf("Decode(%v): %v", v.Kind(), err)
		}
		if !v.Equal(decoded) {
			t.Errorf("round-trip mismatch for %s: %+v != %+v", v.Kind().Name(), v, decoded)
		}
	}
}

func TestStringLayoutIsAlways88Bytes(t *testing.T) {
	for _, n := range []int{0, 1, 50, 82} {
		s := strings.Repeat("x", n)
		b, err := EncodeString(s)
		if err != nil {
			t.Fatalf("EncodeString(len=%d): %v", n, err)
		}
		if len(b) != StringWireSize {
			t.Fatalf("len(n=%d) = %d, want %d", n, len(b), StringWireSize)
		}
		for i := 4 + n; i < len(b); i++ {
			if b[i] != 0 {
				t.Fatalf("byte %d beyond Len=%d is non-zero", i, n)
			}
		}
		back, err := DecodeString(b)
		if err != nil || back != s {
			t.Fatalf("DecodeString round trip failed for n=%d: %q, %v", n, back, err)
		}
	}
}

func TestStringTooLongRejected(t *testing.T) {
	_, err := EncodeString(strings.Repeat("x", StringDataLen+1))
	if err == nil {
		t.Fatal("expected error for oversized string")
	}
}

func TestArrayRoundTrip(t *testing.T) {
	elems := []Value{NewDint(1), NewDint(2), NewDint(3)}
	arr := NewArray(Dint, elems)
	encoded, err := EncodeArray(elems)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeArray(Dint, encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !arr.Equal(decoded) {
		t.Errorf("array round-trip mismatch: %+v != %+v", arr, decoded)
	}
}
