package value

import (
	"encoding/binary"
	"math"

	"goenip/errs"
)

// Value is the closed tagged variant over the Logix type set. It is closed
// deliberately (see Kind): the protocol's type set is fixed, so an open
// interface would let callers construct values CIP has no representation
// for. Zero Value is not meaningful; use one of the New* constructors.
type Value struct {
	kind Type
	b    bool
	i    int64
	u    uint64
	f    float64
	s    string
	arr  []Value
	udt  *Struct
}

// Struct is an ordered member-name → Value mapping (UDT instance). Member
// order is declaration order, matching the template the value was decoded
// against.
type Struct struct {
	Name    string
	Members []Member
}

// Member is one named field of a decoded UDT instance.
type Member struct {
	Name  string
	Value Value
}

// Get returns the member with the given name, or false if absent.
func (s *Struct) Get(name string) (Value, bool) {
	for _, m := range s.Members {
		if m.Name == name {
			return m.Value, true
		}
	}
	return Value{}, false
}

func NewBool(v bool) Value   { return Value{kind: Bool, b: v} }
func NewSint(v int8) Value   { return Value{kind: Sint, i: int64(v)} }
func NewInt(v int16) Value   { return Value{kind: Int, i: int64(v)} }
func NewDint(v int32) Value  { return Value{kind: Dint, i: int64(v)} }
func NewLint(v int64) Value  { return Value{kind: Lint, i: v} }
func NewUsint(v uint8) Value { return Value{kind: Usint, u: uint64(v)} }
func NewUint(v uint16) Value { return Value{kind: Uint, u: uint64(v)} }
func NewUdint(v uint32) Value { return Value{kind: Udint, u: uint64(v)} }
func NewUlint(v uint64) Value { return Value{kind: Ulint, u: v} }
func NewReal(v float32) Value { return Value{kind: Real, f: float64(v)} }
func NewLreal(v float64) Value { return Value{kind: Lreal, f: v} }
func NewString(v string) Value { return Value{kind: String, s: v} }
func NewShortString(v string) Value { return Value{kind: ShortString, s: v} }
func NewArray(elemKind Type, elems []Value) Value {
	return Value{kind: elemKind | ArrayMask, arr: elems}
}
func NewStruct(s *Struct) Value { return Value{kind: StructureMask, udt: s} }

// Kind returns the CIP type code of the value (including array/struct
// flags where applicable).
func (v Value) Kind() Type { return v.kind }

func (v Value) Bool() (bool, error) {
	if v.kind.Base() != Bool {
		return false, errs.New(errs.KindInvalidData, "value is %s, not BOOL", v.kind.Name())
	}
	return v.b, nil
}

func (v Value) Int() (int64, error) {
	switch v.kind.Base() {
	case Sint, Int, Dint, Lint:
		return v.i, nil
	default:
		return 0, errs.New(errs.KindInvalidData, "value is %s, not a signed integer", v.kind.Name())
	}
}

func (v Value) Uint() (uint64, error) {
	switch v.kind.Base() {
	case Usint, Uint, Udint, Ulint:
		return v.u, nil
	default:
		return 0, errs.New(errs.KindInvalidData, "value is %s, not an unsigned integer", v.kind.Name())
	}
}

func (v Value) Float() (float64, error) {
	switch v.kind.Base() {
	case Real, Lreal:
		return v.f, nil
	default:
		return 0, errs.New(errs.KindInvalidData, "value is %s, not a float", v.kind.Name())
	}
}

func (v Value) String() (string, error) {
	switch v.kind.Base() {
	case String, ShortString:
		return v.s, nil
	default:
		return "", errs.New(errs.KindInvalidData, "value is %s, not a string", v.kind.Name())
	}
}

func (v Value) Array() ([]Value, error) {
	if !v.kind.IsArray() {
		return nil, errs.New(errs.KindInvalidData, "value is %s, not an array", v.kind.Name())
	}
	return v.arr, nil
}

func (v Value) Struct() (*Struct, error) {
	if !v.kind.IsStructure() || v.udt == nil {
		return nil, errs.New(errs.KindInvalidData, "value is %s, not a structure", v.kind.Name())
	}
	return v.udt, nil
}

// Equal reports deep equality, comparing floats by IEEE bit pattern so NaN
// compares equal to NaN (Testable Property 1: round-trip, scalars).
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind.Base() {
	case Bool:
		return v.b == other.b
	case Sint, Int, Dint, Lint:
		return v.i == other.i
	case Usint, Uint, Udint, Ulint:
		return v.u == other.u
	case Real:
		return math.Float32bits(float32(v.f)) == math.Float32bits(float32(other.f))
	case Lreal:
		return math.Float64bits(v.f) == math.Float64bits(other.f)
	case String, ShortString:
		return v.s == other.s
	}
	if v.kind.IsArray() {
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	}
	if v.kind.IsStructure() {
		if v.udt == nil || other.udt == nil || len(v.udt.Members) != len(other.udt.Members) {
			return false
		}
		for i := range v.udt.Members {
			a, b := v.udt.Members[i], other.udt.Members[i]
			if a.Name != b.Name || !a.Value.Equal(b.Value) {
				return false
			}
		}
		return true
	}
	return false
}

// Encode serializes a scalar Value to its wire representation (no type
// code prefix — callers that need the CIP type_code prefix add it
// separately, since it is carried once per Tag Engine response/request).
func Encode(v Value) ([]byte, error) {
	switch v.kind.Base() {
	case Bool:
		if v.b {
			return []byte{0xFF}, nil
		}
		return []byte{0x00}, nil
	case Sint:
		return []byte{byte(int8(v.i))}, nil
	case Usint:
		return []byte{byte(v.u)}, nil
	case Int:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(int16(v.i)))
		return b, nil
	case Uint:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v.u))
		return b, nil
	case Dint:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(int32(v.i)))
		return b, nil
	case Udint:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v.u))
		return b, nil
	case Lint:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v.i))
		return b, nil
	case Ulint:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, v.u)
		return b, nil
	case Real:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v.f)))
		return b, nil
	case Lreal:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v.f))
		return b, nil
	case String:
		return EncodeString(v.s)
	case ShortString:
		return EncodeShortString(v.s)
	default:
		return nil, errs.New(errs.KindUdt, "unsupported scalar type for encode: 0x%04X", uint16(v.kind))
	}
}

// Decode parses raw wire bytes for a scalar of the given elementary type.
// Unknown member/type codes are a hard failure — the design explicitly
// rejects silently returning raw bytes for an unrecognized type (§ design
// notes: "do NOT guess").
func Decode(kind Type, data []byte) (Value, error) {
	base := kind.Base()
	switch base {
	case Bool:
		if len(data) < 1 {
			return Value{}, errs.New(errs.KindInvalidData, "short BOOL payload")
		}
		return NewBool(data[0] != 0), nil
	case Sint:
		if len(data) < 1 {
			return Value{}, errs.New(errs.KindInvalidData, "short SINT payload")
		}
		return NewSint(int8(data[0])), nil
	case Usint:
		if len(data) < 1 {
			return Value{}, errs.New(errs.KindInvalidData, "short USINT payload")
		}
		return NewUsint(data[0]), nil
	case Int:
		if len(data) < 2 {
			return Value{}, errs.New(errs.KindInvalidData, "short INT payload")
		}
		return NewInt(int16(binary.LittleEndian.Uint16(data))), nil
	case Uint:
		if len(data) < 2 {
			return Value{}, errs.New(errs.KindInvalidData, "short UINT payload")
		}
		return NewUint(binary.LittleEndian.Uint16(data)), nil
	case Dint:
		if len(data) < 4 {
			return Value{}, errs.New(errs.KindInvalidData, "short DINT payload")
		}
		return NewDint(int32(binary.LittleEndian.Uint32(data))), nil
	case Udint:
		if len(data) < 4 {
			return Value{}, errs.New(errs.KindInvalidData, "short UDINT payload")
		}
		return NewUdint(binary.LittleEndian.Uint32(data)), nil
	case Lint:
		if len(data) < 8 {
			return Value{}, errs.New(errs.KindInvalidData, "short LINT payload")
		}
		return NewLint(int64(binary.LittleEndian.Uint64(data))), nil
	case Ulint:
		if len(data) < 8 {
			return Value{}, errs.New(errs.KindInvalidData, "short ULINT payload")
		}
		return NewUlint(binary.LittleEndian.Uint64(data)), nil
	case Real:
		if len(data) < 4 {
			return Value{}, errs.New(errs.KindInvalidData, "short REAL payload")
		}
		return NewReal(math.Float32frombits(binary.LittleEndian.Uint32(data))), nil
	case Lreal:
		if len(data) < 8 {
			return Value{}, errs.New(errs.KindInvalidData, "short LREAL payload")
		}
		return NewLreal(math.Float64frombits(binary.LittleEndian.Uint64(data))), nil
	case String:
		s, err := DecodeString(data)
		if err != nil {
			return Value{}, err
		}
		return NewString(s), nil
	case ShortString:
		s, err := DecodeShortString(data)
		if err != nil {
			return Value{}, err
		}
		return NewShortString(s), nil
	default:
		return Value{}, errs.New(errs.KindUdt, "unsupported member type: 0x%04X", uint16(kind))
	}
}

// DecodeArray parses raw wire bytes as a homogeneous array of elemKind.
func DecodeArray(elemKind Type, data []byte) (Value, error) {
	size := elemKind.Size()
	if size <= 0 {
		return decodeVariableArray(elemKind, data)
	}
	count := len(data) / size
	elems := make([]Value, 0, count)
	for i := 0; i < count; i++ {
		elem, err := Decode(elemKind, data[i*size:(i+1)*size])
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, elem)
	}
	return NewArray(elemKind, elems), nil
}

func decodeVariableArray(elemKind Type, data []byte) (Value, error) {
	var elems []Value
	for len(data) > 0 {
		var consumed int
		switch elemKind.Base() {
		case ShortString:
			if len(data) < 1 {
				break
			}
			consumed = 1 + int(data[0])
		case String:
			consumed = StringWireSize
		default:
			return Value{}, errs.New(errs.KindUdt, "unsupported variable-length array element type: 0x%04X", uint16(elemKind))
		}
		if consumed <= 0 || consumed > len(data) {
			break
		}
		elem, err := Decode(elemKind, data[:consumed])
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, elem)
		data = data[consumed:]
	}
	return NewArray(elemKind, elems), nil
}

// EncodeArray serializes a homogeneous array of Values to wire bytes.
func EncodeArray(elems []Value) ([]byte, error) {
	var out []byte
	for _, e := range elems {
		b, err := Encode(e)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}
