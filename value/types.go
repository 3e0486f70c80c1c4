// Package value implements the Logix typed value model: the CIP type-code
// table, the AB STRING fixed layout, and encode/decode between wire bytes
// and typed Go values. It has no knowledge of sessions or wire framing.
package value

import "fmt"

// Type is a CIP/Logix elementary or structural type code as carried on the
// wire (the type_code field that precedes a tag's payload).
type Type uint16

// Elementary (atomic) type codes, per the CIP/Logix data type table.
const (
	Bool       Type = 0x00C1
	Sint       Type = 0x00C2
	Int        Type = 0x00C3
	Dint       Type = 0x00C4
	Lint       Type = 0x00C5
	Usint      Type = 0x00C6
	Uint       Type = 0x00C7
	Udint      Type = 0x00C8
	Ulint      Type = 0x00C9
	Real       Type = 0x00CA
	Lreal      Type = 0x00CB
	String     Type = 0x00D0
	ShortString Type = 0x00DA
	Bit         Type = 0x00D1 // bit within a BOOL array host DWORD/DINT
	Bit2        Type = 0x00D2
	Bit3        Type = 0x00D3
)

// Structural flag bits that may be OR'd onto a base type code.
const (
	StructureMask Type = 0x8000
	ArrayMask     Type = 0x2000
	SystemMask    Type = 0x1000
)

// Base strips structure/array/system flag bits, returning the elementary
// type code.
func (t Type) Base() Type { return t & 0x0FFF }

// IsStructure reports whether the structure flag bit is set.
func (t Type) IsStructure() bool { return t&StructureMask != 0 }

// IsArray reports whether the array flag bit is set.
func (t Type) IsArray() bool { return t&ArrayMask != 0 }

// Size returns the wire size in bytes of a scalar of this elementary type:
// StringWireSize for STRING, or 0 if unknown/variable (SHORT_STRING,
// structures).
func (t Type) Size() int {
	switch t.Base() {
	case Bool, Sint, Usint:
		return 1
	case Int, Uint:
		return 2
	case Dint, Udint, Real:
		return 4
	case Lint, Ulint, Lreal:
		return 8
	case ShortString:
		return 0 // variable
	case String:
		return StringWireSize
	default:
		return 0
	}
}

// Name returns a human-readable type name, e.g. "DINT".
func (t Type) Name() string {
	switch t.Base() {
	case Bool:
		return "BOOL"
	case Sint:
		return "SINT"
	case Int:
		return "INT"
	case Dint:
		return "DINT"
	case Lint:
		return "LINT"
	case Usint:
		return "USINT"
	case Uint:
		return "UINT"
	case Udint:
		return "UDINT"
	case Ulint:
		return "ULINT"
	case Real:
		return "REAL"
	case Lreal:
		return "LREAL"
	case String:
		return "STRING"
	case ShortString:
		return "SHORT_STRING"
	default:
		name := fmt.Sprintf("TYPE_0x%04X", uint16(t.Base()))
		if t.IsStructure() {
			name = "STRUCT<" + name + ">"
		}
		if t.IsArray() {
			name = name + "[]"
		}
		return name
	}
}
