package logix

import "goenip/value"

// Symbol Object type codes carry a 2-bit array-dimension field (bits 13-14)
// in addition to the single structure/array/system flag bits that
// value.Type already models for member-level decoding. SymbolTypeArrayMask
// and friends exist only to pull that dimension field apart; BaseType and
// the struct/system checks below delegate to value.Type so the two layers
// never drift out of sync on what "base type" means.
const (
	SymbolTypeArray1D   uint16 = 0x2000
	SymbolTypeArray2D   uint16 = 0x4000
	SymbolTypeArray3D   uint16 = 0x6000
	SymbolTypeArrayMask uint16 = 0x6000
)

// IsArrayType returns true if the type code indicates an array.
func IsArrayType(typeCode uint16) bool {
	return typeCode&SymbolTypeArrayMask != 0
}

// ArrayDimensions returns the number of array dimensions (0, 1, 2, or 3)
// encoded in a Symbol Object instance's type code.
func ArrayDimensions(typeCode uint16) int {
	switch typeCode & SymbolTypeArrayMask {
	case SymbolTypeArray1D:
		return 1
	case SymbolTypeArray2D:
		return 2
	case SymbolTypeArray3D:
		return 3
	default:
		return 0
	}
}

// IsStructType reports whether the type code's structure flag is set.
func IsStructType(typeCode uint16) bool {
	return value.Type(typeCode).IsStructure()
}

// BaseType extracts the base type code, stripping array/struct/system flags.
func BaseType(typeCode uint16) uint16 {
	return uint16(value.Type(typeCode).Base())
}
