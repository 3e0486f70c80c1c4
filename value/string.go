package value

import (
	"encoding/binary"

	"goenip/errs"
)

// AB STRING layout: a 4-byte signed length followed by an 82-byte fixed
// character buffer, padded to a 4-byte boundary. 4 (Len) + 82 (Data) = 86,
// rounded up to 88 — the structure size Logix reports for STRING tags.
const (
	StringDataLen  = 82
	StringWireSize = 88
)

// EncodeString serializes s into the AB structured STRING layout: exactly
// StringWireSize bytes, Len carrying the actual character count and all
// bytes beyond Len zeroed. Strings longer than StringDataLen are rejected.
func EncodeString(s string) ([]byte, error) {
	if len(s) > StringDataLen {
		return nil, errs.New(errs.KindInvalidData, "string of %d bytes exceeds AB STRING capacity of %d", len(s), StringDataLen)
	}
	out := make([]byte, StringWireSize)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(s)))
	copy(out[4:4+len(s)], s)
	return out, nil
}

// DecodeString parses the AB structured STRING layout back into a Go
// string. The buffer must be at least 4 bytes (the Len field); fewer bytes
// of Data than Len claims are tolerated by truncating to what is present,
// but a Len exceeding StringDataLen is rejected as invalid data from a
// non-conforming peer.
func DecodeString(b []byte) (string, error) {
	if len(b) < 4 {
		return "", errs.New(errs.KindInvalidData, "STRING payload too short: %d bytes", len(b))
	}
	n := int(int32(binary.LittleEndian.Uint32(b[0:4])))
	if n < 0 || n > StringDataLen {
		return "", errs.New(errs.KindInvalidData, "STRING length %d out of range [0,%d]", n, StringDataLen)
	}
	avail := len(b) - 4
	if n > avail {
		n = avail
	}
	return string(b[4 : 4+n]), nil
}

// EncodeShortString serializes s into the SHORT_STRING wire layout: a
// single length byte followed by up to 255 bytes of character data.
func EncodeShortString(s string) ([]byte, error) {
	if len(s) > 255 {
		return nil, errs.New(errs.KindInvalidData, "short string of %d bytes exceeds 255-byte capacity", len(s))
	}
	out := make([]byte, 1+len(s))
	out[0] = byte(len(s))
	copy(out[1:], s)
	return out, nil
}

// DecodeShortString parses the SHORT_STRING wire layout.
func DecodeShortString(b []byte) (string, error) {
	if len(b) < 1 {
		return "", errs.New(errs.KindInvalidData, "SHORT_STRING payload too short")
	}
	n := int(b[0])
	avail := len(b) - 1
	if n > avail {
		n = avail
	}
	return string(b[1 : 1+n]), nil
}
