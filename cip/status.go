package cip

import (
	"fmt"

	"goenip/errs"
)

// CIP general status codes (response byte 2 of a Message Router reply).
const (
	StatusSuccess              byte = 0x00
	StatusConnectionFailure    byte = 0x01
	StatusResourceUnavailable  byte = 0x02
	StatusInvalidParameterVal  byte = 0x03
	StatusPathSegmentError     byte = 0x04
	StatusPathDestUnknown      byte = 0x05
	StatusPartialTransfer      byte = 0x06
	StatusConnectionLost       byte = 0x07
	StatusServiceNotSupported  byte = 0x08
	StatusInvalidAttributeVal  byte = 0x09
	StatusAlreadyInRequestState byte = 0x0A
	StatusObjectStateConflict  byte = 0x0C
	StatusObjectAlreadyExists  byte = 0x0D
	StatusAttributeNotSettable byte = 0x0E
	StatusPrivilegeViolation   byte = 0x0F
	StatusDeviceStateConflict  byte = 0x10
	StatusReplyDataTooLarge    byte = 0x11
	StatusFragmentPrimitive    byte = 0x12
	StatusNotEnoughData        byte = 0x13
	StatusAttributeNotSupported byte = 0x14
	StatusTooMuchData          byte = 0x15
	StatusObjectDoesNotExist   byte = 0x16
	StatusFragmentedTransferNotSupported byte = 0x17
	StatusNoStoredAttributeData byte = 0x18
	StatusStoreOperationFailure byte = 0x19
	StatusRoutingFailureRequest byte = 0x1A
	StatusRoutingFailureResponse byte = 0x1B
	StatusInvalidReceivedData  byte = 0x1C
	StatusDuplicatedModifiedValue byte = 0x1D
	StatusInvalidSymbolicPath  byte = 0x1E
	StatusMemberNotSettable    byte = 0x1F
	StatusGeneralError         byte = 0xFF
)

// statusNames enumerates codes 0x01..0x1F verbatim; unlisted codes return
// "Unknown error" per the error handling design. This table must not be
// re-ordered or re-worded once published — it is part of the diagnostic
// surface callers depend on.
var statusNames = map[byte]string{
	StatusSuccess:                         "Success",
	StatusConnectionFailure:               "Connection failure",
	StatusResourceUnavailable:             "Resource unavailable",
	StatusInvalidParameterVal:             "Invalid parameter value",
	StatusPathSegmentError:                "Path segment error",
	StatusPathDestUnknown:                 "Path destination unknown",
	StatusPartialTransfer:                 "Partial transfer",
	StatusConnectionLost:                  "Connection lost",
	StatusServiceNotSupported:             "Service not supported",
	StatusInvalidAttributeVal:             "Invalid attribute value",
	StatusAlreadyInRequestState:           "Already in requested mode/state",
	StatusObjectStateConflict:             "Object state conflict",
	StatusObjectAlreadyExists:             "Object already exists",
	StatusAttributeNotSettable:            "Attribute not settable",
	StatusPrivilegeViolation:              "Privilege violation",
	StatusDeviceStateConflict:             "Device state conflict",
	StatusReplyDataTooLarge:               "Reply data too large",
	StatusFragmentPrimitive:               "Fragmentation of a primitive value",
	StatusNotEnoughData:                   "Not enough data",
	StatusAttributeNotSupported:           "Attribute not supported",
	StatusTooMuchData:                     "Too much data",
	StatusObjectDoesNotExist:              "Object does not exist",
	StatusFragmentedTransferNotSupported:  "Fragmented transfer not supported",
	StatusNoStoredAttributeData:           "No stored attribute data",
	StatusStoreOperationFailure:           "Store operation failure",
	StatusRoutingFailureRequest:           "Routing failure, request too large",
	StatusRoutingFailureResponse:          "Routing failure, response too large",
	StatusInvalidReceivedData:             "Invalid received data",
	StatusDuplicatedModifiedValue:         "Duplicate modified value",
	StatusInvalidSymbolicPath:             "Invalid symbolic path segment",
	StatusMemberNotSettable:               "Member not settable",
}

// StatusName returns the fixed human-readable message for a CIP general
// status code. Codes 0x01..0x1F are enumerated verbatim; all others
// (including 0xFF general errors distinguished only by extended status)
// return "Unknown error".
func StatusName(status byte) string {
	if name, ok := statusNames[status]; ok {
		return name
	}
	return "Unknown error"
}

// extStatusNames covers the AB/Logix extended status codes seen when
// GeneralStatus == StatusGeneralError or a vendor-specific extension applies.
var extStatusNames = map[uint16]string{
	0x2101: "Illegal data type",
	0x2104: "Tag does not exist",
	0x2105: "Tag is read only",
	0x2106: "Object is read only",
	0x2107: "Data/size too small",
	0x2108: "Data/size too large",
	0x2109: "Offset out of range",
	0x0100: "Connection in use",
	0x0103: "Transport class/trigger combination not supported",
	0x0106: "Ownership conflict",
	0x0107: "Connection not found",
	0x0108: "Invalid connection type",
	0x0109: "Invalid connection size",
	0x0110: "Module not found",
	0x0111: "Connection request refused",
	0x0203: "Connection timed out",
	0x0204: "Unconnected send timed out",
	0x0205: "Parameter error in unconnected send",
	0x0311: "Connection request failed",
	0x0312: "Connection request rejected",
	0xFF00: "Extended link error",
}

// ExtStatusName returns a human-readable name for an AB/Logix extended
// status word, or a generic fallback for unrecognized codes.
func ExtStatusName(extStatus uint16) string {
	if name, ok := extStatusNames[extStatus]; ok {
		return name
	}
	return fmt.Sprintf("Extended status 0x%04X", extStatus)
}

// statusKinds maps general status codes to the closed error-kind taxonomy.
// Codes not listed fall back to errs.KindProtocol (malformed/unexpected
// response for an otherwise well-formed request).
var statusKinds = map[byte]errs.Kind{
	StatusPathSegmentError:     errs.KindTag,
	StatusPathDestUnknown:      errs.KindTag,
	StatusObjectDoesNotExist:   errs.KindTag,
	StatusInvalidSymbolicPath:  errs.KindTag,
	StatusAttributeNotSettable: errs.KindPermission,
	StatusPrivilegeViolation:   errs.KindPermission,
	StatusConnectionFailure:    errs.KindConnection,
	StatusConnectionLost:       errs.KindConnection,
	StatusNotEnoughData:        errs.KindInvalidData,
	StatusTooMuchData:          errs.KindInvalidData,
	StatusInvalidReceivedData:  errs.KindInvalidData,
	StatusInvalidParameterVal:  errs.KindInvalidData,
	StatusInvalidAttributeVal:  errs.KindInvalidData,
}

// extStatusKinds overrides statusKinds for the AB/Logix extended codes that
// carry a more specific meaning than their general status (0xFF, general
// error, in practice).
var extStatusKinds = map[uint16]errs.Kind{
	0x2104: errs.KindTag,        // Tag does not exist
	0x2105: errs.KindPermission, // Tag is read only
	0x2106: errs.KindPermission, // Object is read only
	0x2101: errs.KindInvalidData,
	0x2107: errs.KindInvalidData,
	0x2108: errs.KindInvalidData,
	0x2109: errs.KindTag, // Offset out of range (bad subscript/bit index)
}

// StatusError builds a closed-taxonomy error from a CIP general status and
// optional extended status word, per the error handling design: Tag for
// path/subscript problems, Permission for access violations, InvalidData
// for payload-shape mismatches, Connection for transport-level failures,
// and Protocol for anything else unexpected.
func StatusError(status byte, extStatus uint16) error {
	kind, ok := extStatusKinds[extStatus]
	if !ok {
		kind, ok = statusKinds[status]
	}
	if !ok {
		kind = errs.KindProtocol
	}
	if extStatus != 0 {
		return errs.New(kind, "CIP error: %s (0x%02X), extended: %s (0x%04X)",
			StatusName(status), status, ExtStatusName(extStatus), extStatus)
	}
	return errs.New(kind, "CIP error: %s (0x%02X)", StatusName(status), status)
}
