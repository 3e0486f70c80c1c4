// Package errs defines the closed set of error kinds surfaced by the client.
package errs

import "fmt"

// Kind is a closed taxonomy of failure categories. Callers branch on Kind via
// errors.Is(err, Sentinel(kind)) or OfKind, not on error message text.
type Kind string

const (
	KindIO             Kind = "io"             // TCP-level failure
	KindConnection     Kind = "connection"      // register failure, controller unreachable
	KindSession        Kind = "session"         // bad handle, wrong protocol phase
	KindTag            Kind = "tag"             // path parse failure, bit index out of range
	KindUdt            Kind = "udt"             // missing template, member type mismatch
	KindTimeout        Kind = "timeout"
	KindInvalidData    Kind = "invalid_data"    // decoder could not parse payload for a valid status
	KindProtocol       Kind = "protocol"        // malformed ENIP/CIP framing
	KindConfiguration  Kind = "configuration"   // construction-time failure
	KindResource       Kind = "resource"         // pool exhausted, channel closed
	KindAuthentication Kind = "authentication"
	KindPermission     Kind = "permission"
)

// Error carries a Kind alongside a human-readable message and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, errs.Sentinel(errs.KindTag)) style matching: any
// *Error target matches when its Kind equals e's Kind.
func (e *Error) Is(target error) bool {
	if k, ok := target.(*Error); ok {
		return e.Kind == k.Kind
	}
	return false
}

// New constructs an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind around a cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Sentinel returns a comparison target for errors.Is(err, errs.Sentinel(KindTag)).
func Sentinel(kind Kind) error { return &Error{Kind: kind} }

// OfKind reports whether err carries the given Kind.
func OfKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
