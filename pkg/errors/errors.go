// Package errors defines the closed error taxonomy shared by every objstore
// transport. Adapters translate their native failure signals (HTTP status
// codes, gRPC status codes, connection faults) into *Error values so callers
// can branch on Kind without knowing which protocol was in use.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a failure. The set is closed.
type Kind int

const (
	// Server is the fallback kind for any failure reported by the remote
	// service that has no more specific mapping.
	Server Kind = iota
	// NotFound means the addressed object or policy does not exist.
	NotFound
	// Validation means the request was rejected as malformed, locally or remotely.
	Validation
	// Authentication means the caller's credentials were missing or rejected.
	Authentication
	// Connection means the transport could not reach or lost the service.
	Connection
	// Timeout means the per-call deadline elapsed.
	Timeout
	// Unsupported means the capability is structurally absent on this path.
	Unsupported
)

var kindNames = [...]string{
	Server:         "Server",
	NotFound:       "NotFound",
	Validation:     "Validation",
	Authentication: "Authentication",
	Connection:     "Connection",
	Timeout:        "Timeout",
	Unsupported:    "Unsupported",
}

// String returns the kind's name.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Kinds lists every taxonomy kind in declaration order.
func Kinds() []Kind {
	return []Kind{Server, NotFound, Validation, Authentication, Connection, Timeout, Unsupported}
}

// Error is a normalized objstore failure.
type Error struct {
	// Kind is the taxonomy category.
	Kind Kind
	// Message is a human-readable description.
	Message string
	// Code is the protocol-native status (HTTP status or gRPC code).
	// Zero when the failure never reached the service.
	Code int
	// Op is the façade operation that failed, when known.
	Op string
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Op != "" && e.Code != 0:
		return fmt.Sprintf("objstore %s: %s (%d): %s", e.Op, e.Kind, e.Code, msg)
	case e.Op != "":
		return fmt.Sprintf("objstore %s: %s: %s", e.Op, e.Kind, msg)
	case e.Code != 0:
		return fmt.Sprintf("objstore: %s (%d): %s", e.Kind, e.Code, msg)
	default:
		return fmt.Sprintf("objstore: %s: %s", e.Kind, msg)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind. Sentinels carry
// no message, so errors.Is(err, ErrNotFound) matches any NotFound failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// WithOp returns a copy of e tagged with the operation name.
func (e *Error) WithOp(op string) *Error {
	cp := *e
	cp.Op = op
	return &cp
}

// Sentinels for errors.Is comparisons, one per kind.
var (
	ErrNotFound       = &Error{Kind: NotFound}
	ErrValidation     = &Error{Kind: Validation}
	ErrAuthentication = &Error{Kind: Authentication}
	ErrServer         = &Error{Kind: Server}
	ErrConnection     = &Error{Kind: Connection}
	ErrTimeout        = &Error{Kind: Timeout}
	ErrUnsupported    = &Error{Kind: Unsupported}
)

// New returns an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf returns an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// WithCode returns an *Error carrying a protocol-native status.
func WithCode(kind Kind, code int, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the taxonomy kind of err. Errors that were never
// normalized report Server.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Server
}

// IsRetryable reports whether err is a transient Connection or Timeout failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	return k == Connection || k == Timeout
}

// Normalize returns err as an *Error, wrapping foreign errors as Server.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return Wrap(Server, err, "")
}
