// Package ircerr defines the error kinds shared by the connection loop,
// protocol drivers and relay manager. Every driver call and IO
// loop failure resolves to one of these via errors.Cause so the caller can
// decide disconnect/reconnect/drop/log without a manual type switch at
// every call site.
package ircerr

import "github.com/pkg/errors"

// Kind classifies a failure by how the caller should recover from it.
type Kind int

const (
	// KindProtocol is fatal for the owning connection: bad recvpass, a
	// missing required capability, an unparseable handshake line, or an
	// ERROR line from the uplink.
	KindProtocol Kind = iota
	// KindTransientIO covers TCP/TLS read-write failures and ping timeouts.
	KindTransientIO
	// KindInvalidSource means the caller tried to act as an entity we
	// don't own; logged and dropped, never propagated to the IO loop.
	KindInvalidSource
	// KindUnknownTarget means the outgoing call's target doesn't exist;
	// dropped silently.
	KindUnknownTarget
	// KindNotImplemented is for unsupported UpdateClient fields etc.
	KindNotImplemented
	// KindParse is raised inside a hook handler; logged, chain continues.
	KindParse
	// KindIDExhausted is fatal for the whole process.
	KindIDExhausted
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "ProtocolError"
	case KindTransientIO:
		return "TransientIOError"
	case KindInvalidSource:
		return "InvalidSource"
	case KindUnknownTarget:
		return "UnknownTarget"
	case KindNotImplemented:
		return "NotImplemented"
	case KindParse:
		return "ParseError"
	case KindIDExhausted:
		return "IDExhausted"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carrying a Kind plus context.
type Error struct {
	Kind    Kind
	Network string
	cause   error
}

func (e *Error) Error() string {
	if e.Network != "" {
		return e.Kind.String() + "[" + e.Network + "]: " + e.cause.Error()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// New wraps msg as the given Kind, attributed to network (may be "").
func New(kind Kind, network string, msg string) error {
	return &Error{Kind: kind, Network: network, cause: errors.New(msg)}
}

// Wrap attaches a Kind to an existing error, preserving its chain.
func Wrap(kind Kind, network string, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Network: network, cause: errors.Wrap(err, msg)}
}

// Is reports whether err (or something it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		err = errors.Unwrap(err)
	}
	return e != nil && e.Kind == k
}

// Fatal reports whether a Kind terminates the owning connection/process
// rather than being dropped/logged in place.
func Fatal(k Kind) bool {
	switch k {
	case KindProtocol, KindTransientIO, KindIDExhausted:
		return true
	default:
		return false
	}
}
