// Package errs defines the error taxonomy shared by the decoder, connection and client.
//
// Errors fall into three kinds: connection-level (peer closed, idle timeout, I/O
// failure), framing-level (the response stream can no longer be parsed) and
// resolution-level (the endpoint cannot be resolved). Callers match on the sentinel
// values with errors.Is, or on the kind with KindOf.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the layer that produced it.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnection
	KindFraming
	KindResolution
	KindUsage
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindFraming:
		return "framing"
	case KindResolution:
		return "resolution"
	case KindUsage:
		return "usage"
	default:
		return "unknown"
	}
}

// sentinel carries its kind so that wrapped sentinels can still be classified.
type sentinel struct {
	kind Kind
	msg  string
}

func (s *sentinel) Error() string { return s.msg }

func newSentinel(kind Kind, msg string) error {
	return &sentinel{kind: kind, msg: msg}
}

// Connection-level.
var (
	ErrConnectionClosed = newSentinel(KindConnection, "connection closed unexpectedly")
	ErrIdleTimeout      = newSentinel(KindConnection, "idle timeout")
	ErrTransport        = newSentinel(KindConnection, "transport failure")
	ErrBodyAbandoned    = newSentinel(KindConnection, "response body abandoned")
	ErrConnectionBroken = newSentinel(KindConnection, "connection is broken")
)

// Framing-level.
var (
	ErrParseStatus          = newSentinel(KindFraming, "malformed status line")
	ErrHeaderParse          = newSentinel(KindFraming, "malformed header line")
	ErrInvalidContentLength = newSentinel(KindFraming, "invalid content-length")
	ErrInvalidChunkSize     = newSentinel(KindFraming, "invalid chunk size")
	ErrTruncatedChunk       = newSentinel(KindFraming, "truncated chunk")
	ErrMalformedChunk       = newSentinel(KindFraming, "malformed chunk framing")
	ErrUnexpectedEOF        = newSentinel(KindFraming, "unexpected end of stream")
	ErrLineTooLong          = newSentinel(KindFraming, "line too long")
)

// Resolution-level.
var (
	ErrResolve = newSentinel(KindResolution, "cannot resolve endpoint")
)

// Usage errors are raised before anything touches the network.
var (
	ErrUnsupportedScheme = newSentinel(KindUsage, "unsupported URL scheme")
	ErrInvalidHeader     = newSentinel(KindUsage, "invalid request header")
	ErrInvalidRequest    = newSentinel(KindUsage, "invalid request")
)

// Error decorates a sentinel with the failing operation and an optional cause.
type Error struct {
	Op    string
	Err   error // sentinel
	Cause error // underlying error, may be nil
}

// New builds an *Error for op. cause may be nil.
func New(op string, sentinel error, cause error) *Error {
	return &Error{Op: op, Err: sentinel, Cause: cause}
}

// Errorf builds an *Error whose cause is a formatted message.
func Errorf(op string, sentinel error, format string, args ...interface{}) *Error {
	return &Error{Op: op, Err: sentinel, Cause: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Kind reports the kind of the wrapped sentinel.
func (e *Error) Kind() Kind {
	return KindOf(e.Err)
}

// KindOf walks the error chain and returns the kind of the first taxonomy error found.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var s *sentinel
	if errors.As(err, &s) {
		return s.kind
	}
	return KindUnknown
}

// IsFraming reports whether err means the response stream is no longer parseable.
func IsFraming(err error) bool {
	return KindOf(err) == KindFraming
}

// IsRecoverable reports whether the client may transparently retry on a fresh connection.
// ErrConnectionBroken qualifies because it is raised before any byte is written.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrConnectionClosed) || errors.Is(err, ErrConnectionBroken)
}
