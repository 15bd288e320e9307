// Package mediaerr defines the error taxonomy shared by every component of
// the playback engine, mirroring the exception kinds the Media Source
// Extensions and HTMLMediaElement specifications raise.
package mediaerr

import "fmt"

// Kind identifies which part of the taxonomy an error belongs to.
type Kind int

// Error kinds, matching the categories a real browser implementation raises.
const (
	// InvalidState covers operations attempted in the wrong lifecycle state:
	// a removed source buffer, a concurrent update, a wrong readyState.
	InvalidState Kind = iota
	// UnsupportedType covers an empty or unrecognized MIME/codec string, or
	// no further source buffers being accepted.
	UnsupportedType
	// Quota covers resource exhaustion (buffer size limits).
	Quota
	// TypeError covers malformed arguments: NaN/negative duration, an
	// invalid remove range.
	TypeError
	// ParseError covers a byte stream that violates the fragmented MP4
	// format.
	ParseError
	// InitError covers a missing/unsupported/mismatched initialization
	// segment.
	InitError
	// DecodeError covers an asynchronous decoder failure.
	DecodeError
	// AbortError covers a superseded operation: pause() during a pending
	// play(), or a seek preempted by a later seek.
	AbortError
)

// String returns the taxonomy name, matching DOMException-style naming.
func (k Kind) String() string {
	switch k {
	case InvalidState:
		return "InvalidStateError"
	case UnsupportedType:
		return "NotSupportedError"
	case Quota:
		return "QuotaExceededError"
	case TypeError:
		return "TypeError"
	case ParseError:
		return "ParseError"
	case InitError:
		return "InitError"
	case DecodeError:
		return "DecodeError"
	case AbortError:
		return "AbortError"
	default:
		return "UnknownError"
	}
}

// Error is a structured error carrying a taxonomy Kind, a message, and an
// optional wrapped cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

// New creates an *Error with the given kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap creates an *Error with the given kind, message, and cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target has the same Kind, allowing errors.Is(err,
// mediaerr.New(mediaerr.InvalidState, "")) style kind checks.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}
