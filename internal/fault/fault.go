// Package fault defines the typed error kinds shared across the voice query
// pipeline. Every error that crosses a package boundary is classified into a
// [Kind] so the orchestrator can decide between retrying, degrading, and
// failing the query, and so the presentation layer can render a specific,
// actionable message instead of a raw error string.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline error.
type Kind int

const (
	// KindUnknown is the zero value for errors that were never classified.
	KindUnknown Kind = iota

	// KindDeviceUnavailable means the capture or playback device is busy,
	// absent, or permission was denied.
	KindDeviceUnavailable

	// KindFormat means an audio container or sample format was malformed or
	// unsupported.
	KindFormat

	// KindEmptyCapture means a capture session was stopped with no buffered
	// audio.
	KindEmptyCapture

	// KindNetwork means a remote call failed at the transport level. Retryable.
	KindNetwork

	// KindTimeout means a remote call exceeded its deadline. Retryable.
	KindTimeout

	// KindService means the remote service rejected the request (auth failure,
	// quota exceeded, payload too large, text too long). Not retryable.
	KindService

	// KindState means an operation was illegal for the pipeline's current
	// state, e.g. beginning a capture while one is already running.
	KindState
)

// String returns the stable machine-readable name of the kind. These names
// appear in emitted events and metric attributes.
func (k Kind) String() string {
	switch k {
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindFormat:
		return "format"
	case KindEmptyCapture:
		return "empty_capture"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindService:
		return "service"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// Retryable reports whether errors of this kind may succeed on a later
// attempt. Only transport-level failures qualify; service rejections and
// local errors never do.
func (k Kind) Retryable() bool {
	return k == KindNetwork || k == KindTimeout
}

// Error is a classified pipeline error. Message holds the user-presentable
// description; Err holds the underlying cause for logs and is never shown to
// the end user.
type Error struct {
	Kind    Kind
	Op      string // originating operation, e.g. "whisper.transcribe"
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a user-presentable message.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. A nil err yields nil so call sites can
// wrap unconditionally.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WrapMsg classifies an underlying error and attaches a user-presentable
// message. A nil err yields nil.
func WrapMsg(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf extracts the [Kind] from err, walking the wrap chain. Context
// deadline errors classify as [KindTimeout] even when unwrapped; everything
// else unclassified reports [KindUnknown].
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Retryable reports whether err may succeed on a later attempt.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}

// UserMessage returns the most specific user-presentable message in the wrap
// chain, or fallback when none was recorded. Underlying causes are
// deliberately excluded; they belong in logs only.
func UserMessage(err error, fallback string) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	return fallback
}
