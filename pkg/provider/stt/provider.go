// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A transcriber takes one complete utterance, already wrapped in a WAV
// container, and returns its text. The pipeline records push-to-talk style,
// so batch transcription of whole utterances is the natural shape; providers
// with streaming APIs can still implement the interface by submitting the
// buffer in one call.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// MaxUploadBytes is the largest WAV payload a transcriber accepts. Requests
// above this limit are rejected client-side before any upload starts.
const MaxUploadBytes = 25 * 1024 * 1024

// Transcriber is the abstraction over any speech-to-text backend.
type Transcriber interface {
	// Transcribe submits a complete WAV-encoded utterance and returns the
	// recognised text, trimmed of leading and trailing whitespace. filename is
	// a hint for backends whose APIs infer the format from an upload name
	// (e.g. "voice_query.wav").
	//
	// Errors carry a fault kind: network and timeout failures are retryable,
	// a rejected or oversized payload is not.
	Transcribe(ctx context.Context, wav []byte, filename string) (string, error)
}

// ConnectivityChecker is implemented by transcribers that can probe their
// backing service without submitting audio. Used by readiness checks.
type ConnectivityChecker interface {
	CheckConnectivity(ctx context.Context) error
}
