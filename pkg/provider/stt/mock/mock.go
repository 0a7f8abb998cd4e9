// Package mock provides test doubles for the stt package interfaces.
//
// Pre-populate Text (or Err) with the result the consumer should receive,
// then inspect Calls to verify what was uploaded.
package mock

import (
	"context"
	"sync"

	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// WAV is the payload passed to Transcribe.
	WAV []byte
	// Filename is the upload name hint passed to Transcribe.
	Filename string
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by Transcribe when Err and Script are unset.
	Text string

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Script, if non-empty, supplies per-call results consumed in order.
	// After the script runs out, Text/Err apply again.
	Script []func(ctx context.Context, wav []byte) (string, error)

	// ConnectivityErr is returned by CheckConnectivity.
	ConnectivityErr error

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

var (
	_ stt.Transcriber         = (*Transcriber)(nil)
	_ stt.ConnectivityChecker = (*Transcriber)(nil)
)

// Transcribe records the call and returns the scripted or fixed result.
func (t *Transcriber) Transcribe(ctx context.Context, wav []byte, filename string) (string, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, TranscribeCall{WAV: wav, Filename: filename})
	var fn func(ctx context.Context, wav []byte) (string, error)
	if len(t.Script) > 0 {
		fn = t.Script[0]
		t.Script = t.Script[1:]
	}
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, wav)
	}
	if t.Err != nil {
		return "", t.Err
	}
	return t.Text, nil
}

// CheckConnectivity returns ConnectivityErr.
func (t *Transcriber) CheckConnectivity(ctx context.Context) error {
	return t.ConnectivityErr
}

// CallCount returns the number of recorded Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
}
