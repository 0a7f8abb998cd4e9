// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A synthesizer turns one complete reply into one playable PCM clip. Backends
// with streaming APIs (such as the ElevenLabs WebSocket endpoint) collect
// their chunks internally; the pipeline wants a whole clip because playback
// progress and barge-in are tracked against a known total duration.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/cojovi/cmac-chat-module-win86/pkg/audio"
)

// MaxTextLen is the longest text a synthesizer accepts, in characters.
// Longer replies are rejected client-side; the pipeline degrades to
// text-only delivery instead.
const MaxTextLen = 5000

// Clip is one fully synthesised utterance.
type Clip struct {
	// Audio is the decoded PCM for the utterance.
	Audio audio.Buffer

	// Voice is the provider's identifier for the voice that spoke it.
	Voice string
}

// VoiceSettings are the provider-agnostic tuning knobs for a voice.
type VoiceSettings struct {
	// Stability trades consistency against expressiveness, in [0, 1].
	Stability float64

	// SimilarityBoost controls adherence to the original voice, in [0, 1].
	SimilarityBoost float64
}

// VoiceProfile describes one selectable voice. The JSON form is what session
// clients receive from a voice-list reply.
type VoiceProfile struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Category string            `json:"category,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// Synthesizer is the abstraction over any text-to-speech backend.
type Synthesizer interface {
	// Synthesize converts text into a playable clip using the backend's
	// configured voice. Errors carry a fault kind: transport failures and
	// timeouts are retryable, oversized or rejected text is not.
	Synthesize(ctx context.Context, text string) (Clip, error)
}

// VoiceLister is implemented by synthesizers whose catalogue of voices can be
// queried at runtime.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// VoiceConfigurator is implemented by synthesizers whose active voice can be
// re-tuned without rebuilding the provider.
type VoiceConfigurator interface {
	UpdateVoiceSettings(ctx context.Context, s VoiceSettings) error
}

// ConnectivityChecker is implemented by synthesizers that can reach their
// backing service without synthesising audio. Used by readiness checks.
type ConnectivityChecker interface {
	CheckConnectivity(ctx context.Context) error
}
