// Package mock provides test doubles for the tts package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/tts"
)

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Clip is returned by Synthesize when Err and Script are unset.
	Clip tts.Clip

	// Err, if non-nil, is returned by every Synthesize call.
	Err error

	// Script, if non-empty, supplies per-call results consumed in order.
	// After the script runs out, Clip/Err apply again.
	Script []func(ctx context.Context, text string) (tts.Clip, error)

	// Voices is returned by ListVoices.
	Voices []tts.VoiceProfile

	// ConnectivityErr is returned by CheckConnectivity.
	ConnectivityErr error

	// Calls records every text passed to Synthesize.
	Calls []string

	// Settings records every value passed to UpdateVoiceSettings.
	Settings []tts.VoiceSettings
}

var (
	_ tts.Synthesizer         = (*Synthesizer)(nil)
	_ tts.VoiceLister         = (*Synthesizer)(nil)
	_ tts.VoiceConfigurator   = (*Synthesizer)(nil)
	_ tts.ConnectivityChecker = (*Synthesizer)(nil)
)

// Synthesize records the call and returns the scripted or fixed result.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (tts.Clip, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, text)
	var fn func(ctx context.Context, text string) (tts.Clip, error)
	if len(s.Script) > 0 {
		fn = s.Script[0]
		s.Script = s.Script[1:]
	}
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if s.Err != nil {
		return tts.Clip{}, s.Err
	}
	return s.Clip, nil
}

// ListVoices returns Voices.
func (s *Synthesizer) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return s.Voices, nil
}

// UpdateVoiceSettings records the new settings.
func (s *Synthesizer) UpdateVoiceSettings(ctx context.Context, vs tts.VoiceSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Settings = append(s.Settings, vs)
	return nil
}

// CheckConnectivity returns ConnectivityErr.
func (s *Synthesizer) CheckConnectivity(ctx context.Context) error {
	return s.ConnectivityErr
}

// CallCount returns the number of recorded Synthesize calls. Thread-safe.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = nil
	s.Settings = nil
}
