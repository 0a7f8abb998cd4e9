package config

import (
	"testing"
	"time"
)

func baseConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Providers.STT.Name = "whisper"
	cfg.Providers.LLM.Name = "ollama"
	cfg.Providers.TTS.Name = "elevenlabs"
	cfg.Providers.TTS.Voice = "voice-a"
	cfg.Conversation.SystemPrompt = "You are helpful."
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	old := baseConfig()
	new := baseConfig()

	d := Diff(old, new)
	if d.Any() {
		t.Errorf("diff = %+v, want no changes", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = LogDebug

	d := Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Errorf("diff = %+v", d)
	}
}

func TestDiff_SystemPrompt(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Conversation.SystemPrompt = "You are terse."

	d := Diff(old, new)
	if !d.SystemPromptChanged || d.NewSystemPrompt != "You are terse." {
		t.Errorf("diff = %+v", d)
	}
	if d.LogLevelChanged || d.VoiceChanged {
		t.Errorf("unrelated fields flagged: %+v", d)
	}
}

func TestDiff_Voice(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Providers.TTS.Voice = "voice-b"

	if d := Diff(old, new); !d.VoiceChanged {
		t.Errorf("diff = %+v, want VoiceChanged", d)
	}

	new = baseConfig()
	new.Providers.TTS.Model = "eleven_turbo_v2_5"
	if d := Diff(old, new); !d.VoiceChanged {
		t.Errorf("diff = %+v, want VoiceChanged on model change", d)
	}
}

func TestDiff_Retry(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Retry.MaxDelay = Duration(42 * time.Second)

	if d := Diff(old, new); !d.RetryChanged {
		t.Errorf("diff = %+v, want RetryChanged", d)
	}
}
