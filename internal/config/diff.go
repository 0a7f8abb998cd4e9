package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SystemPromptChanged is true when conversation.system_prompt changed.
	// The pipeline re-pins the prompt without dropping history.
	SystemPromptChanged bool
	NewSystemPrompt     string

	// VoiceChanged is true when the TTS voice or model selection changed.
	VoiceChanged bool

	// RetryChanged is true when any retry field changed. NewRetry carries the
	// full new retry block.
	RetryChanged bool
	NewRetry     RetryConfig
}

// Any reports whether d records at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.SystemPromptChanged || d.VoiceChanged || d.RetryChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Conversation.SystemPrompt != new.Conversation.SystemPrompt {
		d.SystemPromptChanged = true
		d.NewSystemPrompt = new.Conversation.SystemPrompt
	}

	if old.Providers.TTS.Voice != new.Providers.TTS.Voice ||
		old.Providers.TTS.Model != new.Providers.TTS.Model {
		d.VoiceChanged = true
	}

	if old.Retry != new.Retry {
		d.RetryChanged = true
		d.NewRetry = new.Retry
	}

	return d
}
