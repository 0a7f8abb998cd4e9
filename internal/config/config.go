// Package config provides the configuration schema, loader, and provider
// registry for the voice query pipeline.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cojovi/cmac-chat-module-win86/internal/resilience"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration is a [time.Duration] that unmarshals from YAML strings like
// "30s" or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Audio        AudioConfig        `yaml:"audio"`
	Conversation ConversationConfig `yaml:"conversation"`
	Retry        RetryConfig        `yaml:"retry"`
	Timeouts     TimeoutsConfig     `yaml:"timeouts"`
}

// ServerConfig holds network and logging settings for the server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "whisper", "openwebui", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "llama3.2", "eleven_flash_v2_5").
	Model string `yaml:"model"`

	// Voice is the provider-specific voice identifier for speech synthesis.
	// Ignored by STT and LLM providers.
	Voice string `yaml:"voice"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above. Values may be strings, numbers, booleans,
	// or nested maps.
	Options map[string]any `yaml:"options"`
}

// AudioConfig holds the capture format and recording limits.
type AudioConfig struct {
	// SampleRate is the target capture sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the target channel count (1 for mono, 2 for stereo).
	Channels int `yaml:"channels"`

	// BitDepth is the target PCM bit depth (8 or 16).
	BitDepth int `yaml:"bit_depth"`

	// MaxCaptureDuration caps how long a single recording may run before it
	// is stopped automatically.
	MaxCaptureDuration Duration `yaml:"max_capture_duration"`
}

// ConversationConfig holds settings for the rolling conversation history.
type ConversationConfig struct {
	// SystemPrompt is the pinned instruction message sent with every
	// completion request. Never evicted from the history.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxTurns caps how many non-system messages are retained. Older
	// messages are evicted first.
	MaxTurns int `yaml:"max_turns"`

	// WindowChars caps the total character budget of history sent to the
	// language model. Zero means no character limit.
	WindowChars int `yaml:"window_chars"`
}

// RetryConfig controls retry behaviour for provider calls.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the wait before the first retry.
	BaseDelay Duration `yaml:"base_delay"`

	// Multiplier scales the delay after each failed attempt.
	Multiplier float64 `yaml:"multiplier"`

	// MaxDelay caps the backoff delay.
	MaxDelay Duration `yaml:"max_delay"`
}

// Policy converts r into a [resilience.Policy].
func (r RetryConfig) Policy() resilience.Policy {
	return resilience.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay.Std(),
		Multiplier:  r.Multiplier,
		MaxDelay:    r.MaxDelay.Std(),
	}
}

// TimeoutsConfig holds per-stage deadlines for provider calls. Each deadline
// covers all retry attempts of its stage.
type TimeoutsConfig struct {
	Transcribe Duration `yaml:"transcribe"`
	Complete   Duration `yaml:"complete"`
	Synthesize Duration `yaml:"synthesize"`
}

// Default values applied by [ApplyDefaults] when the corresponding field is
// left zero in the YAML file.
const (
	DefaultListenAddr         = ":8080"
	DefaultSampleRate         = 16000
	DefaultChannels           = 1
	DefaultBitDepth           = 16
	DefaultMaxCaptureDuration = Duration(60 * time.Second)
	DefaultMaxTurns           = 20
	DefaultTranscribeTimeout  = Duration(30 * time.Second)
	DefaultCompleteTimeout    = Duration(60 * time.Second)
	DefaultSynthesizeTimeout  = Duration(30 * time.Second)
)

// ApplyDefaults fills in zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = DefaultSampleRate
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = DefaultChannels
	}
	if c.Audio.BitDepth == 0 {
		c.Audio.BitDepth = DefaultBitDepth
	}
	if c.Audio.MaxCaptureDuration == 0 {
		c.Audio.MaxCaptureDuration = DefaultMaxCaptureDuration
	}
	if c.Conversation.MaxTurns == 0 {
		c.Conversation.MaxTurns = DefaultMaxTurns
	}
	if c.Retry.MaxAttempts == 0 {
		def := resilience.DefaultPolicy()
		c.Retry.MaxAttempts = def.MaxAttempts
		c.Retry.BaseDelay = Duration(def.BaseDelay)
		c.Retry.Multiplier = def.Multiplier
		c.Retry.MaxDelay = Duration(def.MaxDelay)
	}
	if c.Timeouts.Transcribe == 0 {
		c.Timeouts.Transcribe = DefaultTranscribeTimeout
	}
	if c.Timeouts.Complete == 0 {
		c.Timeouts.Complete = DefaultCompleteTimeout
	}
	if c.Timeouts.Synthesize == 0 {
		c.Timeouts.Synthesize = DefaultSynthesizeTimeout
	}
}
