// Package elevenlabs provides an ElevenLabs-backed Synthesizer using the
// streaming WebSocket API (stream-input). The stream's PCM chunks are
// collected into a single clip, since the caller plays one reply at a time.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio"
	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/tts"
)

const (
	defaultAPIBase   = "https://api.elevenlabs.io"
	defaultWSBase    = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Compile-time assertions for the tts interfaces.
var (
	_ tts.Synthesizer         = (*Synthesizer)(nil)
	_ tts.VoiceLister         = (*Synthesizer)(nil)
	_ tts.VoiceConfigurator   = (*Synthesizer)(nil)
	_ tts.ConnectivityChecker = (*Synthesizer)(nil)
)

// Option is a functional option for configuring a Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the ElevenLabs model ID (e.g. "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(s *Synthesizer) { s.model = model }
}

// WithOutputFormat sets the audio output format (e.g. "pcm_16000",
// "pcm_24000"). Only PCM formats are supported.
func WithOutputFormat(format string) Option {
	return func(s *Synthesizer) { s.outputFormat = format }
}

// WithVoiceSettings sets the initial stability and similarity tuning.
// Defaults to 0.5 / 0.75.
func WithVoiceSettings(vs tts.VoiceSettings) Option {
	return func(s *Synthesizer) { s.settings = vs }
}

// WithAPIBase overrides the HTTPS API endpoint. Used in tests.
func WithAPIBase(base string) Option {
	return func(s *Synthesizer) { s.apiBase = strings.TrimRight(base, "/") }
}

// WithWSBase overrides the WebSocket endpoint. Used in tests; http:// URLs
// are accepted and upgraded by the dialer.
func WithWSBase(base string) Option {
	return func(s *Synthesizer) { s.wsBase = strings.TrimRight(base, "/") }
}

// Synthesizer implements tts.Synthesizer against the ElevenLabs API.
type Synthesizer struct {
	apiKey       string
	voiceID      string
	model        string
	outputFormat string
	apiBase      string
	wsBase       string
	httpClient   *http.Client

	mu       sync.Mutex
	settings tts.VoiceSettings
}

// New creates a Synthesizer speaking with the given voice. apiKey and voiceID
// must be non-empty.
func New(apiKey, voiceID string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	s := &Synthesizer{
		apiKey:       apiKey,
		voiceID:      voiceID,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		apiBase:      defaultAPIBase,
		wsBase:       defaultWSBase,
		settings:     tts.VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	if _, err := pcmSampleRate(s.outputFormat); err != nil {
		return nil, err
	}
	return s, nil
}

// ---- WebSocket message types ----

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// boiMessage is the initial "begin of input" handshake frame.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// textMessage carries one text fragment; an empty Text flushes the stream.
type textMessage struct {
	Text string `json:"text"`
}

// audioResponse is a frame received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// Synthesize opens a stream-input WebSocket, submits the whole text, and
// collects the emitted PCM chunks into one clip. Text over [tts.MaxTextLen]
// characters is rejected without opening a connection.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (tts.Clip, error) {
	const op = "tts.synthesize"

	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Clip{}, fault.New(fault.KindService, op, "there is no text to speak")
	}
	if len(text) > tts.MaxTextLen {
		return tts.Clip{}, fault.Newf(fault.KindService, op,
			"reply is too long to speak (%d characters, limit %d)", len(text), tts.MaxTextLen)
	}

	rate, err := pcmSampleRate(s.outputFormat)
	if err != nil {
		return tts.Clip{}, err
	}

	wsURL := fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?model_id=%s", s.wsBase, s.voiceID, s.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return tts.Clip{}, classifyTransport(op, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	conn.SetReadLimit(1 << 24)

	s.mu.Lock()
	settings := s.settings
	s.mu.Unlock()

	// BOI frame authenticates and configures the stream. ElevenLabs requires
	// a non-empty first text value.
	boi := boiMessage{
		Text: " ",
		VoiceSettings: &voiceSettings{
			Stability:       settings.Stability,
			SimilarityBoost: settings.SimilarityBoost,
		},
		XiAPIKey:     s.apiKey,
		OutputFormat: s.outputFormat,
	}
	if err := writeJSON(ctx, conn, boi); err != nil {
		return tts.Clip{}, classifyTransport(op, err)
	}
	if err := writeJSON(ctx, conn, textMessage{Text: text + " "}); err != nil {
		return tts.Clip{}, classifyTransport(op, err)
	}
	// Empty text flushes and ends the stream.
	if err := writeJSON(ctx, conn, textMessage{}); err != nil {
		return tts.Clip{}, classifyTransport(op, err)
	}

	var pcm bytes.Buffer
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			// Normal closure after the final frame just ends collection.
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if pcm.Len() > 0 && errors.Is(err, context.Canceled) {
				break
			}
			return tts.Clip{}, classifyTransport(op, err)
		}

		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Message != "" && resp.Audio == "" && !resp.IsFinal {
			return tts.Clip{}, fault.Newf(fault.KindService, op, "speech synthesis failed: %s", resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return tts.Clip{}, fault.WrapMsg(fault.KindService, op, "speech service sent unreadable audio", err)
			}
			pcm.Write(chunk)
		}
		if resp.IsFinal {
			break
		}
	}

	if pcm.Len() == 0 {
		return tts.Clip{}, fault.New(fault.KindService, op, "speech service produced no audio")
	}

	return tts.Clip{
		Audio: audio.Buffer{
			Data:   pcm.Bytes(),
			Format: audio.Format{SampleRate: rate, Channels: 1, BitsPerSample: 16},
		},
		Voice: s.voiceID,
	}, nil
}

// ---- HTTP endpoints ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []struct {
		VoiceID  string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// ListVoices returns the voices available to the configured API key.
func (s *Synthesizer) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	const op = "tts.voices"

	resp, err := s.doJSON(ctx, http.MethodGet, "/v1/voices", nil)
	if err != nil {
		return nil, classifyTransport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(op, resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fault.WrapMsg(fault.KindService, op, "speech service returned an unreadable voice list", err)
	}

	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Category: v.Category,
			Labels:   v.Labels,
		})
	}
	return profiles, nil
}

// UpdateVoiceSettings re-tunes the active voice. The new settings also apply
// to subsequent Synthesize calls.
func (s *Synthesizer) UpdateVoiceSettings(ctx context.Context, vs tts.VoiceSettings) error {
	const op = "tts.voice_settings"

	body, _ := json.Marshal(voiceSettings{
		Stability:       vs.Stability,
		SimilarityBoost: vs.SimilarityBoost,
	})
	resp, err := s.doJSON(ctx, http.MethodPost, "/v1/voices/"+s.voiceID+"/settings/edit", body)
	if err != nil {
		return classifyTransport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(op, resp.StatusCode)
	}
	s.mu.Lock()
	s.settings = vs
	s.mu.Unlock()
	return nil
}

// CheckConnectivity verifies the API key against the user endpoint.
func (s *Synthesizer) CheckConnectivity(ctx context.Context) error {
	const op = "tts.connectivity"

	resp, err := s.doJSON(ctx, http.MethodGet, "/v1/user", nil)
	if err != nil {
		return classifyTransport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(op, resp.StatusCode)
	}
	return nil
}

// doJSON issues an authenticated request against the HTTP API.
func (s *Synthesizer) doJSON(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rd *bytes.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.apiBase+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.httpClient.Do(req)
}

// ---- helpers ----

// pcmSampleRate extracts the sample rate from a pcm_<rate> output format.
func pcmSampleRate(format string) (int, error) {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fault.Newf(fault.KindFormat, "tts.config", "output format %q is not PCM", format)
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, fault.Newf(fault.KindFormat, "tts.config", "output format %q has no valid sample rate", format)
	}
	return rate, nil
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// classifyTransport maps a transport-level error to a fault kind.
func classifyTransport(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.WrapMsg(fault.KindTimeout, op, "speech service timed out", err)
	}
	return fault.WrapMsg(fault.KindNetwork, op, "speech service is unreachable", err)
}

// classifyStatus maps a non-200 HTTP status to a fault kind.
func classifyStatus(op string, code int) error {
	switch {
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return fault.Newf(fault.KindNetwork, op, "speech service is temporarily unavailable (HTTP %d)", code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fault.Newf(fault.KindService, op, "speech service rejected the API key (HTTP %d)", code)
	default:
		return fault.Newf(fault.KindService, op, "speech service rejected the request (HTTP %d)", code)
	}
}
