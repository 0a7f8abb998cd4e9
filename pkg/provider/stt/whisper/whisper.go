// Package whisper provides a Transcriber backed by a whisper-server instance
// (the whisper.cpp REST frontend, POST /inference) or any API-compatible
// transcription endpoint.
//
// Usage:
//
//	t, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	)
//	text, err := t.Transcribe(ctx, wavBytes, "voice_query.wav")
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/stt"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
)

// Compile-time assertions for the stt interfaces.
var (
	_ stt.Transcriber         = (*Transcriber)(nil)
	_ stt.ConnectivityChecker = (*Transcriber)(nil)
)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithModel sets the model identifier forwarded to the server (e.g.
// "base.en", "small"). When empty the server uses whichever model it was
// started with, which is the default.
func WithModel(model string) Option {
	return func(t *Transcriber) { t.model = model }
}

// WithLanguage sets the BCP-47 language code sent with each request
// (e.g. "en", "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// WithAPIKey sets a bearer token attached to every request. Needed for
// hosted OpenAI-compatible endpoints; local whisper-server ignores it.
func WithAPIKey(key string) Option {
	return func(t *Transcriber) { t.apiKey = key }
}

// WithHTTPClient replaces the default HTTP client (30 s timeout). Useful for
// tests and for callers that manage their own transport.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) { t.httpClient = c }
}

// Transcriber implements stt.Transcriber against a whisper-server HTTP API.
type Transcriber struct {
	serverURL  string
	model      string
	language   string
	apiKey     string
	httpClient *http.Client
}

// New creates a Transcriber for the whisper-server at serverURL
// (e.g. "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Transcriber, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	t := &Transcriber{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe uploads the WAV payload as multipart/form-data to /inference and
// returns the transcribed text. Payloads over [stt.MaxUploadBytes] are
// rejected without contacting the server.
func (t *Transcriber) Transcribe(ctx context.Context, wav []byte, filename string) (string, error) {
	const op = "stt.transcribe"

	if len(wav) == 0 {
		return "", fault.New(fault.KindEmptyCapture, op, "no audio was recorded")
	}
	if len(wav) > stt.MaxUploadBytes {
		return "", fault.Newf(fault.KindService, op,
			"recording is too large to transcribe (%d bytes, limit %d)", len(wav), stt.MaxUploadBytes)
	}
	if filename == "" {
		filename = "audio.wav"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fault.Wrap(fault.KindUnknown, op, err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fault.Wrap(fault.KindUnknown, op, err)
	}
	if t.language != "" {
		if err := mw.WriteField("language", t.language); err != nil {
			return "", fault.Wrap(fault.KindUnknown, op, err)
		}
	}
	if t.model != "" {
		if err := mw.WriteField("model", t.model); err != nil {
			return "", fault.Wrap(fault.KindUnknown, op, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fault.Wrap(fault.KindUnknown, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.serverURL+"/inference", &body)
	if err != nil {
		return "", fault.Wrap(fault.KindUnknown, op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", classifyTransport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(op, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fault.WrapMsg(fault.KindNetwork, op, "speech service connection was interrupted", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fault.WrapMsg(fault.KindService, op, "speech service returned an unreadable response", err)
	}

	return strings.TrimSpace(result.Text), nil
}

// CheckConnectivity probes the server with a bare GET. Any HTTP response
// below 500 counts as reachable; a transport failure or server error does not.
func (t *Transcriber) CheckConnectivity(ctx context.Context) error {
	const op = "stt.connectivity"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.serverURL+"/", nil)
	if err != nil {
		return fault.Wrap(fault.KindUnknown, op, err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return classifyTransport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fault.Newf(fault.KindService, op, "speech service is unhealthy (HTTP %d)", resp.StatusCode)
	}
	return nil
}

// classifyTransport maps a transport-level error to a fault kind. Deadline
// expiry becomes a timeout, anything else a network failure; both retry.
func classifyTransport(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.WrapMsg(fault.KindTimeout, op, "speech service timed out", err)
	}
	return fault.WrapMsg(fault.KindNetwork, op, "speech service is unreachable", err)
}

// classifyStatus maps a non-200 HTTP status to a fault kind. Server errors
// and throttling are treated as transient; client errors mean the request
// itself is bad and repeating it cannot help.
func classifyStatus(op string, code int) error {
	switch {
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return fault.Newf(fault.KindNetwork, op, "speech service is temporarily unavailable (HTTP %d)", code)
	default:
		return fault.Newf(fault.KindService, op, "speech service rejected the request (HTTP %d)", code)
	}
}
