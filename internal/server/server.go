// Package server exposes the voice pipeline over HTTP. A single WebSocket
// endpoint (GET /session) carries the whole conversation: JSON text frames
// are control commands from the client and pipeline events to it, binary
// frames are microphone audio in and playback audio out. The server also
// serves /metrics, /healthz and /readyz.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
	"github.com/cojovi/cmac-chat-module-win86/internal/health"
	"github.com/cojovi/cmac-chat-module-win86/internal/observe"
	"github.com/cojovi/cmac-chat-module-win86/internal/pipeline"
	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/tts"
)

const (
	// maxFrameSize bounds a single WebSocket frame. Generous enough for a
	// second of 48 kHz stereo microphone audio.
	maxFrameSize = 1 << 20

	// eventWriteTimeout bounds how long one event write may block before the
	// client is considered dead.
	eventWriteTimeout = 5 * time.Second
)

// Controller is the slice of the pipeline the session endpoint drives.
type Controller interface {
	BeginCapture(ctx context.Context) error
	EndCapture(ctx context.Context) error
	Cancel() error
	Acknowledge() error
	PauseCapture() error
	ResumeCapture() error
	PausePlayback() error
	ResumePlayback() error
	StopPlayback() error
	ClearConversation()
	Events() <-chan pipeline.Event
}

var _ Controller = (*pipeline.Pipeline)(nil)

// Command is one control frame from the client. The settings fields are only
// read by update_voice_settings.
type Command struct {
	Action string `json:"action"`

	Stability       *float64 `json:"stability,omitempty"`
	SimilarityBoost *float64 `json:"similarity_boost,omitempty"`
}

// voiceList is the reply to a list_voices command.
type voiceList struct {
	Type   string             `json:"type"`
	Voices []tts.VoiceProfile `json:"voices"`
}

// Option is a functional option for [New].
type Option func(*Server)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMetrics sets the metrics sink used by the HTTP middleware. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealthCheckers installs readiness checkers for /readyz.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(s *Server) { s.health = health.New(checkers...) }
}

// WithVoiceControl exposes the synthesizer's voice catalogue and tuning to
// the session client via the list_voices and update_voice_settings commands.
func WithVoiceControl(synth tts.Synthesizer) Option {
	return func(s *Server) { s.voice = synth }
}

// Server routes HTTP traffic to the pipeline. One client may hold the session
// endpoint at a time; further connects are rejected with 409.
type Server struct {
	log     *slog.Logger
	ctrl    Controller
	bridge  *Bridge
	voice   tts.Synthesizer // nil when replies are text-only
	metrics *observe.Metrics
	health  *health.Handler

	mu       sync.Mutex
	occupied bool
	client   *websocket.Conn

	pumpDone chan struct{}
}

// New creates a server driving ctrl through bridge and starts forwarding
// pipeline events to the connected client. The forwarding goroutine exits
// when the controller's event channel closes, i.e. when the pipeline shuts
// down.
func New(ctrl Controller, bridge *Bridge, opts ...Option) *Server {
	s := &Server{
		log:      slog.Default(),
		ctrl:     ctrl,
		bridge:   bridge,
		health:   health.New(),
		pumpDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	go s.pumpEvents()
	return s
}

// Handler returns the server's HTTP handler with all routes wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /session", s.handleSession)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)
	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe serves the handler on addr until ctx is cancelled, then
// shuts down gracefully. With a non-empty certFile the listener speaks TLS.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if certFile != "" {
			errCh <- srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ─── Session endpoint ─────────────────────────────────────────────────────────

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.occupied {
		s.mu.Unlock()
		http.Error(w, "a session client is already connected", http.StatusConflict)
		return
	}
	s.occupied = true
	s.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.mu.Lock()
		s.occupied = false
		s.mu.Unlock()
		s.log.Warn("session upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	s.mu.Lock()
	s.client = conn
	s.mu.Unlock()
	s.bridge.attach(conn)
	s.log.Info("session client connected", "remote", r.RemoteAddr)

	s.readLoop(r.Context(), conn)

	s.bridge.detach()
	s.mu.Lock()
	s.client = nil
	s.occupied = false
	s.mu.Unlock()

	// Reset any in-flight query; its audio endpoints are gone.
	if err := s.ctrl.Cancel(); err != nil {
		s.log.Debug("cancel on disconnect", "err", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
	s.log.Info("session client disconnected", "remote", r.RemoteAddr)
}

// readLoop dispatches frames from the client until the connection ends.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageBinary:
			s.bridge.deliver(data)
		case websocket.MessageText:
			s.handleCommand(ctx, conn, data)
		}
	}
}

// handleCommand runs one control command and reports failures back to the
// client as error events.
func (s *Server) handleCommand(ctx context.Context, conn *websocket.Conn, data []byte) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.writeEvent(ctx, conn, errorEvent(fault.KindUnknown, "the command could not be parsed"))
		return
	}

	var err error
	switch cmd.Action {
	case "begin_capture":
		err = s.ctrl.BeginCapture(ctx)
	case "end_capture":
		err = s.ctrl.EndCapture(ctx)
	case "cancel":
		err = s.ctrl.Cancel()
	case "acknowledge":
		err = s.ctrl.Acknowledge()
	case "clear_conversation":
		s.ctrl.ClearConversation()
	case "pause_capture":
		err = s.ctrl.PauseCapture()
	case "resume_capture":
		err = s.ctrl.ResumeCapture()
	case "pause_playback":
		err = s.ctrl.PausePlayback()
	case "resume_playback":
		err = s.ctrl.ResumePlayback()
	case "stop_playback":
		err = s.ctrl.StopPlayback()
	case "list_voices":
		s.listVoices(ctx, conn)
		return
	case "update_voice_settings":
		err = s.updateVoiceSettings(ctx, cmd)
	default:
		s.writeEvent(ctx, conn, errorEvent(fault.KindUnknown,
			fmt.Sprintf("unknown action %q", cmd.Action)))
		return
	}

	if err != nil {
		s.log.Debug("command rejected", "action", cmd.Action, "err", err)
		s.writeEvent(ctx, conn, errorEvent(fault.KindOf(err),
			fault.UserMessage(err, "the command could not be handled")))
	}
}

// listVoices replies with the synthesizer's voice catalogue as a voice-list
// text frame. A synthesizer that cannot enumerate voices, or a server running
// text-only, yields an error event instead.
func (s *Server) listVoices(ctx context.Context, conn *websocket.Conn) {
	lister, ok := s.voice.(tts.VoiceLister)
	if !ok {
		s.writeEvent(ctx, conn, errorEvent(fault.KindState, "voice selection is not available"))
		return
	}
	voices, err := lister.ListVoices(ctx)
	if err != nil {
		s.writeEvent(ctx, conn, errorEvent(fault.KindOf(err),
			fault.UserMessage(err, "the voice list could not be fetched")))
		return
	}

	data, err := json.Marshal(voiceList{Type: "voice-list", Voices: voices})
	if err != nil {
		s.log.Error("marshal voice list", "err", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.log.Warn("voice list write failed", "err", err)
	}
}

// updateVoiceSettings applies the settings carried in cmd to the synthesizer.
func (s *Server) updateVoiceSettings(ctx context.Context, cmd Command) error {
	cfg, ok := s.voice.(tts.VoiceConfigurator)
	if !ok {
		return fault.New(fault.KindState, "server.voice", "voice tuning is not available")
	}
	if cmd.Stability == nil || cmd.SimilarityBoost == nil {
		return fault.New(fault.KindService, "server.voice",
			"stability and similarity_boost are both required")
	}
	return cfg.UpdateVoiceSettings(ctx, tts.VoiceSettings{
		Stability:       *cmd.Stability,
		SimilarityBoost: *cmd.SimilarityBoost,
	})
}

// pumpEvents forwards pipeline events to whichever client is connected.
// Events arriving with no client attached are dropped; the pipeline's state
// is re-readable, so a reconnecting client is not left behind.
func (s *Server) pumpEvents() {
	defer close(s.pumpDone)

	for ev := range s.ctrl.Events() {
		s.mu.Lock()
		conn := s.client
		s.mu.Unlock()
		if conn == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
		s.writeEvent(ctx, conn, ev)
		cancel()
	}
}

// writeEvent sends one event as a JSON text frame. Write errors are logged
// and otherwise ignored; the read loop notices dead connections.
func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, ev pipeline.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("marshal event", "type", ev.Type, "err", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.log.Warn("event write failed", "type", ev.Type, "err", err)
	}
}

func errorEvent(kind fault.Kind, message string) pipeline.Event {
	return pipeline.Event{Type: pipeline.EventError, Kind: kind.String(), Message: message}
}
