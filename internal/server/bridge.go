package server

import (
	"context"
	"sync"

	"github.com/coder/websocket"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio/capture"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio/playback"
)

// micBuffer is how many incoming frames may queue between the WebSocket read
// loop and the capture session before frames are dropped.
const micBuffer = 64

// Bridge adapts the connected WebSocket client into the pipeline's audio
// endpoints. Binary frames received from the client are the microphone feed;
// playback writes binary frames back to the same connection. With no client
// attached both directions report [fault.KindDeviceUnavailable].
type Bridge struct {
	format audio.Format

	mu     sync.Mutex
	conn   *websocket.Conn
	stream *micStream // active capture stream, nil when none
}

// NewBridge creates a bridge whose microphone frames carry audio in the given
// format. A zero format falls back to [capture.DefaultTargetFormat].
func NewBridge(format audio.Format) *Bridge {
	if format == (audio.Format{}) {
		format = capture.DefaultTargetFormat
	}
	return &Bridge{format: format}
}

// Microphone returns the bridge's input side.
func (b *Bridge) Microphone() capture.Device { return micDevice{b} }

// Speaker returns the bridge's output side.
func (b *Bridge) Speaker() playback.Output { return speakerOutput{b} }

// attach binds the bridge to a newly connected client.
func (b *Bridge) attach(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conn = conn
}

// detach unbinds the client. An active capture stream is closed so that the
// recording session sees end-of-stream instead of hanging.
func (b *Bridge) detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conn = nil
	if b.stream != nil {
		b.closeStreamLocked(b.stream)
	}
}

// deliver forwards one binary frame from the client into the active capture
// stream. Frames arriving with no capture in progress are discarded; when the
// stream's buffer is full the frame is dropped rather than stalling the read
// loop.
func (b *Bridge) deliver(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stream == nil || b.stream.closed {
		return
	}
	select {
	case b.stream.ch <- chunk:
	default:
	}
}

func (b *Bridge) openMic(_ context.Context) (capture.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil, fault.New(fault.KindDeviceUnavailable, "bridge.capture",
			"no client is connected")
	}
	if b.stream != nil {
		b.closeStreamLocked(b.stream)
	}
	ms := &micStream{bridge: b, format: b.format, ch: make(chan []byte, micBuffer)}
	b.stream = ms
	return ms, nil
}

func (b *Bridge) openSpeaker(_ context.Context, _ audio.Format) (playback.Sink, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil, fault.New(fault.KindDeviceUnavailable, "bridge.playback",
			"no client is connected")
	}
	return &speakerSink{conn: b.conn}, nil
}

// closeStreamLocked ends delivery into ms exactly once. Callers hold b.mu,
// which also serialises against deliver, so closing the channel is safe.
func (b *Bridge) closeStreamLocked(ms *micStream) {
	if !ms.closed {
		ms.closed = true
		close(ms.ch)
	}
	if b.stream == ms {
		b.stream = nil
	}
}

// micDevice adapts the bridge to [capture.Device].
type micDevice struct{ b *Bridge }

func (d micDevice) Open(ctx context.Context) (capture.Stream, error) {
	return d.b.openMic(ctx)
}

// micStream is one live microphone feed. closed is guarded by bridge.mu.
type micStream struct {
	bridge *Bridge
	format audio.Format
	ch     chan []byte
	closed bool
}

func (s *micStream) Chunks() <-chan []byte { return s.ch }

func (s *micStream) Format() audio.Format { return s.format }

func (s *micStream) Close() error {
	s.bridge.mu.Lock()
	defer s.bridge.mu.Unlock()
	s.bridge.closeStreamLocked(s)
	return nil
}

// speakerOutput adapts the bridge to [playback.Output].
type speakerOutput struct{ b *Bridge }

func (o speakerOutput) Open(ctx context.Context, f audio.Format) (playback.Sink, error) {
	return o.b.openSpeaker(ctx, f)
}

// speakerSink writes paced playback chunks as binary frames to the client
// that was connected when playback started. A disconnect mid-playback
// surfaces as a write error, which the playback session reports.
type speakerSink struct{ conn *websocket.Conn }

func (s *speakerSink) Write(ctx context.Context, chunk []byte) error {
	return s.conn.Write(ctx, websocket.MessageBinary, chunk)
}

func (s *speakerSink) Close() error { return nil }
