// Package mock provides in-memory devices and outputs for testing the
// capture and playback packages without hardware or a connected client.
package mock

import (
	"context"
	"sync"

	"github.com/cojovi/cmac-chat-module-win86/pkg/audio"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio/capture"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio/playback"
)

// Device is a mock capture device delivering a scripted audio stream.
type Device struct {
	// ChunkFormat is the format reported by opened streams. Zero value
	// defaults to 16 kHz mono 16-bit.
	ChunkFormat audio.Format

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	mu      sync.Mutex
	streams []*Stream
}

var _ capture.Device = (*Device)(nil)

// Open returns a new live Stream. Push chunks into it with
// [Stream.Push] and end it with [Stream.End].
func (d *Device) Open(ctx context.Context) (capture.Stream, error) {
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	f := d.ChunkFormat
	if f == (audio.Format{}) {
		f = audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	}
	s := &Stream{format: f, ch: make(chan []byte, 64)}
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

// LastStream returns the most recently opened stream, or nil.
func (d *Device) LastStream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

// Stream is a mock capture stream fed by the test.
type Stream struct {
	format audio.Format
	ch     chan []byte

	mu     sync.Mutex
	closed bool
}

var _ capture.Stream = (*Stream)(nil)

// Chunks implements capture.Stream.
func (s *Stream) Chunks() <-chan []byte { return s.ch }

// Format implements capture.Stream.
func (s *Stream) Format() audio.Format { return s.format }

// Close implements capture.Stream. It ends the chunk channel.
func (s *Stream) Close() error {
	s.End()
	return nil
}

// Push delivers one PCM chunk to the consumer. Pushing after End is a no-op.
func (s *Stream) Push(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.ch <- chunk
}

// End closes the chunk channel, simulating the device going away.
func (s *Stream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Closed reports whether the stream has ended.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Output is a mock playback output recording everything written to it.
type Output struct {
	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// WriteErr, if non-nil, is returned by the sink's next Write.
	WriteErr error

	mu     sync.Mutex
	sinks  []*Sink
	opened []audio.Format
}

var _ playback.Output = (*Output)(nil)

// Open returns a new recording Sink.
func (o *Output) Open(ctx context.Context, f audio.Format) (playback.Sink, error) {
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	s := &Sink{out: o}
	o.mu.Lock()
	o.sinks = append(o.sinks, s)
	o.opened = append(o.opened, f)
	o.mu.Unlock()
	return s, nil
}

// LastSink returns the most recently opened sink, or nil.
func (o *Output) LastSink() *Sink {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sinks) == 0 {
		return nil
	}
	return o.sinks[len(o.sinks)-1]
}

// OpenedFormats returns the formats passed to Open, in order.
func (o *Output) OpenedFormats() []audio.Format {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]audio.Format(nil), o.opened...)
}

// Sink is a mock playback sink accumulating written PCM.
type Sink struct {
	out *Output

	mu     sync.Mutex
	data   []byte
	writes int
	closed bool
}

var _ playback.Sink = (*Sink)(nil)

// Write implements playback.Sink.
func (s *Sink) Write(ctx context.Context, chunk []byte) error {
	s.out.mu.Lock()
	err := s.out.WriteErr
	s.out.mu.Unlock()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, chunk...)
	s.writes++
	return nil
}

// Close implements playback.Sink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Data returns a copy of everything written so far.
func (s *Sink) Data() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

// Writes returns the number of Write calls.
func (s *Sink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Closed reports whether the sink was closed.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
