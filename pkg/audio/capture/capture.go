// Package capture records one utterance from an input device into a single
// PCM buffer. A [Session] is the unit of recording: it starts on demand,
// can be paused and resumed, stops explicitly or when the maximum duration
// is reached, and yields one buffer already converted to the transcription
// format.
package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio"
)

// DefaultMaxDuration caps a recording when the caller never stops it, e.g.
// a stuck push-to-talk key.
const DefaultMaxDuration = 60 * time.Second

// DefaultTargetFormat is the layout recordings are converted to on Stop:
// what speech recognition models expect.
var DefaultTargetFormat = audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

// Device is an audio input that can be opened for streaming capture.
type Device interface {
	// Open starts delivering audio. The stream stays live until closed; a
	// device that cannot record (missing hardware, no connected client)
	// returns a [fault.KindDeviceUnavailable] error.
	Open(ctx context.Context) (Stream, error)
}

// Stream is a live feed of PCM chunks from a device.
type Stream interface {
	// Chunks returns the channel of raw PCM byte chunks in the stream's
	// format. The channel is closed when the device stops delivering.
	Chunks() <-chan []byte

	// Format describes the layout of the delivered chunks.
	Format() audio.Format

	// Close stops delivery and releases the device. Safe to call twice.
	Close() error
}

// Option is a functional option for [Start].
type Option func(*Session)

// WithTargetFormat overrides the format the recording is converted to on
// Stop. Defaults to [DefaultTargetFormat].
func WithTargetFormat(f audio.Format) Option {
	return func(s *Session) { s.target = f }
}

// WithMaxDuration overrides the automatic stop threshold. Values of 0 or
// less fall back to [DefaultMaxDuration].
func WithMaxDuration(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.maxDuration = d
		}
	}
}

// Session is one in-progress recording. All methods are safe for concurrent
// use; Stop and Cancel are terminal and idempotent.
type Session struct {
	stream      Stream
	target      audio.Format
	maxDuration time.Duration

	mu      sync.Mutex
	data    []byte
	paused  bool
	stopped bool

	stop chan struct{} // closed by Stop/Cancel to end collection
	done chan struct{} // closed by the collector on exit
}

// Start opens the device and begins collecting audio immediately.
func Start(ctx context.Context, dev Device, opts ...Option) (*Session, error) {
	stream, err := dev.Open(ctx)
	if err != nil {
		var fe *fault.Error
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, fault.WrapMsg(fault.KindDeviceUnavailable, "capture.start",
			"microphone is not available", err)
	}
	if err := stream.Format().Validate(); err != nil {
		stream.Close()
		return nil, err
	}

	s := &Session{
		stream:      stream,
		target:      DefaultTargetFormat,
		maxDuration: DefaultMaxDuration,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	go s.collect()
	return s, nil
}

// collect drains the device stream into the session buffer. Chunks arriving
// while paused are discarded, so elapsed time excludes pauses by
// construction. Collection ends when the stream closes, the caller stops the
// session, or the maximum duration is reached.
func (s *Session) collect() {
	defer close(s.done)

	maxBytes := int(int64(s.stream.Format().BytesPerSecond()) * int64(s.maxDuration) / int64(time.Second))

	for {
		select {
		case <-s.stop:
			return
		case chunk, ok := <-s.stream.Chunks():
			if !ok {
				return
			}
			s.mu.Lock()
			if !s.paused && !s.stopped {
				s.data = append(s.data, chunk...)
				if maxBytes > 0 && len(s.data) >= maxBytes {
					s.data = s.data[:maxBytes]
					s.stopped = true
					s.mu.Unlock()
					// Release the device at the ceiling rather than holding
					// it until the caller notices.
					s.stream.Close()
					return
				}
			}
			s.mu.Unlock()
		}
	}
}

// Pause suspends collection. Audio arriving while paused is discarded.
// Pausing an already paused or stopped session is a no-op.
func (s *Session) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume continues collection after a pause.
func (s *Session) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// Paused reports whether the session is currently paused.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Elapsed returns the duration of audio collected so far. Time spent paused
// does not count.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audio.Buffer{Data: s.data, Format: s.stream.Format()}.Duration()
}

// Stop ends the recording and returns the collected audio converted to the
// target format. A recording that collected nothing yields a
// [fault.KindEmptyCapture] error. Stop is terminal: subsequent calls return
// the same empty-capture error.
func (s *Session) Stop() (audio.Buffer, error) {
	data, srcFormat := s.finish()

	if len(data) == 0 {
		return audio.Buffer{}, fault.New(fault.KindEmptyCapture, "capture.stop",
			"no speech was recorded")
	}
	return audio.Convert(audio.Buffer{Data: data, Format: srcFormat}, s.target)
}

// Cancel ends the recording and discards everything collected.
func (s *Session) Cancel() {
	s.finish()
}

// finish tears down collection exactly once and returns the buffer contents.
func (s *Session) finish() ([]byte, audio.Format) {
	s.mu.Lock()
	alreadyStopped := s.stopped
	s.stopped = true
	s.mu.Unlock()

	if !alreadyStopped {
		close(s.stop)
	}
	<-s.done
	s.stream.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.data
	s.data = nil
	return data, s.stream.Format()
}
