// Package playback plays one PCM buffer through an output sink. A [Session]
// is the unit of playback: it paces writes in small chunks so that pause,
// resume and interruption take effect within a fraction of a second, reports
// progress as it goes, and signals completion through a result channel.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio"
)

// DefaultChunkDuration is how much audio each paced write carries. Smaller
// chunks react faster to Stop and Pause at the cost of more write calls.
const DefaultChunkDuration = 100 * time.Millisecond

// Output is an audio destination that can be opened for playback.
type Output interface {
	// Open prepares the output for a stream in the given format. An output
	// that cannot play (no speaker, no connected client) returns a
	// [fault.KindDeviceUnavailable] error.
	Open(ctx context.Context, f audio.Format) (Sink, error)
}

// Sink accepts paced PCM chunks during playback.
type Sink interface {
	// Write delivers one chunk. Blocking here slows the pacing down, which
	// is the desired backpressure behaviour.
	Write(ctx context.Context, chunk []byte) error

	// Close releases the output. Safe to call twice.
	Close() error
}

// Result describes how a playback session ended.
type Result struct {
	// Interrupted is true when the session was stopped before the buffer
	// finished playing (barge-in, cancel, shutdown).
	Interrupted bool

	// Err is non-nil when playback failed mid-stream.
	Err error
}

// Option is a functional option for [Play].
type Option func(*Session)

// WithChunkDuration overrides the pacing granularity. Values of 0 or less
// fall back to [DefaultChunkDuration].
func WithChunkDuration(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.chunkDur = d
		}
	}
}

// WithProgress installs a callback invoked after each written chunk with the
// played and total durations. The callback runs on the playback goroutine
// and must not block.
func WithProgress(fn func(played, total time.Duration)) Option {
	return func(s *Session) { s.progress = fn }
}

// Session is one in-progress playback. All methods are safe for concurrent
// use; Stop is terminal and idempotent.
type Session struct {
	sink     Sink
	buf      audio.Buffer
	chunkDur time.Duration
	progress func(played, total time.Duration)

	mu     sync.Mutex
	paused bool
	resume chan struct{}
	played int // bytes written so far

	stop     chan struct{}
	stopOnce sync.Once
	done     chan Result
}

// Play opens the output and starts playing buf immediately. The session ends
// when the buffer finishes, [Session.Stop] is called, or ctx is cancelled;
// the outcome arrives on [Session.Done].
func Play(ctx context.Context, out Output, buf audio.Buffer, opts ...Option) (*Session, error) {
	if err := buf.Format.Validate(); err != nil {
		return nil, err
	}

	sink, err := out.Open(ctx, buf.Format)
	if err != nil {
		var fe *fault.Error
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, fault.WrapMsg(fault.KindDeviceUnavailable, "playback.start",
			"speaker is not available", err)
	}

	s := &Session{
		sink:     sink,
		buf:      buf,
		chunkDur: DefaultChunkDuration,
		stop:     make(chan struct{}),
		done:     make(chan Result, 1),
	}
	for _, o := range opts {
		o(s)
	}

	go s.run(ctx)
	return s, nil
}

// run paces the buffer through the sink chunk by chunk.
func (s *Session) run(ctx context.Context) {
	total := s.buf.Duration()
	bps := s.buf.Format.BytesPerSecond()
	bpf := s.buf.Format.BytesPerFrame()

	chunkBytes := int(int64(bps) * int64(s.chunkDur) / int64(time.Second))
	chunkBytes -= chunkBytes % bpf
	if chunkBytes <= 0 {
		chunkBytes = bpf
	}

	data := s.buf.Data
	for pos := 0; pos < len(data); {
		if interrupted := s.waitWhilePaused(ctx); interrupted {
			s.finish(Result{Interrupted: true})
			return
		}

		end := pos + chunkBytes
		if end > len(data) {
			end = len(data)
		}
		chunk := data[pos:end]

		if err := s.sink.Write(ctx, chunk); err != nil {
			s.finish(Result{Err: fault.WrapMsg(fault.KindDeviceUnavailable, "playback.write",
				"speaker stopped accepting audio", err)})
			return
		}

		pos = end
		s.mu.Lock()
		s.played = pos
		s.mu.Unlock()

		if s.progress != nil {
			s.progress(s.position(), total)
		}

		// Pace the next write to roughly real time.
		wait := time.Duration(int64(len(chunk)) * int64(time.Second) / int64(bps))
		select {
		case <-time.After(wait):
		case <-s.stop:
			s.finish(Result{Interrupted: true})
			return
		case <-ctx.Done():
			s.finish(Result{Interrupted: true})
			return
		}
	}

	s.finish(Result{})
}

// waitWhilePaused blocks while the session is paused. It reports true when
// the session was stopped or cancelled during the wait.
func (s *Session) waitWhilePaused(ctx context.Context) bool {
	for {
		s.mu.Lock()
		if !s.paused {
			s.mu.Unlock()
			return false
		}
		resume := s.resume
		s.mu.Unlock()

		select {
		case <-resume:
		case <-s.stop:
			return true
		case <-ctx.Done():
			return true
		}
	}
}

// finish closes the sink and publishes the result exactly once.
func (s *Session) finish(r Result) {
	s.sink.Close()
	s.done <- r
	close(s.done)
}

// Pause suspends playback after the current chunk. Pausing an already paused
// session is a no-op.
func (s *Session) Pause() {
	s.mu.Lock()
	if !s.paused {
		s.paused = true
		s.resume = make(chan struct{})
	}
	s.mu.Unlock()
}

// Resume continues playback after a pause.
func (s *Session) Resume() {
	s.mu.Lock()
	if s.paused {
		s.paused = false
		close(s.resume)
	}
	s.mu.Unlock()
}

// Paused reports whether the session is currently paused.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Stop interrupts playback. The session's result reports Interrupted.
// Stopping a finished session is a no-op.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Position returns the duration of audio written so far.
func (s *Session) Position() time.Duration {
	return s.position()
}

func (s *Session) position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audio.Buffer{
		Data:   s.buf.Data[:s.played],
		Format: s.buf.Format,
	}.Duration()
}

// Done returns the channel delivering the session's final result. It yields
// exactly one value and is then closed.
func (s *Session) Done() <-chan Result {
	return s.done
}
