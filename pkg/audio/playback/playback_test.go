package playback_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio/mock"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio/playback"
)

func mono16k() audio.Format {
	return audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
}

// clip returns d worth of silence in 16 kHz mono 16-bit.
func clip(d time.Duration) audio.Buffer {
	n := int(int64(32000) * int64(d) / int64(time.Second))
	return audio.Buffer{Data: make([]byte, n), Format: mono16k()}
}

func awaitResult(t *testing.T, sess *playback.Session) playback.Result {
	t.Helper()
	select {
	case r := <-sess.Done():
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("playback did not finish in time")
		return playback.Result{}
	}
}

func TestPlayToCompletion(t *testing.T) {
	out := &mock.Output{}
	buf := clip(30 * time.Millisecond)

	sess, err := playback.Play(context.Background(), out, buf,
		playback.WithChunkDuration(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	r := awaitResult(t, sess)
	if r.Interrupted || r.Err != nil {
		t.Errorf("result = %+v, want clean completion", r)
	}

	sink := out.LastSink()
	if got := len(sink.Data()); got != len(buf.Data) {
		t.Errorf("sink received %d bytes, want %d", got, len(buf.Data))
	}
	if sink.Writes() != 3 {
		t.Errorf("writes = %d, want 3 paced chunks", sink.Writes())
	}
	if !sink.Closed() {
		t.Error("sink was not closed")
	}
	if formats := out.OpenedFormats(); len(formats) != 1 || formats[0] != buf.Format {
		t.Errorf("opened formats = %v", formats)
	}
}

func TestStopInterrupts(t *testing.T) {
	out := &mock.Output{}
	buf := clip(time.Second)

	sess, err := playback.Play(context.Background(), out, buf,
		playback.WithChunkDuration(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	sess.Stop()
	r := awaitResult(t, sess)
	if !r.Interrupted {
		t.Error("result not marked interrupted after Stop")
	}
	if got := len(out.LastSink().Data()); got >= len(buf.Data) {
		t.Errorf("sink received %d bytes, want fewer than %d", got, len(buf.Data))
	}
	if !out.LastSink().Closed() {
		t.Error("sink was not closed after Stop")
	}
}

func TestPauseHoldsPlayback(t *testing.T) {
	out := &mock.Output{}
	buf := clip(time.Second)

	sess, err := playback.Play(context.Background(), out, buf,
		playback.WithChunkDuration(5*time.Millisecond))
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	sess.Pause()
	if !sess.Paused() {
		t.Error("Paused() = false after Pause")
	}
	time.Sleep(20 * time.Millisecond)
	written := out.LastSink().Writes()
	time.Sleep(30 * time.Millisecond)
	// At most one in-flight chunk may land after Pause.
	if got := out.LastSink().Writes(); got > written+1 {
		t.Errorf("writes advanced from %d to %d while paused", written, got)
	}

	sess.Resume()
	time.Sleep(30 * time.Millisecond)
	if got := out.LastSink().Writes(); got <= written {
		t.Errorf("writes did not advance after Resume (still %d)", got)
	}
	sess.Stop()
	awaitResult(t, sess)
}

func TestProgressReported(t *testing.T) {
	out := &mock.Output{}
	buf := clip(20 * time.Millisecond)

	var mu sync.Mutex
	var played []time.Duration
	var total time.Duration
	sess, err := playback.Play(context.Background(), out, buf,
		playback.WithChunkDuration(10*time.Millisecond),
		playback.WithProgress(func(p, tot time.Duration) {
			mu.Lock()
			played = append(played, p)
			total = tot
			mu.Unlock()
		}))
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	awaitResult(t, sess)

	mu.Lock()
	defer mu.Unlock()
	if len(played) != 2 {
		t.Fatalf("progress calls = %d, want 2", len(played))
	}
	if played[0] != 10*time.Millisecond || played[1] != 20*time.Millisecond {
		t.Errorf("played = %v", played)
	}
	if total != 20*time.Millisecond {
		t.Errorf("total = %v, want 20ms", total)
	}
	if sess.Position() != 20*time.Millisecond {
		t.Errorf("Position = %v, want 20ms", sess.Position())
	}
}

func TestWriteFailure(t *testing.T) {
	out := &mock.Output{WriteErr: errors.New("client went away")}
	sess, err := playback.Play(context.Background(), out, clip(50*time.Millisecond))
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	r := awaitResult(t, sess)
	if r.Err == nil {
		t.Fatal("expected error result")
	}
	if fault.KindOf(r.Err) != fault.KindDeviceUnavailable {
		t.Errorf("kind = %v, want device_unavailable", fault.KindOf(r.Err))
	}
}

func TestPlay_OutputUnavailable(t *testing.T) {
	out := &mock.Output{OpenErr: errors.New("no speaker")}
	_, err := playback.Play(context.Background(), out, clip(10*time.Millisecond))
	if fault.KindOf(err) != fault.KindDeviceUnavailable {
		t.Errorf("kind = %v, want device_unavailable", fault.KindOf(err))
	}
}

func TestPlay_InvalidFormat(t *testing.T) {
	out := &mock.Output{}
	_, err := playback.Play(context.Background(), out, audio.Buffer{Data: []byte{1}, Format: audio.Format{}})
	if fault.KindOf(err) != fault.KindFormat {
		t.Errorf("kind = %v, want format", fault.KindOf(err))
	}
}

func TestContextCancelInterrupts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := &mock.Output{}
	sess, err := playback.Play(ctx, out, clip(time.Second),
		playback.WithChunkDuration(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	cancel()
	r := awaitResult(t, sess)
	if !r.Interrupted {
		t.Error("result not marked interrupted after context cancel")
	}
}
