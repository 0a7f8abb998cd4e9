package capture_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio/capture"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio/mock"
)

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStartStopCollectsAudio(t *testing.T) {
	dev := &mock.Device{}
	sess, err := capture.Start(context.Background(), dev)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stream := dev.LastStream()
	stream.Push([]byte{1, 0, 2, 0})
	stream.Push([]byte{3, 0, 4, 0})
	waitFor(t, func() bool { return sess.Elapsed() > 0 })

	buf, err := sess.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	want := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	if string(buf.Data) != string(want) {
		t.Errorf("data = %v, want %v", buf.Data, want)
	}
	if buf.Format != capture.DefaultTargetFormat {
		t.Errorf("format = %v, want %v", buf.Format, capture.DefaultTargetFormat)
	}
	if !stream.Closed() {
		t.Error("stream was not closed on Stop")
	}
}

func TestStop_Empty(t *testing.T) {
	dev := &mock.Device{}
	sess, err := capture.Start(context.Background(), dev)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err = sess.Stop()
	if fault.KindOf(err) != fault.KindEmptyCapture {
		t.Errorf("kind = %v, want empty_capture", fault.KindOf(err))
	}
}

func TestStart_DeviceUnavailable(t *testing.T) {
	dev := &mock.Device{OpenErr: errors.New("no microphone")}
	_, err := capture.Start(context.Background(), dev)
	if fault.KindOf(err) != fault.KindDeviceUnavailable {
		t.Errorf("kind = %v, want device_unavailable", fault.KindOf(err))
	}
}

func TestPauseDiscardsAudio(t *testing.T) {
	dev := &mock.Device{}
	sess, err := capture.Start(context.Background(), dev)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream := dev.LastStream()

	stream.Push([]byte{1, 0})
	waitFor(t, func() bool { return sess.Elapsed() > 0 })

	sess.Pause()
	if !sess.Paused() {
		t.Error("Paused() = false after Pause")
	}
	stream.Push([]byte{9, 9})
	stream.Push([]byte{9, 9})
	// Wait until the collector has definitely consumed the paused chunks.
	stream.Push(nil)
	waitFor(t, func() bool { return len(stream.Chunks()) == 0 })

	elapsedBefore := sess.Elapsed()
	sess.Resume()
	stream.Push([]byte{2, 0})
	waitFor(t, func() bool { return sess.Elapsed() > elapsedBefore })

	buf, err := sess.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	want := []byte{1, 0, 2, 0}
	if string(buf.Data) != string(want) {
		t.Errorf("data = %v, want %v (paused audio must be discarded)", buf.Data, want)
	}
}

func TestElapsedExcludesPauses(t *testing.T) {
	dev := &mock.Device{} // 16 kHz mono 16-bit: 32 bytes per millisecond
	sess, err := capture.Start(context.Background(), dev)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream := dev.LastStream()

	stream.Push(make([]byte, 320)) // 10 ms
	waitFor(t, func() bool { return sess.Elapsed() == 10*time.Millisecond })

	sess.Pause()
	stream.Push(make([]byte, 3200)) // 100 ms, discarded
	stream.Push(nil)
	waitFor(t, func() bool { return len(stream.Chunks()) == 0 })

	if got := sess.Elapsed(); got != 10*time.Millisecond {
		t.Errorf("Elapsed = %v during pause, want 10ms", got)
	}
	sess.Cancel()
}

func TestMaxDurationAutoStops(t *testing.T) {
	dev := &mock.Device{}
	sess, err := capture.Start(context.Background(), dev,
		capture.WithMaxDuration(10*time.Millisecond)) // 320 bytes at 16 kHz mono 16-bit
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream := dev.LastStream()

	stream.Push(make([]byte, 320))
	stream.Push(make([]byte, 320))
	waitFor(t, func() bool { return sess.Elapsed() == 10*time.Millisecond })

	// The device is released at the ceiling, not when the caller stops.
	waitFor(t, func() bool { return stream.Closed() })

	buf, err := sess.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(buf.Data) != 320 {
		t.Errorf("data = %d bytes, want capped at 320", len(buf.Data))
	}
}

func TestCancelDiscards(t *testing.T) {
	dev := &mock.Device{}
	sess, err := capture.Start(context.Background(), dev)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream := dev.LastStream()
	stream.Push([]byte{1, 0})
	waitFor(t, func() bool { return sess.Elapsed() > 0 })

	sess.Cancel()
	if !stream.Closed() {
		t.Error("stream was not closed on Cancel")
	}

	_, err = sess.Stop()
	if fault.KindOf(err) != fault.KindEmptyCapture {
		t.Errorf("Stop after Cancel: kind = %v, want empty_capture", fault.KindOf(err))
	}
}

func TestStopConvertsToTargetFormat(t *testing.T) {
	dev := &mock.Device{ChunkFormat: audio.Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16}}
	sess, err := capture.Start(context.Background(), dev)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream := dev.LastStream()

	// 1 ms of 48 kHz stereo 16-bit audio.
	stream.Push(make([]byte, 192))
	waitFor(t, func() bool { return sess.Elapsed() > 0 })

	buf, err := sess.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if buf.Format != capture.DefaultTargetFormat {
		t.Errorf("format = %v, want %v", buf.Format, capture.DefaultTargetFormat)
	}
	// 48 frames downmixed and resampled 3:1 to 16 frames of mono 16-bit.
	if len(buf.Data) != 32 {
		t.Errorf("data = %d bytes, want 32", len(buf.Data))
	}
}

func TestDeviceEndingStream(t *testing.T) {
	dev := &mock.Device{}
	sess, err := capture.Start(context.Background(), dev)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream := dev.LastStream()
	stream.Push([]byte{5, 0})
	waitFor(t, func() bool { return sess.Elapsed() > 0 })
	stream.End()

	buf, err := sess.Stop()
	if err != nil {
		t.Fatalf("Stop after device loss: %v", err)
	}
	if len(buf.Data) == 0 {
		t.Error("audio collected before device loss was dropped")
	}
}
