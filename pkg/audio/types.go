// Package audio provides the canonical PCM types for the voice pipeline: the
// immutable [Buffer] that flows between stages, the [Format] describing its
// sample layout, the float-based codec that normalises captured audio, and the
// RIFF/WAVE container used to hand audio to remote services.
//
// Samples are treated internally as signed normalised floats in [-1.0, 1.0].
// Quantisation maps -1.0 to the minimum representable integer value and +1.0
// to the maximum, clamping before rounding so out-of-range input can never
// wrap around.
package audio

import (
	"fmt"
	"time"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
)

// Format describes the sample layout of a PCM byte stream.
type Format struct {
	// SampleRate in Hz (e.g. 16000 for STT input, 48000 for device capture).
	SampleRate int

	// Channels is the number of interleaved channels. 1 = mono, 2 = stereo.
	Channels int

	// BitsPerSample is the integer sample width. Supported values: 8, 16.
	// 8-bit samples are unsigned (WAV convention); 16-bit samples are signed
	// little-endian.
	BitsPerSample int
}

// Validate reports whether f describes a representable PCM layout.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fault.Newf(fault.KindFormat, "audio.format", "sample rate %d is not positive", f.SampleRate)
	}
	if f.Channels < 1 {
		return fault.Newf(fault.KindFormat, "audio.format", "channel count %d is below 1", f.Channels)
	}
	if f.BitsPerSample != 8 && f.BitsPerSample != 16 {
		return fault.Newf(fault.KindFormat, "audio.format", "bit depth %d is unsupported (want 8 or 16)", f.BitsPerSample)
	}
	return nil
}

// BytesPerFrame returns the size in bytes of one frame (one sample per channel).
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesPerSecond returns the byte rate of a stream in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BytesPerFrame()
}

// String returns a human-readable description, e.g. "16000Hz mono 16-bit".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s %d-bit", f.SampleRate, ch, f.BitsPerSample)
}

// Buffer is an immutable PCM byte sequence plus its format metadata. A Buffer
// is created once by the codec (from captured chunks or a decoded synthesis
// response), consumed once by its target stage, and never mutated.
type Buffer struct {
	Data   []byte
	Format Format
}

// Duration returns the playing time of the buffer. Returns 0 when the format
// is invalid.
func (b Buffer) Duration() time.Duration {
	bps := b.Format.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(len(b.Data)) * time.Second / time.Duration(bps)
}

// Frames returns the number of complete sample frames in the buffer.
func (b Buffer) Frames() int {
	bpf := b.Format.BytesPerFrame()
	if bpf <= 0 {
		return 0
	}
	return len(b.Data) / bpf
}

// Empty reports whether the buffer holds no sample data.
func (b Buffer) Empty() bool { return len(b.Data) == 0 }
