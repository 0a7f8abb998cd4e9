package audio

import (
	"encoding/binary"
	"math"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
)

// EncodePCM converts interleaved normalised float samples from the src layout
// into an integer PCM [Buffer] in the dst layout. Conversion order: downmix to
// the target channel count (averaging), resample to the target rate (linear
// interpolation), quantise to the target bit depth with clamping.
//
// Samples outside [-1.0, 1.0] are clamped, never wrapped. src.BitsPerSample is
// ignored (float input has no integer width) but dst must validate fully.
func EncodePCM(samples []float64, src, dst Format) (Buffer, error) {
	if src.SampleRate <= 0 {
		return Buffer{}, fault.Newf(fault.KindFormat, "audio.encode", "source sample rate %d is not positive", src.SampleRate)
	}
	if src.Channels < 1 {
		return Buffer{}, fault.New(fault.KindFormat, "audio.encode", "source has zero channels")
	}
	if err := dst.Validate(); err != nil {
		return Buffer{}, err
	}

	mixed, err := remix(samples, src.Channels, dst.Channels)
	if err != nil {
		return Buffer{}, err
	}
	resampled := resample(mixed, dst.Channels, src.SampleRate, dst.SampleRate)

	return Buffer{Data: quantize(resampled, dst.BitsPerSample), Format: dst}, nil
}

// DecodePCM expands an integer PCM buffer into interleaved normalised float
// samples. It is the inverse of the quantisation step of [EncodePCM].
func DecodePCM(b Buffer) ([]float64, error) {
	if err := b.Format.Validate(); err != nil {
		return nil, err
	}
	switch b.Format.BitsPerSample {
	case 8:
		out := make([]float64, len(b.Data))
		for i, v := range b.Data {
			// 8-bit WAV is unsigned with silence at 128.
			out[i] = (float64(v) - 128) / 128
		}
		return out, nil
	case 16:
		n := len(b.Data) / 2
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			s := int16(binary.LittleEndian.Uint16(b.Data[i*2:]))
			out[i] = float64(s) / 32768
		}
		return out, nil
	}
	return nil, fault.Newf(fault.KindFormat, "audio.decode", "bit depth %d is unsupported", b.Format.BitsPerSample)
}

// Convert re-encodes a buffer into the dst layout. When the formats already
// match, the buffer is returned unchanged (zero allocation).
func Convert(b Buffer, dst Format) (Buffer, error) {
	if b.Format == dst {
		return b, nil
	}
	samples, err := DecodePCM(b)
	if err != nil {
		return Buffer{}, err
	}
	return EncodePCM(samples, b.Format, dst)
}

// remix converts interleaved samples between channel counts. Downmixing
// averages across source channels; mono-to-N duplicates. Other expansions are
// rejected rather than guessed at.
func remix(samples []float64, srcCh, dstCh int) ([]float64, error) {
	if srcCh == dstCh {
		return samples, nil
	}

	frames := len(samples) / srcCh
	out := make([]float64, frames*dstCh)

	switch {
	case dstCh == 1:
		for i := 0; i < frames; i++ {
			var sum float64
			for c := 0; c < srcCh; c++ {
				sum += samples[i*srcCh+c]
			}
			out[i] = sum / float64(srcCh)
		}
	case srcCh == 1:
		for i := 0; i < frames; i++ {
			for c := 0; c < dstCh; c++ {
				out[i*dstCh+c] = samples[i]
			}
		}
	default:
		return nil, fault.Newf(fault.KindFormat, "audio.encode", "cannot remix %d channels to %d", srcCh, dstCh)
	}
	return out, nil
}

// resample converts interleaved samples from srcRate to dstRate using linear
// interpolation per channel. Returns the input unchanged when the rates match.
func resample(samples []float64, channels, srcRate, dstRate int) []float64 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	srcFrames := len(samples) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]float64, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		next := srcIdx + 1
		if next >= srcFrames {
			next = srcIdx
		}
		for c := 0; c < channels; c++ {
			s0 := samples[srcIdx*channels+c]
			s1 := samples[next*channels+c]
			out[i*channels+c] = s0*(1-frac) + s1*frac
		}
	}
	return out
}

// quantize converts normalised floats to integer PCM bytes at the given bit
// depth. Input is clamped to [-1.0, 1.0] before rounding so the output can
// never exceed the representable range.
func quantize(samples []float64, bits int) []byte {
	switch bits {
	case 8:
		out := make([]byte, len(samples))
		for i, s := range samples {
			// -1.0 → 0, +1.0 → 255, silence at 128.
			v := math.Round(clamp(s)*128) + 128
			if v > 255 {
				v = 255
			}
			out[i] = byte(v)
		}
		return out
	default: // 16
		out := make([]byte, len(samples)*2)
		for i, s := range samples {
			// -1.0 → -32768, +1.0 → 32767.
			v := math.Round(clamp(s) * 32768)
			if v > 32767 {
				v = 32767
			}
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
		}
		return out
	}
}

func clamp(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
