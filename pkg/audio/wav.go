package audio

import (
	"encoding/binary"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
)

// wavHeaderSize is the size of the canonical RIFF/WAVE header this package
// emits: RIFF descriptor + 16-byte PCM fmt chunk + data chunk header.
const wavHeaderSize = 44

// pcmFormatCode is the WAVE format tag for uncompressed linear PCM.
const pcmFormatCode = 1

// WrapContainer serialises a buffer as a standard little-endian RIFF/WAVE
// file: a self-describing container any consumer (including the transcription
// service) can parse without side channels.
func WrapContainer(b Buffer) []byte {
	f := b.Format
	byteRate := f.BytesPerSecond()
	blockAlign := f.BytesPerFrame()
	dataSize := len(b.Data)

	buf := make([]byte, wavHeaderSize+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], pcmFormatCode)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(f.BitsPerSample))

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], b.Data)

	return buf
}

// DecodeContainer parses a RIFF/WAVE byte stream back into a [Buffer]. It is
// the inverse of [WrapContainer] and additionally tolerates extra sub-chunks
// (LIST, fact, …) between fmt and data, which real-world encoders emit.
//
// Truncated or malformed input yields a [fault.KindFormat] error.
func DecodeContainer(data []byte) (Buffer, error) {
	const op = "audio.container"

	if len(data) < wavHeaderSize {
		return Buffer{}, fault.Newf(fault.KindFormat, op, "container truncated: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Buffer{}, fault.New(fault.KindFormat, op, "missing RIFF/WAVE magic")
	}

	var (
		format  Format
		sawFmt  bool
		pcmData []byte
		sawData bool
	)

	// Walk sub-chunks after the 12-byte RIFF descriptor.
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			return Buffer{}, fault.Newf(fault.KindFormat, op, "chunk %q overruns container", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Buffer{}, fault.Newf(fault.KindFormat, op, "fmt chunk too short: %d bytes", size)
			}
			code := binary.LittleEndian.Uint16(data[body : body+2])
			if code != pcmFormatCode {
				return Buffer{}, fault.Newf(fault.KindFormat, op, "unsupported format code %d (want linear PCM)", code)
			}
			format = Format{
				Channels:      int(binary.LittleEndian.Uint16(data[body+2 : body+4])),
				SampleRate:    int(binary.LittleEndian.Uint32(data[body+4 : body+8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(data[body+14 : body+16])),
			}
			sawFmt = true
		case "data":
			pcmData = data[body : body+size]
			sawData = true
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		pos = body + size + size%2
	}

	if !sawFmt {
		return Buffer{}, fault.New(fault.KindFormat, op, "missing fmt chunk")
	}
	if !sawData {
		return Buffer{}, fault.New(fault.KindFormat, op, "missing data chunk")
	}
	if err := format.Validate(); err != nil {
		return Buffer{}, err
	}

	return Buffer{Data: pcmData, Format: format}, nil
}
