package audio_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio"
)

func TestWrapContainer_Header(t *testing.T) {
	buf := audio.Buffer{
		Data:   []byte{0x01, 0x02, 0x03, 0x04},
		Format: audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16},
	}
	wav := audio.WrapContainer(buf)

	if len(wav) != 44+4 {
		t.Fatalf("container length = %d, want 48", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != 36+4 {
		t.Errorf("RIFF size = %d, want 40", got)
	}
	if got := binary.LittleEndian.Uint16(wav[20:22]); got != 1 {
		t.Errorf("format code = %d, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[32:34]); got != 2 {
		t.Errorf("block align = %d, want 2", got)
	}
	if !bytes.Equal(wav[44:], buf.Data) {
		t.Error("payload does not follow header")
	}
}

func TestContainerRoundTrip(t *testing.T) {
	in := audio.Buffer{
		Data:   []byte{0, 0, 0xFF, 0x7F, 0x00, 0x80},
		Format: audio.Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16},
	}
	out, err := audio.DecodeContainer(audio.WrapContainer(in))
	if err != nil {
		t.Fatalf("DecodeContainer: %v", err)
	}
	if out.Format != in.Format {
		t.Errorf("format = %v, want %v", out.Format, in.Format)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Errorf("data = %x, want %x", out.Data, in.Data)
	}
}

func TestDecodeContainer_Truncated(t *testing.T) {
	_, err := audio.DecodeContainer([]byte("RIFF"))
	if fault.KindOf(err) != fault.KindFormat {
		t.Errorf("expected format error, got %v", err)
	}
}

func TestDecodeContainer_BadMagic(t *testing.T) {
	wav := audio.WrapContainer(audio.Buffer{
		Data:   make([]byte, 8),
		Format: audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16},
	})
	copy(wav[8:12], "AIFF")
	_, err := audio.DecodeContainer(wav)
	if fault.KindOf(err) != fault.KindFormat {
		t.Errorf("expected format error, got %v", err)
	}
}

func TestDecodeContainer_NonPCM(t *testing.T) {
	wav := audio.WrapContainer(audio.Buffer{
		Data:   make([]byte, 8),
		Format: audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16},
	})
	// Rewrite the format code to IEEE float.
	binary.LittleEndian.PutUint16(wav[20:22], 3)
	_, err := audio.DecodeContainer(wav)
	if fault.KindOf(err) != fault.KindFormat {
		t.Errorf("expected format error, got %v", err)
	}
}

func TestDecodeContainer_ExtraChunks(t *testing.T) {
	// Some encoders place a LIST chunk between fmt and data. Build one by hand
	// with an odd-sized body to also exercise the pad byte.
	pcm := []byte{0x10, 0x00, 0x20, 0x00}
	var w bytes.Buffer
	w.WriteString("RIFF")
	body := 4 + (8 + 16) + (8 + 3 + 1) + (8 + len(pcm))
	binary.Write(&w, binary.LittleEndian, uint32(body))
	w.WriteString("WAVE")

	w.WriteString("fmt ")
	binary.Write(&w, binary.LittleEndian, uint32(16))
	binary.Write(&w, binary.LittleEndian, uint16(1))     // PCM
	binary.Write(&w, binary.LittleEndian, uint16(1))     // mono
	binary.Write(&w, binary.LittleEndian, uint32(16000)) // rate
	binary.Write(&w, binary.LittleEndian, uint32(32000)) // byte rate
	binary.Write(&w, binary.LittleEndian, uint16(2))     // block align
	binary.Write(&w, binary.LittleEndian, uint16(16))    // bits

	w.WriteString("LIST")
	binary.Write(&w, binary.LittleEndian, uint32(3))
	w.Write([]byte{'I', 'N', 'F', 0}) // 3 bytes + pad

	w.WriteString("data")
	binary.Write(&w, binary.LittleEndian, uint32(len(pcm)))
	w.Write(pcm)

	out, err := audio.DecodeContainer(w.Bytes())
	if err != nil {
		t.Fatalf("DecodeContainer: %v", err)
	}
	if !bytes.Equal(out.Data, pcm) {
		t.Errorf("data = %x, want %x", out.Data, pcm)
	}
	if out.Format.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", out.Format.SampleRate)
	}
}

func TestDecodeContainer_ChunkOverrun(t *testing.T) {
	wav := audio.WrapContainer(audio.Buffer{
		Data:   make([]byte, 8),
		Format: audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16},
	})
	// Claim more data than the container holds.
	binary.LittleEndian.PutUint32(wav[40:44], 1<<20)
	_, err := audio.DecodeContainer(wav)
	if fault.KindOf(err) != fault.KindFormat {
		t.Errorf("expected format error, got %v", err)
	}
}
