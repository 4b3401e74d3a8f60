package pcm_test

import (
	"encoding/base64"
	"errors"
	"math"
	"testing"

	"github.com/hexaphone/lectern/pkg/audio"
	"github.com/hexaphone/lectern/pkg/audio/pcm"
)

func TestEncode_CarriesCaptureMIME(t *testing.T) {
	t.Parallel()

	chunk := pcm.Encode([]float32{0.5, -0.5})
	if chunk.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q; want audio/pcm;rate=16000", chunk.MIMEType)
	}
	if chunk.Data == "" {
		t.Error("Data should be non-empty")
	}
}

func TestEncodeBytes_LittleEndian(t *testing.T) {
	t.Parallel()

	// 0.5 * 32768 = 16384 = 0x4000 → bytes 0x00, 0x40 in LE order.
	got := pcm.EncodeBytes([]float32{0.5})
	if len(got) != 2 {
		t.Fatalf("len = %d; want 2", len(got))
	}
	if got[0] != 0x00 || got[1] != 0x40 {
		t.Errorf("bytes = [%#x %#x]; want [0x0 0x40]", got[0], got[1])
	}
}

func TestRoundTrip_WithinQuantizationError(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.25, -0.25, 0.9999, -1.0, 0.0001, -0.0001, 0.5}
	out, err := pcm.Decode(pcm.Encode(in).Data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d; want %d", len(out), len(in))
	}
	for i := range in {
		if diff := math.Abs(float64(out[i] - in[i])); diff > 1.0/32768 {
			t.Errorf("sample %d: got %v, want %v (diff %v exceeds 1/32768)", i, out[i], in[i], diff)
		}
	}
}

func TestRoundTrip_SilentFrame(t *testing.T) {
	t.Parallel()

	in := make([]float32, audio.FrameSamples)
	out, err := pcm.Decode(pcm.Encode(in).Data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != audio.FrameSamples {
		t.Fatalf("len = %d; want %d", len(out), audio.FrameSamples)
	}
	for i, s := range out {
		if s != 0 {
			t.Fatalf("sample %d = %v; want exact 0 for silence", i, s)
		}
	}
}

func TestDecode_InvalidBase64(t *testing.T) {
	t.Parallel()

	_, err := pcm.Decode("!!!not-base64!!!")
	if !errors.Is(err, pcm.ErrMalformedChunk) {
		t.Errorf("err = %v; want ErrMalformedChunk", err)
	}
}

func TestDecode_EmptyPayload(t *testing.T) {
	t.Parallel()

	_, err := pcm.Decode("")
	if !errors.Is(err, pcm.ErrMalformedChunk) {
		t.Errorf("err = %v; want ErrMalformedChunk", err)
	}
}

func TestDecode_OddByteCount(t *testing.T) {
	t.Parallel()

	odd := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0x03})
	_, err := pcm.Decode(odd)
	if !errors.Is(err, pcm.ErrMalformedChunk) {
		t.Errorf("err = %v; want ErrMalformedChunk", err)
	}
}

func TestDecodeBytes_KnownValues(t *testing.T) {
	t.Parallel()

	// 0x4000 = 16384 → 0.5; 0x8000 = -32768 → -1.0.
	out, err := pcm.DecodeBytes([]byte{0x00, 0x40, 0x00, 0x80})
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if out[0] != 0.5 {
		t.Errorf("out[0] = %v; want 0.5", out[0])
	}
	if out[1] != -1.0 {
		t.Errorf("out[1] = %v; want -1.0", out[1])
	}
}

func TestRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mime string
		want int
	}{
		{"audio/pcm;rate=24000", 24000},
		{"audio/pcm;rate=16000", 16000},
		{"audio/pcm; rate=8000", 8000},
		{"audio/pcm", 0},
		{"", 0},
		{"audio/pcm;rate=", 0},
		{"audio/pcm;rate=abc", 0},
		{"audio/pcm;rate=-1", 0},
	}
	for _, tt := range tests {
		if got := pcm.Rate(tt.mime); got != tt.want {
			t.Errorf("Rate(%q) = %d; want %d", tt.mime, got, tt.want)
		}
	}
}
