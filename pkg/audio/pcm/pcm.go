// Package pcm converts between normalized float32 samples and the wire
// representation used by the real-time service: 16-bit signed little-endian
// PCM, base64-encoded, wrapped in a mime descriptor such as
// "audio/pcm;rate=16000".
//
// Encode and Decode are exact inverses modulo the quantization loss
// inherent in 16-bit truncation: for any sample s in [-1, 1],
// Decode(Encode(s)) is within 1/32768 of s.
package pcm

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hexaphone/lectern/pkg/audio"
)

// CaptureMIME is the mime descriptor attached to every outbound chunk.
var CaptureMIME = fmt.Sprintf("audio/pcm;rate=%d", audio.CaptureRate)

// ErrMalformedChunk reports an inbound payload that cannot be interpreted as
// 16-bit little-endian PCM: invalid base64, an empty payload, or an odd byte
// count. Malformed chunks are discarded by the caller; they never reach the
// playback scheduler.
var ErrMalformedChunk = errors.New("pcm: malformed audio chunk")

// WireChunk is the on-wire envelope for one frame of audio. Immutable once
// constructed.
type WireChunk struct {
	// Data is the base64-encoded 16-bit little-endian PCM payload.
	Data string

	// MIMEType encodes format and rate, e.g. "audio/pcm;rate=16000".
	MIMEType string
}

// Encode converts samples to a WireChunk carrying the capture mime type.
// Each sample is scaled by 32768 and truncated to int16. Samples outside
// [-1, 1] are a caller contract violation: the wire content for such samples
// is unspecified, but Encode never panics.
func Encode(samples []float32) WireChunk {
	return WireChunk{
		Data:     base64.StdEncoding.EncodeToString(EncodeBytes(samples)),
		MIMEType: CaptureMIME,
	}
}

// EncodeBytes converts samples to raw 16-bit little-endian PCM.
func EncodeBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(s * 32768)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Decode converts a base64 payload back to float32 samples, dividing each
// 16-bit value by 32768. It returns ErrMalformedChunk for invalid base64,
// empty payloads, and odd byte counts.
func Decode(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}
	return DecodeBytes(raw)
}

// DecodeBytes converts raw 16-bit little-endian PCM to float32 samples.
// It returns ErrMalformedChunk for empty payloads and odd byte counts, so a
// degenerate chunk is rejected here rather than scheduled for playback.
func DecodeBytes(raw []byte) ([]float32, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedChunk)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrMalformedChunk, len(raw))
	}

	out := make([]float32, len(raw)/2)
	for i := range out {
		v := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		out[i] = float32(v) / 32768.0
	}
	return out, nil
}

// Rate extracts the sample rate from a mime descriptor of the form
// "audio/pcm;rate=24000". It returns 0 when the descriptor carries no
// parseable rate parameter.
func Rate(mimeType string) int {
	for _, param := range strings.Split(mimeType, ";") {
		param = strings.TrimSpace(param)
		if rest, ok := strings.CutPrefix(param, "rate="); ok {
			rate, err := strconv.Atoi(rest)
			if err != nil || rate < 0 {
				return 0
			}
			return rate
		}
	}
	return 0
}
