// Package audio defines the shared audio formats and sample-level helpers
// used across the Lectern voice pipeline.
//
// Samples flow through the pipeline as normalized float32 values in the
// range [-1.0, 1.0]. The wire representation (16-bit little-endian PCM in a
// base64 envelope) lives in the audio/pcm subpackage; this package holds the
// format constants and the resampling helper shared by the capture and
// playback paths.
package audio

// Pipeline-wide format constants. The remote real-time service consumes
// 16 kHz mono PCM and produces 24 kHz mono PCM; both rates are fixed by the
// protocol, not by local hardware.
const (
	// CaptureRate is the outbound (microphone) sample rate in Hz.
	CaptureRate = 16000

	// PlaybackRate is the inbound (synthesized speech) sample rate in Hz.
	PlaybackRate = 24000

	// FrameSamples is the fixed outbound frame size: the capture pipeline
	// emits one encoded frame per 4096 samples (256 ms at 16 kHz).
	FrameSamples = 4096

	// Channels is the channel count on both legs. The pipeline is mono end
	// to end.
	Channels = 1
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Duration returns the length in seconds of n samples at the given rate.
// A non-positive rate yields 0.
func Duration(n, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(n) / float64(rate)
}
