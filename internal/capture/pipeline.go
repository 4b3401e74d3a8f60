// Package capture turns a live microphone stream into a sequence of
// encoded outbound audio chunks.
//
// The hardware capture callback is the single suspension point of the
// outbound direction: it feeds samples into a [Pipeline], which slices them
// into fixed-size frames, applies the mute gate, encodes each frame and
// hands it to the transport. Everything here is best-effort real time — a
// frame that cannot be sent is dropped and logged, never buffered, and a
// single failed send must not tear down the session.
//
// This package is internal because it encapsulates application-private
// pipeline logic and is not intended for import by external code.
package capture

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/hexaphone/lectern/pkg/audio"
	"github.com/hexaphone/lectern/pkg/audio/pcm"
)

// ErrPermissionDenied reports that the microphone could not be acquired.
// It is distinguishable from generic device failures so the controller can
// surface "permission denied" rather than an opaque error.
var ErrPermissionDenied = errors.New("capture: microphone access denied")

// Sender is the outbound half of the session transport as seen by the
// capture pipeline. TrySend must never block: it either accepts the chunk
// or rejects it immediately.
type Sender interface {
	TrySend(chunk pcm.WireChunk) error
}

// Pipeline accumulates microphone samples into fixed frames and forwards
// encoded frames to a [Sender].
//
// Process is invoked only from the capture device callback; the frame
// accumulator is therefore single-writer and needs no lock. The mute gate
// is atomic so the UI can toggle it from any goroutine.
type Pipeline struct {
	sender       Sender
	logger       *slog.Logger
	frameSamples int
	deviceRate   int

	muted atomic.Bool

	// buf accumulates samples between device callbacks until a full frame
	// is available. Only touched from Process.
	buf []float32

	framesSent    atomic.Int64
	framesDropped atomic.Int64
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithFrameSamples overrides the outbound frame size. The default is
// [audio.FrameSamples]. Useful in tests to keep fixtures small.
func WithFrameSamples(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.frameSamples = n
		}
	}
}

// WithDeviceRate declares the sample rate the capture device actually
// delivers. When it differs from [audio.CaptureRate], each frame is
// resampled to the wire rate before encoding. The default assumes the
// device was opened at the wire rate.
func WithDeviceRate(rate int) Option {
	return func(p *Pipeline) {
		if rate > 0 {
			p.deviceRate = rate
		}
	}
}

// NewPipeline creates a Pipeline that forwards encoded frames to sender.
func NewPipeline(sender Sender, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		sender:       sender,
		logger:       logger,
		frameSamples: audio.FrameSamples,
		deviceRate:   audio.CaptureRate,
	}
	for _, o := range opts {
		o(p)
	}
	p.buf = make([]float32, 0, p.frameSamples)
	return p
}

// SetMuted toggles the mute gate. While muted the pipeline drops incoming
// samples instead of queueing them: unmuting resumes with live audio and
// the muted stretch becomes a silent gap on the wire.
func (p *Pipeline) SetMuted(muted bool) {
	p.muted.Store(muted)
}

// Muted reports the current state of the mute gate.
func (p *Pipeline) Muted() bool {
	return p.muted.Load()
}

// FramesSent returns the number of frames handed to the sender so far.
func (p *Pipeline) FramesSent() int64 { return p.framesSent.Load() }

// FramesDropped returns the number of frames dropped by send failures.
func (p *Pipeline) FramesDropped() int64 { return p.framesDropped.Load() }

// Process consumes one batch of captured samples. It must be called only
// from the capture device callback. Full frames are emitted in capture
// order; a partial frame stays buffered for the next callback.
func (p *Pipeline) Process(samples []float32) {
	if p.muted.Load() {
		// Muting drops frames rather than buffering them; a partially
		// accumulated frame is discarded too so stale audio never trails
		// the unmute.
		p.buf = p.buf[:0]
		return
	}

	p.buf = append(p.buf, samples...)
	for len(p.buf) >= p.frameSamples {
		p.emit(p.buf[:p.frameSamples])
		n := copy(p.buf, p.buf[p.frameSamples:])
		p.buf = p.buf[:n]
	}
}

// emit encodes one frame and hands it to the sender. Send failures are
// logged and swallowed: dropping a frame preserves real-time continuity.
func (p *Pipeline) emit(frame []float32) {
	if p.deviceRate != audio.CaptureRate {
		frame = audio.Resample(frame, p.deviceRate, audio.CaptureRate)
	}

	chunk := pcm.Encode(frame)
	if err := p.sender.TrySend(chunk); err != nil {
		p.framesDropped.Add(1)
		p.logger.Debug("outbound frame dropped", "err", err)
		return
	}
	p.framesSent.Add(1)
}
