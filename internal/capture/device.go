package capture

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/hexaphone/lectern/pkg/audio"
)

// Device owns the microphone. Exactly one Device may hold the microphone
// per controller instance; [Device.Close] releases it and is idempotent.
type Device struct {
	mctx *malgo.AllocatedContext
	dev  *malgo.Device

	closeOnce sync.Once
	closeErr  error
}

// OpenDevice acquires the default capture device at the wire rate
// ([audio.CaptureRate], mono, float32) and feeds every hardware callback
// into pipe. A failure to initialise or start the device is reported as
// [ErrPermissionDenied]: on the platforms malgo targets, a denied
// microphone surfaces as an init/start failure rather than a distinct
// error code.
func OpenDevice(pipe *Pipeline, logger *slog.Logger) (*Device, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("capture: init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = audio.Channels
	cfg.SampleRate = uint32(audio.CaptureRate)
	cfg.PeriodSizeInFrames = uint32(audio.FrameSamples)

	// scratch is only touched from the device callback.
	var scratch []float32
	callback := func(_, in []byte, frames uint32) {
		n := int(frames)
		if cap(scratch) < n {
			scratch = make([]float32, n)
		}
		buf := scratch[:n]
		for i := range buf {
			buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(in[i*4:]))
		}
		pipe.Process(buf)
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: callback})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: init capture device: %v", ErrPermissionDenied, err)
	}

	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: start capture device: %v", ErrPermissionDenied, err)
	}

	logger.Info("capture device started",
		"sample_rate", audio.CaptureRate,
		"frame_samples", audio.FrameSamples,
	)

	return &Device{mctx: mctx, dev: dev}, nil
}

// Close stops capturing and releases the microphone. Idempotent.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		if err := d.dev.Stop(); err != nil {
			d.closeErr = fmt.Errorf("capture: stop capture device: %w", err)
		}
		d.dev.Uninit()
		_ = d.mctx.Uninit()
		d.mctx.Free()
	})
	return d.closeErr
}
