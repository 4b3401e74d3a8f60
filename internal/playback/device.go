package playback

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// Device drives a [Scheduler] from the default output device. The hardware
// callback pulls exactly the frames it needs through [Scheduler.Render], so
// the scheduler's clock is the device clock.
type Device struct {
	mctx *malgo.AllocatedContext
	dev  *malgo.Device

	closeOnce sync.Once
	closeErr  error
}

// OpenDevice opens the default playback device at the scheduler's sample
// rate (mono, float32) and starts pulling audio. The caller must call
// [Device.Close] to release the device.
func OpenDevice(sched *Scheduler, logger *slog.Logger) (*Device, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("playback: init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sched.Rate())

	// scratch is only touched from the device callback.
	var scratch []float32
	callback := func(out, _ []byte, frames uint32) {
		n := int(frames)
		if cap(scratch) < n {
			scratch = make([]float32, n)
		}
		buf := scratch[:n]
		sched.Render(buf)
		for i, v := range buf {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: callback})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("playback: init output device: %w", err)
	}

	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("playback: start output device: %w", err)
	}

	logger.Info("playback device started", "sample_rate", sched.Rate())

	return &Device{mctx: mctx, dev: dev}, nil
}

// Close stops the device and releases the audio context. Idempotent.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		if err := d.dev.Stop(); err != nil {
			d.closeErr = fmt.Errorf("playback: stop output device: %w", err)
		}
		d.dev.Uninit()
		_ = d.mctx.Uninit()
		d.mctx.Free()
	})
	return d.closeErr
}
