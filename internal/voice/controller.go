// Package voice wires the capture pipeline, the live session transport and
// the playback scheduler into a single start/stop/mute surface.
//
// A [Controller] owns every per-session resource: the microphone, the
// output device, the scheduler state and the transport. Teardown is
// idempotent and callable from any state — including concurrently with an
// in-flight Start — and asynchronous operations that complete after
// teardown are discarded rather than applied.
//
// This package is internal because it encapsulates application-private
// coordination logic and is not intended for import by external code.
package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hexaphone/lectern/internal/capture"
	"github.com/hexaphone/lectern/internal/observe"
	"github.com/hexaphone/lectern/internal/playback"
	"github.com/hexaphone/lectern/pkg/audio"
	"github.com/hexaphone/lectern/pkg/audio/pcm"
	"github.com/hexaphone/lectern/pkg/live"
)

// Transport is the slice of [live.Session] the controller depends on.
// It is an interface so that tests can supply a fake session without a
// network connection.
type Transport interface {
	TrySend(chunk pcm.WireChunk) error
	Events() <-chan live.Event
	State() live.State
	Close() error
}

// DialFunc opens a session transport. The default wraps [live.Dial].
type DialFunc func(ctx context.Context, cfg live.Config) (Transport, error)

// DeviceOpener abstracts the audio hardware so that the controller can be
// exercised without devices. The default opens malgo devices.
type DeviceOpener interface {
	OpenCapture(pipe *capture.Pipeline) (io.Closer, error)
	OpenPlayback(sched *playback.Scheduler) (io.Closer, error)
}

// Status is a user-visible session status change delivered to the OnStatus
// callback: a state transition and, for StateError, its cause.
type Status struct {
	State live.State
	Err   error
}

// Option configures a [Controller].
type Option func(*Controller)

// WithDial overrides the transport dialer. Used in tests.
func WithDial(dial DialFunc) Option {
	return func(c *Controller) { c.dial = dial }
}

// WithDevices overrides the audio device opener. Used in tests.
func WithDevices(devices DeviceOpener) Option {
	return func(c *Controller) { c.devices = devices }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller coordinates one live voice session. All methods are safe for
// concurrent use.
type Controller struct {
	cfg     live.Config
	dial    DialFunc
	devices DeviceOpener
	logger  *slog.Logger
	metrics *observe.Metrics

	statusMu sync.Mutex
	statusFn func(Status)

	mu         sync.Mutex
	started    bool
	gen        uint64 // bumped by Start and Stop; stale async completions check it
	muted      bool
	sessCancel context.CancelFunc
	transport  Transport
	pipe       *capture.Pipeline
	sched      *playback.Scheduler
	capDev     io.Closer
	playDev    io.Closer
	startedAt  time.Time
}

// New creates a Controller for the given session configuration. Options are
// applied in order; the zero set uses real devices and the real transport.
func New(cfg live.Config, opts ...Option) *Controller {
	c := &Controller{
		cfg: cfg,
		dial: func(ctx context.Context, cfg live.Config) (Transport, error) {
			return live.Dial(ctx, cfg)
		},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.devices == nil {
		c.devices = malgoDevices{logger: c.logger}
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// OnStatus registers fn as the callback for user-visible status changes.
// Only one callback may be registered at a time; subsequent calls replace
// the previous registration. fn is invoked on internal goroutines and must
// not block.
func (c *Controller) OnStatus(fn func(Status)) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.statusFn = fn
}

func (c *Controller) emitStatus(st Status) {
	c.statusMu.Lock()
	fn := c.statusFn
	c.statusMu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// Start acquires the microphone and output device, dials the live session,
// and wires capture → transport → playback. It returns an error wrapping
// [capture.ErrPermissionDenied] when the microphone cannot be acquired, and
// [live.ErrConnection] when the session cannot be opened. Teardown is bound
// to ctx: when ctx is cancelled the session stops exactly as if [Stop] had
// been called, so the hosting surface can never orphan the microphone.
//
// If Stop is called while Start is still connecting, Start releases
// everything it acquired and returns nil.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.gen++
	gen := c.gen

	sessCtx, cancel := context.WithCancel(ctx)
	c.sessCancel = cancel

	sched := playback.NewScheduler(audio.PlaybackRate)
	pipe := capture.NewPipeline(&gatedSender{c: c}, c.logger)
	pipe.SetMuted(c.muted)
	c.sched = sched
	c.pipe = pipe
	c.startedAt = time.Now()
	c.mu.Unlock()

	// Lifecycle binding: ctx cancellation always reaches Stop.
	go func() {
		<-sessCtx.Done()
		c.Stop()
	}()

	// Microphone first: a permission failure must surface before any
	// network activity.
	capDev, err := c.devices.OpenCapture(pipe)
	if err != nil {
		c.Stop()
		return fmt.Errorf("voice: acquire microphone: %w", err)
	}
	if !c.adopt(gen, func(c *Controller) { c.capDev = capDev }) {
		_ = capDev.Close()
		return nil
	}

	playDev, err := c.devices.OpenPlayback(sched)
	if err != nil {
		c.Stop()
		return fmt.Errorf("voice: open playback device: %w", err)
	}
	if !c.adopt(gen, func(c *Controller) { c.playDev = playDev }) {
		_ = playDev.Close()
		return nil
	}

	tr, err := c.dial(sessCtx, c.cfg)
	if err != nil {
		c.emitStatus(Status{State: live.StateError, Err: err})
		c.Stop()
		return fmt.Errorf("voice: connect: %w", err)
	}
	if !c.adopt(gen, func(c *Controller) { c.transport = tr }) {
		// Stop won the race: the late connection must not resurrect state.
		_ = tr.Close()
		go audio.Drain(tr.Events())
		return nil
	}

	c.metrics.ActiveSessions.Add(context.Background(), 1)
	go c.pump(tr, sched)

	return nil
}

// adopt stores session state under the lock if and only if the session
// that acquired it is still the current one. It reports whether the state
// was adopted; the caller releases the resource when it was not.
func (c *Controller) adopt(gen uint64, assign func(*Controller)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.gen != gen {
		return false
	}
	assign(c)
	return true
}

// pump dispatches inbound transport events to the playback scheduler and
// the status callback. It exits when the transport closes its event stream.
func (c *Controller) pump(tr Transport, sched *playback.Scheduler) {
	ctx := context.Background()
	warnedRate := false

	for ev := range tr.Events() {
		switch ev.Type {
		case live.EventOpened:
			c.emitStatus(Status{State: live.StateConnected})

		case live.EventAudio:
			if r := pcm.Rate(ev.MIMEType); r != 0 && r != sched.Rate() && !warnedRate {
				warnedRate = true
				c.logger.Warn("inbound audio rate differs from playback rate",
					"mime_type", ev.MIMEType,
					"playback_rate", sched.Rate(),
				)
			}
			samples, err := pcm.DecodeBytes(ev.Audio)
			if err != nil {
				c.metrics.ChunksMalformed.Add(ctx, 1)
				c.logger.Debug("inbound chunk discarded", "err", err)
				continue
			}
			sched.Schedule(samples)
			c.metrics.ChunksScheduled.Add(ctx, 1)

		case live.EventInterrupted:
			sched.Interrupt()
			c.metrics.Interruptions.Add(ctx, 1)

		case live.EventError:
			c.emitStatus(Status{State: live.StateError, Err: ev.Err})

		case live.EventClosed:
			c.emitStatus(Status{State: live.StateClosed})
		}
	}
}

// Stop tears the session down completely: transport closed, devices
// released, scheduler reset. It is safe to call when never started, when
// already stopped, and concurrently with an in-flight Start; repeated calls
// are no-ops.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.gen++
	cancel := c.sessCancel
	tr := c.transport
	capDev := c.capDev
	playDev := c.playDev
	sched := c.sched
	startedAt := c.startedAt
	c.sessCancel = nil
	c.transport = nil
	c.capDev = nil
	c.playDev = nil
	c.sched = nil
	c.pipe = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tr != nil {
		_ = tr.Close()
	}
	if capDev != nil {
		_ = capDev.Close()
	}
	if playDev != nil {
		_ = playDev.Close()
	}
	if sched != nil {
		sched.Reset()
	}

	if tr != nil {
		ctx := context.Background()
		c.metrics.ActiveSessions.Add(ctx, -1)
		c.metrics.SessionDuration.Record(ctx, time.Since(startedAt).Seconds())
	}

	c.logger.Info("voice session stopped")
}

// SetMuted toggles the capture mute gate without touching the transport.
// The setting survives across sessions: muting before Start starts the next
// session muted.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
	if c.pipe != nil {
		c.pipe.SetMuted(muted)
	}
}

// Muted reports the current state of the mute gate.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// gatedSender routes capture frames to whichever transport is current,
// dropping frames while no transport is connected. It also records the
// outbound metrics.
type gatedSender struct {
	c *Controller
}

// TrySend implements [capture.Sender].
func (g *gatedSender) TrySend(chunk pcm.WireChunk) error {
	g.c.mu.Lock()
	tr := g.c.transport
	g.c.mu.Unlock()

	ctx := context.Background()
	if tr == nil {
		g.c.metrics.FramesDropped.Add(ctx, 1)
		return live.ErrNotConnected
	}

	if err := tr.TrySend(chunk); err != nil {
		g.c.metrics.FramesDropped.Add(ctx, 1)
		return err
	}
	g.c.metrics.FramesSent.Add(ctx, 1)
	return nil
}

// malgoDevices is the production [DeviceOpener]: real hardware via malgo.
type malgoDevices struct {
	logger *slog.Logger
}

func (d malgoDevices) OpenCapture(pipe *capture.Pipeline) (io.Closer, error) {
	return capture.OpenDevice(pipe, d.logger)
}

func (d malgoDevices) OpenPlayback(sched *playback.Scheduler) (io.Closer, error) {
	return playback.OpenDevice(sched, d.logger)
}

// IsPermissionDenied reports whether err stems from a denied microphone.
// Convenience for callers building user-facing messages.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, capture.ErrPermissionDenied)
}
