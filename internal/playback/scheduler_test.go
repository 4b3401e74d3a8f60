package playback

import (
	"math"
	"testing"
)

// renderFrames steps the playback clock by n frames and returns the output.
func renderFrames(s *Scheduler, n int) []float32 {
	out := make([]float32, n)
	s.Render(out)
	return out
}

// ramp returns n samples of a recognisable non-zero signal.
func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i%100) / 200.0
	}
	return out
}

func TestNewScheduler_DefaultRate(t *testing.T) {
	t.Parallel()

	if got := NewScheduler(0).Rate(); got != DefaultRate {
		t.Errorf("Rate() = %d; want %d", got, DefaultRate)
	}
	if got := NewScheduler(-5).Rate(); got != DefaultRate {
		t.Errorf("Rate() with negative rate = %d; want %d", got, DefaultRate)
	}
	if got := NewScheduler(48000).Rate(); got != 48000 {
		t.Errorf("Rate() = %d; want 48000", got)
	}
}

func TestSchedule_BackToBack(t *testing.T) {
	t.Parallel()

	s := NewScheduler(24000)

	// Three buffers of arbitrary length must occupy adjacent slots.
	d1, d2, d3 := 1000, 2500, 300

	t1 := s.Schedule(ramp(d1))
	t2 := s.Schedule(ramp(d2))
	t3 := s.Schedule(ramp(d3))

	if t1 != 0 {
		t.Errorf("first start = %v; want 0", t1)
	}
	if want := float64(d1) / 24000; math.Abs(t2-want) > 1e-9 {
		t.Errorf("second start = %v; want %v", t2, want)
	}
	if want := float64(d1+d2) / 24000; math.Abs(t3-want) > 1e-9 {
		t.Errorf("third start = %v; want %v", t3, want)
	}
	if want := float64(d1+d2+d3) / 24000; math.Abs(s.NextStart()-want) > 1e-9 {
		t.Errorf("NextStart = %v; want %v", s.NextStart(), want)
	}
}

func TestSchedule_OneSecondThenHalfSecond(t *testing.T) {
	t.Parallel()

	s := NewScheduler(24000)

	start1 := s.Schedule(ramp(24000)) // 1.0 s
	start2 := s.Schedule(ramp(12000)) // 0.5 s

	if start1 != 0 {
		t.Errorf("start1 = %v; want 0", start1)
	}
	if math.Abs(start2-1.0) > 1e-9 {
		t.Errorf("start2 = %v; want 1.0 (back-to-back after the first)", start2)
	}
	if math.Abs(s.NextStart()-1.5) > 1e-9 {
		t.Errorf("NextStart = %v; want 1.5", s.NextStart())
	}
}

func TestSchedule_CatchUpAfterStall(t *testing.T) {
	t.Parallel()

	s := NewScheduler(24000)

	s.Schedule(ramp(100))

	// The device renders far past the end of the scheduled audio: the
	// stream stalled.
	renderFrames(s, 24000)

	start := s.Schedule(ramp(100))
	if want := s.Now(); math.Abs(start-want) > 1e-9 {
		t.Errorf("start after stall = %v; want current clock %v (never in the past)", start, want)
	}
	if start < 1.0 {
		t.Errorf("start = %v; a stalled stream must not schedule before the clock", start)
	}
}

func TestRender_AdvancesClock(t *testing.T) {
	t.Parallel()

	s := NewScheduler(24000)

	if s.Now() != 0 {
		t.Fatalf("Now() = %v; want 0 before any render", s.Now())
	}

	renderFrames(s, 2400)
	if want := 0.1; math.Abs(s.Now()-want) > 1e-9 {
		t.Errorf("Now() = %v; want %v", s.Now(), want)
	}

	renderFrames(s, 2400)
	if want := 0.2; math.Abs(s.Now()-want) > 1e-9 {
		t.Errorf("Now() = %v; want %v", s.Now(), want)
	}
}

func TestRender_PlaysScheduledSamples(t *testing.T) {
	t.Parallel()

	s := NewScheduler(24000)

	in := []float32{0.1, 0.2, 0.3, 0.4}
	s.Schedule(in)

	out := renderFrames(s, 4)
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v; want %v", i, out[i], in[i])
		}
	}
	if got := s.Active(); got != 0 {
		t.Errorf("Active() = %d after full render; want 0", got)
	}
}

func TestRender_SilenceWhenEmpty(t *testing.T) {
	t.Parallel()

	s := NewScheduler(24000)

	out := make([]float32, 64)
	for i := range out {
		out[i] = 0.9 // stale device buffer content must be overwritten
	}
	s.Render(out)

	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %v; want silence", i, v)
		}
	}
}

func TestRender_SpansBufferBoundary(t *testing.T) {
	t.Parallel()

	s := NewScheduler(24000)

	first := []float32{0.1, 0.1, 0.1}
	second := []float32{0.5, 0.5, 0.5}
	s.Schedule(first)
	s.Schedule(second)

	// Render a block that covers the tail of the first buffer and the head
	// of the second: the seam must be gap-free.
	out := renderFrames(s, 4)
	want := []float32{0.1, 0.1, 0.1, 0.5}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v; want %v", i, out[i], want[i])
		}
	}

	out = renderFrames(s, 2)
	if out[0] != 0.5 || out[1] != 0.5 {
		t.Errorf("continuation = %v; want [0.5 0.5]", out)
	}
}

func TestRender_ClampsToUnitRange(t *testing.T) {
	t.Parallel()

	s := NewScheduler(24000)

	// Two sources overlapping at the same position after an interrupt-free
	// catch-up cannot normally happen, but the mixer must clamp regardless.
	s.Schedule([]float32{0.8, 0.8})
	s.sources[999] = &source{start: 0, samples: []float32{0.8, -2.0}}

	out := renderFrames(s, 2)
	if out[0] != 1.0 {
		t.Errorf("out[0] = %v; want clamp to 1.0", out[0])
	}
	if out[1] < -1.0 {
		t.Errorf("out[1] = %v; must not fall below -1.0", out[1])
	}
}

func TestRender_ZeroLengthBufferRemoved(t *testing.T) {
	t.Parallel()

	s := NewScheduler(24000)

	s.Schedule(nil)
	if got := s.Active(); got != 1 {
		t.Fatalf("Active() = %d; a zero-length buffer still occupies a slot", got)
	}

	renderFrames(s, 8)
	if got := s.Active(); got != 0 {
		t.Errorf("Active() = %d after render; want 0", got)
	}
}

func TestInterrupt_ClearsActiveSetAndResetsTimeline(t *testing.T) {
	t.Parallel()

	s := NewScheduler(24000)

	s.Schedule(ramp(24000))
	renderFrames(s, 1000)

	if got := s.Active(); got != 1 {
		t.Fatalf("Active() = %d; want 1 while playing", got)
	}

	s.Interrupt()

	if got := s.Active(); got != 0 {
		t.Errorf("Active() = %d after interrupt; want 0", got)
	}
	if got := s.NextStart(); got != 0 {
		t.Errorf("NextStart = %v after interrupt; want 0", got)
	}

	// The rendered block after the interrupt must be silent.
	out := renderFrames(s, 256)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %v after interrupt; want silence", i, v)
		}
	}
}

func TestInterrupt_NextScheduleCatchesUpToClock(t *testing.T) {
	t.Parallel()

	s := NewScheduler(24000)

	s.Schedule(ramp(24000))
	renderFrames(s, 12000) // clock at 0.5 s
	s.Interrupt()

	start := s.Schedule(ramp(100))
	if want := 0.5; math.Abs(start-want) > 1e-9 {
		t.Errorf("start after interrupt = %v; want %v (relative to the running clock)", start, want)
	}
}

func TestInterrupt_EmptySetIsNoOp(t *testing.T) {
	t.Parallel()

	s := NewScheduler(24000)
	s.Interrupt()
	s.Interrupt()

	if got := s.Active(); got != 0 {
		t.Errorf("Active() = %d; want 0", got)
	}
}

func TestReset_SameEffectAsInterrupt(t *testing.T) {
	t.Parallel()

	s := NewScheduler(24000)
	s.Schedule(ramp(500))
	s.Reset()

	if got := s.Active(); got != 0 {
		t.Errorf("Active() = %d after Reset; want 0", got)
	}
	if got := s.NextStart(); got != 0 {
		t.Errorf("NextStart = %v after Reset; want 0", got)
	}
}

func TestScheduler_OneShotPlaybackScenario(t *testing.T) {
	t.Parallel()

	s := NewScheduler(24000)

	// A single clip plays out: active 1 while audible, 0 after.
	clip := ramp(4800) // 200 ms
	s.Schedule(clip)

	renderFrames(s, 2400)
	if got := s.Active(); got != 1 {
		t.Errorf("Active() = %d mid-clip; want 1", got)
	}

	renderFrames(s, 2400)
	if got := s.Active(); got != 0 {
		t.Errorf("Active() = %d after clip; want 0", got)
	}
}
