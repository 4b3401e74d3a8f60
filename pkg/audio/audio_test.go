package audio_test

import (
	"math"
	"testing"

	"github.com/hexaphone/lectern/pkg/audio"
)

func TestDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n, rate int
		want    float64
	}{
		{16000, 16000, 1.0},
		{4096, 16000, 0.256},
		{24000, 24000, 1.0},
		{12000, 24000, 0.5},
		{0, 16000, 0},
		{100, 0, 0},
		{100, -1, 0},
	}
	for _, tt := range tests {
		if got := audio.Duration(tt.n, tt.rate); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Duration(%d, %d) = %v; want %v", tt.n, tt.rate, got, tt.want)
		}
	}
}

func TestResample_SameRateReturnsInput(t *testing.T) {
	t.Parallel()

	in := []float32{0.1, 0.2, 0.3}
	out := audio.Resample(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Error("matching rates should return the input slice unchanged")
	}
}

func TestResample_NonPositiveRateReturnsInput(t *testing.T) {
	t.Parallel()

	in := []float32{0.1, 0.2}
	if out := audio.Resample(in, 0, 16000); len(out) != len(in) {
		t.Error("zero source rate should return the input")
	}
	if out := audio.Resample(in, 16000, -1); len(out) != len(in) {
		t.Error("negative destination rate should return the input")
	}
}

func TestResample_Downsample_HalvesLength(t *testing.T) {
	t.Parallel()

	in := make([]float32, 480) // 10 ms at 48 kHz
	out := audio.Resample(in, 48000, 16000)
	if len(out) != 160 {
		t.Errorf("len = %d; want 160", len(out))
	}
}

func TestResample_Upsample_PreservesConstantSignal(t *testing.T) {
	t.Parallel()

	in := make([]float32, 160)
	for i := range in {
		in[i] = 0.75
	}
	out := audio.Resample(in, 16000, 24000)
	if len(out) != 240 {
		t.Fatalf("len = %d; want 240", len(out))
	}
	for i, s := range out {
		if math.Abs(float64(s)-0.75) > 1e-6 {
			t.Fatalf("sample %d = %v; constant signal should stay constant", i, s)
		}
	}
}

func TestResample_InterpolatesBetweenSamples(t *testing.T) {
	t.Parallel()

	// Doubling the rate of a ramp should land midpoints between neighbours.
	in := []float32{0, 1, 0, 1}
	out := audio.Resample(in, 8000, 16000)
	if len(out) != 8 {
		t.Fatalf("len = %d; want 8", len(out))
	}
	if out[0] != 0 {
		t.Errorf("out[0] = %v; want 0", out[0])
	}
	if math.Abs(float64(out[1])-0.5) > 1e-6 {
		t.Errorf("out[1] = %v; want 0.5 (midpoint)", out[1])
	}
}

func TestResample_Empty(t *testing.T) {
	t.Parallel()

	if out := audio.Resample(nil, 48000, 16000); len(out) != 0 {
		t.Errorf("resampling nil should yield empty output, got %d samples", len(out))
	}
}
