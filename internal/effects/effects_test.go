package effects

import (
	"math"
	"testing"
)

func TestDelayProducesOutput(t *testing.T) {
	d := NewDelay(44100, 100, 0.5, 0, 0.5)
	d.Process(1.0, 1.0)
	for i := 0; i < 4409; i++ {
		d.Process(0, 0)
	}
	l, r := d.Process(0, 0)
	if math.Abs(l) < 0.01 || math.Abs(r) < 0.01 {
		t.Errorf("expected delayed output, got l=%f r=%f", l, r)
	}
}

func TestReverbProducesTail(t *testing.T) {
	r := NewReverb(44100, 0.5, 0.7, 0.5)
	r.Process(1.0, 1.0)
	var peak float64
	for i := 0; i < 10000; i++ {
		l, _ := r.Process(0, 0)
		peak = math.Max(peak, math.Abs(l))
	}
	if peak < 0.001 {
		t.Error("expected reverb tail")
	}
}

func TestDistortionIsBounded(t *testing.T) {
	d := NewDistortion(44100, 10, 0.5, 0)
	l, r := d.Process(0.5, 0.5)
	if math.Abs(l) > 0.5 || math.Abs(r) > 0.5 {
		t.Errorf("output exceeds post gain: %v %v", l, r)
	}
	if math.Abs(l) < 0.01 {
		t.Error("expected non-zero output")
	}
}

func TestCompressorReducesLoud(t *testing.T) {
	c := NewCompressor(44100, -10, 4, 1, 50, 0)
	var out float64
	for i := 0; i < 1000; i++ {
		out, _ = c.Process(1.0, 1.0)
	}
	if out >= 1.0 {
		t.Errorf("compressor should reduce loud signals, got %f", out)
	}
}

func TestEQ3BandUnityGain(t *testing.T) {
	eq := NewEQ3Band(44100, 1, 1, 1, 300, 3000)
	for i := 0; i < 1000; i++ {
		eq.Process(0.5, 0.5)
	}
	l, r := eq.Process(0.5, 0.5)
	if math.Abs(l-0.5) > 0.1 || math.Abs(r-0.5) > 0.1 {
		t.Errorf("expected ~0.5 with unity gains, got l=%f r=%f", l, r)
	}
}

func TestEQ5BandSumsToInputAtUnity(t *testing.T) {
	eq := NewEQ5Band(44100)
	for i := 0; i < 100; i++ {
		x := math.Sin(float64(i) * 0.3)
		l, _ := eq.Process(x, x)
		if math.Abs(l-x) > 1e-9 {
			t.Fatalf("sample %d: got %v want %v", i, l, x)
		}
	}
	eq.SetGain(9, 0)
	if eq.Gain(9) != 1 {
		t.Fatalf("out-of-range band should read as unity")
	}
}

func TestSampleHoldRunLengths(t *testing.T) {
	cases := []struct {
		name    string
		outRate float64
		rate    float64
		hold    int
	}{
		{"quarter", 48000, 12000, 4},
		{"non-integer", 44100, 8000, 5},
		{"bypass at rate", 48000, 48000, 1},
		{"bypass near rate", 48000, 47999.5, 1},
		{"zero rate", 48000, 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSampleHold(tc.outRate, tc.rate)
			if s.Hold() != tc.hold {
				t.Fatalf("hold = %d, want %d", s.Hold(), tc.hold)
			}
			// Feed a ramp; each output run must last exactly hold samples.
			var prev float64 = -1
			run := 0
			for i := 0; i < tc.hold*10; i++ {
				l, _ := s.Process(float64(i), 0)
				if l != prev {
					if prev >= 0 && run != tc.hold {
						t.Fatalf("run of %v lasted %d samples, want %d", prev, run, tc.hold)
					}
					prev, run = l, 0
				}
				run++
			}
		})
	}
}

func TestBuildRejectsUnknown(t *testing.T) {
	if _, err := Build(44100, []Spec{{Type: "flanger"}}); err == nil {
		t.Fatalf("expected unknown effect error")
	}
	if _, err := Build(44100, []Spec{{Type: "delay", Params: map[string]float64{"speed": 1}}}); err == nil {
		t.Fatalf("expected unknown parameter error")
	}
	c, err := Build(44100, []Spec{{Type: "delay", Params: map[string]float64{"ms": 10}}, {Type: "compressor"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("chain length = %d, want 2", c.Len())
	}
}

func TestChainAppliesEffectsInOrder(t *testing.T) {
	c := NewChain(
		NewDistortion(44100, 2, 1, 0),
		NewDelay(44100, 10, 0, 0, 0.5),
	)
	l, r := c.Process(0.5, 0.5)
	want := math.Tanh(1) * 0.5
	if math.Abs(l-want) > 1e-12 || math.Abs(r-want) > 1e-12 {
		t.Errorf("got %v %v, want %v", l, r, want)
	}
}
