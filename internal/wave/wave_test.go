package wave

import (
	"math"
	"sync"
	"testing"
)

func TestPulseSeriesClosedForm(t *testing.T) {
	for _, duty := range []float64{0.125, 0.25, 0.5, 0.75} {
		w := PulseSeries(duty, PulseHarmonics)
		if len(w.Real) != PulseHarmonics+1 || len(w.Imag) != PulseHarmonics+1 {
			t.Fatalf("duty %v: series length %d/%d", duty, len(w.Real), len(w.Imag))
		}
		if w.Real[0] != 0 || w.Imag[0] != 0 {
			t.Fatalf("duty %v: DC term present", duty)
		}
		for k := 1; k <= PulseHarmonics; k++ {
			want := 2 * math.Sin(float64(k)*math.Pi*duty) / (float64(k) * math.Pi)
			if math.Abs(w.Real[k]-want) > 1e-12 {
				t.Fatalf("duty %v k=%d: real=%v want %v", duty, k, w.Real[k], want)
			}
			if w.Imag[k] != 0 {
				t.Fatalf("duty %v k=%d: imag=%v", duty, k, w.Imag[k])
			}
		}
	}
}

func TestPulseHalfDutyHasNoEvenHarmonics(t *testing.T) {
	w := PulseSeries(0.5, PulseHarmonics)
	for k := 2; k <= PulseHarmonics; k += 2 {
		if math.Abs(w.Real[k]) > 1e-12 {
			t.Fatalf("harmonic %d = %v, want 0", k, w.Real[k])
		}
	}
}

func TestTableSeriesRecoversSinusoids(t *testing.T) {
	const n = 32
	cos := make([]float64, n)
	sin := make([]float64, n)
	for i := range cos {
		x := 2 * math.Pi * float64(i) / n
		cos[i] = math.Cos(x)
		sin[i] = 0.5 * math.Sin(3*x)
	}
	w, err := TableSeries(cos)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(w.Real[1]-1) > 1e-9 || math.Abs(w.Imag[1]) > 1e-9 {
		t.Fatalf("cosine: real[1]=%v imag[1]=%v", w.Real[1], w.Imag[1])
	}
	w, err = TableSeries(sin)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(w.Imag[3]-0.5) > 1e-9 || math.Abs(w.Real[3]) > 1e-9 {
		t.Fatalf("sine: real[3]=%v imag[3]=%v", w.Real[3], w.Imag[3])
	}
}

func TestTableSeriesHarmonicCount(t *testing.T) {
	short, err := TableSeries(make([]float64, 8))
	if err != nil {
		t.Fatal(err)
	}
	if len(short.Real) != 9 {
		t.Fatalf("8 samples: %d coefficients, want 9", len(short.Real))
	}
	long, err := TableSeries(make([]float64, 64))
	if err != nil {
		t.Fatal(err)
	}
	if len(long.Real) != MaxTableHarmonics+1 {
		t.Fatalf("64 samples: %d coefficients, want %d", len(long.Real), MaxTableHarmonics+1)
	}
	if _, err := TableSeries(nil); err != ErrEmptySamples {
		t.Fatalf("empty: err=%v", err)
	}
}

func TestDecodeNibbles(t *testing.T) {
	got, err := DecodeNibbles("0F 8,")
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{-1, 1, 8.0/15*2 - 1}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
	if _, err := DecodeNibbles("0g"); err == nil {
		t.Fatalf("expected error for invalid nibble")
	}
	if _, err := DecodeNibbles(" "); err != ErrEmptySamples {
		t.Fatalf("blank: err=%v", err)
	}
}

// interp mirrors the waveshaper's linear interpolation over [-1, 1].
func interp(curve []float64, x float64) float64 {
	n := len(curve)
	pos := (x + 1) / 2 * float64(n-1)
	if pos <= 0 {
		return curve[0]
	}
	if pos >= float64(n-1) {
		return curve[n-1]
	}
	i := int(pos)
	frac := pos - float64(i)
	return curve[i]*(1-frac) + curve[i+1]*frac
}

func TestQuantizeCurveProperties(t *testing.T) {
	for _, bits := range []int{1, 2, 3, 4, 8, 12, 16, 20} {
		curve := QuantizeCurve(bits)
		levels := 1 << ClampBits(bits)
		if len(curve) < CurvePoints || len(curve) < 2*levels+1 {
			t.Fatalf("bits %d: length %d", bits, len(curve))
		}
		distinct := map[float64]bool{}
		for i, v := range curve {
			if i > 0 && v < curve[i-1] {
				t.Fatalf("bits %d: not monotonic at %d", bits, i)
			}
			distinct[v] = true
		}
		if len(distinct) != levels {
			t.Fatalf("bits %d: %d distinct levels, want %d", bits, len(distinct), levels)
		}
		if curve[0] != -1 || curve[len(curve)-1] != 1 {
			t.Fatalf("bits %d: endpoints %v %v", bits, curve[0], curve[len(curve)-1])
		}
		for v := range distinct {
			if got := interp(curve, v); math.Abs(got-v) > 1e-9 {
				t.Fatalf("bits %d: reapplying %v gave %v", bits, v, got)
			}
		}
	}
}

func TestNoiseBufferRuns(t *testing.T) {
	cases := []struct {
		rate float64
		hold int
	}{
		{0, 1},
		{44100, 1},
		{11025, 4},
		{7000, 6},
		{3000, 14},
	}
	for _, tc := range cases {
		buf := NoiseBuffer(44100, tc.rate, 7)
		if got := HoldLength(44100, tc.rate); got != tc.hold {
			t.Fatalf("rate %v: hold %d, want %d", tc.rate, got, tc.hold)
		}
		if len(buf.Data)%tc.hold != 0 {
			t.Fatalf("rate %v: length %d not a multiple of %d", tc.rate, len(buf.Data), tc.hold)
		}
		for i, v := range buf.Data {
			if v < -1 || v > 1 {
				t.Fatalf("rate %v: sample %d out of range: %v", tc.rate, i, v)
			}
			if v != buf.Data[i-i%tc.hold] {
				t.Fatalf("rate %v: sample %d breaks its run", tc.rate, i)
			}
		}
	}
	a := NoiseBuffer(44100, 5000, 1)
	b := NoiseBuffer(44100, 5000, 1)
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("noise not deterministic at %d", i)
		}
	}
}

func TestFactoryMemoizes(t *testing.T) {
	f := NewFactory(48000, 1)
	if f.Pulse(0.12341) != f.Pulse(0.12344) {
		t.Fatalf("duties rounding to the same step should share a wave")
	}
	if f.Pulse(0.125) == f.Pulse(0.25) {
		t.Fatalf("distinct duties should not share a wave")
	}
	if &f.Quantize(4)[0] != &f.Quantize(4)[0] {
		t.Fatalf("quantize curve not cached")
	}
	if f.Noise(4000) != f.Noise(4000) {
		t.Fatalf("noise buffer not cached")
	}

	var wg sync.WaitGroup
	got := make([]any, 32)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := f.FromSamples("0123456789abcdef")
			if err != nil {
				t.Error(err)
				return
			}
			got[i] = w
		}()
	}
	wg.Wait()
	for i := range got {
		if got[i] != got[0] {
			t.Fatalf("concurrent callers received different waves")
		}
	}

	old := f.Pulse(0.3)
	f.Forget(PulseKey(0.3))
	if f.Pulse(0.3) == old {
		t.Fatalf("forget should force a rebuild")
	}
}

func TestFactoryHarmonics(t *testing.T) {
	f := NewFactory(48000, 1)
	w, err := f.Harmonics("bell", []float64{0, 1}, []float64{0, 0, 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if len(w.Real) != 3 || w.Imag[2] != 0.5 {
		t.Fatalf("unexpected series %+v", w)
	}
	if _, err := f.Harmonics("x", []float64{0}, nil); err == nil {
		t.Fatalf("expected error for empty series")
	}
	if _, err := f.Harmonics("nan", []float64{0, math.NaN()}, nil); err == nil {
		t.Fatalf("expected error for NaN coefficient")
	}
}
