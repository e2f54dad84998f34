// Package wave builds and memoizes the waveform artifacts voices and buses
// pull from: pulse and sampled periodic waves, noise buffers and bit-depth
// quantization curves.
package wave

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"github.com/mjibson/go-dsp/fft"

	"github.com/cbegin/chiptone-go/internal/backend"
)

const (
	// PulseHarmonics is the number of harmonics in a pulse series.
	PulseHarmonics = 64
	// MaxTableHarmonics caps the harmonics extracted from sampled tables.
	MaxTableHarmonics = 32
	// CurvePoints is the minimum length of a quantization curve.
	CurvePoints = 2048
	// NoiseSeconds is the nominal length of a noise buffer.
	NoiseSeconds = 1.0

	MinBits = 2
	MaxBits = 16
)

var ErrEmptySamples = errors.New("wave: no samples")

// PulseSeries returns the Fourier series of a rectangular pulse with the
// given duty cycle: real[k] = 2·sin(kπd)/(kπ), no DC, no sine terms.
func PulseSeries(duty float64, harmonics int) *backend.PeriodicWave {
	duty = clampDuty(duty)
	if harmonics < 1 {
		harmonics = PulseHarmonics
	}
	w := &backend.PeriodicWave{
		Real: make([]float64, harmonics+1),
		Imag: make([]float64, harmonics+1),
	}
	for k := 1; k <= harmonics; k++ {
		kp := float64(k) * math.Pi
		w.Real[k] = 2 * math.Sin(kp*duty) / kp
	}
	return w
}

func clampDuty(d float64) float64 {
	if math.IsNaN(d) || d <= 0 || d >= 1 {
		return 0.5
	}
	if d < 0.001 {
		return 0.001
	}
	if d > 0.999 {
		return 0.999
	}
	return d
}

// quantizeDuty is the cache key resolution for pulse waves.
func quantizeDuty(d float64) float64 {
	return math.Round(clampDuty(d)*1e4) / 1e4
}

// DecodeNibbles turns a hex string into samples normalized with v/15*2-1.
// Whitespace and commas are ignored.
func DecodeNibbles(s string) ([]float64, error) {
	out := make([]float64, 0, len(s))
	for i, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', ',':
			continue
		}
		v, err := strconv.ParseUint(string(r), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("wave: invalid nibble %q at %d", r, i)
		}
		out = append(out, float64(v)/15*2-1)
	}
	if len(out) == 0 {
		return nil, ErrEmptySamples
	}
	return out, nil
}

// TableSeries converts one cycle of samples to a harmonic series restricted
// to min(32, N) harmonics.
func TableSeries(samples []float64) (*backend.PeriodicWave, error) {
	n := len(samples)
	if n == 0 {
		return nil, ErrEmptySamples
	}
	for _, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New("wave: non-finite sample")
		}
	}
	spectrum := fft.FFTReal(samples)
	h := MaxTableHarmonics
	if n < h {
		h = n
	}
	w := &backend.PeriodicWave{
		Real: make([]float64, h+1),
		Imag: make([]float64, h+1),
	}
	scale := 2 / float64(n)
	for k := 1; k <= h; k++ {
		x := spectrum[k%n]
		w.Real[k] = scale * real(x)
		w.Imag[k] = -scale * imag(x)
	}
	return w, nil
}

// HoldLength is the number of samples a sample-and-hold value persists for
// a target rate at the given sample rate. It is 1 when no decimation applies.
func HoldLength(sampleRate, rate float64) int {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) || sampleRate <= 0 {
		return 1
	}
	hold := int(math.Floor(sampleRate / rate))
	if hold < 1 {
		return 1
	}
	return hold
}

// NoiseBuffer builds a deterministic buffer of uniform noise in [-1, 1]
// with sample-and-hold at rate. The length is a whole number of hold runs
// so looping keeps every run exactly HoldLength samples long.
func NoiseBuffer(sampleRate, rate float64, seed int64) *backend.Buffer {
	hold := HoldLength(sampleRate, rate)
	n := int(sampleRate * NoiseSeconds)
	if n < hold {
		n = hold
	}
	n -= n % hold
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, n)
	var v float64
	for i := range data {
		if i%hold == 0 {
			v = rng.Float64()*2 - 1
		}
		data[i] = v
	}
	return &backend.Buffer{SampleRate: sampleRate, Data: data}
}

// ClampBits clamps a bit depth to [MinBits, MaxBits].
func ClampBits(bits int) int {
	if bits < MinBits {
		return MinBits
	}
	if bits > MaxBits {
		return MaxBits
	}
	return bits
}

// QuantizeCurve returns a monotonic transfer curve mapping [-1, 1] onto
// 2^bits uniformly spaced levels. The curve has at least CurvePoints points
// and at least two points per level so reapplying it is an identity.
func QuantizeCurve(bits int) []float64 {
	levels := 1 << ClampBits(bits)
	n := CurvePoints
	if n < 2*levels+1 {
		n = 2*levels + 1
	}
	curve := make([]float64, n)
	steps := float64(levels - 1)
	for i := range curve {
		x := -1 + 2*float64(i)/float64(n-1)
		curve[i] = QuantizeLevel(x, steps)
	}
	return curve
}

// QuantizeLevel snaps x in [-1, 1] to the nearest of steps+1 levels.
func QuantizeLevel(x, steps float64) float64 {
	if x < -1 {
		x = -1
	} else if x > 1 {
		x = 1
	}
	j := math.Round((x + 1) / 2 * steps)
	return -1 + 2*j/steps
}

func samplesKey(s string) string {
	return strings.ToLower(strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ','
	}), ""))
}
