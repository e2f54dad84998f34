package wave

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/cbegin/chiptone-go/internal/backend"
)

// Factory memoizes waveform artifacts for one sample rate. Artifacts are
// immutable once published, so callers may share them freely.
type Factory struct {
	sampleRate float64
	seed       int64

	cache sync.Map // string -> artifact
	group singleflight.Group
}

// NewFactory creates a factory for sampleRate. seed drives noise buffers;
// two factories with the same seed produce identical noise.
func NewFactory(sampleRate float64, seed int64) *Factory {
	return &Factory{sampleRate: sampleRate, seed: seed}
}

func (f *Factory) SampleRate() float64 { return f.sampleRate }

// load returns the cached value for key or computes it. Concurrent misses
// share one computation; a value computed after a Forget never replaces one
// that is already published.
func (f *Factory) load(key string, compute func() (any, error)) (any, error) {
	if v, ok := f.cache.Load(key); ok {
		return v, nil
	}
	v, err, _ := f.group.Do(key, func() (any, error) {
		if v, ok := f.cache.Load(key); ok {
			return v, nil
		}
		v, err := compute()
		if err != nil {
			return nil, err
		}
		actual, _ := f.cache.LoadOrStore(key, v)
		return actual, nil
	})
	return v, err
}

// Forget drops a cached artifact. Holders of the old value keep using it.
func (f *Factory) Forget(key string) {
	f.cache.Delete(key)
}

// Pulse returns the band-limited pulse wave for duty. Duties that round to
// the same 1e-4 step share one wave.
func (f *Factory) Pulse(duty float64) *backend.PeriodicWave {
	d := quantizeDuty(duty)
	v, _ := f.load(PulseKey(d), func() (any, error) {
		return PulseSeries(d, PulseHarmonics), nil
	})
	return v.(*backend.PeriodicWave)
}

func PulseKey(duty float64) string {
	return "pulse:" + strconv.FormatFloat(quantizeDuty(duty), 'f', 4, 64)
}

// FromSamples converts a hex nibble string to a periodic wave.
func (f *Factory) FromSamples(hex string) (*backend.PeriodicWave, error) {
	key := "samples:" + samplesKey(hex)
	v, err := f.load(key, func() (any, error) {
		s, err := DecodeNibbles(hex)
		if err != nil {
			return nil, err
		}
		return TableSeries(s)
	})
	if err != nil {
		return nil, err
	}
	return v.(*backend.PeriodicWave), nil
}

// FromValues converts one cycle of float samples to a periodic wave. The
// result is not cached.
func (f *Factory) FromValues(samples []float64) (*backend.PeriodicWave, error) {
	return TableSeries(samples)
}

// Harmonics wraps an explicit series under id so every tone using the wave
// shares one instance.
func (f *Factory) Harmonics(id string, re, im []float64) (*backend.PeriodicWave, error) {
	n := max(len(re), len(im))
	if n < 2 {
		return nil, fmt.Errorf("wave %q: need at least one harmonic", id)
	}
	v, err := f.load("series:"+id, func() (any, error) {
		w := &backend.PeriodicWave{Real: make([]float64, n), Imag: make([]float64, n)}
		copy(w.Real, re)
		copy(w.Imag, im)
		for i := range n {
			if bad(w.Real[i]) || bad(w.Imag[i]) {
				return nil, fmt.Errorf("wave %q: non-finite coefficient at %d", id, i)
			}
		}
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*backend.PeriodicWave), nil
}

// ForgetWaves drops every cached explicit series so a reloaded bank
// rebuilds them.
func (f *Factory) ForgetWaves() {
	f.cache.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), "series:") {
			f.cache.Delete(k)
		}
		return true
	})
}

func bad(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }

// Noise returns the looping noise buffer for a sample-and-hold rate.
func (f *Factory) Noise(rate float64) *backend.Buffer {
	hold := HoldLength(f.sampleRate, rate)
	v, _ := f.load("noise:"+strconv.Itoa(hold), func() (any, error) {
		return NoiseBuffer(f.sampleRate, rate, f.seed), nil
	})
	return v.(*backend.Buffer)
}

// Quantize returns the waveshaper curve for bits.
func (f *Factory) Quantize(bits int) []float64 {
	b := ClampBits(bits)
	v, _ := f.load("bits:"+strconv.Itoa(b), func() (any, error) {
		return QuantizeCurve(b), nil
	})
	return v.([]float64)
}
