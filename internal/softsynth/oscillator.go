package softsynth

import (
	"math"

	"github.com/cbegin/chiptone-go/internal/backend"
)

const (
	twoPi             = math.Pi * 2
	periodicTableSize = 2048
)

// Oscillator renders built-in shapes with polyBLEP edges, or a periodic wave
// through a normalized lookup table.
type Oscillator struct {
	*node
	*source
	freq   *Param
	detune *Param
	kind   backend.OscType
	table  []float64
	phase  float64
}

func (o *Oscillator) Frequency() backend.Param { return o.freq }
func (o *Oscillator) Detune() backend.Param    { return o.detune }

func (o *Oscillator) SetType(t backend.OscType) {
	o.ctx.mu.Lock()
	defer o.ctx.mu.Unlock()
	if t == backend.OscCustom && o.table == nil {
		t = backend.OscSine
	}
	o.kind = t
}

func (o *Oscillator) SetPeriodicWave(w *backend.PeriodicWave) {
	if w == nil {
		return
	}
	o.ctx.mu.Lock()
	defer o.ctx.mu.Unlock()
	o.table = o.ctx.periodicTable(w)
	o.kind = backend.OscCustom
}

func (o *Oscillator) Start(t float64) error {
	o.ctx.mu.Lock()
	defer o.ctx.mu.Unlock()
	return o.source.start(t)
}

func (o *Oscillator) Stop(t float64) error {
	o.ctx.mu.Lock()
	defer o.ctx.mu.Unlock()
	return o.source.stop(t)
}

func (o *Oscillator) process(t float64, frame int64, _, _ float64) (float64, float64) {
	if !o.playing(t) {
		return 0, 0
	}
	f := o.freq.render(t, frame)
	if d := o.detune.render(t, frame); d != 0 {
		f *= math.Pow(2, d/1200)
	}
	dt := f / o.ctx.sampleRate
	if dt < 0 {
		dt = -dt
	}
	var out float64
	switch o.kind {
	case backend.OscSquare:
		out = -1
		if o.phase < 0.5 {
			out = 1
		}
		out += polyBLEP(o.phase, dt)
		out -= polyBLEP(math.Mod(o.phase+0.5, 1), dt)
	case backend.OscSawtooth:
		out = 2*o.phase - 1
		out -= polyBLEP(o.phase, dt)
	case backend.OscTriangle:
		out = 2*math.Abs(2*o.phase-1) - 1
	case backend.OscCustom:
		out = lookup(o.table, o.phase)
	default:
		out = math.Sin(twoPi * o.phase)
	}
	o.phase += dt
	o.phase -= math.Floor(o.phase)
	return out, out
}

// polyBLEP reduces aliasing at waveform discontinuities.
// t is the phase position [0,1), dt is the phase increment per sample.
func polyBLEP(t, dt float64) float64 {
	if dt <= 0 {
		return 0
	}
	if t < dt {
		t /= dt
		return t + t - t*t - 1
	}
	if t > 1-dt {
		t = (t - 1) / dt
		return t*t + t + t + 1
	}
	return 0
}

func lookup(table []float64, phase float64) float64 {
	n := len(table)
	if n == 0 {
		return 0
	}
	pos := phase * float64(n)
	i := int(pos) % n
	frac := pos - math.Floor(pos)
	return table[i]*(1-frac) + table[(i+1)%n]*frac
}

// buildPeriodicTable sums the harmonic series (DC ignored) and normalizes
// the peak to 1.
func buildPeriodicTable(w *backend.PeriodicWave, size int) []float64 {
	table := make([]float64, size)
	harmonics := len(w.Real)
	if len(w.Imag) > harmonics {
		harmonics = len(w.Imag)
	}
	for k := 1; k < harmonics; k++ {
		var a, b float64
		if k < len(w.Real) {
			a = w.Real[k]
		}
		if k < len(w.Imag) {
			b = w.Imag[k]
		}
		if a == 0 && b == 0 {
			continue
		}
		for i := range table {
			x := twoPi * float64(k) * float64(i) / float64(size)
			table[i] += a*math.Cos(x) + b*math.Sin(x)
		}
	}
	var peak float64
	for _, v := range table {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak > 0 {
		for i := range table {
			table[i] /= peak
		}
	}
	return table
}

// BufferSource plays a Buffer, optionally looping it.
type BufferSource struct {
	*node
	*source
	rate   *Param
	buffer *backend.Buffer
	loop   bool
	pos    float64
}

func (b *BufferSource) PlaybackRate() backend.Param { return b.rate }

func (b *BufferSource) SetBuffer(buf *backend.Buffer) {
	b.ctx.mu.Lock()
	defer b.ctx.mu.Unlock()
	b.buffer = buf
	b.pos = 0
}

func (b *BufferSource) SetLoop(loop bool) {
	b.ctx.mu.Lock()
	defer b.ctx.mu.Unlock()
	b.loop = loop
}

func (b *BufferSource) Start(t float64) error {
	b.ctx.mu.Lock()
	defer b.ctx.mu.Unlock()
	return b.source.start(t)
}

func (b *BufferSource) Stop(t float64) error {
	b.ctx.mu.Lock()
	defer b.ctx.mu.Unlock()
	return b.source.stop(t)
}

func (b *BufferSource) process(t float64, frame int64, _, _ float64) (float64, float64) {
	if !b.playing(t) || b.buffer == nil || len(b.buffer.Data) == 0 {
		return 0, 0
	}
	data := b.buffer.Data
	n := float64(len(data))
	if b.pos >= n {
		if !b.loop {
			return 0, 0
		}
		b.pos = math.Mod(b.pos, n)
	}
	out := data[int(b.pos)]
	step := b.rate.render(t, frame)
	if b.buffer.SampleRate > 0 {
		step *= b.buffer.SampleRate / b.ctx.sampleRate
	}
	b.pos += step
	return out, out
}
