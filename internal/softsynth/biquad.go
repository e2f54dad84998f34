package softsynth

import (
	"math"

	"github.com/cbegin/chiptone-go/internal/backend"
)

// Biquad is a stereo RBJ-cookbook filter. Coefficients are recomputed only
// when an automated parameter moves.
type Biquad struct {
	*node
	freq *Param
	q    *Param
	gain *Param
	kind backend.FilterType

	lastF, lastQ, lastG float64
	b0, b1, b2, a1, a2  float64
	x1, x2, y1, y2      [2]float64
	dirty               bool
}

func (b *Biquad) Frequency() backend.Param { return b.freq }
func (b *Biquad) Q() backend.Param         { return b.q }
func (b *Biquad) Gain() backend.Param      { return b.gain }

func (b *Biquad) SetType(t backend.FilterType) {
	b.ctx.mu.Lock()
	defer b.ctx.mu.Unlock()
	b.kind = t
	b.dirty = true
}

func (b *Biquad) process(t float64, frame int64, l, r float64) (float64, float64) {
	f := b.freq.render(t, frame)
	q := b.q.render(t, frame)
	g := b.gain.render(t, frame)
	if b.dirty || f != b.lastF || q != b.lastQ || g != b.lastG {
		b.design(f, q, g)
	}
	return b.tick(0, l), b.tick(1, r)
}

func (b *Biquad) tick(ch int, x float64) float64 {
	y := b.b0*x + b.b1*b.x1[ch] + b.b2*b.x2[ch] - b.a1*b.y1[ch] - b.a2*b.y2[ch]
	b.x2[ch], b.x1[ch] = b.x1[ch], x
	b.y2[ch], b.y1[ch] = b.y1[ch], y
	return y
}

func (b *Biquad) design(f, q, gainDB float64) {
	b.lastF, b.lastQ, b.lastG = f, q, gainDB
	b.dirty = false
	sr := b.ctx.sampleRate
	f = clamp(f, 10, sr/2*0.999)
	if q <= 0 {
		q = 0.0001
	}
	w0 := twoPi * f / sr
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * q)
	a := math.Pow(10, gainDB/40)
	var b0, b1, b2, a0, a1, a2 float64
	switch b.kind {
	case backend.FilterHighpass:
		b0, b1, b2 = (1+cosw)/2, -(1 + cosw), (1+cosw)/2
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	case backend.FilterBandpass:
		b0, b1, b2 = alpha, 0, -alpha
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	case backend.FilterNotch:
		b0, b1, b2 = 1, -2*cosw, 1
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	case backend.FilterAllpass:
		b0, b1, b2 = 1-alpha, -2*cosw, 1+alpha
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	case backend.FilterPeaking:
		b0, b1, b2 = 1+alpha*a, -2*cosw, 1-alpha*a
		a0, a1, a2 = 1+alpha/a, -2*cosw, 1-alpha/a
	case backend.FilterLowshelf:
		sq := 2 * math.Sqrt(a) * alpha
		b0 = a * ((a + 1) - (a-1)*cosw + sq)
		b1 = 2 * a * ((a - 1) - (a+1)*cosw)
		b2 = a * ((a + 1) - (a-1)*cosw - sq)
		a0 = (a + 1) + (a-1)*cosw + sq
		a1 = -2 * ((a - 1) + (a+1)*cosw)
		a2 = (a + 1) + (a-1)*cosw - sq
	case backend.FilterHighshelf:
		sq := 2 * math.Sqrt(a) * alpha
		b0 = a * ((a + 1) + (a-1)*cosw + sq)
		b1 = -2 * a * ((a - 1) + (a+1)*cosw)
		b2 = a * ((a + 1) + (a-1)*cosw - sq)
		a0 = (a + 1) - (a-1)*cosw + sq
		a1 = 2 * ((a - 1) - (a+1)*cosw)
		a2 = (a + 1) - (a-1)*cosw - sq
	default:
		b0, b1, b2 = (1-cosw)/2, 1-cosw, (1-cosw)/2
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	}
	b.b0, b.b1, b.b2 = b0/a0, b1/a0, b2/a0
	b.a1, b.a2 = a1/a0, a2/a0
}
