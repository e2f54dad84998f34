package effects

// Reverb is a small Schroeder network: four parallel combs into two
// series allpasses, fed from the mono sum.
type Reverb struct {
	combs   [4]ring
	allpass [2]ring
	wet     float64
}

type ring struct {
	buf []float64
	pos int
	fb  float64
}

func newRing(n int, fb float64) ring {
	if n < 1 {
		n = 1
	}
	return ring{buf: make([]float64, n), fb: fb}
}

func (r *ring) advance() {
	if r.pos++; r.pos == len(r.buf) {
		r.pos = 0
	}
}

func (r *ring) comb(in float64) float64 {
	out := r.buf[r.pos]
	r.buf[r.pos] = in + out*r.fb
	r.advance()
	return out
}

func (r *ring) pass(in float64) float64 {
	held := r.buf[r.pos]
	r.buf[r.pos] = in + held*r.fb
	r.advance()
	return held - in
}

func (r *ring) reset() {
	clear(r.buf)
	r.pos = 0
}

// comb and allpass lengths relative to the base length, in thousandths
var (
	combRatios    = [4]int{1000, 1117, 1271, 1437}
	allpassRatios = [2]int{347, 213}
)

// NewReverb takes room size, feedback and wet mix, all in [0, 1].
func NewReverb(sampleRate int, room, feedback, wet float64) *Reverb {
	base := int(float64(sampleRate) * room * 0.05)
	if base < 10 {
		base = 10
	}
	fb := clamp(feedback, 0, 0.95)
	rv := &Reverb{wet: clamp(wet, 0, 1)}
	for i, ratio := range combRatios {
		rv.combs[i] = newRing(base*ratio/1000, fb)
	}
	for i, ratio := range allpassRatios {
		rv.allpass[i] = newRing(base*ratio/1000, 0.5)
	}
	return rv
}

func (rv *Reverb) Process(l, r float64) (float64, float64) {
	in := (l + r) / 2
	var out float64
	for i := range rv.combs {
		out += rv.combs[i].comb(in)
	}
	out /= float64(len(rv.combs))
	for i := range rv.allpass {
		out = rv.allpass[i].pass(out)
	}
	return mix(l, out, rv.wet), mix(r, out, rv.wet)
}

func (rv *Reverb) Reset() {
	for i := range rv.combs {
		rv.combs[i].reset()
	}
	for i := range rv.allpass {
		rv.allpass[i].reset()
	}
}
