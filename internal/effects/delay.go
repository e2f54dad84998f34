package effects

// Delay is a stereo echo with feedback and cross-channel feedback.
type Delay struct {
	bufL, bufR []float64
	pos        int
	feedback   float64
	cross      float64
	wet        float64
}

// NewDelay creates a delay of ms milliseconds. feedback is clamped to
// [0, 0.95], cross and wet to [0, 1].
func NewDelay(sampleRate int, ms, feedback, cross, wet float64) *Delay {
	n := int(ms * float64(sampleRate) / 1000)
	if n < 1 {
		n = 1
	}
	return &Delay{
		bufL:     make([]float64, n),
		bufR:     make([]float64, n),
		feedback: clamp(feedback, 0, 0.95),
		cross:    clamp(cross, 0, 1),
		wet:      clamp(wet, 0, 1),
	}
}

func (d *Delay) Process(l, r float64) (float64, float64) {
	outL, outR := d.bufL[d.pos], d.bufR[d.pos]
	straight := d.feedback * (1 - d.cross)
	crossed := d.feedback * d.cross
	d.bufL[d.pos] = l + outL*straight + outR*crossed
	d.bufR[d.pos] = r + outR*straight + outL*crossed
	if d.pos++; d.pos == len(d.bufL) {
		d.pos = 0
	}
	return mix(l, outL, d.wet), mix(r, outR, d.wet)
}

func (d *Delay) Reset() {
	clear(d.bufL)
	clear(d.bufR)
	d.pos = 0
}

func mix(dry, wet, amount float64) float64 {
	return dry*(1-amount) + wet*amount
}
