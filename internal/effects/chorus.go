package effects

import "math"

// Chorus is a sine-modulated fractional delay.
type Chorus struct {
	bufL, bufR []float64
	pos        int
	depth      float64
	step       float64
	phase      float64
	feedback   float64
	wet        float64
}

// NewChorus takes the base delay and depth in milliseconds and the
// modulation rate in Hz.
func NewChorus(sampleRate int, ms, feedback, depthMs, rateHz, wet float64) *Chorus {
	sr := float64(sampleRate)
	depth := depthMs * sr / 1000
	n := int(ms*sr/1000) + int(depth) + 2
	if n < 4 {
		n = 4
	}
	return &Chorus{
		bufL:     make([]float64, n),
		bufR:     make([]float64, n),
		depth:    depth,
		step:     2 * math.Pi * rateHz / sr,
		feedback: clamp(feedback, 0, 0.9),
		wet:      clamp(wet, 0, 1),
	}
}

func (c *Chorus) Process(l, r float64) (float64, float64) {
	n := len(c.bufL)
	offset := float64(n/2) + math.Sin(c.phase)*c.depth
	c.phase = math.Mod(c.phase+c.step, 2*math.Pi)

	c.bufL[c.pos], c.bufR[c.pos] = l, r
	read := float64(c.pos) - offset
	for read < 0 {
		read += float64(n)
	}
	i := int(read) % n
	j := (i + 1) % n
	frac := read - math.Floor(read)
	outL := c.bufL[i]*(1-frac) + c.bufL[j]*frac
	outR := c.bufR[i]*(1-frac) + c.bufR[j]*frac
	c.bufL[c.pos] += outL * c.feedback
	c.bufR[c.pos] += outR * c.feedback

	if c.pos++; c.pos == n {
		c.pos = 0
	}
	return mix(l, outL, c.wet), mix(r, outR, c.wet)
}

func (c *Chorus) Reset() {
	clear(c.bufL)
	clear(c.bufR)
	c.pos = 0
	c.phase = 0
}
