package effects

import "math"

// Compressor is a per-channel peak follower with a static ratio curve.
type Compressor struct {
	threshold float64
	slope     float64
	attack    float64
	release   float64
	makeup    float64
	env       [2]float64
}

// NewCompressor takes the threshold and makeup in dB and the attack and
// release times in milliseconds.
func NewCompressor(sampleRate int, thresholdDB, ratio, attackMs, releaseMs, makeupDB float64) *Compressor {
	if ratio < 1 {
		ratio = 1
	}
	return &Compressor{
		threshold: dbToLinear(thresholdDB),
		slope:     1/ratio - 1,
		attack:    smoothing(attackMs, sampleRate),
		release:   smoothing(releaseMs, sampleRate),
		makeup:    dbToLinear(makeupDB),
	}
}

func smoothing(ms float64, sampleRate int) float64 {
	if ms <= 0 {
		return 1
	}
	return 1 - math.Exp(-1/(ms*float64(sampleRate)/1000))
}

func dbToLinear(db float64) float64 { return math.Pow(10, db/20) }

func (c *Compressor) Process(l, r float64) (float64, float64) {
	return l * c.gain(0, l), r * c.gain(1, r)
}

func (c *Compressor) gain(ch int, x float64) float64 {
	a := math.Abs(x)
	coeff := c.release
	if a > c.env[ch] {
		coeff = c.attack
	}
	c.env[ch] += coeff * (a - c.env[ch])
	if c.env[ch] <= c.threshold || c.threshold <= 0 {
		return c.makeup
	}
	return math.Pow(c.env[ch]/c.threshold, c.slope) * c.makeup
}

func (c *Compressor) Reset() {
	c.env = [2]float64{}
}
