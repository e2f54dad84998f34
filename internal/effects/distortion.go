package effects

import "math"

// Distortion is a tanh soft clipper with an optional one-pole lowpass on
// the output.
type Distortion struct {
	pre, post float64
	alpha     float64
	lp        [2]float64
}

// NewDistortion takes the input and output gains and the lowpass cutoff in
// Hz; a cutoff of 0 or above Nyquist disables the lowpass.
func NewDistortion(sampleRate int, preGain, postGain, lowpassHz float64) *Distortion {
	d := &Distortion{pre: preGain, post: postGain}
	if lowpassHz > 0 && lowpassHz < float64(sampleRate)/2 {
		d.alpha = onePole(lowpassHz, sampleRate)
	}
	return d
}

// onePole is the smoothing coefficient of an RC lowpass at cutoff.
func onePole(cutoff float64, sampleRate int) float64 {
	rc := 1 / (2 * math.Pi * cutoff)
	dt := 1 / float64(sampleRate)
	return dt / (rc + dt)
}

func (d *Distortion) Process(l, r float64) (float64, float64) {
	return d.shape(0, l), d.shape(1, r)
}

func (d *Distortion) shape(ch int, x float64) float64 {
	y := math.Tanh(x*d.pre) * d.post
	if d.alpha == 0 {
		return y
	}
	d.lp[ch] += d.alpha * (y - d.lp[ch])
	return d.lp[ch]
}

func (d *Distortion) Reset() {
	d.lp = [2]float64{}
}
