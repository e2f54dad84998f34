package effects

import (
	"math"
	"sync/atomic"
)

// EQ3Band splits the signal with two one-pole crossovers and re-weights the
// low, mid and high bands.
type EQ3Band struct {
	gains       [3]float64
	lowA, highA float64
	lowLP, hiLP [2]float64
}

func NewEQ3Band(sampleRate int, lowGain, midGain, highGain, lowFreq, highFreq float64) *EQ3Band {
	return &EQ3Band{
		gains: [3]float64{lowGain, midGain, highGain},
		lowA:  onePole(lowFreq, sampleRate),
		highA: onePole(highFreq, sampleRate),
	}
}

func (eq *EQ3Band) Process(l, r float64) (float64, float64) {
	return eq.band(0, l), eq.band(1, r)
}

func (eq *EQ3Band) band(ch int, x float64) float64 {
	eq.lowLP[ch] += eq.lowA * (x - eq.lowLP[ch])
	eq.hiLP[ch] += eq.highA * (x - eq.hiLP[ch])
	low := eq.lowLP[ch]
	high := x - eq.hiLP[ch]
	mid := x - low - high
	return low*eq.gains[0] + mid*eq.gains[1] + high*eq.gains[2]
}

func (eq *EQ3Band) Reset() {
	eq.lowLP = [2]float64{}
	eq.hiLP = [2]float64{}
}

// EQ5Band is a five band graphic EQ split at 200 Hz, 800 Hz, 2.5 kHz and
// 8 kHz. Gains may be changed while the audio thread is running.
type EQ5Band struct {
	gains  [5]atomic.Uint64
	alphas [4]float64
	lp     [2][4]float64
}

var crossovers = [4]float64{200, 800, 2500, 8000}

func NewEQ5Band(sampleRate int) *EQ5Band {
	eq := &EQ5Band{}
	for i, f := range crossovers {
		eq.alphas[i] = onePole(f, sampleRate)
	}
	for i := range eq.gains {
		eq.gains[i].Store(math.Float64bits(1))
	}
	return eq
}

// SetGain sets band 0-4 to a linear gain; out-of-range bands are ignored.
func (eq *EQ5Band) SetGain(band int, gain float64) {
	if band >= 0 && band < len(eq.gains) {
		eq.gains[band].Store(math.Float64bits(gain))
	}
}

func (eq *EQ5Band) Gain(band int) float64 {
	if band >= 0 && band < len(eq.gains) {
		return math.Float64frombits(eq.gains[band].Load())
	}
	return 1
}

func (eq *EQ5Band) Process(l, r float64) (float64, float64) {
	return eq.split(0, l), eq.split(1, r)
}

func (eq *EQ5Band) split(ch int, x float64) float64 {
	var out float64
	rest := x
	for i, a := range eq.alphas {
		eq.lp[ch][i] += a * (rest - eq.lp[ch][i])
		out += eq.lp[ch][i] * eq.Gain(i)
		rest -= eq.lp[ch][i]
	}
	return out + rest*eq.Gain(4)
}

func (eq *EQ5Band) Reset() {
	eq.lp = [2][4]float64{}
}
