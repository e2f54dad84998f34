package voice

import (
	"math"

	"github.com/cbegin/chiptone-go/internal/bank"
)

// Defaults and bounds applied to trigger numbers. Non-finite values fall
// back to the default, finite ones clamp into range.
const (
	DefaultDuration = 0.25
	MinDuration     = 0.005
	MaxDuration     = 600

	MinAttack  = 0.001
	MinDecay   = 0.001
	MinRelease = 0.005
	MaxSegment = 30

	DefaultVelocity = 1.0
	MaxGain         = 4.0

	DefaultFreq = 440.0
	MinFreq     = 1.0
	MaxFreq     = 20000.0

	DefaultMonoCut = 0.012
	MinMonoCut     = 0.001
	MaxMonoCut     = 1.0

	// StopTail is the gap between a fade reaching zero and the source stop.
	StopTail = 0.005
	// VibratoTail keeps the vibrato LFO running past release end.
	VibratoTail = 0.05
)

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func orDefault(v, def float64) float64 {
	if !finite(v) {
		return def
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SanitizeADSR replaces non-finite segments with the bank defaults and
// clamps the rest.
func SanitizeADSR(env bank.ADSR) bank.ADSR {
	def := bank.DefaultADSR()
	return bank.ADSR{
		A: clamp(orDefault(env.A, def.A), MinAttack, MaxSegment),
		D: clamp(orDefault(env.D, def.D), MinDecay, MaxSegment),
		S: clamp(orDefault(env.S, def.S), 0, 1),
		R: clamp(orDefault(env.R, def.R), MinRelease, MaxSegment),
	}
}

// SanitizeDuration coerces a note length in seconds.
func SanitizeDuration(d float64) float64 {
	if !finite(d) || d <= 0 {
		return DefaultDuration
	}
	return clamp(d, MinDuration, MaxDuration)
}

// SanitizeVelocity coerces a velocity into [0, 1].
func SanitizeVelocity(v float64) float64 {
	return clamp(orDefault(v, DefaultVelocity), 0, 1)
}

// SanitizeFreq coerces a frequency in Hz.
func SanitizeFreq(f float64) float64 {
	if !finite(f) || f <= 0 {
		return DefaultFreq
	}
	return clamp(f, MinFreq, MaxFreq)
}

// SanitizeMonoCut coerces a steal fade length; zero selects the default.
func SanitizeMonoCut(c float64) float64 {
	if !finite(c) || c <= 0 {
		return DefaultMonoCut
	}
	return clamp(c, MinMonoCut, MaxMonoCut)
}

func sanitizePan(p float64) float64 {
	return clamp(orDefault(p, 0), -1, 1)
}

// MidiToFreq converts a MIDI note number to Hz with A4 = 69 = 440 Hz.
func MidiToFreq(n float64) float64 {
	return 440 * math.Pow(2, (n-69)/12)
}
