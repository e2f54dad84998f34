package voice

import (
	"math"

	"github.com/cbegin/chiptone-go/internal/bank"
)

// ramp builds a set-then-ramp pair from (t0, from) to (t0+dur, to). An
// exponential curve is used only when asked for and both ends are positive.
func ramp(curve bank.Curve, t0, dur, from, to float64) Steps {
	steps := Steps{{StepSet, t0, from}}
	if !(dur > 0) {
		steps[0].Value = to
		return steps
	}
	kind := StepLinear
	if curve == bank.Exponential && from > 0 && to > 0 {
		kind = StepExp
	}
	return append(steps, Step{kind, t0 + dur, to})
}

// PitchSteps resolves a pitch ramp. In Hz mode it targets the oscillator
// frequency; in cents mode it targets detune on top of baseDetune.
func PitchSteps(fx *bank.PitchFX, t0 float64, baseDetune float64) (steps Steps, cents bool) {
	from := orDefault(fx.From, 0)
	to := orDefault(fx.To, from)
	dur := clamp(orDefault(fx.Time, 0), 0, MaxSegment)
	if fx.Mode == bank.Cents {
		return ramp(fx.Curve, t0, dur, baseDetune+from, baseDetune+to), true
	}
	from = SanitizeFreq(from)
	to = SanitizeFreq(to)
	return ramp(fx.Curve, t0, dur, from, to), false
}

// VibratoSteps is the depth envelope of a vibrato: silent until delay, a
// linear fade in over attack, held until off, then a linear fade out over
// release. A note ending during the fade in releases from the depth it
// reached.
func VibratoSteps(v *bank.VibratoFX, t0, off float64) Steps {
	depth := orDefault(v.Depth, 0)
	delay := clamp(orDefault(v.Delay, 0), 0, MaxSegment)
	attack := clamp(orDefault(v.Attack, 0), 0, MaxSegment)
	release := clamp(orDefault(v.Release, 0), 0, MaxSegment)
	if release == 0 {
		release = VibratoTail
	}

	onset := t0 + delay
	full := onset + attack
	steps := Steps{{StepSet, t0, 0}}
	switch {
	case off <= onset:
		return append(steps, Step{StepSet, off, 0})
	case off < full:
		reachedDepth := depth * (off - onset) / attack
		steps = append(steps,
			Step{StepSet, onset, 0},
			Step{StepLinear, off, reachedDepth})
	default:
		if attack > 0 {
			steps = append(steps, Step{StepSet, onset, 0}, Step{StepLinear, full, depth})
		} else {
			steps = append(steps, Step{StepSet, onset, depth})
		}
		steps = append(steps, Step{StepSet, off, depth})
	}
	return append(steps, Step{StepLinear, off + release, 0})
}

// VibratoEnd is when the vibrato source stops for a note releasing at
// releaseEnd.
func VibratoEnd(v *bank.VibratoFX, off, releaseEnd float64) float64 {
	rel := clamp(orDefault(v.Release, 0), 0, MaxSegment)
	if rel == 0 {
		rel = VibratoTail
	}
	return math.Max(off+rel, releaseEnd) + VibratoTail
}

// FilterSettings is a resolved per-voice biquad configuration.
type FilterSettings struct {
	Type  string
	Q     float64
	Gain  float64
	Freq  Steps
	Sweep bool
}

// ResolveFilter merges a tone filter with a per-note override. It returns
// false when the voice needs no filter.
func ResolveFilter(tone *bank.Filter, note *bank.FilterFX, t0 float64) (FilterSettings, bool) {
	if tone == nil && note == nil {
		return FilterSettings{}, false
	}
	fs := FilterSettings{Type: "lowpass", Q: 1}
	freq := 20000.0
	if tone != nil {
		fs.Type = tone.Type
		freq = tone.Freq
		if tone.Q > 0 {
			fs.Q = tone.Q
		}
		fs.Gain = tone.Gain
	}
	if note == nil {
		fs.Freq = Steps{{StepSet, t0, SanitizeFreq(freq)}}
		return fs, true
	}
	if note.Type != "" {
		fs.Type = note.Type
	}
	if note.Q > 0 {
		fs.Q = note.Q
	}
	if note.Gain != 0 {
		fs.Gain = note.Gain
	}
	if finite(note.From) && note.From > 0 {
		freq = note.From
	}
	from := SanitizeFreq(freq)
	if note.To > 0 && note.Time > 0 && finite(note.To) && finite(note.Time) {
		fs.Sweep = true
		fs.Freq = ramp(note.Curve, t0, clamp(note.Time, 0, MaxSegment), from, SanitizeFreq(note.To))
		return fs, true
	}
	fs.Freq = Steps{{StepSet, t0, from}}
	return fs, true
}
