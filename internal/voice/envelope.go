// Package voice turns note triggers into automated backend graphs and
// keeps track of which voices are sounding.
package voice

import (
	"math"

	"github.com/cbegin/chiptone-go/internal/backend"
	"github.com/cbegin/chiptone-go/internal/bank"
)

// Floor is the level every exponential segment starts from and decays to.
const Floor = 1e-4

// StepKind matches the automation calls a Step maps to.
type StepKind int

const (
	StepSet StepKind = iota
	StepLinear
	StepExp
)

// Step is one automation event.
type Step struct {
	Kind  StepKind
	Time  float64
	Value float64
}

// Steps is an automation timeline in time order.
type Steps []Step

// Apply commits the steps to a backend parameter.
func (s Steps) Apply(p backend.Param) {
	for _, st := range s {
		switch st.Kind {
		case StepLinear:
			p.LinearRampToValueAtTime(st.Value, st.Time)
		case StepExp:
			p.ExponentialRampToValueAtTime(st.Value, st.Time)
		default:
			p.SetValueAtTime(st.Value, st.Time)
		}
	}
}

// At evaluates the timeline the way the backend does: each ramp runs from
// the previous step to its own. Before the first step the value is before.
func (s Steps) At(t, before float64) float64 {
	prevT, prevV := math.Inf(-1), before
	for _, st := range s {
		if st.Time <= t {
			prevT, prevV = st.Time, st.Value
			continue
		}
		if math.IsInf(prevT, -1) || st.Time <= prevT {
			return prevV
		}
		p := (t - prevT) / (st.Time - prevT)
		switch st.Kind {
		case StepLinear:
			return prevV + (st.Value-prevV)*p
		case StepExp:
			if prevV*st.Value <= 0 {
				return prevV
			}
			return prevV * math.Pow(st.Value/prevV, p)
		}
		return prevV
	}
	return prevV
}

// Plan is a fully resolved amplitude envelope for one note.
type Plan struct {
	Steps Steps
	Start float64
	Off   float64
	End   float64
	Peak  float64
	// Early is set when the note ends before the decay segment completes.
	Early bool
}

// LevelAt is the gain the envelope produces at t; zero before Start.
func (p Plan) LevelAt(t float64) float64 {
	if t < p.Start {
		return 0
	}
	return p.Steps.At(t, 0)
}

// reached is the value an exponential ramp from v0 to v1 attains at
// fractional progress frac, with both ends floored.
func reached(v0, v1, frac float64) float64 {
	v0 = math.Max(v0, Floor)
	v1 = math.Max(v1, Floor)
	frac = clamp(frac, 0, 1)
	return v0 * math.Pow(v1/v0, frac)
}

// PlanEnvelope schedules attack, decay, sustain and release for a note from
// t0 to off at the given peak. A note released before the end of decay
// ramps only to the level reached at off, then releases from there.
func PlanEnvelope(env bank.ADSR, t0, off, peak float64) Plan {
	env = SanitizeADSR(env)
	peak = math.Max(clamp(orDefault(peak, 1), 0, MaxGain), Floor)
	if !(off > t0) {
		off = t0 + MinDuration
	}
	sus := math.Max(peak*env.S, Floor)
	attackEnd := t0 + env.A
	decayEnd := attackEnd + env.D
	end := off + env.R

	plan := Plan{Start: t0, Off: off, End: end, Peak: peak}
	steps := Steps{{StepSet, t0, Floor}}
	switch {
	case off < attackEnd:
		plan.Early = true
		lvl := reached(Floor, peak, (off-t0)/env.A)
		steps = append(steps, Step{StepExp, off, lvl})
	case off < decayEnd:
		plan.Early = true
		lvl := reached(peak, sus, (off-attackEnd)/env.D)
		steps = append(steps,
			Step{StepExp, attackEnd, peak},
			Step{StepExp, off, lvl})
	default:
		steps = append(steps,
			Step{StepExp, attackEnd, peak},
			Step{StepExp, decayEnd, sus},
			Step{StepSet, off, sus})
	}
	steps = append(steps, Step{StepExp, end, Floor})
	plan.Steps = steps
	return plan
}
