package bank

import (
	"math"
	"sort"
	"strconv"

	"github.com/cbegin/chiptone-go/internal/backend"
	"github.com/cbegin/chiptone-go/internal/effects"
	"github.com/cbegin/chiptone-go/internal/wave"
)

// ValidFilterType reports whether name is a biquad type the engine knows.
func ValidFilterType(name string) bool {
	_, ok := backend.ParseFilterType(name)
	return ok
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateWaves checks every wave in wb. A nil bank is valid.
func ValidateWaves(wb *WaveBank) error {
	var c collector
	if wb != nil {
		validateWaves(&c, wb)
	}
	return c.err()
}

func validateWaves(c *collector, wb *WaveBank) {
	for _, id := range sortedKeys(wb.Waves) {
		w := wb.Waves[id]
		path := "waves." + id
		hasSeries := len(w.Real) > 0 || len(w.Imag) > 0
		switch {
		case hasSeries && w.Samples != "":
			c.add(path, "set either real/imag or samples, not both")
		case w.Samples != "":
			if _, err := wave.DecodeNibbles(w.Samples); err != nil {
				c.add(path+".samples", "%v", err)
			}
		case hasSeries:
			if max(len(w.Real), len(w.Imag)) < 2 {
				c.add(path, "series needs at least one harmonic after DC")
			}
			for i, v := range w.Real {
				if !finite(v) {
					c.add(path+".real", "coefficient %d is not finite", i)
				}
			}
			for i, v := range w.Imag {
				if !finite(v) {
					c.add(path+".imag", "coefficient %d is not finite", i)
				}
			}
		default:
			c.add(path, "missing real/imag or samples")
		}
	}
}

// ValidateTones checks every tone and bus in tb. Wave references resolve
// against wb, which may be nil when tb uses no wavetables.
func ValidateTones(tb *ToneBank, wb *WaveBank) error {
	var c collector
	if tb != nil {
		validateTones(&c, tb, wb)
	}
	return c.err()
}

// Validate checks both banks in a single pass.
func Validate(tb *ToneBank, wb *WaveBank) error {
	var c collector
	if wb != nil {
		validateWaves(&c, wb)
	}
	if tb != nil {
		validateTones(&c, tb, wb)
	}
	return c.err()
}

func validateTones(c *collector, tb *ToneBank, wb *WaveBank) {
	if tb.Tones == nil {
		c.add("tones", "missing")
	}
	for _, id := range sortedKeys(tb.Tones) {
		validateTone(c, "tones."+id, tb.Tones[id], wb)
	}
	for _, id := range sortedKeys(tb.Buses) {
		b := tb.Buses[id]
		path := "buses." + id
		if !finite(b.Gain) || b.Gain < 0 {
			c.add(path+".gain", "must be a finite non-negative number")
		}
		if !finite(b.Pan) || b.Pan < -1 || b.Pan > 1 {
			c.add(path+".pan", "must be within [-1, 1]")
		}
		validateFX(c, path+".fx", b.FX)
		for i, s := range b.Effects {
			if err := effects.Check(s); err != nil {
				c.add(path+".effects", "%d: %v", i, err)
			}
		}
	}
}

func validateTone(c *collector, path string, t Tone, wb *WaveBank) {
	switch t.Osc.Type {
	case OscSine, OscSquare, OscSawtooth, OscTriangle:
	case OscPulse:
		if !(t.Osc.Duty > 0 && t.Osc.Duty < 1) {
			c.add(path+".osc.duty", "pulse needs duty in (0, 1)")
		}
	case OscNoise:
		if !finite(t.Osc.NoiseRate) || t.Osc.NoiseRate < 0 {
			c.add(path+".osc.noiseRate", "must be a finite non-negative rate")
		}
	case OscWave:
		switch {
		case t.Osc.Wave == "":
			c.add(path+".osc.wave", "wave oscillator needs a wave id")
		case wb == nil:
			c.add(path+".osc.wave", "%v %q: no wave bank loaded", ErrUnknownWave, t.Osc.Wave)
		default:
			if _, ok := wb.Waves[t.Osc.Wave]; !ok {
				c.add(path+".osc.wave", "%v %q", ErrUnknownWave, t.Osc.Wave)
			}
		}
	case "":
		c.add(path+".osc.type", "missing")
	default:
		c.add(path+".osc.type", "invalid oscillator type %q", t.Osc.Type)
	}
	if !finite(t.Osc.Detune) {
		c.add(path+".osc.detune", "must be finite")
	}

	env := t.ADSR
	for _, seg := range []struct {
		name string
		v    float64
	}{{"a", env.A}, {"d", env.D}, {"r", env.R}} {
		if !finite(seg.v) || seg.v < 0 {
			c.add(path+".adsr."+seg.name, "must be a finite non-negative duration")
		}
	}
	if !finite(env.S) || env.S < 0 || env.S > 1 {
		c.add(path+".adsr.s", "sustain must be within [0, 1]")
	}

	if f := t.Filter; f != nil {
		if !ValidFilterType(f.Type) {
			c.add(path+".filter.type", "invalid filter type %q", f.Type)
		}
		if !finite(f.Freq) || f.Freq <= 0 {
			c.add(path+".filter.freq", "must be a positive frequency")
		}
		if !finite(f.Q) || f.Q < 0 {
			c.add(path+".filter.q", "must be non-negative")
		}
	}
	if !finite(t.Gain) || t.Gain < 0 {
		c.add(path+".gain", "must be a finite non-negative number")
	}
	if !finite(t.Pan) || t.Pan < -1 || t.Pan > 1 {
		c.add(path+".pan", "must be within [-1, 1]")
	}
	switch t.Mono {
	case "", Poly, Mono, SoftMono:
	default:
		c.add(path+".mono", "invalid mono mode %q", t.Mono)
	}
	if !finite(t.MonoCut) || t.MonoCut < 0 {
		c.add(path+".monoCut", "must be a finite non-negative duration")
	}
	if t.FX != nil {
		validateFX(c, path+".fx", *t.FX)
	}
}

func validateFX(c *collector, path string, fx FX) {
	for _, f := range []struct {
		name string
		v    float64
	}{{"highpass", fx.Highpass}, {"lowpass", fx.Lowpass}, {"q", fx.Q}, {"crushRate", fx.CrushRate}} {
		if !finite(f.v) || f.v < 0 {
			c.add(path+"."+f.name, "must be a finite non-negative number")
		}
	}
	if fx.Bits < 0 || fx.Bits > 32 {
		c.add(path+".bits", "must be within [0, 32]")
	}
}

// ValidatePhrase checks the structural parts of a phrase. Per-note numbers
// are coerced at trigger time instead.
func ValidatePhrase(p *Phrase) error {
	var c collector
	if p == nil {
		c.add("", "phrase is nil")
		return c.err()
	}
	if !finite(p.Tempo) || p.Tempo <= 0 {
		c.add("tempo", "must be a positive number")
	}
	validateEvents(&c, "events", p.Events)
	return c.err()
}

// ValidateSong checks tempo, tracks and the loop window.
func ValidateSong(s *Song) error {
	var c collector
	if s == nil {
		c.add("", "song is nil")
		return c.err()
	}
	if !finite(s.Tempo) || s.Tempo <= 0 {
		c.add("tempo", "must be a positive number")
	}
	seen := map[string]bool{}
	for i, tr := range s.Tracks {
		path := "tracks." + strconv.Itoa(i)
		if tr.ID != "" {
			if seen[tr.ID] {
				c.add(path+".id", "duplicate track id %q", tr.ID)
			}
			seen[tr.ID] = true
		}
		validateEvents(&c, path+".events", tr.Events)
	}
	if l := s.Loop; l != nil {
		if !finite(l.Start) || !finite(l.End) || l.Start < 0 {
			c.add("loop", "start and end must be finite and start non-negative")
		} else if l.End <= l.Start {
			c.add("loop", "end (%g) must be greater than start (%g)", l.End, l.Start)
		}
	}
	return c.err()
}

func validateEvents(c *collector, path string, events []Event) {
	for i, ev := range events {
		fx := ev.FX
		if fx == nil {
			continue
		}
		p := path + "." + strconv.Itoa(i) + ".fx"
		if fx.Pitch != nil {
			checkCurve(c, p+".pitch.curve", fx.Pitch.Curve)
			checkMode(c, p+".pitch.mode", fx.Pitch.Mode)
		}
		if fx.Vibrato != nil {
			checkMode(c, p+".vibrato.mode", fx.Vibrato.Mode)
		}
		if fx.Filter != nil {
			checkCurve(c, p+".filter.curve", fx.Filter.Curve)
			if fx.Filter.Type != "" && !ValidFilterType(fx.Filter.Type) {
				c.add(p+".filter.type", "invalid filter type %q", fx.Filter.Type)
			}
		}
	}
}

func checkCurve(c *collector, path string, v Curve) {
	switch v {
	case "", Linear, Exponential:
	default:
		c.add(path, "invalid curve %q", v)
	}
}

func checkMode(c *collector, path string, v PitchMode) {
	switch v {
	case "", Hz, Cents:
	default:
		c.add(path, "invalid mode %q", v)
	}
}
