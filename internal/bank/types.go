// Package bank defines the declarative tone, wave, phrase and song schema
// and validates it before anything reaches the engine.
package bank

import (
	"encoding/json"

	"github.com/cbegin/chiptone-go/internal/effects"
)

// OscType names a tone's sound source.
type OscType string

const (
	OscSine     OscType = "sine"
	OscSquare   OscType = "square"
	OscSawtooth OscType = "sawtooth"
	OscTriangle OscType = "triangle"
	OscPulse    OscType = "pulse"
	OscNoise    OscType = "noise"
	OscWave     OscType = "wave"
)

// MonoMode selects voice stealing for a tone.
type MonoMode string

const (
	Poly     MonoMode = "poly"
	Mono     MonoMode = "mono"
	SoftMono MonoMode = "softMono"
)

// Osc describes the source of a tone.
type Osc struct {
	Type      OscType `json:"type"`
	Wave      string  `json:"wave,omitempty"`
	Detune    float64 `json:"detune,omitempty"`
	Duty      float64 `json:"duty,omitempty"`
	NoiseRate float64 `json:"noiseRate,omitempty"`
}

// ADSR holds segment durations in seconds and the sustain level.
type ADSR struct {
	A float64 `json:"a"`
	D float64 `json:"d"`
	S float64 `json:"s"`
	R float64 `json:"r"`
}

// DefaultADSR is applied before a tone's own envelope fields are decoded.
func DefaultADSR() ADSR {
	return ADSR{A: 0.005, D: 0.08, S: 0.6, R: 0.12}
}

// Filter is a per-voice biquad.
type Filter struct {
	Type string  `json:"type"`
	Freq float64 `json:"freq"`
	Q    float64 `json:"q,omitempty"`
	Gain float64 `json:"gain,omitempty"`
}

// FX configures a bus chain. Zero values disable the matching stage.
type FX struct {
	Highpass  float64 `json:"highpass,omitempty"`
	Lowpass   float64 `json:"lowpass,omitempty"`
	Q         float64 `json:"q,omitempty"`
	CrushRate float64 `json:"crushRate,omitempty"`
	Bits      int     `json:"bits,omitempty"`
}

// Empty reports whether the block asks for no processing at all.
func (f FX) Empty() bool { return f == FX{} }

// Tone is one instrument timbre.
type Tone struct {
	Osc     Osc      `json:"osc"`
	ADSR    ADSR     `json:"adsr"`
	Filter  *Filter  `json:"filter,omitempty"`
	Gain    float64  `json:"gain"`
	Pan     float64  `json:"pan,omitempty"`
	Mono    MonoMode `json:"mono,omitempty"`
	MonoCut float64  `json:"monoCut,omitempty"`
	Bus     string   `json:"bus,omitempty"`
	FX      *FX      `json:"fx,omitempty"`
}

func (t *Tone) UnmarshalJSON(b []byte) error {
	type plain Tone
	p := plain{Gain: 1, ADSR: DefaultADSR(), Mono: Poly}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*t = Tone(p)
	return nil
}

// Bus declares a named mix bus.
type Bus struct {
	Gain    float64        `json:"gain"`
	Pan     float64        `json:"pan,omitempty"`
	FX      FX             `json:"fx,omitempty"`
	Effects []effects.Spec `json:"effects,omitempty"`
}

func (b *Bus) UnmarshalJSON(data []byte) error {
	type plain Bus
	p := plain{Gain: 1}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = Bus(p)
	return nil
}

// ToneBank maps tone ids to tones and declares buses.
type ToneBank struct {
	Tones map[string]Tone `json:"tones"`
	Buses map[string]Bus  `json:"buses,omitempty"`
}

// Wave is either an explicit harmonic series or a hex nibble sample string.
type Wave struct {
	Real    []float64 `json:"real,omitempty"`
	Imag    []float64 `json:"imag,omitempty"`
	Samples string    `json:"samples,omitempty"`
}

// WaveBank maps wave ids to waves.
type WaveBank struct {
	Waves map[string]Wave `json:"waves"`
}

// Curve selects ramp interpolation.
type Curve string

const (
	Linear      Curve = "linear"
	Exponential Curve = "exp"
)

// PitchMode selects whether pitch values are absolute or relative.
type PitchMode string

const (
	Hz    PitchMode = "hz"
	Cents PitchMode = "cents"
)

// PitchFX ramps frequency (Hz mode) or detune (cents mode) from From to To
// over Time seconds from note start.
type PitchFX struct {
	From  float64   `json:"from"`
	To    float64   `json:"to"`
	Time  float64   `json:"time"`
	Curve Curve     `json:"curve,omitempty"`
	Mode  PitchMode `json:"mode,omitempty"`
}

// VibratoFX is an enveloped low-rate modulation of pitch.
type VibratoFX struct {
	Rate    float64   `json:"rate"`
	Depth   float64   `json:"depth"`
	Delay   float64   `json:"delay,omitempty"`
	Attack  float64   `json:"attack,omitempty"`
	Release float64   `json:"release,omitempty"`
	Mode    PitchMode `json:"mode,omitempty"`
}

// FilterFX overrides the tone filter for one note and optionally sweeps
// its cutoff from From to To over Time seconds.
type FilterFX struct {
	Type  string  `json:"type,omitempty"`
	From  float64 `json:"from"`
	To    float64 `json:"to,omitempty"`
	Time  float64 `json:"time,omitempty"`
	Curve Curve   `json:"curve,omitempty"`
	Q     float64 `json:"q,omitempty"`
	Gain  float64 `json:"gain,omitempty"`
}

// NoteFX groups the per-note modulation blocks.
type NoteFX struct {
	Pitch   *PitchFX   `json:"pitch,omitempty"`
	Vibrato *VibratoFX `json:"vibrato,omitempty"`
	Filter  *FilterFX  `json:"filter,omitempty"`
}

// Event is one note in a phrase or track, positioned in beats.
//
// Decoding fills a missing dur or vel with 1. An Event built in Go gets no
// such defaults: set Dur and Vel explicitly.
type Event struct {
	Beat float64  `json:"beat"`
	N    *float64 `json:"n,omitempty"`
	Freq float64  `json:"freq,omitempty"`
	Dur  float64  `json:"dur"`
	// Vel scales the tone's peak gain. Zero is a silent note, not a default.
	Vel float64 `json:"vel"`
	Tone string   `json:"tone,omitempty"`
	Bus  string   `json:"bus,omitempty"`
	Pan  *float64 `json:"pan,omitempty"`
	FX   *NoteFX  `json:"fx,omitempty"`
}

func (e *Event) UnmarshalJSON(b []byte) error {
	type plain Event
	p := plain{Dur: 1, Vel: 1}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = Event(p)
	return nil
}

// Phrase is a tempo and a list of events sharing a default tone and bus.
type Phrase struct {
	Tempo  float64 `json:"tempo"`
	Tone   string  `json:"tone,omitempty"`
	Bus    string  `json:"bus,omitempty"`
	Events []Event `json:"events"`
}

// Track is one voice line within a song.
type Track struct {
	ID     string  `json:"id"`
	Tone   string  `json:"tone,omitempty"`
	Bus    string  `json:"bus,omitempty"`
	Events []Event `json:"events"`
}

// Loop is a window in beats, End exclusive.
type Loop struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Song is a multi-track arrangement with an optional loop window.
type Song struct {
	Tempo  float64 `json:"tempo"`
	Tracks []Track `json:"tracks"`
	Loop   *Loop   `json:"loop,omitempty"`
}
