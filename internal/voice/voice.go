package voice

import (
	"errors"
	"fmt"

	"github.com/cbegin/chiptone-go/internal/backend"
	"github.com/cbegin/chiptone-go/internal/bank"
)

var errNoWave = errors.New("wave oscillator without a resolved wave")

// Trigger is a fully resolved request for one note.
type Trigger struct {
	// Key is the mono identity. Poly tones and empty keys never steal.
	Key      string
	Tone     bank.Tone
	Wave     *backend.PeriodicWave
	Freq     float64
	Start    float64
	Duration float64
	Velocity float64
	Pan      *float64
	FX       *bank.NoteFX
	// Out receives the voice output, normally a bus input.
	Out backend.Node
	// OnDone runs once when the voice is torn down.
	OnDone func()
}

// Info describes a scheduled voice.
type Info struct {
	ID    uint64
	Key   string
	Freq  float64
	Start float64
	Off   float64
	End   float64
}

// Voice is one sounding note and the nodes it owns.
type Voice struct {
	id   uint64
	key  string
	freq float64
	plan Plan

	src   backend.Source
	amp   backend.Gain
	lfo   backend.Source
	nodes []backend.Node

	end    float64 // guarded by Manager.mu once registered
	onDone func()

	released bool // guarded by Manager.mu
}

// Info describes the voice. Once registered, call it with Manager.mu held.
func (v *Voice) Info() Info {
	return Info{ID: v.id, Key: v.key, Freq: v.freq, Start: v.plan.Start, Off: v.plan.Off, End: v.end}
}

// Plan returns the amplitude envelope the voice was scheduled with.
func (v *Voice) Plan() Plan { return v.plan }

// build wires source -> [filter] -> amp -> [panner] -> out and commits all
// automation. now is the current clock and start >= now.
func build(ctx backend.Context, src sourceMaker, tr Trigger, now float64) (*Voice, error) {
	start := tr.Start
	off := start + SanitizeDuration(tr.Duration)
	peak := clamp(orDefault(tr.Tone.Gain, 1), 0, MaxGain) * SanitizeVelocity(tr.Velocity)
	plan := PlanEnvelope(tr.Tone.ADSR, start, off, peak)
	freq := SanitizeFreq(tr.Freq)

	v := &Voice{key: tr.Key, freq: freq, plan: plan, end: plan.End, onDone: tr.OnDone}

	var fx bank.NoteFX
	if tr.FX != nil {
		fx = *tr.FX
	}

	source, osc, err := src.source(tr.Tone.Osc, tr.Wave)
	if err != nil {
		return nil, err
	}
	v.src = source
	v.nodes = append(v.nodes, source)

	if osc != nil {
		detune := orDefault(tr.Tone.Osc.Detune, 0)
		osc.Frequency().SetValueAtTime(freq, start)
		osc.Detune().SetValueAtTime(detune, start)
		if fx.Pitch != nil {
			steps, cents := PitchSteps(fx.Pitch, start, detune)
			if cents {
				steps.Apply(osc.Detune())
			} else {
				steps.Apply(osc.Frequency())
			}
		}
		if fx.Vibrato != nil && fx.Vibrato.Rate > 0 && fx.Vibrato.Depth != 0 {
			v.addVibrato(ctx, osc, fx.Vibrato, plan)
		}
	}

	head := backend.Node(source)
	if fs, ok := ResolveFilter(tr.Tone.Filter, fx.Filter, start); ok {
		bq := ctx.NewBiquad()
		kind, _ := backend.ParseFilterType(fs.Type)
		bq.SetType(kind)
		bq.Q().SetValueAtTime(fs.Q, start)
		bq.Gain().SetValueAtTime(fs.Gain, start)
		fs.Freq.Apply(bq.Frequency())
		head.Connect(bq)
		head = bq
		v.nodes = append(v.nodes, bq)
	}

	amp := ctx.NewGain()
	amp.Gain().SetValueAtTime(0, now)
	plan.Steps.Apply(amp.Gain())
	head.Connect(amp)
	head = amp
	v.amp = amp
	v.nodes = append(v.nodes, amp)

	pan := tr.Tone.Pan
	if tr.Pan != nil {
		pan = *tr.Pan
	}
	if pan = sanitizePan(pan); pan != 0 {
		p := ctx.NewPanner()
		p.Pan().SetValueAtTime(pan, now)
		head.Connect(p)
		head = p
		v.nodes = append(v.nodes, p)
	}
	if tr.Out != nil {
		head.Connect(tr.Out)
	}

	_ = source.Start(start)
	_ = source.Stop(plan.End)
	return v, nil
}

func (v *Voice) addVibrato(ctx backend.Context, osc backend.Oscillator, vib *bank.VibratoFX, plan Plan) {
	lfo := ctx.NewOscillator()
	lfo.Frequency().SetValueAtTime(clamp(vib.Rate, 0.01, 100), plan.Start)
	depth := ctx.NewGain()
	VibratoSteps(vib, plan.Start, plan.Off).Apply(depth.Gain())
	lfo.Connect(depth)
	if vib.Mode == bank.Hz {
		depth.ConnectParam(osc.Frequency())
	} else {
		depth.ConnectParam(osc.Detune())
	}
	_ = lfo.Start(plan.Start)
	_ = lfo.Stop(VibratoEnd(vib, plan.Off, plan.End))
	v.lfo = lfo
	v.nodes = append(v.nodes, lfo, depth)
}

// fade replaces the remaining envelope with a linear fade to silence from
// the level at `from` over cut seconds and stops the sources shortly after.
// It returns the stop time.
func (v *Voice) fade(from, cut float64) float64 {
	g := v.amp.Gain()
	g.CancelAndHoldAtTime(from)
	g.LinearRampToValueAtTime(0, from+cut)
	stop := from + cut + StopTail
	_ = v.src.Stop(stop)
	if v.lfo != nil {
		_ = v.lfo.Stop(stop)
	}
	if stop < v.end {
		v.end = stop
	}
	return stop
}

func (v *Voice) disconnect() {
	for _, n := range v.nodes {
		n.Disconnect()
	}
}

type sourceMaker interface {
	source(osc bank.Osc, w *backend.PeriodicWave) (backend.Source, backend.Oscillator, error)
}

func (m *Manager) source(o bank.Osc, w *backend.PeriodicWave) (backend.Source, backend.Oscillator, error) {
	if o.Type == bank.OscNoise {
		bs := m.ctx.NewBufferSource()
		bs.SetBuffer(m.waves.Noise(o.NoiseRate))
		bs.SetLoop(true)
		return bs, nil, nil
	}
	osc := m.ctx.NewOscillator()
	switch o.Type {
	case bank.OscSquare:
		osc.SetType(backend.OscSquare)
	case bank.OscSawtooth:
		osc.SetType(backend.OscSawtooth)
	case bank.OscTriangle:
		osc.SetType(backend.OscTriangle)
	case bank.OscPulse:
		osc.SetPeriodicWave(m.waves.Pulse(o.Duty))
	case bank.OscWave:
		if w == nil {
			return nil, nil, fmt.Errorf("%w %q: %w", bank.ErrUnknownWave, o.Wave, errNoWave)
		}
		osc.SetPeriodicWave(w)
	default:
		osc.SetType(backend.OscSine)
	}
	return osc, osc, nil
}
