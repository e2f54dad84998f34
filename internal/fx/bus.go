// Package fx builds the shared mix paths voices route through. A bus is a
// highpass, lowpass, optional sample-rate crusher, optional bit quantizer,
// optional insert effects, gain and panner feeding the master node.
package fx

import (
	"fmt"
	"math"

	"github.com/cbegin/chiptone-go/internal/backend"
	"github.com/cbegin/chiptone-go/internal/bank"
	"github.com/cbegin/chiptone-go/internal/effects"
	"github.com/cbegin/chiptone-go/internal/wave"
)

const (
	DefaultHighpass = 10.0
	DefaultLowpass  = 20000.0
	DefaultQ        = 0.7071
	// GainRamp smooths bus gain changes.
	GainRamp = 0.01
)

// Bus is one built chain. Its filter, crush and quantize settings are
// fixed for its lifetime.
type Bus struct {
	key     string
	cfg     bank.Bus
	input   backend.Node
	gain    backend.Gain
	pan     backend.Panner
	crusher *effects.SampleHold
	inserts *effects.Chain
	nodes   []backend.Node
}

func (b *Bus) Key() string { return b.key }

// Input is where voices connect.
func (b *Bus) Input() backend.Node { return b.input }

// Config is the configuration the bus was built with.
func (b *Bus) Config() bank.Bus { return b.cfg }

// Crushed reports whether the sample-rate crusher is in the chain.
func (b *Bus) Crushed() bool { return b.crusher != nil }

// Inserts is the number of insert effects in the chain.
func (b *Bus) Inserts() int {
	if b.inserts == nil {
		return 0
	}
	return b.inserts.Len()
}

// Stages lists the chain in signal order, for diagnostics.
func (b *Bus) Stages() []string {
	stages := []string{"highpass", "lowpass"}
	if b.crusher != nil {
		stages = append(stages, "crush")
	}
	if b.cfg.FX.Bits > 0 {
		stages = append(stages, "quantize")
	}
	if b.Inserts() > 0 {
		stages = append(stages, "effects")
	}
	return append(stages, "gain", "pan")
}

// SetGain ramps the output gain to g from time at.
func (b *Bus) SetGain(g, at float64) {
	p := b.gain.Gain()
	p.CancelAndHoldAtTime(at)
	p.LinearRampToValueAtTime(sanitizeGain(g), at+GainRamp)
}

// Close disconnects every node of the chain.
func (b *Bus) Close() {
	for _, n := range b.nodes {
		n.Disconnect()
	}
}

func sanitizeGain(g float64) float64 {
	if math.IsNaN(g) || math.IsInf(g, 0) || g < 0 {
		return 1
	}
	return math.Min(g, 4)
}

func sanitizePan(p float64) float64 {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0
	}
	return math.Max(-1, math.Min(1, p))
}

func cutoff(v, def, nyquist float64) float64 {
	if !(v > 0) || math.IsInf(v, 0) {
		v = def
	}
	return math.Max(1, math.Min(v, nyquist*0.99))
}

// build wires a chain into out. now anchors the initial parameter values.
func build(ctx backend.Context, waves *wave.Factory, key string, cfg bank.Bus, out backend.Node, now float64) (*Bus, error) {
	sr := ctx.SampleRate()
	b := &Bus{key: key, cfg: cfg}

	var inserts *effects.Chain
	if len(cfg.Effects) > 0 {
		c, err := effects.Build(int(sr), cfg.Effects)
		if err != nil {
			return nil, fmt.Errorf("bus %q: %w", key, err)
		}
		inserts = c
	}

	q := cfg.FX.Q
	if !(q > 0) || math.IsInf(q, 0) {
		q = DefaultQ
	}
	hp := ctx.NewBiquad()
	hp.SetType(backend.FilterHighpass)
	hp.Frequency().SetValueAtTime(cutoff(cfg.FX.Highpass, DefaultHighpass, sr/2), now)
	hp.Q().SetValueAtTime(q, now)
	lp := ctx.NewBiquad()
	lp.SetType(backend.FilterLowpass)
	lp.Frequency().SetValueAtTime(cutoff(cfg.FX.Lowpass, DefaultLowpass, sr/2), now)
	lp.Q().SetValueAtTime(q, now)
	hp.Connect(lp)
	b.input = hp
	b.nodes = append(b.nodes, hp, lp)
	head := backend.Node(lp)

	if sh := effects.NewSampleHold(sr, cfg.FX.CrushRate); !sh.Bypassed() {
		proc := ctx.NewProcessor(sh)
		head.Connect(proc)
		head = proc
		b.crusher = sh
		b.nodes = append(b.nodes, proc)
	}
	if cfg.FX.Bits > 0 {
		ws := ctx.NewWaveShaper()
		ws.SetCurve(waves.Quantize(cfg.FX.Bits))
		head.Connect(ws)
		head = ws
		b.nodes = append(b.nodes, ws)
	}
	if inserts != nil {
		proc := ctx.NewProcessor(inserts)
		head.Connect(proc)
		head = proc
		b.inserts = inserts
		b.nodes = append(b.nodes, proc)
	}

	b.gain = ctx.NewGain()
	b.gain.Gain().SetValueAtTime(sanitizeGain(cfg.Gain), now)
	b.pan = ctx.NewPanner()
	b.pan.Pan().SetValueAtTime(sanitizePan(cfg.Pan), now)
	head.Connect(b.gain)
	b.gain.Connect(b.pan)
	b.pan.Connect(out)
	b.nodes = append(b.nodes, b.gain, b.pan)
	return b, nil
}
