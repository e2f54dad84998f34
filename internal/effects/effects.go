// Package effects holds the per-sample kernels a bus runs inside processor
// nodes: the sample-rate crusher and the optional insert effects.
package effects

import (
	"fmt"
	"sort"
	"strings"
)

// Effector processes one stereo frame. It satisfies backend.Kernel.
type Effector interface {
	Process(l, r float64) (float64, float64)
	Reset()
}

// Chain applies a sequence of effects in order.
type Chain struct {
	effects []Effector
}

func NewChain(effects ...Effector) *Chain {
	return &Chain{effects: effects}
}

func (c *Chain) Process(l, r float64) (float64, float64) {
	for _, e := range c.effects {
		l, r = e.Process(l, r)
	}
	return l, r
}

func (c *Chain) Reset() {
	for _, e := range c.effects {
		e.Reset()
	}
}

func (c *Chain) Add(e Effector) {
	c.effects = append(c.effects, e)
}

func (c *Chain) Len() int { return len(c.effects) }

// Spec names an insert effect and its parameters. Missing parameters take
// the defaults of the effect's constructor.
type Spec struct {
	Type   string             `json:"type"`
	Params map[string]float64 `json:"params,omitempty"`
}

func (s Spec) param(name string, def float64) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return def
}

type builder struct {
	params []string
	build  func(sampleRate int, s Spec) Effector
}

var builders = map[string]builder{
	"delay": {
		params: []string{"ms", "feedback", "cross", "wet"},
		build: func(sr int, s Spec) Effector {
			return NewDelay(sr, s.param("ms", 250), s.param("feedback", 0.35), s.param("cross", 0), s.param("wet", 0.3))
		},
	},
	"compressor": {
		params: []string{"threshold", "ratio", "attack", "release", "makeup"},
		build: func(sr int, s Spec) Effector {
			return NewCompressor(sr, s.param("threshold", -12), s.param("ratio", 4), s.param("attack", 5), s.param("release", 80), s.param("makeup", 0))
		},
	},
	"reverb": {
		params: []string{"room", "feedback", "wet"},
		build: func(sr int, s Spec) Effector {
			return NewReverb(sr, s.param("room", 0.5), s.param("feedback", 0.7), s.param("wet", 0.25))
		},
	},
	"chorus": {
		params: []string{"ms", "feedback", "depth", "rate", "wet"},
		build: func(sr int, s Spec) Effector {
			return NewChorus(sr, s.param("ms", 15), s.param("feedback", 0.2), s.param("depth", 3), s.param("rate", 0.8), s.param("wet", 0.4))
		},
	},
	"distortion": {
		params: []string{"pregain", "postgain", "lowpass"},
		build: func(sr int, s Spec) Effector {
			return NewDistortion(sr, s.param("pregain", 4), s.param("postgain", 0.6), s.param("lowpass", 0))
		},
	},
	"eq3": {
		params: []string{"low", "mid", "high", "lowFreq", "highFreq"},
		build: func(sr int, s Spec) Effector {
			return NewEQ3Band(sr, s.param("low", 1), s.param("mid", 1), s.param("high", 1), s.param("lowFreq", 300), s.param("highFreq", 3000))
		},
	},
	"eq5": {
		params: []string{"band0", "band1", "band2", "band3", "band4"},
		build: func(sr int, s Spec) Effector {
			eq := NewEQ5Band(sr)
			for i := 0; i < 5; i++ {
				eq.SetGain(i, s.param(fmt.Sprintf("band%d", i), 1))
			}
			return eq
		},
	},
}

// Types lists the effect names Build accepts.
func Types() []string {
	out := make([]string, 0, len(builders))
	for k := range builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Check reports unknown effect types and parameter names.
func Check(s Spec) error {
	b, ok := builders[s.Type]
	if !ok {
		return fmt.Errorf("unknown effect %q (want one of %s)", s.Type, strings.Join(Types(), ", "))
	}
	for name := range s.Params {
		known := false
		for _, p := range b.params {
			if p == name {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("effect %q has no parameter %q", s.Type, name)
		}
	}
	return nil
}

// Build constructs a chain from specs in order.
func Build(sampleRate int, specs []Spec) (*Chain, error) {
	c := NewChain()
	for i, s := range specs {
		if err := Check(s); err != nil {
			return nil, fmt.Errorf("effect %d: %w", i, err)
		}
		c.Add(builders[s.Type].build(sampleRate, s))
	}
	return c, nil
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
