package softsynth

import (
	"math"

	"github.com/cbegin/chiptone-go/internal/backend"
)

type processor interface {
	process(t float64, frame int64, l, r float64) (float64, float64)
}

// node is the shared graph vertex. Output is memoized per frame so a node
// feeding several destinations renders once.
type node struct {
	ctx       *Context
	proc      processor
	inputs    []*node
	outputs   []*node
	paramOuts []*Param
	lastFrame int64
	memoL     float64
	memoR     float64
}

func (c *Context) newNode(p processor) *node {
	return &node{ctx: c, proc: p, lastFrame: -1}
}

func (n *node) base() *node { return n }

func (n *node) Connect(dst backend.Node) {
	d, ok := dst.(interface{ base() *node })
	if !ok {
		return
	}
	target := d.base()
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	target.inputs = append(target.inputs, n)
	n.outputs = append(n.outputs, target)
}

func (n *node) ConnectParam(p backend.Param) {
	target, ok := p.(*Param)
	if !ok {
		return
	}
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	target.inputs = append(target.inputs, n)
	n.paramOuts = append(n.paramOuts, target)
}

func (n *node) Disconnect() {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	for _, out := range n.outputs {
		out.inputs = removeNode(out.inputs, n)
	}
	for _, p := range n.paramOuts {
		p.inputs = removeNode(p.inputs, n)
	}
	n.outputs = nil
	n.paramOuts = nil
}

func removeNode(list []*node, target *node) []*node {
	out := list[:0]
	for _, x := range list {
		if x != target {
			out = append(out, x)
		}
	}
	for i := len(out); i < len(list); i++ {
		list[i] = nil
	}
	return out
}

func (n *node) pull(t float64, frame int64) (float64, float64) {
	if n.lastFrame == frame {
		return n.memoL, n.memoR
	}
	var l, r float64
	for _, in := range n.inputs {
		il, ir := in.pull(t, frame)
		l += il
		r += ir
	}
	l, r = n.proc.process(t, frame, l, r)
	n.lastFrame = frame
	n.memoL, n.memoR = l, r
	return l, r
}

type passThrough struct{}

func (passThrough) process(_ float64, _ int64, l, r float64) (float64, float64) { return l, r }

type kernelProc struct {
	k backend.Kernel
}

func (p kernelProc) process(_ float64, _ int64, l, r float64) (float64, float64) {
	return p.k.Process(l, r)
}

// source tracks the start/stop window shared by oscillators and buffer sources.
type source struct {
	startAt float64
	stopAt  float64
	started bool
	stopped bool
}

func newSource() *source {
	return &source{startAt: math.Inf(1), stopAt: math.Inf(1)}
}

func (s *source) playing(t float64) bool {
	return s.started && t >= s.startAt && t < s.stopAt
}

func (s *source) start(t float64) error {
	if s.started {
		return backend.ErrAlreadyStarted
	}
	s.started = true
	s.startAt = t
	return nil
}

func (s *source) stop(t float64) error {
	if !s.started {
		return backend.ErrAlreadyStopped
	}
	if s.stopped && t >= s.stopAt {
		return backend.ErrAlreadyStopped
	}
	s.stopped = true
	s.stopAt = math.Max(t, s.startAt)
	return nil
}

// Gain scales its input.
type Gain struct {
	*node
	gain *Param
}

func (g *Gain) Gain() backend.Param { return g.gain }

func (g *Gain) process(t float64, frame int64, l, r float64) (float64, float64) {
	v := g.gain.render(t, frame)
	return l * v, r * v
}

// WaveShaper maps input through a transfer curve with linear interpolation.
type WaveShaper struct {
	*node
	curve []float64
}

func (w *WaveShaper) SetCurve(curve []float64) {
	w.ctx.mu.Lock()
	defer w.ctx.mu.Unlock()
	w.curve = curve
}

func (w *WaveShaper) process(_ float64, _ int64, l, r float64) (float64, float64) {
	return shape(w.curve, l), shape(w.curve, r)
}

// shape applies curve to x in [-1, 1]; inputs outside the range clamp to
// the curve ends.
func shape(curve []float64, x float64) float64 {
	n := len(curve)
	if n == 0 {
		return x
	}
	if n == 1 {
		return curve[0]
	}
	pos := (x + 1) / 2 * float64(n-1)
	if pos <= 0 {
		return curve[0]
	}
	if pos >= float64(n-1) {
		return curve[n-1]
	}
	i := int(pos)
	frac := pos - float64(i)
	return curve[i]*(1-frac) + curve[i+1]*frac
}

// Panner is an equal-power stereo panner.
type Panner struct {
	*node
	pan *Param
}

func (p *Panner) Pan() backend.Param { return p.pan }

func (p *Panner) process(t float64, frame int64, l, r float64) (float64, float64) {
	pan := clamp(p.pan.render(t, frame), -1, 1)
	if pan <= 0 {
		x := (pan + 1) * math.Pi / 2
		return l + r*math.Cos(x), r * math.Sin(x)
	}
	x := pan * math.Pi / 2
	return l * math.Cos(x), r + l*math.Sin(x)
}
