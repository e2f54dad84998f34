// Package softsynth is a software implementation of the backend audio graph.
// It pulls the graph from the destination one frame at a time and is used
// both for realtime output and offline rendering.
package softsynth

import (
	"errors"
	"math"
	"sync"

	"github.com/cbegin/chiptone-go/internal/backend"
)

var ErrClosed = errors.New("softsynth: context closed")

// Context renders a node graph at a fixed sample rate. Every graph mutation
// and Process share one mutex, so control calls never race the audio thread.
type Context struct {
	mu         sync.Mutex
	sampleRate float64
	frame      int64
	state      backend.State
	dest       *node
	tables     map[*backend.PeriodicWave][]float64
}

// New creates a suspended context.
func New(sampleRate int) *Context {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	c := &Context{
		sampleRate: float64(sampleRate),
		state:      backend.StateSuspended,
		tables:     map[*backend.PeriodicWave][]float64{},
	}
	c.dest = c.newNode(passThrough{})
	return c
}

func (c *Context) SampleRate() float64 { return c.sampleRate }

func (c *Context) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

func (c *Context) now() float64 {
	return float64(c.frame) / c.sampleRate
}

func (c *Context) Destination() backend.Node { return c.dest }

func (c *Context) State() backend.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Context) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == backend.StateClosed {
		return ErrClosed
	}
	c.state = backend.StateRunning
	return nil
}

func (c *Context) Suspend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == backend.StateClosed {
		return ErrClosed
	}
	c.state = backend.StateSuspended
	return nil
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = backend.StateClosed
	c.dest.inputs = nil
	return nil
}

// Process renders interleaved stereo frames into dst. A suspended context
// writes silence and its clock does not advance.
func (c *Context) Process(dst []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := len(dst) / 2
	if c.state != backend.StateRunning {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	for f := 0; f < frames; f++ {
		t := c.now()
		l, r := c.dest.pull(t, c.frame)
		dst[f*2] = float32(clamp(l, -1, 1))
		dst[f*2+1] = float32(clamp(r, -1, 1))
		c.frame++
	}
}

// Advance renders and discards frames. Offline callers use it to move the
// clock without keeping output.
func (c *Context) Advance(frames int) {
	buf := make([]float32, 2*512)
	for frames > 0 {
		n := frames
		if n > 512 {
			n = 512
		}
		c.Process(buf[:n*2])
		frames -= n
	}
}

func (c *Context) NewOscillator() backend.Oscillator {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := &Oscillator{}
	o.freq = newParam(c, 440, 0, c.sampleRate/2)
	o.detune = newParam(c, 0, -153600, 153600)
	o.source = newSource()
	o.node = c.newNode(o)
	return o
}

func (c *Context) NewBufferSource() backend.BufferSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := &BufferSource{}
	b.rate = newParam(c, 1, 0, 64)
	b.source = newSource()
	b.node = c.newNode(b)
	return b
}

func (c *Context) NewGain() backend.Gain {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := &Gain{}
	g.gain = newParam(c, 1, math.Inf(-1), math.Inf(1))
	g.node = c.newNode(g)
	return g
}

func (c *Context) NewBiquad() backend.Biquad {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := &Biquad{}
	b.freq = newParam(c, 350, 10, c.sampleRate/2)
	b.q = newParam(c, 1, 0.0001, 1000)
	b.gain = newParam(c, 0, -40, 40)
	b.node = c.newNode(b)
	return b
}

func (c *Context) NewWaveShaper() backend.WaveShaper {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &WaveShaper{}
	w.node = c.newNode(w)
	return w
}

func (c *Context) NewPanner() backend.Panner {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := &Panner{}
	p.pan = newParam(c, 0, -1, 1)
	p.node = c.newNode(p)
	return p
}

func (c *Context) NewProcessor(k backend.Kernel) backend.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newNode(kernelProc{k: k})
}

// periodicTable returns a normalized single-cycle table for w, built once
// per wave. Called with mu held.
func (c *Context) periodicTable(w *backend.PeriodicWave) []float64 {
	if t, ok := c.tables[w]; ok {
		return t
	}
	t := buildPeriodicTable(w, periodicTableSize)
	c.tables[w] = t
	return t
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
