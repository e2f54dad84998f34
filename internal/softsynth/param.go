package softsynth

import (
	"math"
	"sort"
)

type rampKind int

const (
	rampSet rampKind = iota
	rampLinear
	rampExp
)

type automationEvent struct {
	kind  rampKind
	time  float64
	value float64
}

// Param is an automation timeline. Ramps interpolate from the previous
// event's (time, value) to their own.
type Param struct {
	ctx          *Context
	defaultValue float64
	minValue     float64
	maxValue     float64
	events       []automationEvent
	inputs       []*node
}

func newParam(ctx *Context, def, lo, hi float64) *Param {
	return &Param{ctx: ctx, defaultValue: def, minValue: lo, maxValue: hi}
}

func (p *Param) Value() float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return p.valueAt(p.ctx.now())
}

// ValueAt evaluates the automation at t, ignoring connected inputs.
func (p *Param) ValueAt(t float64) float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return p.valueAt(t)
}

func (p *Param) SetValueAtTime(v, t float64) {
	p.insert(automationEvent{kind: rampSet, time: t, value: v})
}

func (p *Param) LinearRampToValueAtTime(v, t float64) {
	p.insert(automationEvent{kind: rampLinear, time: t, value: v})
}

func (p *Param) ExponentialRampToValueAtTime(v, t float64) {
	p.insert(automationEvent{kind: rampExp, time: t, value: v})
}

func (p *Param) CancelScheduledValues(t float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time >= t })
	p.events = p.events[:i]
}

func (p *Param) CancelAndHoldAtTime(t float64) {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return
	}
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	v := p.valueAt(t)
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time > t })
	held := automationEvent{kind: rampSet, time: t, value: v}
	if i < len(p.events) && i > 0 && p.events[i].kind != rampSet {
		// A ramp ending after t keeps its curve up to t.
		held.kind = p.events[i].kind
	}
	p.events = append(p.events[:i], held)
}

func (p *Param) insert(ev automationEvent) {
	if math.IsNaN(ev.value) || math.IsInf(ev.value, 0) || math.IsNaN(ev.time) || math.IsInf(ev.time, 0) {
		return
	}
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	// Stable on ties: a new event lands after existing events at the same time.
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time > ev.time })
	p.events = append(p.events, automationEvent{})
	copy(p.events[i+1:], p.events[i:])
	p.events[i] = ev
}

func (p *Param) valueAt(t float64) float64 {
	prevT, prevV := math.Inf(-1), p.defaultValue
	for _, ev := range p.events {
		if ev.time <= t {
			prevT, prevV = ev.time, ev.value
			continue
		}
		switch ev.kind {
		case rampLinear:
			if math.IsInf(prevT, -1) || ev.time <= prevT {
				return prevV
			}
			frac := (t - prevT) / (ev.time - prevT)
			return p.clamp(prevV + (ev.value-prevV)*frac)
		case rampExp:
			if math.IsInf(prevT, -1) || ev.time <= prevT || prevV*ev.value <= 0 {
				return prevV
			}
			frac := (t - prevT) / (ev.time - prevT)
			return p.clamp(prevV * math.Pow(ev.value/prevV, frac))
		}
		return p.clamp(prevV)
	}
	return p.clamp(prevV)
}

// compact drops events that can no longer influence values at or after t,
// keeping the last one as the anchor for the next ramp.
func (p *Param) compact(t float64) {
	last := -1
	for i, ev := range p.events {
		if ev.time > t {
			break
		}
		last = i
	}
	if last > 0 {
		p.events = append(p.events[:0], p.events[last:]...)
	}
}

func (p *Param) clamp(v float64) float64 {
	if v < p.minValue {
		return p.minValue
	}
	if v > p.maxValue {
		return p.maxValue
	}
	return v
}

// render returns the parameter value for the frame at t, including any
// audio-rate inputs.
func (p *Param) render(t float64, frame int64) float64 {
	if len(p.events) > 8 {
		p.compact(t)
	}
	v := p.valueAt(t)
	for _, in := range p.inputs {
		l, _ := in.pull(t, frame)
		v += l
	}
	return v
}
