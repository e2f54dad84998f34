// Package backend defines the primitive audio graph the engine composes.
//
// A Context hands out nodes whose numeric parameters accept automation
// anchored at future timestamps on the context clock. Implementations must
// honor committed automation sample-accurately; the engine never touches
// samples through this interface except via Kernel processors.
package backend

import "errors"

// ErrAlreadyStarted and ErrAlreadyStopped are returned by sources that are
// started or stopped twice. Callers treat them as best-effort noise.
var (
	ErrAlreadyStarted = errors.New("source already started")
	ErrAlreadyStopped = errors.New("source already stopped")
)

// State is the run state of a Context.
type State int

const (
	StateSuspended State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// OscType selects a built-in oscillator shape.
type OscType int

const (
	OscSine OscType = iota
	OscSquare
	OscSawtooth
	OscTriangle
	OscCustom
)

// FilterType selects a biquad response.
type FilterType int

const (
	FilterLowpass FilterType = iota
	FilterHighpass
	FilterBandpass
	FilterNotch
	FilterPeaking
	FilterLowshelf
	FilterHighshelf
	FilterAllpass
)

var filterNames = [...]string{"lowpass", "highpass", "bandpass", "notch", "peaking", "lowshelf", "highshelf", "allpass"}

func (f FilterType) String() string {
	if f >= 0 && int(f) < len(filterNames) {
		return filterNames[f]
	}
	return "unknown"
}

// ParseFilterType maps a bank filter name to its type.
func ParseFilterType(name string) (FilterType, bool) {
	for i, n := range filterNames {
		if n == name {
			return FilterType(i), true
		}
	}
	return FilterLowpass, false
}

// PeriodicWave is a waveform given by its Fourier series. Index 0 is DC.
type PeriodicWave struct {
	Real []float64
	Imag []float64
}

// Buffer is a mono block of samples at SampleRate.
type Buffer struct {
	SampleRate float64
	Data       []float64
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Data)) / b.SampleRate
}

// Param is an automatable numeric parameter.
type Param interface {
	// Value returns the intrinsic value at the context's current time.
	Value() float64
	SetValueAtTime(v, t float64)
	LinearRampToValueAtTime(v, t float64)
	// ExponentialRampToValueAtTime requires v and the previous value to share
	// a sign and be non-zero; implementations fall back to a step otherwise.
	ExponentialRampToValueAtTime(v, t float64)
	// CancelScheduledValues removes every event at or after t.
	CancelScheduledValues(t float64)
	// CancelAndHoldAtTime removes events after t and keeps the value the
	// automation reaches at t, truncating a ramp in progress.
	CancelAndHoldAtTime(t float64)
}

// Node is a vertex in the audio graph.
type Node interface {
	Connect(dst Node)
	// ConnectParam feeds this node's output into p, summed with p's own value.
	ConnectParam(p Param)
	Disconnect()
}

// Source is a node with a start/stop lifetime.
type Source interface {
	Node
	Start(t float64) error
	Stop(t float64) error
}

type Oscillator interface {
	Source
	Frequency() Param
	Detune() Param
	SetType(t OscType)
	SetPeriodicWave(w *PeriodicWave)
}

type BufferSource interface {
	Source
	SetBuffer(b *Buffer)
	SetLoop(loop bool)
	PlaybackRate() Param
}

type Gain interface {
	Node
	Gain() Param
}

type Biquad interface {
	Node
	SetType(t FilterType)
	Frequency() Param
	Q() Param
	Gain() Param
}

type WaveShaper interface {
	Node
	SetCurve(curve []float64)
}

type Panner interface {
	Node
	Pan() Param
}

// Kernel is per-sample processing owned by the engine (decimation,
// dynamics). It runs on the rendering path and must not block.
type Kernel interface {
	Process(l, r float64) (float64, float64)
	Reset()
}

// Clock is a monotonic audio clock in seconds.
type Clock interface {
	CurrentTime() float64
}

// Context creates nodes and owns the clock.
type Context interface {
	Clock
	SampleRate() float64
	Destination() Node
	State() State
	Resume() error
	Suspend() error
	Close() error

	NewOscillator() Oscillator
	NewBufferSource() BufferSource
	NewGain() Gain
	NewBiquad() Biquad
	NewWaveShaper() WaveShaper
	NewPanner() Panner
	NewProcessor(k Kernel) Node
}
