package effects

import "math"

// SampleHold reduces the effective sample rate by holding each captured
// input for a fixed number of output samples.
type SampleHold struct {
	hold    int
	counter int
	heldL   float64
	heldR   float64
}

// NewSampleHold targets rate at the given output rate. The hold length is
// floor(outRate/rate); it bypasses when rate >= outRate-1 or rate <= 0.
func NewSampleHold(outRate, rate float64) *SampleHold {
	return &SampleHold{hold: HoldFor(outRate, rate)}
}

// HoldFor is the number of output samples each captured value persists for.
func HoldFor(outRate, rate float64) int {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) || rate >= outRate-1 {
		return 1
	}
	h := int(math.Floor(outRate / rate))
	if h < 1 {
		return 1
	}
	return h
}

func (s *SampleHold) Bypassed() bool { return s.hold <= 1 }

func (s *SampleHold) Hold() int { return s.hold }

func (s *SampleHold) Process(l, r float64) (float64, float64) {
	if s.hold <= 1 {
		return l, r
	}
	if s.counter == 0 {
		s.heldL, s.heldR = l, r
	}
	s.counter++
	if s.counter >= s.hold {
		s.counter = 0
	}
	return s.heldL, s.heldR
}

func (s *SampleHold) Reset() {
	s.counter = 0
	s.heldL, s.heldR = 0, 0
}
