package sequencer

import (
	"testing"

	"github.com/cbegin/chiptone-go/internal/bank"
)

func BenchmarkSplitAndExpand(b *testing.B) {
	events := make([]bank.Event, 64)
	for i := range events {
		n := float64(60 + i%12)
		events[i] = bank.Event{Beat: float64(i) / 4, N: &n, Dur: 0.5, Vel: 1}
	}
	loop := bank.Loop{Start: 4, End: 12}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sec := SplitLoop(events, loop)
		_ = Expand(sec.Window, 150, float64(i), Defaults{Tone: "lead"})
	}
}
