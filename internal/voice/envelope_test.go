package voice

import (
	"math"
	"testing"

	"github.com/cbegin/chiptone-go/internal/bank"
	"github.com/cbegin/chiptone-go/internal/softsynth"
)

func TestEnvelopeContinuity(t *testing.T) {
	envs := []bank.ADSR{
		{A: 0.01, D: 0.1, S: 0.5, R: 0.2},
		{A: 0.2, D: 0.3, S: 0.0, R: 0.05},
		{A: 0.001, D: 0.001, S: 1, R: 1},
	}
	offs := []float64{0.005, 0.05, 0.15, 0.25, 0.6, 2}
	const t0 = 1.0
	const eps = 1e-10
	for _, env := range envs {
		for _, d := range offs {
			plan := PlanEnvelope(env, t0, t0+d, 0.8)
			bounds := []float64{t0 + env.A, t0 + env.A + env.D, plan.Off, plan.End}
			for _, b := range bounds {
				before, after := plan.LevelAt(b-eps), plan.LevelAt(b+eps)
				if math.Abs(before-after) > 1e-5 {
					t.Errorf("env %+v off %v: jump at %v: %v -> %v", env, d, b, before, after)
				}
			}
			if got := plan.LevelAt(plan.End); got != Floor {
				t.Errorf("env %+v off %v: level at release end = %v, want %v", env, d, got, Floor)
			}
			if got := plan.LevelAt(plan.End + 10); got != Floor {
				t.Errorf("env %+v off %v: level after release = %v", env, d, got)
			}
			if want := t0 + d + env.R; math.Abs(plan.End-want) > 1e-12 {
				t.Errorf("env %+v off %v: end = %v, want %v", env, d, plan.End, want)
			}
		}
	}
}

func TestEarlyReleaseUsesReachedLevel(t *testing.T) {
	env := bank.ADSR{A: 0.1, D: 0.2, S: 0.25, R: 0.1}
	plan := PlanEnvelope(env, 0, 0.05, 1)
	if !plan.Early {
		t.Fatalf("expected early release mid-attack")
	}
	want := Floor * math.Pow(1/Floor, 0.5)
	if got := plan.LevelAt(0.05); math.Abs(got-want) > 1e-9 {
		t.Fatalf("level at off = %v, want %v", got, want)
	}

	plan = PlanEnvelope(env, 0, 0.2, 1)
	if !plan.Early {
		t.Fatalf("expected early release mid-decay")
	}
	want = math.Pow(0.25, 0.5)
	if got := plan.LevelAt(0.2); math.Abs(got-want) > 1e-9 {
		t.Fatalf("level at off = %v, want %v", got, want)
	}

	plan = PlanEnvelope(env, 0, 0.5, 1)
	if plan.Early {
		t.Fatalf("note ending after decay is not early")
	}
	if got := plan.LevelAt(0.4); math.Abs(got-0.25) > 1e-12 {
		t.Fatalf("sustain level = %v, want 0.25", got)
	}
}

func TestPlanMatchesBackendAutomation(t *testing.T) {
	ctx := softsynth.New(1000)
	for _, off := range []float64{0.03, 0.12, 0.5} {
		g := ctx.NewGain().Gain().(*softsynth.Param)
		g.SetValueAtTime(0, 0)
		plan := PlanEnvelope(bank.ADSR{A: 0.05, D: 0.1, S: 0.4, R: 0.2}, 0.01, off, 0.9)
		plan.Steps.Apply(g)
		for ms := 0; ms < 1000; ms++ {
			at := float64(ms) / 1000
			if got, want := g.ValueAt(at), plan.LevelAt(at); math.Abs(got-want) > 1e-9 {
				t.Fatalf("off %v t=%v: backend %v, plan %v", off, at, got, want)
			}
		}
	}
}

func TestPlanSanitizesInputs(t *testing.T) {
	plan := PlanEnvelope(bank.ADSR{A: math.NaN(), D: math.Inf(1), S: 7, R: -1}, 0, 0, math.NaN())
	if plan.Off != MinDuration {
		t.Fatalf("off = %v, want %v", plan.Off, MinDuration)
	}
	for _, st := range plan.Steps {
		if !finite(st.Time) || !finite(st.Value) {
			t.Fatalf("non-finite step %+v", st)
		}
	}
	if plan.End != plan.Off+MinRelease {
		t.Fatalf("end = %v, want off+%v", plan.End, MinRelease)
	}
	if plan.Peak != 1 {
		t.Fatalf("peak = %v, want default 1", plan.Peak)
	}
}

func TestSanitizers(t *testing.T) {
	cases := []struct {
		name string
		got  float64
		want float64
	}{
		{"duration nan", SanitizeDuration(math.NaN()), DefaultDuration},
		{"duration negative", SanitizeDuration(-2), DefaultDuration},
		{"duration huge", SanitizeDuration(1e9), MaxDuration},
		{"velocity inf", SanitizeVelocity(math.Inf(1)), DefaultVelocity},
		{"velocity high", SanitizeVelocity(3), 1},
		{"freq zero", SanitizeFreq(0), DefaultFreq},
		{"freq high", SanitizeFreq(1e6), MaxFreq},
		{"cut zero", SanitizeMonoCut(0), DefaultMonoCut},
		{"midi a4", MidiToFreq(69), 440},
		{"midi a5", MidiToFreq(81), 880},
	}
	for _, tc := range cases {
		if math.Abs(tc.got-tc.want) > 1e-9 {
			t.Errorf("%s: got %v want %v", tc.name, tc.got, tc.want)
		}
	}
}

func TestVibratoDepthEnvelope(t *testing.T) {
	v := &bank.VibratoFX{Rate: 5, Depth: 20, Delay: 0.1, Attack: 0.2, Release: 0.1}
	steps := VibratoSteps(v, 0, 1)
	cases := []struct{ at, want float64 }{
		{0.05, 0},
		{0.1, 0},
		{0.2, 10},
		{0.3, 20},
		{0.9, 20},
		{1.05, 10},
		{1.1, 0},
		{2, 0},
	}
	for _, tc := range cases {
		if got := steps.At(tc.at, 0); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("depth at %v = %v, want %v", tc.at, got, tc.want)
		}
	}

	early := VibratoSteps(v, 0, 0.2)
	if got := early.At(0.2, 0); math.Abs(got-10) > 1e-9 {
		t.Errorf("early release depth = %v, want 10", got)
	}
	if got := early.At(0.25, 0); math.Abs(got-5) > 1e-9 {
		t.Errorf("early release fade = %v, want 5", got)
	}
	if end := VibratoEnd(v, 1, 1.3); math.Abs(end-(1.3+VibratoTail)) > 1e-12 {
		t.Errorf("vibrato end = %v", end)
	}
}

func TestPitchAndFilterCurves(t *testing.T) {
	steps, cents := PitchSteps(&bank.PitchFX{From: 880, To: 220, Time: 1, Curve: bank.Exponential}, 0, 0)
	if cents || steps[1].Kind != StepExp {
		t.Fatalf("hz exp sweep: cents=%v kind=%v", cents, steps[1].Kind)
	}
	if got := steps.At(0.5, 0); math.Abs(got-440) > 1e-9 {
		t.Fatalf("exp midpoint = %v, want 440", got)
	}

	steps, cents = PitchSteps(&bank.PitchFX{From: -100, To: 100, Time: 1, Curve: bank.Exponential, Mode: bank.Cents}, 0, 0)
	if !cents || steps[1].Kind != StepLinear {
		t.Fatalf("cents through zero must fall back to linear: cents=%v kind=%v", cents, steps[1].Kind)
	}

	fs, ok := ResolveFilter(&bank.Filter{Type: "highpass", Freq: 200, Q: 2}, &bank.FilterFX{From: 4000, To: 400, Time: 0.5, Curve: bank.Exponential}, 0)
	if !ok || !fs.Sweep || fs.Type != "highpass" || fs.Q != 2 {
		t.Fatalf("unexpected filter %+v", fs)
	}
	if fs.Freq[1].Kind != StepExp || fs.Freq[0].Value != 4000 || fs.Freq[1].Value != 400 {
		t.Fatalf("sweep steps %+v", fs.Freq)
	}
	if _, ok := ResolveFilter(nil, nil, 0); ok {
		t.Fatalf("no filter expected")
	}
	fs, _ = ResolveFilter(nil, &bank.FilterFX{From: 1200}, 0)
	if fs.Type != "lowpass" || fs.Sweep || fs.Freq[0].Value != 1200 {
		t.Fatalf("override-only filter %+v", fs)
	}
}
