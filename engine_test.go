package chiptone

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"slices"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTones() *ToneBank {
	return &ToneBank{
		Tones: map[string]Tone{
			"lead": {
				Osc:  Osc{Type: "square"},
				ADSR: ADSR{A: 0.01, D: 0.05, S: 0.5, R: 0.2},
				Gain: 0.5,
			},
			"pad": {
				Osc:  Osc{Type: "triangle"},
				ADSR: ADSR{A: 0.01, D: 0.05, S: 0.8, R: 0.1},
				Gain: 0.5,
				Bus:  "music",
				FX:   &FX{Lowpass: 2000},
			},
		},
		Buses: map[string]Bus{
			"music": {Gain: 0.8},
		},
	}
}

func newOfflineEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithSampleRate(8000), WithLogger(quietLogger())}, opts...)
	e, err := NewEngine(append(opts, WithDriver(DriverNone))...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	if err := e.LoadBanks(testTones(), nil); err != nil {
		t.Fatalf("load banks: %v", err)
	}
	return e
}

func unlock(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Unlock(context.Background()); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

func render(t *testing.T, e *Engine, seconds float64) []float32 {
	t.Helper()
	buf := make([]float32, 2*int(seconds*float64(e.SampleRate())))
	if err := e.Render(buf); err != nil {
		t.Fatalf("render: %v", err)
	}
	return buf
}

func peak(buf []float32) float64 {
	var p float64
	for _, s := range buf {
		p = math.Max(p, math.Abs(float64(s)))
	}
	return p
}

func TestLockedUntilUnlock(t *testing.T) {
	e := newOfflineEngine(t)
	if _, err := e.PlayNote(NoteParams{Tone: "lead"}); !errors.Is(err, ErrLocked) {
		t.Fatalf("PlayNote before unlock: err = %v, want ErrLocked", err)
	}
	if _, err := e.PlayPhrase(&Phrase{Tempo: 120, Tone: "lead"}, PhraseOptions{}); !errors.Is(err, ErrLocked) {
		t.Fatalf("PlayPhrase before unlock: err = %v, want ErrLocked", err)
	}
	if err := e.Render(make([]float32, 2)); !errors.Is(err, ErrLocked) {
		t.Fatalf("Render before unlock: err = %v, want ErrLocked", err)
	}
	if e.Armed() {
		t.Fatalf("armed before unlock")
	}
	unlock(t, e)
	unlock(t, e)
	if !e.Armed() {
		t.Fatalf("not armed after unlock")
	}
	if _, err := e.PlayNote(NoteParams{Tone: "lead"}); err != nil {
		t.Fatalf("PlayNote after unlock: %v", err)
	}
}

func TestClosedEngine(t *testing.T) {
	e := newOfflineEngine(t)
	unlock(t, e)
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := e.PlayNote(NoteParams{Tone: "lead"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if err := e.Unlock(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("unlock err = %v, want ErrClosed", err)
	}
}

func TestPlayNoteTiming(t *testing.T) {
	e := newOfflineEngine(t)
	unlock(t, e)
	n := 69.0
	info, err := e.PlayNote(NoteParams{Tone: "lead", N: &n, Dur: 0.5, At: 0.25})
	if err != nil {
		t.Fatalf("play note: %v", err)
	}
	if info.Freq != 440 {
		t.Fatalf("freq = %v, want 440", info.Freq)
	}
	if info.Start != 0.25 || math.Abs(info.Off-0.75) > 1e-9 || math.Abs(info.End-0.95) > 1e-9 {
		t.Fatalf("timing = %+v, want start 0.25 off 0.75 end 0.95", info)
	}
	if got := e.ActiveVoices(); got != 1 {
		t.Fatalf("active = %d, want 1", got)
	}

	before := render(t, e, 0.2)
	if p := peak(before); p != 0 {
		t.Fatalf("output before onset: peak %v", p)
	}
	during := render(t, e, 0.5)
	if p := peak(during); p < 0.05 {
		t.Fatalf("note is silent: peak %v", p)
	}
	render(t, e, 0.6)
	if got := e.ActiveVoices(); got != 0 {
		t.Fatalf("active after release = %d, want 0", got)
	}
}

func TestPastStartMovesToNow(t *testing.T) {
	e := newOfflineEngine(t)
	unlock(t, e)
	render(t, e, 0.5)
	info, err := e.PlayNote(NoteParams{Tone: "lead", Freq: 220, At: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if info.Start != e.CurrentTime() {
		t.Fatalf("start = %v, want now %v", info.Start, e.CurrentTime())
	}
}

func TestUnknownReferences(t *testing.T) {
	e := newOfflineEngine(t)
	unlock(t, e)
	cases := []struct {
		name string
		play func() error
		want error
	}{
		{"note tone", func() error {
			_, err := e.PlayNote(NoteParams{Tone: "nope"})
			return err
		}, ErrUnknownTone},
		{"note bus", func() error {
			_, err := e.PlayNote(NoteParams{Tone: "lead", Bus: "nope"})
			return err
		}, ErrUnknownBus},
		{"phrase tone", func() error {
			_, err := e.PlayPhrase(&Phrase{Tempo: 120, Tone: "lead", Events: []Event{{Tone: "nope", Dur: 1, Vel: 1}}}, PhraseOptions{})
			return err
		}, ErrUnknownTone},
		{"song bus", func() error {
			_, err := e.PlaySong(&Song{Tempo: 120, Tracks: []Track{{Tone: "lead", Bus: "nope", Events: []Event{{Dur: 1, Vel: 1}}}}}, SongOptions{})
			return err
		}, ErrUnknownBus},
		{"bad tempo", func() error {
			_, err := e.PlayPhrase(&Phrase{Tempo: 0, Tone: "lead"}, PhraseOptions{})
			return err
		}, ErrInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.play(); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
	if got := e.ActiveVoices(); got != 0 {
		t.Fatalf("rejected calls started %d voices", got)
	}
}

func TestLoadBanksKeepsPreviousOnError(t *testing.T) {
	e := newOfflineEngine(t)
	bad := &ToneBank{Tones: map[string]Tone{
		"w": {Osc: Osc{Type: "wave", Wave: "missing"}, ADSR: ADSR{A: 0.01, D: 0.01, S: 1, R: 0.1}, Gain: 1},
	}}
	err := e.LoadBanks(bad, nil)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Problems) == 0 {
		t.Fatalf("err = %v, want a ValidationError with problems", err)
	}
	if _, ok := e.ToneBank().Tones["lead"]; !ok {
		t.Fatalf("failed load replaced the installed bank")
	}
}

func TestLoadBanksJSONResolvesWaves(t *testing.T) {
	e := newOfflineEngine(t)
	waves := []byte(`{"waves": {"ramp": {"samples": "0123456789abcdef"}, "bell": {"real": [0, 0], "imag": [0, 1, 0.5]}}}`)
	tones := []byte(`{"tones": {"chip": {"osc": {"type": "wave", "wave": "ramp"}, "adsr": {"a": 0.01, "d": 0.05, "s": 0.7, "r": 0.1}, "gain": 0.6}}}`)
	if err := e.LoadBanksJSON(tones, waves); err != nil {
		t.Fatalf("load: %v", err)
	}
	unlock(t, e)
	if _, err := e.PlayNote(NoteParams{Tone: "chip", Freq: 330, Dur: 0.2}); err != nil {
		t.Fatalf("play: %v", err)
	}
	if p := peak(render(t, e, 0.2)); p < 0.05 {
		t.Fatalf("wavetable note is silent: peak %v", p)
	}
}

func TestMasterGain(t *testing.T) {
	e := newOfflineEngine(t, WithMasterGain(0.5))
	if got := e.MasterGain(); got != 0.5 {
		t.Fatalf("initial gain = %v", got)
	}
	e.SetMasterDb(-6)
	if got := e.MasterGain(); math.Abs(got-0.501187) > 1e-5 {
		t.Fatalf("-6 dB = %v, want ~0.501", got)
	}
	e.SetMasterGain(-2)
	if got := e.MasterGain(); got != 0 {
		t.Fatalf("negative gain should clamp to 0, got %v", got)
	}
	e.SetMasterGain(math.NaN())
	if got := e.MasterGain(); got != 0 {
		t.Fatalf("NaN gain = %v, want 0", got)
	}
}

func TestBusRouting(t *testing.T) {
	t.Run("shared", func(t *testing.T) {
		e := newOfflineEngine(t)
		unlock(t, e)
		for i := 0; i < 3; i++ {
			if _, err := e.PlayNote(NoteParams{Tone: "pad", Freq: 220}); err != nil {
				t.Fatal(err)
			}
		}
		want := []string{"music", "tone:pad@music"}
		if got := e.Buses(); !slices.Equal(got, want) {
			t.Fatalf("buses = %v, want %v", got, want)
		}
	})
	t.Run("per-note", func(t *testing.T) {
		e := newOfflineEngine(t, WithBusRouting(RoutingPerNote))
		unlock(t, e)
		if _, err := e.PlayNote(NoteParams{Tone: "pad", Freq: 220, Dur: 0.1}); err != nil {
			t.Fatal(err)
		}
		if got := e.Buses(); !slices.Equal(got, []string{"music"}) {
			t.Fatalf("buses = %v, want only the named bus", got)
		}
		if p := peak(render(t, e, 0.1)); p == 0 {
			t.Fatalf("per-note chain is silent")
		}
	})
	t.Run("bus gain", func(t *testing.T) {
		e := newOfflineEngine(t)
		if err := e.SetBusGain("music", 0.3); err != nil {
			t.Fatalf("declared bus: %v", err)
		}
		if err := e.SetBusGain("nope", 0.3); !errors.Is(err, ErrUnknownBus) {
			t.Fatalf("err = %v, want ErrUnknownBus", err)
		}
		if err := e.CreateBus("sfx", 1, -0.5); err != nil {
			t.Fatal(err)
		}
		if err := e.SetBusGain("sfx", 0.5); err != nil {
			t.Fatalf("created bus: %v", err)
		}
	})
}

func TestSongLoopBoundaries(t *testing.T) {
	e := newOfflineEngine(t)
	unlock(t, e)
	events := e.Watch()
	song := &Song{
		Tempo: 120,
		Tracks: []Track{{
			ID:   "bass",
			Tone: "lead",
			Events: []Event{
				{Beat: 0, Dur: 1, Vel: 1, Freq: 110},
				{Beat: 2, Dur: 1, Vel: 1, Freq: 165},
			},
		}},
		Loop: &Loop{Start: 0, End: 4},
	}
	h, err := e.PlaySong(song, SongOptions{Loops: 3})
	if err != nil {
		t.Fatalf("play song: %v", err)
	}
	if h.LoopSeconds() != 2 {
		t.Fatalf("loop seconds = %v, want 2", h.LoopSeconds())
	}
	for i, want := range []float64{0, 2, 4} {
		if got := h.IterationStart(i) - h.Start(); got != want {
			t.Fatalf("iteration %d starts at %v, want %v", i, got, want)
		}
	}

	render(t, e, 7)
	var got []PlaybackEvent
	for len(events) > 0 {
		got = append(got, <-events)
	}
	want := []PlaybackEvent{
		{Kind: EventLoopCompleted, Song: h.ID(), Iteration: 0, Time: 2},
		{Kind: EventLoopCompleted, Song: h.ID(), Iteration: 1, Time: 4},
		{Kind: EventPlaybackEnded, Song: h.ID(), Time: 6},
	}
	if !slices.Equal(got, want) {
		t.Fatalf("events = %+v, want %+v", got, want)
	}
	if got := e.ActiveVoices(); got != 0 {
		t.Fatalf("voices left after song end: %d", got)
	}
}

func TestStopAllVoicesStopsSongs(t *testing.T) {
	e := newOfflineEngine(t)
	unlock(t, e)
	h, err := e.PlaySong(&Song{
		Tempo:  120,
		Tracks: []Track{{Tone: "lead", Events: []Event{{Dur: 2, Vel: 1, Freq: 220}}}},
		Loop:   &Loop{Start: 0, End: 4},
	}, SongOptions{})
	if err != nil {
		t.Fatal(err)
	}
	render(t, e, 0.5)
	e.StopAllVoices(0)
	if !h.Stopped() {
		t.Fatalf("song still running after StopAllVoices")
	}
	render(t, e, 3)
	if got := e.ActiveVoices(); got != 0 {
		t.Fatalf("active = %d, want 0", got)
	}
	if p := peak(render(t, e, 0.5)); p != 0 {
		t.Fatalf("loop kept playing after stop: peak %v", p)
	}
}

func TestBackgrounding(t *testing.T) {
	e := newOfflineEngine(t)
	unlock(t, e)
	h, err := e.PlaySong(&Song{
		Tempo:  120,
		Tracks: []Track{{Tone: "lead", Events: []Event{{Dur: 1, Vel: 1, Freq: 220}}}},
		Loop:   &Loop{Start: 0, End: 2},
	}, SongOptions{})
	if err != nil {
		t.Fatal(err)
	}
	render(t, e, 0.3)
	e.SetBackgrounded(true)
	if !h.Stopped() {
		t.Fatalf("song survived backgrounding")
	}
	if got := e.ActiveVoices(); got != 0 {
		t.Fatalf("active = %d after backgrounding", got)
	}
	paused := e.CurrentTime()
	if p := peak(render(t, e, 0.2)); p != 0 {
		t.Fatalf("backgrounded engine produced sound: peak %v", p)
	}
	if e.CurrentTime() != paused {
		t.Fatalf("clock advanced while backgrounded")
	}
	e.SetBackgrounded(false)
	if _, err := e.PlayNote(NoteParams{Tone: "lead", Dur: 0.1}); err != nil {
		t.Fatal(err)
	}
	if p := peak(render(t, e, 0.1)); p == 0 {
		t.Fatalf("no sound after returning to the foreground")
	}
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	if _, err := NewEngine(WithSampleRate(0)); err == nil {
		t.Fatalf("expected error for zero sample rate")
	}
	if _, err := NewEngine(WithDriver("alsa")); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestSuspendWhileActionRuns(t *testing.T) {
	e := newOfflineEngine(t)
	unlock(t, e)
	started := make(chan struct{})
	played := make(chan error, 1)
	e.sched.Schedule(0, "slow note", func() error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		_, err := e.PlayNote(NoteParams{Tone: "lead"})
		played <- err
		return err
	})
	e.sched.Start()
	<-started

	done := make(chan error, 1)
	go func() { done <- e.Suspend() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("suspend: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Suspend blocked while a pump action needed the engine")
	}
	if err := <-played; err != nil {
		t.Fatalf("note from pump action: %v", err)
	}
	if e.sched.Running() {
		t.Fatalf("scheduler still running after Suspend")
	}
}
