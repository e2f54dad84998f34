package mml

import (
	"errors"
	"strings"
	"testing"
)

func keys(t *testing.T, src string) []float64 {
	t.Helper()
	parts, err := Parse(src, DefaultOptions())
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	if len(parts) != 1 {
		t.Fatalf("parts = %d, want 1", len(parts))
	}
	var out []float64
	for _, ev := range parts[0].Events {
		out = append(out, *ev.N)
	}
	return out
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNoteKeys(t *testing.T) {
	cases := []struct {
		src  string
		want []float64
	}{
		{"c", []float64{60}},
		{"a", []float64{69}},
		{"c#d-e+", []float64{61, 61, 65}},
		{"o4 c > c < < c", []float64{48, 60, 36}},
		{"n69 n0,8", []float64{69, 0}},
		{"C D E", []float64{60, 62, 64}},
		{"b++", []float64{73}},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			if got := keys(t, tc.src); !equal(got, tc.want) {
				t.Fatalf("keys = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLengths(t *testing.T) {
	parts, err := Parse("c c8 c4. l2 c r c^4 l16. c", DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	p := parts[0]
	wantBeat := []float64{0, 1, 1.5, 3, 7, 10}
	wantDur := []float64{1, 0.5, 1.5, 2, 3, 0.375}
	if len(p.Events) != len(wantBeat) {
		t.Fatalf("events = %d", len(p.Events))
	}
	for i, ev := range p.Events {
		if ev.Beat != wantBeat[i] || ev.Dur != wantDur[i] {
			t.Fatalf("event %d = beat %v dur %v, want %v %v", i, ev.Beat, ev.Dur, wantBeat[i], wantDur[i])
		}
	}
	if p.Beats != 10.375 {
		t.Fatalf("beats = %v", p.Beats)
	}
}

func TestGateAndVolume(t *testing.T) {
	parts, err := Parse("q4 v6 c v0 c", DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	evs := parts[0].Events
	if evs[0].Dur != 0.5 || evs[0].Beat != 0 || evs[1].Beat != 1 {
		t.Fatalf("gate: %+v", evs)
	}
	if evs[0].Vel != 0.4 || evs[1].Vel != 0 {
		t.Fatalf("vel = %v %v", evs[0].Vel, evs[1].Vel)
	}
}

func TestLoops(t *testing.T) {
	cases := []struct {
		src  string
		want []float64
	}{
		{"[c d]3", []float64{60, 62, 60, 62, 60, 62}},
		{"[c|d]3", []float64{60, 62, 60, 62, 60}},
		{"[c [e]2]2", []float64{60, 64, 64, 60, 64, 64}},
		{"[c]", []float64{60, 60}},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			if got := keys(t, tc.src); !equal(got, tc.want) {
				t.Fatalf("keys = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestComments(t *testing.T) {
	got := keys(t, "c // d e\n/* f\ng */ a")
	if !equal(got, []float64{60, 69}) {
		t.Fatalf("keys = %v", got)
	}
}

func TestErrors(t *testing.T) {
	cases := []string{
		"c x",
		"[c d",
		"c d]",
		"l0 c",
		"c0",
		"n",
		"t0 c",
	}
	for _, src := range cases {
		t.Run(src, func(t *testing.T) {
			if _, err := Parse(src, DefaultOptions()); err == nil {
				t.Fatalf("parse %q succeeded", src)
			}
		})
	}
	if _, err := Parse("t120 c t90 d", DefaultOptions()); !errors.Is(err, ErrTempoChange) {
		t.Fatalf("tempo change err = %v", err)
	}
	_, err := Parse("c d ?", DefaultOptions())
	if err == nil || !strings.Contains(err.Error(), "at 4") {
		t.Fatalf("position missing from %v", err)
	}
}

func TestToPhrase(t *testing.T) {
	ph, err := ToPhrase("t140 c e g; o4 c1", "lead", DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if ph.Tempo != 140 || ph.Tone != "lead" || len(ph.Events) != 4 {
		t.Fatalf("phrase = %+v", ph)
	}
	if ph.Events[3].Beat != 0 || *ph.Events[3].N != 48 {
		t.Fatalf("second part not merged at beat 0: %+v", ph.Events[3])
	}
	if _, err := ToPhrase("t120 c; t90 c", "lead", DefaultOptions()); err == nil {
		t.Fatalf("disagreeing tempos accepted")
	}
}

func TestToSong(t *testing.T) {
	opts := DefaultOptions()
	opts.Loop = true
	song, err := ToSong("c d e f; o3 c1 c1; g", []string{"lead", "bass"}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if song.Tempo != 120 || len(song.Tracks) != 3 {
		t.Fatalf("song = %+v", song)
	}
	tones := []string{song.Tracks[0].Tone, song.Tracks[1].Tone, song.Tracks[2].Tone}
	if strings.Join(tones, ",") != "lead,bass,lead" {
		t.Fatalf("tones = %v", tones)
	}
	if song.Tracks[1].ID != "part2" {
		t.Fatalf("id = %q", song.Tracks[1].ID)
	}
	if song.Loop == nil || song.Loop.Start != 0 || song.Loop.End != 8 {
		t.Fatalf("loop = %+v", song.Loop)
	}
	if _, err := ToSong("c", nil, opts); err == nil {
		t.Fatalf("no tones accepted")
	}
}
