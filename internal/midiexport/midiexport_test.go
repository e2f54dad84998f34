package midiexport

import (
	"bytes"
	"errors"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/chiptone-go/internal/bank"
)

type noteOn struct {
	tick uint32
	ch   uint8
	key  uint8
}

func roundTrip(t *testing.T, s *smf.SMF) *smf.SMF {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, s); err != nil {
		t.Fatalf("write: %v", err)
	}
	back, err := smf.ReadFrom(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	return back
}

func noteOns(tr smf.Track) []noteOn {
	var out []noteOn
	var tick uint32
	for _, ev := range tr {
		tick += ev.Delta
		var ch, key, vel uint8
		if midi.Message(ev.Message).GetNoteStart(&ch, &key, &vel) {
			out = append(out, noteOn{tick, ch, key})
		}
	}
	return out
}

func f(v float64) *float64 { return &v }

func TestKeyAndVelocity(t *testing.T) {
	cases := []struct {
		ev   bank.Event
		want uint8
	}{
		{bank.Event{Freq: 440}, 69},
		{bank.Event{Freq: 261.63}, 60},
		{bank.Event{N: f(72.4)}, 72},
		{bank.Event{N: f(200)}, 127},
		{bank.Event{}, 69},
	}
	for _, tc := range cases {
		if got := Key(tc.ev); got != tc.want {
			t.Errorf("Key(%+v) = %d, want %d", tc.ev, got, tc.want)
		}
	}
	if Velocity(0) != 1 || Velocity(1) != 127 || Velocity(2) != 127 {
		t.Fatalf("velocity mapping: %d %d %d", Velocity(0), Velocity(1), Velocity(2))
	}
}

func TestChannelsSkipDrums(t *testing.T) {
	for i := 0; i < 40; i++ {
		if Channel(i) == DrumChannel || Channel(i) > 15 {
			t.Fatalf("Channel(%d) = %d", i, Channel(i))
		}
	}
	if Channel(9) != 10 {
		t.Fatalf("Channel(9) = %d, want 10", Channel(9))
	}
}

func TestPhraseExport(t *testing.T) {
	ph := &bank.Phrase{Tempo: 120, Tone: "lead", Events: []bank.Event{
		{Beat: 0, Dur: 1, Vel: 1, N: f(60)},
		{Beat: 1, Dur: 0.5, Vel: 0.5, N: f(60)},
		{Beat: 1.5, Dur: 0.5, Vel: 1, N: f(67)},
	}}
	s, err := Phrase(ph, "demo")
	if err != nil {
		t.Fatal(err)
	}
	back := roundTrip(t, s)
	if len(back.Tracks) != 2 {
		t.Fatalf("tracks = %d, want 2", len(back.Tracks))
	}
	var bpm float64
	for _, ev := range back.Tracks[0] {
		if ev.Message.GetMetaTempo(&bpm) {
			break
		}
	}
	if bpm != 120 {
		t.Fatalf("tempo = %v, want 120", bpm)
	}
	got := noteOns(back.Tracks[1])
	want := []noteOn{{0, 0, 60}, {480, 0, 60}, {720, 0, 67}}
	if len(got) != len(want) {
		t.Fatalf("note ons = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("note on %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSongUnrollsLoop(t *testing.T) {
	song := &bank.Song{
		Tempo: 140,
		Tracks: []bank.Track{
			{ID: "bass", Events: []bank.Event{
				{Beat: 0, Dur: 1, Vel: 1, N: f(36)},
				{Beat: 2, Dur: 1, Vel: 1, N: f(38)},
				{Beat: 4, Dur: 1, Vel: 1, N: f(40)},
			}},
			{ID: "lead", Events: []bank.Event{{Beat: 2.5, Dur: 0.5, Vel: 1, N: f(72)}}},
		},
		Loop: &bank.Loop{Start: 2, End: 4},
	}
	s, err := Song(song, 3, "")
	if err != nil {
		t.Fatal(err)
	}
	back := roundTrip(t, s)
	if len(back.Tracks) != 3 {
		t.Fatalf("tracks = %d, want 3", len(back.Tracks))
	}
	bass := noteOns(back.Tracks[1])
	var ticks []uint32
	for _, n := range bass {
		ticks = append(ticks, n.tick)
		if n.ch != 0 {
			t.Fatalf("bass on channel %d", n.ch)
		}
	}
	// prologue at 0, window at 2, 4, 6, epilogue at 4+2*2 = 8 beats.
	want := []uint32{0, 960, 1920, 2880, 3840}
	if len(ticks) != len(want) {
		t.Fatalf("bass ticks = %v, want %v", ticks, want)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Fatalf("bass ticks = %v, want %v", ticks, want)
		}
	}
	lead := noteOns(back.Tracks[2])
	if len(lead) != 3 || lead[0].ch != 1 || lead[2].tick != 3120 {
		t.Fatalf("lead = %+v", lead)
	}
}

func TestExportRejects(t *testing.T) {
	if _, err := Phrase(&bank.Phrase{Tempo: 120}, ""); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
	if _, err := Phrase(&bank.Phrase{Tempo: -1, Events: []bank.Event{{Dur: 1}}}, ""); !errors.Is(err, bank.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if _, err := Song(&bank.Song{Tempo: 120}, 1, ""); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
}
