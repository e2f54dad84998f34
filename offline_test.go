package chiptone

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestRenderPhrase(t *testing.T) {
	ph := &Phrase{
		Tempo: 240,
		Tone:  "lead",
		Events: []Event{
			{Beat: 0, Dur: 1, Vel: 1, Freq: 262},
			{Beat: 1, Dur: 1, Vel: 0.5, Freq: 330},
			{Beat: 2, Dur: 1, Vel: 1, Freq: 392},
		},
	}
	tapped := 0
	out, err := RenderPhrase(testTones(), nil, ph, 1.2,
		WithSampleRate(8000), WithLogger(quietLogger()),
		WithSampleTap(func(buf []float32) { tapped += len(buf) }))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(out) != 2*9600 {
		t.Fatalf("len = %d, want %d", len(out), 2*9600)
	}
	if tapped != len(out) {
		t.Fatalf("tap saw %d samples, want %d", tapped, len(out))
	}
	if p := peak(out[:2*2000]); p < 0.05 {
		t.Fatalf("first note is silent: peak %v", p)
	}
	if p := peak(out[2*9000:]); p != 0 {
		t.Fatalf("tail should be silent after release: peak %v", p)
	}
	for i, s := range out {
		if math.IsNaN(float64(s)) || s > 1 || s < -1 {
			t.Fatalf("sample %d out of range: %v", i, s)
		}
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	tones := testTones()
	tones.Tones["hat"] = Tone{Osc: Osc{Type: "noise", NoiseRate: 4000}, ADSR: ADSR{A: 0.001, D: 0.02, S: 0.2, R: 0.05}, Gain: 0.4}
	song := &Song{
		Tempo: 180,
		Tracks: []Track{
			{ID: "hat", Tone: "hat", Events: []Event{{Beat: 0, Dur: 0.5, Vel: 1}, {Beat: 1, Dur: 0.5, Vel: 1}}},
			{ID: "lead", Tone: "lead", Events: []Event{{Beat: 0, Dur: 2, Vel: 1, Freq: 440}}},
		},
		Loop: &Loop{Start: 0, End: 2},
	}
	a, err := RenderSong(tones, nil, song, 2, 1.5, WithSampleRate(8000), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	b, err := RenderSong(tones, nil, song, 2, 1.5, WithSampleRate(8000), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("renders differ at sample %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestRenderRejects(t *testing.T) {
	for _, seconds := range []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := RenderPhrase(testTones(), nil, &Phrase{Tempo: 120, Tone: "lead"}, seconds); err == nil {
			t.Fatalf("expected error for length %v", seconds)
		}
		if _, err := RenderSong(testTones(), nil, &Song{Tempo: 120}, 1, seconds); err == nil {
			t.Fatalf("song: expected error for length %v", seconds)
		}
	}
	ph := &Phrase{Tempo: 120, Tone: "ghost", Events: []Event{{Dur: 1, Vel: 1}}}
	if _, err := RenderPhrase(testTones(), nil, ph, 1, WithLogger(quietLogger())); !errors.Is(err, ErrUnknownTone) {
		t.Fatalf("err = %v, want ErrUnknownTone", err)
	}
}

func TestEncodeWAVFloat32LE(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1}
	wav := EncodeWAVFloat32LE(samples, 48000, 2)
	if len(wav) != 44+16 {
		t.Fatalf("len = %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:16]) != "WAVEfmt " || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q", wav[:40])
	}
	if got := binary.LittleEndian.Uint16(wav[20:]); got != 3 {
		t.Fatalf("format = %d, want IEEE float", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:]); got != 48000*8 {
		t.Fatalf("byte rate = %d", got)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(wav[44+4:])); got != 0.5 {
		t.Fatalf("second sample = %v", got)
	}
}
