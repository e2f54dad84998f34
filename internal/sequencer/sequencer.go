package sequencer

import (
	"math"

	"github.com/cbegin/chiptone-go/internal/bank"
	"github.com/cbegin/chiptone-go/internal/voice"
)

const (
	DefaultTempo = 120.0
	// DefaultLead is how far ahead of an iteration boundary the next loop
	// iteration is committed to the scheduler.
	DefaultLead = 0.5
)

// Note is one event resolved to absolute time.
type Note struct {
	Time     float64
	Duration float64
	Freq     float64
	Velocity float64
	Tone     string
	Bus      string
	Pan      *float64
	FX       *bank.NoteFX
	// Key is the mono identity for song tracks. Empty means the tone id.
	Key   string
	Track string
}

// SecondsPerBeat converts a tempo in beats per minute. Invalid tempos fall
// back to DefaultTempo.
func SecondsPerBeat(tempo float64) float64 {
	if !(tempo > 0) || math.IsInf(tempo, 0) {
		tempo = DefaultTempo
	}
	return 60 / tempo
}

func BeatsToSeconds(beats, tempo float64) float64 {
	return beats * SecondsPerBeat(tempo)
}

// NoteFreq picks the explicit frequency, then the note number, then the
// default pitch.
func NoteFreq(ev bank.Event) float64 {
	switch {
	case ev.Freq > 0:
		return ev.Freq
	case ev.N != nil:
		return voice.MidiToFreq(*ev.N)
	default:
		return voice.DefaultFreq
	}
}

// Defaults are the tone and bus used when an event names none.
type Defaults struct {
	Tone  string
	Bus   string
	Key   string
	Track string
}

// Expand converts beat-relative events to notes starting at origin seconds.
func Expand(events []bank.Event, tempo, origin float64, d Defaults) []Note {
	spb := SecondsPerBeat(tempo)
	notes := make([]Note, 0, len(events))
	for _, ev := range events {
		notes = append(notes, resolve(ev, origin+ev.Beat*spb, ev.Dur*spb, d))
	}
	return notes
}

func resolve(ev bank.Event, at, dur float64, d Defaults) Note {
	n := Note{
		Time:     at,
		Duration: dur,
		Freq:     NoteFreq(ev),
		Velocity: ev.Vel,
		Tone:     d.Tone,
		Bus:      d.Bus,
		Pan:      ev.Pan,
		FX:       ev.FX,
		Key:      d.Key,
		Track:    d.Track,
	}
	if ev.Tone != "" {
		n.Tone = ev.Tone
	}
	if ev.Bus != "" {
		n.Bus = ev.Bus
	}
	return n
}

// ExpandPhrase resolves a phrase starting at origin seconds.
func ExpandPhrase(ph *bank.Phrase, origin float64) []Note {
	return Expand(ph.Events, ph.Tempo, origin, Defaults{Tone: ph.Tone, Bus: ph.Bus})
}

// Sections is a song split around its loop window. Prologue and Epilogue
// carry absolute song beats; Window carries beats relative to the window
// start with durations clipped at the window end.
type Sections struct {
	Prologue []bank.Event
	Window   []bank.Event
	Epilogue []bank.Event
}

// SplitLoop partitions events around [loop.Start, loop.End).
func SplitLoop(events []bank.Event, loop bank.Loop) Sections {
	var s Sections
	for _, ev := range events {
		switch {
		case ev.Beat < loop.Start:
			s.Prologue = append(s.Prologue, ev)
		case ev.Beat >= loop.End:
			s.Epilogue = append(s.Epilogue, ev)
		default:
			if ev.Beat+ev.Dur > loop.End {
				ev.Dur = loop.End - ev.Beat
			}
			ev.Beat -= loop.Start
			s.Window = append(s.Window, ev)
		}
	}
	return s
}

// IterationStart is the absolute start of loop iteration i. It multiplies
// rather than accumulates so no error builds up over iterations.
func IterationStart(windowStart, loopSeconds float64, i int) float64 {
	return windowStart + float64(i)*loopSeconds
}
