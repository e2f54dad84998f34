// Package midiexport writes phrases and songs as Standard MIDI Files.
package midiexport

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/chiptone-go/internal/bank"
	"github.com/cbegin/chiptone-go/internal/sequencer"
)

// TicksPerBeat is the file resolution.
const TicksPerBeat = 480

// DrumChannel is skipped when assigning channels to tracks.
const DrumChannel = 9

var ErrEmpty = errors.New("midiexport: nothing to export")

// Key converts an event's pitch to the nearest MIDI key.
func Key(ev bank.Event) uint8 {
	var n float64
	switch {
	case ev.Freq > 0:
		n = 69 + 12*math.Log2(ev.Freq/440)
	case ev.N != nil:
		n = *ev.N
	default:
		n = 69
	}
	if math.IsNaN(n) {
		n = 69
	}
	return uint8(math.Max(0, math.Min(127, math.Round(n))))
}

// Velocity maps a [0, 1] velocity to 1..127.
func Velocity(v float64) uint8 {
	if math.IsNaN(v) {
		v = 1
	}
	return uint8(math.Max(1, math.Min(127, math.Round(v*127))))
}

// Channel returns the channel of the i-th track.
func Channel(i int) uint8 {
	ch := i % 15
	if ch >= DrumChannel {
		ch++
	}
	return uint8(ch)
}

type timed struct {
	tick uint32
	on   bool
	msg  midi.Message
}

func toTick(beat float64) uint32 {
	if !(beat > 0) {
		return 0
	}
	return uint32(math.Round(beat * TicksPerBeat))
}

// line accumulates the note messages of one track.
type line struct {
	ch     uint8
	events []timed
}

func (l *line) add(events []bank.Event, offset float64) {
	for _, ev := range events {
		start := toTick(offset + ev.Beat)
		end := toTick(offset + ev.Beat + ev.Dur)
		if end <= start {
			end = start + 1
		}
		key := Key(ev)
		l.events = append(l.events,
			timed{tick: start, on: true, msg: midi.NoteOn(l.ch, key, Velocity(ev.Vel))},
			timed{tick: end, msg: midi.NoteOff(l.ch, key)},
		)
	}
}

func (l *line) track(name string) smf.Track {
	// Offs sort before ons on the same tick so a repeated key retriggers.
	sort.SliceStable(l.events, func(i, j int) bool {
		a, b := l.events[i], l.events[j]
		if a.tick != b.tick {
			return a.tick < b.tick
		}
		return !a.on && b.on
	})
	var tr smf.Track
	if name != "" {
		tr.Add(0, smf.MetaTrackSequenceName(name))
	}
	var last uint32
	for _, ev := range l.events {
		tr.Add(ev.tick-last, ev.msg)
		last = ev.tick
	}
	tr.Close(0)
	return tr
}

func newFile(tempo float64, name string) (*smf.SMF, error) {
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(TicksPerBeat)
	var conductor smf.Track
	if name != "" {
		conductor.Add(0, smf.MetaTrackSequenceName(name))
	}
	conductor.Add(0, smf.MetaMeter(4, 4))
	conductor.Add(0, smf.MetaTempo(tempo))
	conductor.Close(0)
	if err := s.Add(conductor); err != nil {
		return nil, err
	}
	return s, nil
}

// Phrase converts a phrase to a two-track file: a conductor track with the
// tempo and one note track.
func Phrase(ph *bank.Phrase, name string) (*smf.SMF, error) {
	if err := bank.ValidatePhrase(ph); err != nil {
		return nil, err
	}
	if len(ph.Events) == 0 {
		return nil, ErrEmpty
	}
	s, err := newFile(ph.Tempo, name)
	if err != nil {
		return nil, err
	}
	l := &line{ch: Channel(0)}
	l.add(ph.Events, 0)
	if err := s.Add(l.track(ph.Tone)); err != nil {
		return nil, err
	}
	return s, nil
}

// Song converts a song to one track per song track. The loop window is
// unrolled loops times (at least once) and the part after the window
// follows the last iteration.
func Song(song *bank.Song, loops int, name string) (*smf.SMF, error) {
	if err := bank.ValidateSong(song); err != nil {
		return nil, err
	}
	if len(song.Tracks) == 0 {
		return nil, ErrEmpty
	}
	loops = max(loops, 1)
	s, err := newFile(song.Tempo, name)
	if err != nil {
		return nil, err
	}
	for i, tr := range song.Tracks {
		l := &line{ch: Channel(i)}
		if song.Loop == nil {
			l.add(tr.Events, 0)
		} else {
			loop := *song.Loop
			length := loop.End - loop.Start
			sec := sequencer.SplitLoop(tr.Events, loop)
			l.add(sec.Prologue, 0)
			for it := 0; it < loops; it++ {
				l.add(sec.Window, loop.Start+float64(it)*length)
			}
			l.add(sec.Epilogue, float64(loops-1)*length)
		}
		trackName := tr.ID
		if trackName == "" {
			trackName = tr.Tone
		}
		if err := s.Add(l.track(trackName)); err != nil {
			return nil, fmt.Errorf("track %d: %w", i, err)
		}
	}
	return s, nil
}

// Write encodes s to w.
func Write(w io.Writer, s *smf.SMF) error {
	_, err := s.WriteTo(w)
	return err
}
