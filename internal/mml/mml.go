// Package mml reads Music Macro Language text into phrases and songs.
//
// Supported commands: notes c d e f g a b with # + - accidentals, n<key>
// for a MIDI key, r rests, l default length, o octave, < and > octave
// shifts, v volume (0-15), q gate (1-8), t tempo, ^ ties, dots, [..|..]n
// loops and ; part separators. // and /* */ comments are ignored.
package mml

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cbegin/chiptone-go/internal/bank"
)

var noteOffsets = map[byte]int{
	'c': 0, 'd': 2, 'e': 4, 'f': 5, 'g': 7, 'a': 9, 'b': 11,
}

var ErrTempoChange = errors.New("mml: tempo changes after the first note are not supported")

type Options struct {
	Tempo  float64
	Octave int
	Length int
	// Volume is the initial v value on the 0-15 scale.
	Volume int
	// Loop makes ToSong loop over the longest part.
	Loop bool
}

func DefaultOptions() Options {
	return Options{Tempo: 120, Octave: 5, Length: 4, Volume: 15}
}

// Part is one ;-separated voice line.
type Part struct {
	Events []bank.Event
	// Beats is the position after the last note or rest.
	Beats float64
	// Tempo is the part's t value, or zero when it sets none.
	Tempo float64
}

type state struct {
	octave int
	length float64
	volume int
	gate   int
	beat   float64
	tempo  float64
	part   Part
}

// Parse splits src into parts and reads each one.
func Parse(src string, opts Options) ([]Part, error) {
	src = stripComments(src)
	var parts []Part
	for i, text := range strings.Split(src, ";") {
		if strings.TrimSpace(text) == "" {
			continue
		}
		expanded, err := expandLoops(text)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		p, err := parsePart(expanded, opts)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// tempoOf picks the tempo shared by every part.
func tempoOf(parts []Part, def float64) (float64, error) {
	tempo := 0.0
	for _, p := range parts {
		if p.Tempo == 0 {
			continue
		}
		if tempo != 0 && tempo != p.Tempo {
			return 0, fmt.Errorf("mml: parts disagree on tempo (%g and %g)", tempo, p.Tempo)
		}
		tempo = p.Tempo
	}
	if tempo == 0 {
		tempo = def
	}
	return tempo, nil
}

// ToPhrase merges every part of src into one phrase played by tone.
func ToPhrase(src, tone string, opts Options) (*bank.Phrase, error) {
	parts, err := Parse(src, opts)
	if err != nil {
		return nil, err
	}
	tempo, err := tempoOf(parts, opts.Tempo)
	if err != nil {
		return nil, err
	}
	ph := &bank.Phrase{Tempo: tempo, Tone: tone}
	for _, p := range parts {
		ph.Events = append(ph.Events, p.Events...)
	}
	return ph, nil
}

// ToSong makes one track per part. Track i plays tones[i % len(tones)].
func ToSong(src string, tones []string, opts Options) (*bank.Song, error) {
	if len(tones) == 0 {
		return nil, errors.New("mml: at least one tone is required")
	}
	parts, err := Parse(src, opts)
	if err != nil {
		return nil, err
	}
	tempo, err := tempoOf(parts, opts.Tempo)
	if err != nil {
		return nil, err
	}
	song := &bank.Song{Tempo: tempo}
	var beats float64
	for i, p := range parts {
		beats = max(beats, p.Beats)
		song.Tracks = append(song.Tracks, bank.Track{
			ID:     "part" + strconv.Itoa(i+1),
			Tone:   tones[i%len(tones)],
			Events: p.Events,
		})
	}
	if opts.Loop && beats > 0 {
		song.Loop = &bank.Loop{End: beats}
	}
	return song, nil
}

func parsePart(s string, opts Options) (Part, error) {
	if opts.Length <= 0 {
		opts.Length = 4
	}
	st := &state{
		octave: opts.Octave,
		length: 4 / float64(opts.Length),
		volume: clampInt(opts.Volume, 0, 15),
		gate:   8,
	}
	i := 0
	for i < len(s) {
		ch := lower(s[i])
		var err error
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '|':
			i++
		case noteOffsets[ch] != 0 || ch == 'c':
			i, err = st.note(s, i)
		case ch == 'n':
			i, err = st.noteNumber(s, i)
		case ch == 'r':
			var dur float64
			dur, i, err = st.lengthWithTie(s, i+1)
			st.beat += dur
		case ch == 'l':
			i, err = st.setLength(s, i+1)
		case ch == 'o':
			var v int
			v, i, err = number(s, i+1, st.octave)
			st.octave = clampInt(v, 0, 9)
		case ch == '<':
			st.octave = clampInt(st.octave-1, 0, 9)
			i++
		case ch == '>':
			st.octave = clampInt(st.octave+1, 0, 9)
			i++
		case ch == 'v':
			var v int
			v, i, err = number(s, i+1, st.volume)
			st.volume = clampInt(v, 0, 15)
		case ch == 'q':
			var v int
			v, i, err = number(s, i+1, 8)
			st.gate = clampInt(v, 1, 8)
		case ch == 't':
			var v int
			v, i, err = number(s, i+1, 0)
			if err == nil {
				err = st.setTempo(float64(v))
			}
		default:
			return Part{}, fmt.Errorf("mml: unexpected %q at %d", s[i], i)
		}
		if err != nil {
			return Part{}, err
		}
	}
	st.part.Beats = st.beat
	st.part.Tempo = st.tempo
	return st.part, nil
}

func (st *state) setTempo(bpm float64) error {
	if bpm <= 0 {
		return errors.New("mml: tempo must be positive")
	}
	if st.beat > 0 && bpm != st.tempo {
		return ErrTempoChange
	}
	st.tempo = bpm
	return nil
}

func (st *state) setLength(s string, at int) (int, error) {
	v, i, err := number(s, at, -1)
	if err != nil {
		return at, err
	}
	if v <= 0 {
		return at, fmt.Errorf("mml: l needs a positive length at %d", at)
	}
	base := 4 / float64(v)
	dur, i := dots(s, i, base)
	st.length = dur
	return i, nil
}

func (st *state) note(s string, at int) (int, error) {
	base := noteOffsets[lower(s[at])]
	i, shift := at+1, 0
	for i < len(s) {
		switch s[i] {
		case '#', '+':
			shift++
		case '-':
			shift--
		default:
			return st.emit(s, i, st.octave*12+base+shift)
		}
		i++
	}
	return st.emit(s, i, st.octave*12+base+shift)
}

func (st *state) noteNumber(s string, at int) (int, error) {
	key, i, err := number(s, at+1, -1)
	if err != nil {
		return at, err
	}
	if key < 0 {
		return at, fmt.Errorf("mml: n needs a key number at %d", at)
	}
	if i < len(s) && s[i] == ',' {
		i++
	}
	return st.emit(s, i, key)
}

func (st *state) emit(s string, at, key int) (int, error) {
	dur, i, err := st.lengthWithTie(s, at)
	if err != nil {
		return at, err
	}
	n := float64(clampInt(key, 0, 127))
	st.part.Events = append(st.part.Events, bank.Event{
		Beat: st.beat,
		N:    &n,
		Dur:  dur * float64(st.gate) / 8,
		Vel:  float64(st.volume) / 15,
	})
	st.beat += dur
	return i, nil
}

func (st *state) lengthWithTie(s string, at int) (float64, int, error) {
	dur, i, err := st.lengthToken(s, at)
	if err != nil {
		return 0, at, err
	}
	for i < len(s) && s[i] == '^' {
		extra, next, err := st.lengthToken(s, i+1)
		if err != nil {
			return 0, at, err
		}
		dur += extra
		i = next
	}
	return dur, i, nil
}

// lengthToken reads an optional note value and dots, in beats.
func (st *state) lengthToken(s string, at int) (float64, int, error) {
	v, i, err := number(s, at, -1)
	if err != nil {
		return 0, at, err
	}
	base := st.length
	if v == 0 {
		return 0, at, fmt.Errorf("mml: zero length at %d", at)
	}
	if v > 0 {
		base = 4 / float64(v)
	}
	dur, i := dots(s, i, base)
	return dur, i, nil
}

func dots(s string, i int, base float64) (float64, int) {
	dur, term := base, base
	for i < len(s) && s[i] == '.' {
		term /= 2
		dur += term
		i++
	}
	return dur, i
}

// number reads an optional unsigned integer, returning def when absent.
func number(s string, at, def int) (int, int, error) {
	i := at
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == at {
		return def, i, nil
	}
	n, err := strconv.Atoi(s[at:i])
	if err != nil {
		return 0, at, err
	}
	return n, i, nil
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + 'a' - 'A'
	}
	return b
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func stripComments(src string) string {
	var out strings.Builder
	out.Grow(len(src))
	for i := 0; i < len(src); i++ {
		if strings.HasPrefix(src[i:], "/*") {
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				break
			}
			i += end + 3
			continue
		}
		if strings.HasPrefix(src[i:], "//") {
			for i < len(src) && src[i] != '\n' {
				i++
			}
			out.WriteByte('\n')
			continue
		}
		out.WriteByte(src[i])
	}
	return out.String()
}

// expandLoops unrolls [body|tail]n blocks. The tail after | is skipped on
// the last pass.
func expandLoops(src string) (string, error) {
	var out strings.Builder
	for at := 0; at < len(src); {
		switch src[at] {
		case ']':
			return "", fmt.Errorf("mml: unmatched ']' at %d", at)
		case '[':
			body, next, err := loopBody(src, at+1)
			if err != nil {
				return "", err
			}
			out.WriteString(body)
			at = next
		default:
			out.WriteByte(src[at])
			at++
		}
	}
	return out.String(), nil
}

func loopBody(src string, at int) (string, int, error) {
	var pre, post strings.Builder
	cur := &pre
	for at < len(src) {
		switch ch := src[at]; {
		case ch == '[':
			body, next, err := loopBody(src, at+1)
			if err != nil {
				return "", at, err
			}
			cur.WriteString(body)
			at = next
		case ch == '|':
			cur = &post
			at++
		case ch == ']':
			repeat, next, err := number(src, at+1, 2)
			if err != nil {
				return "", at, err
			}
			repeat = max(repeat, 1)
			var out strings.Builder
			for i := 0; i < repeat; i++ {
				out.WriteString(pre.String())
				if i < repeat-1 {
					out.WriteString(post.String())
				}
			}
			return out.String(), next, nil
		default:
			cur.WriteByte(ch)
			at++
		}
	}
	return "", at, errors.New("mml: unclosed '['")
}
