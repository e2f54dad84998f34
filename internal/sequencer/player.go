package sequencer

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"

	"github.com/cbegin/chiptone-go/internal/backend"
	"github.com/cbegin/chiptone-go/internal/bank"
)

var (
	ErrNoPhrase  = errors.New("sequencer: nil phrase")
	ErrNoSong    = errors.New("sequencer: nil song")
	ErrBadWindow = errors.New("sequencer: loop end must be after loop start")
)

// Output receives notes when their scheduled actions fire.
type Output interface {
	Play(n Note) error
	StopAll(at float64)
}

// Scheduler queues actions on the control timeline.
type Scheduler interface {
	Schedule(at float64, name string, fn func() error)
}

// EventKind identifies song lifecycle events.
type EventKind int

const (
	EventLoopCompleted EventKind = iota
	EventPlaybackEnded
)

// Progress is reported through Options.OnEvent at the audio time it
// describes, give or take the scheduler lookahead.
type Progress struct {
	Kind      EventKind
	Song      uint64
	Iteration int
	Time      float64
}

type Options struct {
	// Lead is how far ahead of a loop boundary the next iteration is
	// scheduled. Zero means DefaultLead.
	Lead    float64
	OnEvent func(Progress)
	Logger  *slog.Logger
}

// Player turns phrases and songs into scheduled note actions.
type Player struct {
	clock   backend.Clock
	sched   Scheduler
	out     Output
	lead    float64
	onEvent func(Progress)
	log     *slog.Logger

	mu     sync.Mutex
	nextID uint64
}

func New(clock backend.Clock, sched Scheduler, out Output, opts Options) *Player {
	if !(opts.Lead > 0) || math.IsInf(opts.Lead, 0) {
		opts.Lead = DefaultLead
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Player{
		clock:   clock,
		sched:   sched,
		out:     out,
		lead:    opts.Lead,
		onEvent: opts.OnEvent,
		log:     opts.Logger,
	}
}

// PhraseResult describes a scheduled phrase.
type PhraseResult struct {
	Start  float64
	Tempo  float64
	Events int
	// End is the latest note-off. Release tails sound past it.
	End float64
}

func (p *Player) origin(start float64) float64 {
	now := p.clock.CurrentTime()
	if math.IsNaN(start) || math.IsInf(start, 0) || start < now {
		return now
	}
	return start
}

// PlayPhrase schedules every event of ph relative to start (or now, if
// start is in the past).
func (p *Player) PlayPhrase(ph *bank.Phrase, start float64) (PhraseResult, error) {
	if ph == nil {
		return PhraseResult{}, ErrNoPhrase
	}
	origin := p.origin(start)
	end := origin
	for _, n := range ExpandPhrase(ph, origin) {
		p.scheduleNote(nil, n)
		end = math.Max(end, n.Time+n.Duration)
	}
	tempo := ph.Tempo
	if !(tempo > 0) || math.IsInf(tempo, 0) {
		tempo = DefaultTempo
	}
	return PhraseResult{Start: origin, Tempo: tempo, Events: len(ph.Events), End: end}, nil
}

// SongOptions controls song playback.
type SongOptions struct {
	Start float64
	// Loops is the number of loop iterations. Zero loops forever.
	Loops int
}

// Song is a playing song. Stop halts loop scheduling and silences voices.
type Song struct {
	id     uint64
	player *Player

	tempo       float64
	origin      float64
	windowStart float64
	loopSeconds float64
	loops       int
	looping     bool
	window      []Note

	mu        sync.Mutex
	stopped   bool
	scheduled int
}

func (s *Song) ID() uint64     { return s.id }
func (s *Song) Start() float64 { return s.origin }
func (s *Song) Tempo() float64 { return s.tempo }

// Looping reports whether the song has a loop window.
func (s *Song) Looping() bool { return s.looping }

// LoopSeconds is the loop window length in seconds, or zero.
func (s *Song) LoopSeconds() float64 { return s.loopSeconds }

// IterationStart is the absolute start time of loop iteration i.
func (s *Song) IterationStart(i int) float64 {
	return IterationStart(s.windowStart, s.loopSeconds, i)
}

// Iterations is how many loop iterations have been committed so far.
func (s *Song) Iterations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}

func (s *Song) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop halts further scheduling and hard-stops sounding voices. It is
// safe to call more than once.
func (s *Song) Stop() {
	s.mu.Lock()
	already := s.stopped
	s.stopped = true
	s.mu.Unlock()
	if already {
		return
	}
	p := s.player
	p.out.StopAll(p.clock.CurrentTime())
	p.log.Debug("song stopped", "song", s.id)
}

// PlaySong schedules the prologue and epilogue once and the loop window
// iteration by iteration, each committed Lead seconds before it starts.
func (p *Player) PlaySong(song *bank.Song, opts SongOptions) (*Song, error) {
	if song == nil {
		return nil, ErrNoSong
	}
	if song.Loop != nil && !(song.Loop.End > song.Loop.Start) {
		return nil, fmt.Errorf("%w: [%v, %v)", ErrBadWindow, song.Loop.Start, song.Loop.End)
	}
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	tempo := song.Tempo
	if !(tempo > 0) || math.IsInf(tempo, 0) {
		tempo = DefaultTempo
	}
	spb := SecondsPerBeat(tempo)
	s := &Song{
		id:     id,
		player: p,
		tempo:  tempo,
		origin: p.origin(opts.Start),
		loops:  max(opts.Loops, 0),
	}

	if song.Loop == nil {
		end := s.origin
		for i, tr := range song.Tracks {
			for _, n := range Expand(tr.Events, s.tempo, s.origin, trackDefaults(id, i, tr)) {
				p.scheduleNote(s, n)
				end = math.Max(end, n.Time+n.Duration)
			}
		}
		p.scheduleEnd(s, end)
		return s, nil
	}

	loop := *song.Loop
	s.looping = true
	s.windowStart = s.origin + loop.Start*spb
	s.loopSeconds = (loop.End - loop.Start) * spb
	var epilogue []Note
	for i, tr := range song.Tracks {
		d := trackDefaults(id, i, tr)
		sec := SplitLoop(tr.Events, loop)
		for _, n := range Expand(sec.Prologue, s.tempo, s.origin, d) {
			p.scheduleNote(s, n)
		}
		// Window notes keep times relative to the iteration start.
		s.window = append(s.window, Expand(sec.Window, s.tempo, 0, d)...)
		epilogue = append(epilogue, Expand(sec.Epilogue, s.tempo, 0, d)...)
	}

	if s.loops == 0 {
		for _, n := range epilogue {
			n.Time += s.origin
			p.scheduleNote(s, n)
		}
	} else {
		// A finite loop count pushes the epilogue past the last iteration.
		after := s.IterationStart(s.loops) - loop.End*spb
		end := s.IterationStart(s.loops)
		for _, n := range epilogue {
			n.Time += after
			p.scheduleNote(s, n)
			end = math.Max(end, n.Time+n.Duration)
		}
		p.scheduleEnd(s, end)
	}

	p.scheduleIteration(s, 0)
	return s, nil
}

func trackDefaults(song uint64, index int, tr bank.Track) Defaults {
	id := tr.ID
	if id == "" {
		id = strconv.Itoa(index)
	}
	return Defaults{
		Tone:  tr.Tone,
		Bus:   tr.Bus,
		Key:   "song" + strconv.FormatUint(song, 10) + "#" + id,
		Track: id,
	}
}

// scheduleIteration commits iteration i and queues the continuation that
// commits i+1 ahead of its boundary.
func (p *Player) scheduleIteration(s *Song, i int) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.scheduled = i + 1
	s.mu.Unlock()

	base := s.IterationStart(i)
	for _, n := range s.window {
		n.Time += base
		p.scheduleNote(s, n)
	}
	if i > 0 && p.onEvent != nil {
		p.sched.Schedule(base, "loop-boundary", func() error {
			if !s.Stopped() {
				p.onEvent(Progress{Kind: EventLoopCompleted, Song: s.id, Iteration: i - 1, Time: base})
			}
			return nil
		})
	}
	if s.loops > 0 && i+1 >= s.loops {
		return
	}
	next := i + 1
	p.sched.Schedule(s.IterationStart(next)-p.lead, "loop-continue", func() error {
		p.scheduleIteration(s, next)
		return nil
	})
}

func (p *Player) scheduleNote(s *Song, n Note) {
	p.sched.Schedule(n.Time, "note", func() error {
		if s != nil && s.Stopped() {
			return nil
		}
		return p.out.Play(n)
	})
}

func (p *Player) scheduleEnd(s *Song, end float64) {
	if p.onEvent == nil {
		return
	}
	p.sched.Schedule(end, "song-end", func() error {
		if !s.Stopped() {
			p.onEvent(Progress{Kind: EventPlaybackEnded, Song: s.id, Time: end})
		}
		return nil
	})
}
