// Package chiptone is a retro tone and phrase synthesis engine. Tones,
// phrases and songs are declared as JSON banks; the engine turns them into
// scheduled voices on a software audio graph and streams the result to the
// sound card or renders it offline.
package chiptone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/cbegin/chiptone-go/internal/audio"
	"github.com/cbegin/chiptone-go/internal/backend"
	"github.com/cbegin/chiptone-go/internal/bank"
	"github.com/cbegin/chiptone-go/internal/fx"
	"github.com/cbegin/chiptone-go/internal/scheduler"
	"github.com/cbegin/chiptone-go/internal/sequencer"
	"github.com/cbegin/chiptone-go/internal/softsynth"
	"github.com/cbegin/chiptone-go/internal/voice"
	"github.com/cbegin/chiptone-go/internal/wave"
)

var (
	// ErrLocked is returned by audio-producing calls before Unlock.
	ErrLocked = errors.New("chiptone: engine locked until Unlock")
	ErrClosed = errors.New("chiptone: engine closed")
	// ErrRealtime is returned by Render when a sound card driver owns the
	// audio graph.
	ErrRealtime = errors.New("chiptone: offline rendering needs the none driver")
)

// EventKind identifies playback events sent to Watch channels.
type EventKind = sequencer.EventKind

const (
	EventLoopCompleted = sequencer.EventLoopCompleted
	EventPlaybackEnded = sequencer.EventPlaybackEnded
)

// PlaybackEvent carries song progress from Watch().
type PlaybackEvent struct {
	Kind      EventKind
	Song      uint64
	Iteration int
	Time      float64
}

// Engine owns one audio graph and everything scheduled on it.
type Engine struct {
	cfg    engineConfig
	log    *slog.Logger
	ctx    *softsynth.Context
	master backend.Gain
	waves  *wave.Factory
	sched  *scheduler.Scheduler
	voices *voice.Manager
	buses  *fx.Registry
	player *sequencer.Player

	mu           sync.Mutex
	out          audio.Output
	armed        bool
	closed       bool
	backgrounded bool
	masterGain   float64
	tones        *bank.ToneBank
	waveBank     *bank.WaveBank
	tables       map[string]*backend.PeriodicWave
	songs        map[uint64]*SongHandle

	eventChMu sync.Mutex
	eventCh   chan PlaybackEvent
}

func NewEngine(opts ...Option) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sampleRate <= 0 {
		return nil, errors.New("chiptone: sample rate must be positive")
	}
	switch strings.ToLower(cfg.driver) {
	case DriverEbiten, DriverOto, DriverNone:
	default:
		return nil, fmt.Errorf("chiptone: unknown driver %q", cfg.driver)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx := softsynth.New(cfg.sampleRate)
	e := &Engine{
		cfg:        cfg,
		log:        logger,
		ctx:        ctx,
		masterGain: clampGain(cfg.masterGain),
		tones:      &bank.ToneBank{Tones: map[string]bank.Tone{}},
		tables:     map[string]*backend.PeriodicWave{},
		songs:      map[uint64]*SongHandle{},
	}
	e.master = ctx.NewGain()
	e.master.Gain().SetValueAtTime(e.masterGain, 0)
	e.master.Connect(ctx.Destination())

	e.waves = wave.NewFactory(float64(cfg.sampleRate), cfg.noiseSeed)
	e.sched = scheduler.New(ctx, scheduler.Options{
		Lookahead:    cfg.lookahead,
		PumpInterval: cfg.pumpInterval,
		Logger:       logger,
	})
	e.voices = voice.NewManager(ctx, e.waves, e.sched, logger)
	e.buses = fx.NewRegistry(ctx, e.waves, e.master, cfg.routing, logger)
	e.player = sequencer.New(ctx, e.sched, noteOutput{e}, sequencer.Options{
		Lead:    cfg.songLead,
		OnEvent: e.onSongEvent,
		Logger:  logger,
	})
	return e, nil
}

func (e *Engine) realtime() bool {
	return !strings.EqualFold(e.cfg.driver, DriverNone)
}

func (e *Engine) SampleRate() int { return e.cfg.sampleRate }

// CurrentTime is the engine clock in seconds.
func (e *Engine) CurrentTime() float64 { return e.ctx.CurrentTime() }

// Lookahead is the scheduler horizon in seconds.
func (e *Engine) Lookahead() float64 { return e.sched.Lookahead() }

// Unlock arms the engine: it opens the audio output on first use, resumes
// the graph and starts the scheduler pump. Call it from a user gesture.
func (e *Engine) Unlock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.out == nil {
		out, err := audio.Open(audio.Options{
			Driver:     e.cfg.driver,
			SampleRate: e.cfg.sampleRate,
			BufferSize: e.cfg.latency.BufferSize(),
		}, e)
		if err != nil {
			return fmt.Errorf("open audio output: %w", err)
		}
		e.out = out
	}
	if !e.backgrounded {
		if err := e.ctx.Resume(); err != nil {
			return err
		}
		e.out.Play()
		if e.realtime() {
			e.sched.Start()
		}
	}
	if !e.armed {
		e.armed = true
		e.log.Info("engine unlocked", "driver", e.cfg.driver, "sampleRate", e.cfg.sampleRate)
	}
	return nil
}

// Armed reports whether Unlock has succeeded.
func (e *Engine) Armed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.armed
}

// Suspend pauses the output and the scheduler. Pending actions are kept
// and Unlock resumes them.
func (e *Engine) Suspend() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	out := e.out
	e.mu.Unlock()

	// Pause waits for a running pump action, which may need e.mu.
	e.sched.Pause()
	if out != nil {
		out.Pause()
	}
	return e.ctx.Suspend()
}

func (e *Engine) ready() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if !e.armed {
		return ErrLocked
	}
	return nil
}

func clampGain(g float64) float64 {
	if math.IsNaN(g) || math.IsInf(g, 0) || g < 0 {
		return 0
	}
	return math.Min(g, 4)
}

// SetMasterGain ramps the master output to a linear gain.
func (e *Engine) SetMasterGain(gain float64) {
	gain = clampGain(gain)
	e.mu.Lock()
	e.masterGain = gain
	e.mu.Unlock()
	now := e.ctx.CurrentTime()
	p := e.master.Gain()
	p.CancelAndHoldAtTime(now)
	p.LinearRampToValueAtTime(gain, now+fx.GainRamp)
}

// SetMasterDb sets the master gain in decibels.
func (e *Engine) SetMasterDb(db float64) {
	e.SetMasterGain(math.Pow(10, db/20))
}

func (e *Engine) MasterGain() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.masterGain
}

// CreateBus builds a named bus with the given gain and pan, taking filter
// and effect settings from the tone bank when it declares the key. An
// existing bus is left as it was built.
func (e *Engine) CreateBus(key string, gain, pan float64) error {
	if key == "" {
		return fmt.Errorf("%w: empty bus key", ErrInvalid)
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	cfg := e.tones.Buses[key]
	e.mu.Unlock()
	cfg.Gain = gain
	cfg.Pan = pan
	_, err := e.buses.Ensure(key, cfg, nil)
	return err
}

// SetBusGain ramps a bus to a linear gain, building a declared bus first
// if no note has used it yet.
func (e *Engine) SetBusGain(key string, gain float64) error {
	if _, ok := e.buses.Get(key); !ok {
		e.mu.Lock()
		cfg, declared := e.tones.Buses[key]
		e.mu.Unlock()
		if !declared {
			return fmt.Errorf("%w %q", ErrUnknownBus, key)
		}
		if _, err := e.buses.Ensure(key, cfg, nil); err != nil {
			return err
		}
	}
	return e.buses.SetGain(key, gain)
}

// Buses lists the buses built so far.
func (e *Engine) Buses() []string { return e.buses.Keys() }

// LoadBanks validates and installs banks. A nil bank keeps the one already
// loaded; tones are checked against the wave bank they will play with.
// Nothing is installed unless every check passes.
func (e *Engine) LoadBanks(tb *ToneBank, wb *WaveBank) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	tones, waves := e.tones, e.waveBank
	e.mu.Unlock()
	if tb != nil {
		tones = tb
	}
	if wb != nil {
		waves = wb
	}
	if err := bank.Validate(tones, waves); err != nil {
		return err
	}

	var tables map[string]*backend.PeriodicWave
	if wb != nil {
		var err error
		if tables, err = e.resolveWaves(wb); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if tb != nil {
		e.tones = tb
	}
	if wb != nil {
		e.waveBank = wb
		e.tables = tables
	}
	e.log.Debug("banks loaded", "tones", len(e.tones.Tones), "buses", len(e.tones.Buses), "waves", len(e.tables))
	return nil
}

func (e *Engine) resolveWaves(wb *WaveBank) (map[string]*backend.PeriodicWave, error) {
	e.waves.ForgetWaves()
	tables := make(map[string]*backend.PeriodicWave, len(wb.Waves))
	for id, w := range wb.Waves {
		var (
			pw  *backend.PeriodicWave
			err error
		)
		if w.Samples != "" {
			pw, err = e.waves.FromSamples(w.Samples)
		} else {
			pw, err = e.waves.Harmonics(id, w.Real, w.Imag)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: waves.%s: %w", ErrInvalid, id, err)
		}
		tables[id] = pw
	}
	return tables, nil
}

// LoadBanksJSON decodes and installs banks. Empty input keeps the loaded
// bank.
func (e *Engine) LoadBanksJSON(toneJSON, waveJSON []byte) error {
	var (
		tb  *bank.ToneBank
		wb  *bank.WaveBank
		err error
	)
	if len(waveJSON) > 0 {
		if wb, err = bank.DecodeWaveBank(waveJSON); err != nil {
			return err
		}
	}
	if len(toneJSON) > 0 {
		against := wb
		if against == nil {
			e.mu.Lock()
			against = e.waveBank
			e.mu.Unlock()
		}
		if tb, err = bank.DecodeToneBank(toneJSON, against); err != nil {
			return err
		}
	}
	return e.LoadBanks(tb, wb)
}

// ToneBank returns the installed tone bank. Callers must not modify it.
func (e *Engine) ToneBank() *ToneBank {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tones
}

// WaveBank returns the installed wave bank, or nil.
func (e *Engine) WaveBank() *WaveBank {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waveBank
}

// NoteParams describes one manually triggered note.
type NoteParams struct {
	Tone string
	// N is a MIDI note number; Freq, when positive, takes precedence.
	N    *float64
	Freq float64
	// Dur is the time to note-off in seconds. Zero uses the default.
	Dur float64
	// Vel is the velocity in [0, 1]. Zero means full velocity.
	Vel float64
	// At is an absolute engine time. Zero or a past time means now.
	At  float64
	Bus string
	Pan *float64
	FX  *NoteFX
}

// PlayNote triggers one voice and returns its timing.
func (e *Engine) PlayNote(p NoteParams) (VoiceInfo, error) {
	if err := e.ready(); err != nil {
		return VoiceInfo{}, err
	}
	freq := voice.DefaultFreq
	switch {
	case p.Freq > 0:
		freq = p.Freq
	case p.N != nil:
		freq = voice.MidiToFreq(*p.N)
	}
	vel := p.Vel
	if vel == 0 {
		vel = voice.DefaultVelocity
	}
	return e.trigger(sequencer.Note{
		Time:     p.At,
		Duration: p.Dur,
		Freq:     freq,
		Velocity: vel,
		Tone:     p.Tone,
		Bus:      p.Bus,
		Pan:      p.Pan,
		FX:       p.FX,
	})
}

// trigger resolves the tone, wave and route of n and starts a voice. The
// mono key defaults to the tone id.
func (e *Engine) trigger(n sequencer.Note) (VoiceInfo, error) {
	e.mu.Lock()
	tb, tables := e.tones, e.tables
	e.mu.Unlock()

	t, ok := tb.Tones[n.Tone]
	if !ok {
		return VoiceInfo{}, fmt.Errorf("%w %q", ErrUnknownTone, n.Tone)
	}
	var w *backend.PeriodicWave
	if t.Osc.Type == bank.OscWave {
		w = tables[t.Osc.Wave]
	}
	out, onDone, err := e.route(n.Tone, t, n.Bus, tb)
	if err != nil {
		return VoiceInfo{}, err
	}
	key := n.Key
	if key == "" {
		key = n.Tone
	}
	info, err := e.voices.Trigger(voice.Trigger{
		Key:      key,
		Tone:     t,
		Wave:     w,
		Freq:     n.Freq,
		Start:    n.Time,
		Duration: n.Duration,
		Velocity: n.Velocity,
		Pan:      n.Pan,
		FX:       n.FX,
		Out:      out,
		OnDone:   onDone,
	})
	if err != nil {
		if onDone != nil {
			onDone()
		}
		return VoiceInfo{}, err
	}
	return info, nil
}

// route picks the node a voice feeds: the tone's effect chain if it has
// one, then the named bus, then the master.
func (e *Engine) route(toneID string, t bank.Tone, busID string, tb *bank.ToneBank) (backend.Node, func(), error) {
	if busID == "" {
		busID = t.Bus
	}
	var dest backend.Node
	if busID != "" {
		b, ok := e.buses.Get(busID)
		if !ok {
			cfg, declared := tb.Buses[busID]
			if !declared {
				return nil, nil, fmt.Errorf("%w %q", ErrUnknownBus, busID)
			}
			var err error
			if b, err = e.buses.Ensure(busID, cfg, nil); err != nil {
				return nil, nil, err
			}
		}
		dest = b.Input()
	}
	if t.FX == nil || t.FX.Empty() {
		if dest == nil {
			dest = e.master
		}
		return dest, nil, nil
	}

	cfg := bank.Bus{Gain: 1, FX: *t.FX}
	key := fx.ToneKey(toneID)
	if busID != "" {
		key += "@" + busID
	}
	if e.buses.Routing() == fx.RoutingPerNote {
		b, err := e.buses.Private(key, cfg, dest)
		if err != nil {
			return nil, nil, err
		}
		return b.Input(), b.Close, nil
	}
	b, err := e.buses.Ensure(key, cfg, dest)
	if err != nil {
		return nil, nil, err
	}
	return b.Input(), nil, nil
}

// checkRefs reports the first unknown tone or bus an event list names.
func (e *Engine) checkRefs(events []bank.Event, tone, bus string) error {
	e.mu.Lock()
	tb := e.tones
	e.mu.Unlock()
	for i, ev := range events {
		id := tone
		if ev.Tone != "" {
			id = ev.Tone
		}
		if _, ok := tb.Tones[id]; !ok {
			return fmt.Errorf("event %d: %w %q", i, ErrUnknownTone, id)
		}
		b := bus
		if ev.Bus != "" {
			b = ev.Bus
		}
		if b == "" {
			continue
		}
		if _, ok := tb.Buses[b]; ok {
			continue
		}
		if _, ok := e.buses.Get(b); !ok {
			return fmt.Errorf("event %d: %w %q", i, ErrUnknownBus, b)
		}
	}
	return nil
}

// PhraseOptions controls PlayPhrase.
type PhraseOptions struct {
	// At is an absolute engine time. Zero or a past time means now.
	At float64
}

// PhraseResult describes a scheduled phrase.
type PhraseResult = sequencer.PhraseResult

// PlayPhrase validates ph and schedules all of its events.
func (e *Engine) PlayPhrase(ph *Phrase, opts PhraseOptions) (PhraseResult, error) {
	if err := e.ready(); err != nil {
		return PhraseResult{}, err
	}
	if err := bank.ValidatePhrase(ph); err != nil {
		return PhraseResult{}, err
	}
	if err := e.checkRefs(ph.Events, ph.Tone, ph.Bus); err != nil {
		return PhraseResult{}, err
	}
	return e.player.PlayPhrase(ph, opts.At)
}

// SongOptions controls PlaySong.
type SongOptions struct {
	At float64
	// Loops is the number of loop window iterations. Zero loops until
	// stopped.
	Loops int
}

// SongHandle controls a playing song.
type SongHandle struct {
	song   *sequencer.Song
	engine *Engine
}

func (h *SongHandle) ID() uint64     { return h.song.ID() }
func (h *SongHandle) Start() float64 { return h.song.Start() }
func (h *SongHandle) Tempo() float64 { return h.song.Tempo() }

// LoopSeconds is the loop window length, or zero without a loop.
func (h *SongHandle) LoopSeconds() float64 { return h.song.LoopSeconds() }

// IterationStart is the engine time at which loop iteration i begins.
func (h *SongHandle) IterationStart(i int) float64 { return h.song.IterationStart(i) }

func (h *SongHandle) Stopped() bool { return h.song.Stopped() }

// Stop halts loop scheduling and hard-stops every sounding voice.
func (h *SongHandle) Stop() {
	h.song.Stop()
	h.engine.forgetSong(h.song.ID())
}

// PlaySong validates song and starts it.
func (e *Engine) PlaySong(song *Song, opts SongOptions) (*SongHandle, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := bank.ValidateSong(song); err != nil {
		return nil, err
	}
	for i, tr := range song.Tracks {
		if err := e.checkRefs(tr.Events, tr.Tone, tr.Bus); err != nil {
			return nil, fmt.Errorf("track %d: %w", i, err)
		}
	}
	s, err := e.player.PlaySong(song, sequencer.SongOptions{Start: opts.At, Loops: opts.Loops})
	if err != nil {
		return nil, err
	}
	h := &SongHandle{song: s, engine: e}
	e.mu.Lock()
	e.songs[s.ID()] = h
	e.mu.Unlock()
	return h, nil
}

func (e *Engine) forgetSong(id uint64) {
	e.mu.Lock()
	delete(e.songs, id)
	e.mu.Unlock()
}

func (e *Engine) takeSongs() []*SongHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	songs := make([]*SongHandle, 0, len(e.songs))
	for _, h := range e.songs {
		songs = append(songs, h)
	}
	clear(e.songs)
	return songs
}

// StopAllVoices stops every song and fades every voice out from at (or
// now) and clears all mono slots.
func (e *Engine) StopAllVoices(at float64) {
	e.voices.StopAll(at)
	for _, h := range e.takeSongs() {
		h.song.Stop()
	}
}

// ActiveVoices is the number of voices not yet torn down.
func (e *Engine) ActiveVoices() int { return e.voices.Active() }

// SetBackgrounded suspends everything while the host is hidden: songs
// stop, voices are cut, and the pump and output pause until the engine
// returns to the foreground.
func (e *Engine) SetBackgrounded(bg bool) {
	e.mu.Lock()
	if e.closed || e.backgrounded == bg {
		e.mu.Unlock()
		return
	}
	e.backgrounded = bg
	armed, out := e.armed, e.out
	e.mu.Unlock()

	if bg {
		for _, h := range e.takeSongs() {
			h.song.Stop()
		}
		e.sched.Pause()
		e.voices.Reset()
		if out != nil {
			out.Pause()
		}
		_ = e.ctx.Suspend()
		e.log.Debug("engine backgrounded")
		return
	}
	if !armed {
		return
	}
	if err := e.ctx.Resume(); err != nil {
		e.log.Warn("resume after background failed", "err", err)
		return
	}
	if out != nil {
		out.Play()
	}
	if e.realtime() {
		e.sched.Resume()
	}
	e.log.Debug("engine foregrounded")
}

// Watch returns a channel that receives song events:
//   - EventLoopCompleted: a loop iteration finished
//   - EventPlaybackEnded: a song with a finite length finished
//
// The channel is buffered (cap 8) and events are dropped when it is full.
// Only the most recent Watch() channel receives events.
func (e *Engine) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 8)
	e.eventChMu.Lock()
	e.eventCh = ch
	e.eventChMu.Unlock()
	return ch
}

func (e *Engine) onSongEvent(p sequencer.Progress) {
	if p.Kind == sequencer.EventPlaybackEnded {
		e.forgetSong(p.Song)
	}
	e.eventChMu.Lock()
	ch := e.eventCh
	e.eventChMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- PlaybackEvent{Kind: p.Kind, Song: p.Song, Iteration: p.Iteration, Time: p.Time}:
	default:
	}
}

// Close stops everything and releases the audio output.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	out := e.out
	e.mu.Unlock()

	for _, h := range e.takeSongs() {
		h.song.Stop()
	}
	e.sched.Stop()
	e.voices.Reset()
	e.buses.Close()
	var err error
	if out != nil {
		err = out.Close()
	}
	if cerr := e.ctx.Close(); err == nil {
		err = cerr
	}
	return err
}

// Process renders the next frames of the graph. It is the sample source
// handed to the audio output.
func (e *Engine) Process(dst []float32) {
	e.ctx.Process(dst)
	if e.cfg.sampleTap != nil {
		e.cfg.sampleTap(dst)
	}
}

// noteOutput feeds sequencer notes into the engine.
type noteOutput struct{ e *Engine }

func (o noteOutput) Play(n sequencer.Note) error {
	_, err := o.e.trigger(n)
	return err
}

func (o noteOutput) StopAll(at float64) { o.e.voices.StopAll(at) }
