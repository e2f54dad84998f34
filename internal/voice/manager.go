package voice

import (
	"log/slog"
	"math"
	"sync"

	"github.com/cbegin/chiptone-go/internal/backend"
	"github.com/cbegin/chiptone-go/internal/bank"
	"github.com/cbegin/chiptone-go/internal/wave"
)

// Scheduler runs actions on the control timeline. Actions fire up to
// Lookahead seconds before their time.
type Scheduler interface {
	Schedule(at float64, name string, fn func() error)
	Lookahead() float64
}

// Manager owns every live voice and the mono slots.
type Manager struct {
	ctx   backend.Context
	waves *wave.Factory
	sched Scheduler
	log   *slog.Logger

	mu     sync.Mutex
	nextID uint64
	active map[uint64]*Voice
	mono   map[string]*Voice
}

func NewManager(ctx backend.Context, waves *wave.Factory, sched Scheduler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ctx:    ctx,
		waves:  waves,
		sched:  sched,
		log:    logger,
		active: map[uint64]*Voice{},
		mono:   map[string]*Voice{},
	}
}

// Trigger builds and schedules a voice. A start in the past is moved to
// the current clock. For mono tones the previous occupant of the key is
// faded out before the new onset.
func (m *Manager) Trigger(tr Trigger) (Info, error) {
	now := m.ctx.CurrentTime()
	if !finite(tr.Start) || tr.Start < now {
		tr.Start = now
	}
	mono := tr.Key != "" && tr.Tone.Mono != "" && tr.Tone.Mono != bank.Poly
	if !mono {
		tr.Key = ""
	}

	v, err := build(m.ctx, m, tr, now)
	if err != nil {
		return Info{}, err
	}

	m.mu.Lock()
	m.nextID++
	v.id = m.nextID
	m.active[v.id] = v
	var prev *Voice
	if mono {
		prev = m.mono[tr.Key]
		m.mono[tr.Key] = v
	}
	if prev != nil && !prev.released {
		m.steal(prev, now, tr.Start, SanitizeMonoCut(tr.Tone.MonoCut), tr.Tone.Mono == bank.SoftMono)
	}
	info := v.Info()
	m.mu.Unlock()

	// A later steal of v schedules its own, earlier cleanup.
	m.scheduleCleanup(v, info.End)
	return info, nil
}

// steal fades prev out. Mono tones finish the fade at the new onset;
// softMono tones start it there and overlap briefly. Called with mu held.
func (m *Manager) steal(prev *Voice, now, onset, cut float64, overlap bool) {
	from := onset - cut
	if overlap {
		from = onset
	}
	from = math.Max(from, now)
	if prev.end <= from {
		return
	}
	prev.fade(from, cut)
	m.log.Debug("voice stolen", "key", prev.key, "id", prev.id, "fade", from, "until", prev.end)
	m.scheduleCleanup(prev, prev.end)
}

func (m *Manager) scheduleCleanup(v *Voice, end float64) {
	m.sched.Schedule(end+m.sched.Lookahead(), "voice-cleanup", func() error {
		m.finish(v)
		return nil
	})
}

// finish deregisters v and tears down its nodes exactly once. A mono slot
// is cleared only if v still occupies it.
func (m *Manager) finish(v *Voice) {
	m.mu.Lock()
	if m.active[v.id] == v {
		delete(m.active, v.id)
	}
	if v.key != "" && m.mono[v.key] == v {
		delete(m.mono, v.key)
	}
	if v.released {
		m.mu.Unlock()
		return
	}
	v.released = true
	m.mu.Unlock()

	v.disconnect()
	if v.onDone != nil {
		v.onDone()
	}
}

// StopAll fades every tracked voice out from at (or now, if earlier) and
// clears all mono slots. Teardown follows as scheduled actions.
func (m *Manager) StopAll(at float64) {
	now := m.ctx.CurrentTime()
	if !finite(at) || at < now {
		at = now
	}
	voices, ends := m.drain(at, StopTail)
	for i, v := range voices {
		m.scheduleCleanup(v, ends[i])
	}
	if len(voices) > 0 {
		m.log.Debug("voices stopped", "count", len(voices), "at", at)
	}
}

// Reset silences and disconnects every voice immediately. It is used when
// the scheduler cannot be relied on to run teardown actions.
func (m *Manager) Reset() {
	voices, _ := m.drain(m.ctx.CurrentTime(), 0)
	for _, v := range voices {
		m.finish(v)
	}
}

// drain unregisters every voice, fades each out from at over cut and
// returns them with their new end times.
func (m *Manager) drain(at, cut float64) ([]*Voice, []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	voices := make([]*Voice, 0, len(m.active))
	ends := make([]float64, 0, len(m.active))
	for _, v := range m.active {
		v.fade(at, cut)
		voices = append(voices, v)
		ends = append(ends, v.end)
	}
	m.active = map[uint64]*Voice{}
	clear(m.mono)
	return voices, ends
}

// Active is the number of registered voices.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// MonoOwner reports the voice occupying a mono key.
func (m *Manager) MonoOwner(key string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.mono[key]
	if !ok {
		return Info{}, false
	}
	return v.Info(), true
}
