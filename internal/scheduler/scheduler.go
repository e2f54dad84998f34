// Package scheduler drains time-stamped actions against an audio clock.
// A wall-clock pump fires every action whose time falls within the
// lookahead horizon so automation is committed before it is heard.
package scheduler

import (
	"container/heap"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cbegin/chiptone-go/internal/backend"
)

const (
	DefaultLookahead    = 0.12
	DefaultPumpInterval = 25 * time.Millisecond
)

// Action runs on the control timeline. A returned error is logged and
// does not stop the pump.
type Action func() error

type item struct {
	at   float64
	seq  uint64
	name string
	fn   Action
}

// queue orders items by time, then by insertion order.
type queue []*item

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)   { *q = append(*q, x.(*item)) }
func (q *queue) Pop() any {
	old := *q
	it := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return it
}

// Options configures a Scheduler.
type Options struct {
	Lookahead    float64
	PumpInterval time.Duration
	Logger       *slog.Logger
}

// Scheduler is a lookahead action queue. Schedule and the pump may be
// called from any goroutine; actions run without internal locks held, so
// they may schedule further actions.
type Scheduler struct {
	clock     backend.Clock
	lookahead float64
	interval  time.Duration
	log       *slog.Logger

	mu      sync.Mutex
	q       queue
	seq     uint64
	running bool
	paused  bool
	stop    chan struct{}
	done    chan struct{}

	pumpMu sync.Mutex
}

func New(clock backend.Clock, opts Options) *Scheduler {
	if !(opts.Lookahead > 0) || math.IsInf(opts.Lookahead, 0) {
		opts.Lookahead = DefaultLookahead
	}
	if opts.PumpInterval <= 0 {
		opts.PumpInterval = DefaultPumpInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		clock:     clock,
		lookahead: opts.Lookahead,
		interval:  opts.PumpInterval,
		log:       opts.Logger,
	}
}

func (s *Scheduler) Lookahead() float64 { return s.lookahead }

// Schedule enqueues fn at audio time at. Non-finite times are treated as
// due immediately.
func (s *Scheduler) Schedule(at float64, name string, fn func() error) {
	if fn == nil {
		return
	}
	if math.IsNaN(at) || math.IsInf(at, 0) {
		at = math.Inf(-1)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	heap.Push(&s.q, &item{at: at, seq: s.seq, name: name, fn: fn})
}

// Pending is the number of queued actions.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.q)
}

// Start launches the pump goroutine. Draining resumes from the current
// clock. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.paused = false
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go s.loop(stop, done)
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.PumpOnce()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.PumpOnce()
		}
	}
}

// Stop halts the pump and discards every pending action unexecuted.
func (s *Scheduler) Stop() {
	s.halt()
	s.mu.Lock()
	dropped := len(s.q)
	s.q = nil
	s.paused = false
	s.mu.Unlock()
	if dropped > 0 {
		s.log.Debug("scheduler stopped", "dropped", dropped)
	}
}

// Pause halts the pump but keeps the queue. Resume restarts it.
func (s *Scheduler) Pause() {
	s.halt()
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume restarts a paused pump.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()
	if paused {
		s.Start()
	}
}

func (s *Scheduler) halt() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()
	close(stop)
	<-done
}

// Running reports whether the pump goroutine is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// PumpOnce drains every action due within the lookahead horizon of the
// current clock and returns how many ran. Offline renderers call it
// directly instead of starting the pump.
func (s *Scheduler) PumpOnce() int {
	return s.DrainUntil(s.clock.CurrentTime() + s.lookahead)
}

// DrainUntil runs every action due at or before horizon, including actions
// they enqueue, in time order.
func (s *Scheduler) DrainUntil(horizon float64) int {
	s.pumpMu.Lock()
	defer s.pumpMu.Unlock()
	ran := 0
	for {
		s.mu.Lock()
		if len(s.q) == 0 || s.q[0].at > horizon {
			s.mu.Unlock()
			return ran
		}
		it := heap.Pop(&s.q).(*item)
		s.mu.Unlock()
		s.run(it)
		ran++
	}
}

func (s *Scheduler) run(it *item) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled action panicked", "action", it.name, "at", it.at, "panic", fmt.Sprint(r))
		}
	}()
	if err := it.fn(); err != nil {
		s.log.Warn("scheduled action failed", "action", it.name, "at", it.at, "err", err)
	}
}
