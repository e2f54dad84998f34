package fx

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/cbegin/chiptone-go/internal/backend"
	"github.com/cbegin/chiptone-go/internal/bank"
	"github.com/cbegin/chiptone-go/internal/wave"
)

// Routing decides whether tone effect chains are shared per tone or built
// for every note.
type Routing int

const (
	// RoutingShared builds one chain per key and routes every note to it.
	RoutingShared Routing = iota
	// RoutingPerNote gives each note with tone effects a private chain that
	// is torn down with the voice.
	RoutingPerNote
)

func (r Routing) String() string {
	if r == RoutingPerNote {
		return "per-note"
	}
	return "shared"
}

// ParseRouting accepts "shared" and "per-note".
func ParseRouting(s string) (Routing, error) {
	switch strings.ToLower(s) {
	case "", "shared":
		return RoutingShared, nil
	case "per-note", "pernote", "note":
		return RoutingPerNote, nil
	}
	return RoutingShared, fmt.Errorf("fx: unknown routing %q", s)
}

// ToneKey is the bus key used for a tone's own effect block.
func ToneKey(toneID string) string { return "tone:" + toneID }

// Registry owns the buses of one engine.
type Registry struct {
	ctx     backend.Context
	waves   *wave.Factory
	master  backend.Node
	routing Routing
	log     *slog.Logger

	mu    sync.Mutex
	buses map[string]*Bus
}

func NewRegistry(ctx backend.Context, waves *wave.Factory, master backend.Node, routing Routing, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		ctx:     ctx,
		waves:   waves,
		master:  master,
		routing: routing,
		log:     logger,
		buses:   map[string]*Bus{},
	}
}

func (r *Registry) Routing() Routing { return r.routing }

// Ensure returns the bus for key, building it from cfg on first use and
// feeding it into out (the master when nil). Later calls ignore cfg and
// out: the first construction wins for the bus's lifetime.
func (r *Registry) Ensure(key string, cfg bank.Bus, out backend.Node) (*Bus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.buses[key]; ok {
		return b, nil
	}
	b, err := build(r.ctx, r.waves, key, cfg, r.dest(out), r.ctx.CurrentTime())
	if err != nil {
		return nil, err
	}
	r.buses[key] = b
	r.log.Debug("bus created", "key", key, "stages", strings.Join(b.Stages(), ">"))
	return b, nil
}

// Private builds an unregistered chain. The caller owns it and must Close
// it when the voice using it ends.
func (r *Registry) Private(key string, cfg bank.Bus, out backend.Node) (*Bus, error) {
	return build(r.ctx, r.waves, key, cfg, r.dest(out), r.ctx.CurrentTime())
}

func (r *Registry) dest(out backend.Node) backend.Node {
	if out == nil {
		return r.master
	}
	return out
}

// Get returns an existing bus.
func (r *Registry) Get(key string) (*Bus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buses[key]
	return b, ok
}

// SetGain ramps an existing bus to gain g.
func (r *Registry) SetGain(key string, g float64) error {
	b, ok := r.Get(key)
	if !ok {
		return fmt.Errorf("%w %q", bank.ErrUnknownBus, key)
	}
	b.SetGain(g, r.ctx.CurrentTime())
	return nil
}

// Keys lists the built buses in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.buses))
	for k := range r.buses {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close disconnects and forgets every bus.
func (r *Registry) Close() {
	r.mu.Lock()
	buses := r.buses
	r.buses = map[string]*Bus{}
	r.mu.Unlock()
	for _, b := range buses {
		b.Close()
	}
}
