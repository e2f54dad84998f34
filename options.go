package chiptone

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cbegin/chiptone-go/internal/audio"
	"github.com/cbegin/chiptone-go/internal/fx"
	"github.com/cbegin/chiptone-go/internal/scheduler"
	"github.com/cbegin/chiptone-go/internal/sequencer"
)

// LatencyHint trades output latency for resilience to scheduling jitter.
type LatencyHint string

const (
	LatencyInteractive LatencyHint = "interactive"
	LatencyBalanced    LatencyHint = "balanced"
	LatencyPlayback    LatencyHint = "playback"
)

// BufferSize is the driver buffer length the hint asks for.
func (h LatencyHint) BufferSize() time.Duration {
	switch h {
	case LatencyBalanced:
		return 50 * time.Millisecond
	case LatencyPlayback:
		return 150 * time.Millisecond
	default:
		return 20 * time.Millisecond
	}
}

// ParseLatencyHint accepts the three hint names, case-insensitively.
func ParseLatencyHint(s string) (LatencyHint, error) {
	switch h := LatencyHint(strings.ToLower(s)); h {
	case "", LatencyInteractive:
		return LatencyInteractive, nil
	case LatencyBalanced, LatencyPlayback:
		return h, nil
	}
	return LatencyInteractive, fmt.Errorf("chiptone: unknown latency hint %q", s)
}

// Driver names for WithDriver.
const (
	DriverEbiten = audio.DriverEbiten
	DriverOto    = audio.DriverOto
	// DriverNone renders only through Engine.Render.
	DriverNone = audio.DriverNone
)

// Bus routing policies for WithBusRouting.
const (
	RoutingShared  = fx.RoutingShared
	RoutingPerNote = fx.RoutingPerNote
)

type Option func(*engineConfig)

type engineConfig struct {
	sampleRate   int
	lookahead    float64
	pumpInterval time.Duration
	masterGain   float64
	latency      LatencyHint
	driver       string
	routing      fx.Routing
	songLead     float64
	noiseSeed    int64
	sampleTap    func([]float32)
	logger       *slog.Logger
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		sampleRate:   48000,
		lookahead:    scheduler.DefaultLookahead,
		pumpInterval: scheduler.DefaultPumpInterval,
		masterGain:   1,
		latency:      LatencyInteractive,
		driver:       DriverEbiten,
		routing:      fx.RoutingShared,
		songLead:     sequencer.DefaultLead,
		noiseSeed:    1,
	}
}

func WithSampleRate(hz int) Option {
	return func(cfg *engineConfig) {
		cfg.sampleRate = hz
	}
}

// WithLookahead sets how far ahead of the clock the pump commits actions.
func WithLookahead(seconds float64) Option {
	return func(cfg *engineConfig) {
		cfg.lookahead = seconds
	}
}

func WithPumpInterval(d time.Duration) Option {
	return func(cfg *engineConfig) {
		cfg.pumpInterval = d
	}
}

// WithMasterGain sets the initial linear master gain.
func WithMasterGain(gain float64) Option {
	return func(cfg *engineConfig) {
		cfg.masterGain = gain
	}
}

func WithLatencyHint(h LatencyHint) Option {
	return func(cfg *engineConfig) {
		cfg.latency = h
	}
}

// WithDriver selects the audio output: DriverEbiten, DriverOto or DriverNone.
func WithDriver(name string) Option {
	return func(cfg *engineConfig) {
		cfg.driver = name
	}
}

// WithBusRouting chooses between shared and per-note tone effect chains.
func WithBusRouting(r fx.Routing) Option {
	return func(cfg *engineConfig) {
		cfg.routing = r
	}
}

// WithSongLead sets how far ahead song loop iterations are scheduled.
func WithSongLead(seconds float64) Option {
	return func(cfg *engineConfig) {
		cfg.songLead = seconds
	}
}

// WithNoiseSeed fixes the noise generator seed.
func WithNoiseSeed(seed int64) Option {
	return func(cfg *engineConfig) {
		cfg.noiseSeed = seed
	}
}

// WithSampleTap installs a callback invoked with each rendered stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) Option {
	return func(cfg *engineConfig) {
		cfg.sampleTap = tap
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *engineConfig) {
		cfg.logger = l
	}
}
