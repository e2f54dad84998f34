package chiptone

import (
	"github.com/cbegin/chiptone-go/internal/bank"
	"github.com/cbegin/chiptone-go/internal/effects"
	"github.com/cbegin/chiptone-go/internal/voice"
)

// Bank and score types.
type (
	ToneBank  = bank.ToneBank
	Tone      = bank.Tone
	Osc       = bank.Osc
	ADSR      = bank.ADSR
	Filter    = bank.Filter
	FX        = bank.FX
	Bus       = bank.Bus
	WaveBank  = bank.WaveBank
	Wave      = bank.Wave
	Phrase    = bank.Phrase
	Song      = bank.Song
	Track     = bank.Track
	Loop      = bank.Loop
	Event     = bank.Event
	NoteFX    = bank.NoteFX
	PitchFX   = bank.PitchFX
	VibratoFX = bank.VibratoFX
	FilterFX  = bank.FilterFX
	Effect    = effects.Spec

	ValidationError = bank.ValidationError
	Problem         = bank.Problem
)

// VoiceInfo describes a scheduled voice: its identity and its start,
// note-off and release-end times on the engine clock.
type VoiceInfo = voice.Info

// Errors returned for bad references and banks.
var (
	ErrUnknownTone = bank.ErrUnknownTone
	ErrUnknownBus  = bank.ErrUnknownBus
	ErrUnknownWave = bank.ErrUnknownWave
	ErrInvalid     = bank.ErrInvalid
)

// MidiToFreq converts a MIDI note number to Hz (A4 = 69 = 440 Hz).
func MidiToFreq(n float64) float64 { return voice.MidiToFreq(n) }
