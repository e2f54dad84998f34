package chiptone

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
)

// renderQuantum is the number of frames rendered between scheduler pumps.
const renderQuantum = 128

// Render fills dst with interleaved stereo frames, pumping the scheduler
// before every quantum so actions commit as they would in real time. It
// needs an engine opened WithDriver(DriverNone).
func (e *Engine) Render(dst []float32) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.realtime() {
		return ErrRealtime
	}
	for len(dst) > 0 {
		n := min(len(dst), renderQuantum*2)
		e.sched.PumpOnce()
		e.Process(dst[:n])
		dst = dst[n:]
	}
	return nil
}

// RenderPhrase plays ph on a fresh offline engine and returns seconds of
// stereo output.
func RenderPhrase(tb *ToneBank, wb *WaveBank, ph *Phrase, seconds float64, opts ...Option) ([]float32, error) {
	return renderOffline(tb, wb, seconds, opts, func(e *Engine) error {
		_, err := e.PlayPhrase(ph, PhraseOptions{})
		return err
	})
}

// RenderSong plays song for the given number of loops on a fresh offline
// engine and returns seconds of stereo output.
func RenderSong(tb *ToneBank, wb *WaveBank, song *Song, loops int, seconds float64, opts ...Option) ([]float32, error) {
	return renderOffline(tb, wb, seconds, opts, func(e *Engine) error {
		_, err := e.PlaySong(song, SongOptions{Loops: loops})
		return err
	})
}

func renderOffline(tb *ToneBank, wb *WaveBank, seconds float64, opts []Option, start func(*Engine) error) ([]float32, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return nil, errors.New("chiptone: render length must be positive and finite")
	}
	e, err := NewEngine(append(opts, WithDriver(DriverNone))...)
	if err != nil {
		return nil, err
	}
	defer e.Close()
	if err := e.LoadBanks(tb, wb); err != nil {
		return nil, err
	}
	if err := e.Unlock(context.Background()); err != nil {
		return nil, err
	}
	if err := start(e); err != nil {
		return nil, err
	}
	frames := int(float64(e.SampleRate()) * seconds)
	out := make([]float32, frames*2)
	if err := e.Render(out); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeWAVFloat32LE wraps interleaved float samples in a WAVE_FORMAT_IEEE_FLOAT
// container.
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	blockAlign := channels * 4
	out := make([]byte, 44+dataSize)
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+dataSize))
	copy(out[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
