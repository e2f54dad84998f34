// Package audio streams a rendered sample source to the sound card.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"
)

// SampleSource fills interleaved stereo float32 frames.
type SampleSource interface {
	Process(dst []float32)
}

// FinishingSource is a SampleSource that can signal when playback has ended.
// When Finished returns true, the stream will return io.EOF on the next Read.
type FinishingSource interface {
	SampleSource
	Finished() bool
}

// StreamReader adapts a SampleSource to an io.Reader of little-endian
// float32 stereo frames.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
	frames int64
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i := 0; i < need; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(r.buf[i]))
	}
	r.frames += int64(frames)
	n := frames * 8
	if fs, ok := r.source.(FinishingSource); ok && fs.Finished() {
		return n, io.EOF
	}
	return n, nil
}

// Frames is the number of frames handed to the driver so far.
func (r *StreamReader) Frames() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *StreamReader) Close() error { return nil }

// Output is a running sound card stream.
type Output interface {
	Play()
	Pause()
	IsPlaying() bool
	Close() error
}

// Driver names accepted by Open.
const (
	DriverEbiten = "ebiten"
	DriverOto    = "oto"
	DriverNone   = "none"
)

// Options configures an output stream.
type Options struct {
	Driver     string
	SampleRate int
	// BufferSize is the driver buffer length. Zero keeps the driver default.
	BufferSize time.Duration
}

// Open starts a paused stream of source on the named driver.
func Open(opts Options, source SampleSource) (Output, error) {
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: sample rate must be positive, got %d", opts.SampleRate)
	}
	switch strings.ToLower(opts.Driver) {
	case "", DriverEbiten:
		return NewPlayer(opts.SampleRate, opts.BufferSize, source)
	case DriverOto:
		return NewOtoPlayer(opts.SampleRate, opts.BufferSize, source)
	case DriverNone:
		return &Null{}, nil
	}
	return nil, fmt.Errorf("audio: unknown driver %q", opts.Driver)
}

// Null is an Output that never touches a device. The engine drives it with
// offline rendering.
type Null struct {
	mu      sync.Mutex
	playing bool
}

func (n *Null) Play()  { n.mu.Lock(); n.playing = true; n.mu.Unlock() }
func (n *Null) Pause() { n.mu.Lock(); n.playing = false; n.mu.Unlock() }
func (n *Null) IsPlaying() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.playing
}
func (n *Null) Close() error { n.Pause(); return nil }
