package audio

import (
	"encoding/binary"
	"io"
	"math"
	"testing"
)

type rampSource struct {
	next     float32
	finished bool
}

func (s *rampSource) Process(dst []float32) {
	for i := range dst {
		dst[i] = s.next
		s.next += 0.125
	}
}

func (s *rampSource) Finished() bool { return s.finished }

func TestStreamReaderEncodesFloat32Frames(t *testing.T) {
	src := &rampSource{}
	r := NewStreamReader(src)
	p := make([]byte, 8*3+5)
	n, err := r.Read(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 24 {
		t.Fatalf("n = %d, want whole frames only", n)
	}
	for i := 0; i < 6; i++ {
		got := math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
		if want := float32(i) * 0.125; got != want {
			t.Fatalf("sample %d = %v, want %v", i, got, want)
		}
	}
	if r.Frames() != 3 {
		t.Fatalf("frames = %d", r.Frames())
	}
	if n, err := r.Read(make([]byte, 7)); n != 0 || err != nil {
		t.Fatalf("short read = %d, %v", n, err)
	}
	src.finished = true
	if _, err := r.Read(p); err != io.EOF {
		t.Fatalf("finished source err = %v, want EOF", err)
	}
}

func TestOpenDrivers(t *testing.T) {
	out, err := Open(Options{Driver: DriverNone, SampleRate: 48000}, &rampSource{})
	if err != nil {
		t.Fatal(err)
	}
	out.Play()
	if !out.IsPlaying() {
		t.Fatalf("null output should report playing")
	}
	if err := out.Close(); err != nil || out.IsPlaying() {
		t.Fatalf("close: %v playing=%v", err, out.IsPlaying())
	}
	if _, err := Open(Options{Driver: "alsa", SampleRate: 48000}, &rampSource{}); err == nil {
		t.Fatalf("expected an error for an unknown driver")
	}
	if _, err := Open(Options{Driver: DriverNone}, &rampSource{}); err == nil {
		t.Fatalf("expected an error for a zero sample rate")
	}
}
