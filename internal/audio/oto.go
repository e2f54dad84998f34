package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// OtoPlayer streams directly through an oto context.
type OtoPlayer struct {
	mu     sync.Mutex
	ctx    *oto.Context
	player *oto.Player
	reader *StreamReader
}

var (
	otoOnce       sync.Once
	otoContext    *oto.Context
	otoErr        error
	otoSampleRate int
)

// oto allows a single context per process.
func sharedOtoContext(sampleRate int, bufferSize time.Duration) (*oto.Context, error) {
	otoOnce.Do(func() {
		otoSampleRate = sampleRate
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 2,
			Format:       oto.FormatFloat32LE,
			BufferSize:   bufferSize,
		})
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoContext = ctx
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoSampleRate != sampleRate {
		return nil, fmt.Errorf("oto context already initialized at %d Hz (requested %d Hz)", otoSampleRate, sampleRate)
	}
	return otoContext, nil
}

func NewOtoPlayer(sampleRate int, bufferSize time.Duration, source SampleSource) (*OtoPlayer, error) {
	ctx, err := sharedOtoContext(sampleRate, bufferSize)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source)
	return &OtoPlayer{ctx: ctx, player: ctx.NewPlayer(reader), reader: reader}, nil
}

func (p *OtoPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ctx.Resume(); err == nil {
		p.player.Play()
	}
}

func (p *OtoPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.player.Pause()
}

func (p *OtoPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.player.IsPlaying()
}

func (p *OtoPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.player.Pause()
	return p.player.Close()
}
