package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cbegin/chiptone-go"
	"github.com/cbegin/chiptone-go/internal/bank"
	"github.com/cbegin/chiptone-go/internal/fx"
	"github.com/cbegin/chiptone-go/internal/mml"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chipplay",
	Short: "Play and render chiptune tone banks, phrases and songs",
	Long: `chipplay loads a JSON tone bank (and optional wave bank) and plays
notes, phrases or looping songs through the sound card, renders them to
WAV, exports them as MIDI, or serves the engine over HTTP.

Examples:
  chipplay note --tones tones.json --tone lead --n 69
  chipplay phrase --tones tones.json jingle.json
  chipplay song --tones tones.json --loops 4 theme.json
  chipplay render --tones tones.json --seconds 8 -o theme.wav theme.json
  chipplay export-midi --loops 2 -o theme.mid theme.json
  chipplay song --tones tones.json --mml-tone lead,bass --mml-loop theme.mml
  chipplay serve --tones tones.json --addr :8080`,
	Version:      version,
	SilenceUsage: true,
}

var (
	tonesPath  string
	wavesPath  string
	sampleRate int
	driver     string
	latency    string
	routing    string
	masterDb   float64
	lookahead  float64
	debug      bool

	mmlTones []string
	mmlLoop  bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&tonesPath, "tones", "", "tone bank JSON file")
	pf.StringVar(&wavesPath, "waves", "", "wave bank JSON file")
	pf.IntVar(&sampleRate, "sample-rate", 48000, "output sample rate")
	pf.StringVar(&driver, "driver", chiptone.DriverEbiten, "audio driver: ebiten|oto|none")
	pf.StringVar(&latency, "latency", string(chiptone.LatencyInteractive), "latency hint: interactive|balanced|playback")
	pf.StringVar(&routing, "routing", "shared", "tone effect routing: shared|per-note")
	pf.Float64Var(&masterDb, "master-db", 0, "master gain in dB")
	pf.Float64Var(&lookahead, "lookahead", 0, "scheduler lookahead in seconds (0 = default)")
	pf.BoolVar(&debug, "debug", false, "enable debug logging")
	pf.StringSliceVar(&mmlTones, "mml-tone", []string{"lead"}, "tones for .mml parts, cycled per part")
	pf.BoolVar(&mmlLoop, "mml-loop", false, "loop .mml songs over their longest part")

	rootCmd.AddCommand(noteCmd, phraseCmd, songCmd, renderCmd, exportMIDICmd, serveCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// engineOptions turns the persistent flags into engine options.
func engineOptions(logger *slog.Logger) ([]chiptone.Option, error) {
	hint, err := chiptone.ParseLatencyHint(latency)
	if err != nil {
		return nil, err
	}
	r, err := fx.ParseRouting(routing)
	if err != nil {
		return nil, err
	}
	opts := []chiptone.Option{
		chiptone.WithSampleRate(sampleRate),
		chiptone.WithDriver(driver),
		chiptone.WithLatencyHint(hint),
		chiptone.WithBusRouting(r),
		chiptone.WithLogger(logger),
	}
	if lookahead > 0 {
		opts = append(opts, chiptone.WithLookahead(lookahead))
	}
	return opts, nil
}

// loadBanks reads the --tones and --waves files.
func loadBanks() (*chiptone.ToneBank, *chiptone.WaveBank, error) {
	var wb *chiptone.WaveBank
	if wavesPath != "" {
		data, err := os.ReadFile(wavesPath)
		if err != nil {
			return nil, nil, err
		}
		if wb, err = bank.DecodeWaveBank(data); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", wavesPath, err)
		}
	}
	if tonesPath == "" {
		return nil, nil, fmt.Errorf("--tones is required")
	}
	data, err := os.ReadFile(tonesPath)
	if err != nil {
		return nil, nil, err
	}
	tb, err := bank.DecodeToneBank(data, wb)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", tonesPath, err)
	}
	return tb, wb, nil
}

// openEngine builds an engine from the flags, loads the banks and unlocks
// it.
func openEngine(ctx context.Context, logger *slog.Logger) (*chiptone.Engine, error) {
	tb, wb, err := loadBanks()
	if err != nil {
		return nil, err
	}
	opts, err := engineOptions(logger)
	if err != nil {
		return nil, err
	}
	e, err := chiptone.NewEngine(opts...)
	if err != nil {
		return nil, err
	}
	if err := e.LoadBanks(tb, wb); err != nil {
		e.Close()
		return nil, err
	}
	e.SetMasterDb(masterDb)
	if err := e.Unlock(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// score is either a phrase or a song file.
type score struct {
	phrase *chiptone.Phrase
	song   *chiptone.Song
}

func readScore(path string) (score, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return score{}, err
	}
	if strings.EqualFold(filepath.Ext(path), ".mml") {
		return mmlScore(path, string(data))
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return score{}, fmt.Errorf("%s: %w", path, err)
	}
	if _, ok := probe["tracks"]; ok {
		song, err := bank.DecodeSong(data)
		if err != nil {
			return score{}, fmt.Errorf("%s: %w", path, err)
		}
		return score{song: song}, nil
	}
	ph, err := bank.DecodePhrase(data)
	if err != nil {
		return score{}, fmt.Errorf("%s: %w", path, err)
	}
	return score{phrase: ph}, nil
}

func baseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// mmlScore reads MML text. A single unlooped part is a phrase; anything
// else becomes a song with one track per part.
func mmlScore(path, src string) (score, error) {
	opts := mml.DefaultOptions()
	opts.Loop = mmlLoop
	song, err := mml.ToSong(src, mmlTones, opts)
	if err != nil {
		return score{}, fmt.Errorf("%s: %w", path, err)
	}
	if len(song.Tracks) == 1 && song.Loop == nil {
		tr := song.Tracks[0]
		return score{phrase: &chiptone.Phrase{Tempo: song.Tempo, Tone: tr.Tone, Events: tr.Events}}, nil
	}
	return score{song: song}, nil
}
