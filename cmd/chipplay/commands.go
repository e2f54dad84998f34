package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2/smf"
	"golang.org/x/sync/errgroup"

	"github.com/cbegin/chiptone-go"
	"github.com/cbegin/chiptone-go/internal/midiexport"
	"github.com/cbegin/chiptone-go/internal/server"
)

var (
	noteTone string
	noteN    float64
	noteFreq float64
	noteDur  float64
	noteVel  float64
	noteBus  string

	songLoops     int
	renderLoops   int
	exportLoops   int
	renderSeconds float64
	outputPath    string
	addr          string
)

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Play a single note",
	Args:  cobra.NoArgs,
	RunE:  runNote,
}

var phraseCmd = &cobra.Command{
	Use:   "phrase <phrase.json>",
	Short: "Play a phrase once",
	Args:  cobra.ExactArgs(1),
	RunE:  runPhrase,
}

var songCmd = &cobra.Command{
	Use:   "song <song.json>",
	Short: "Play a song, looping its window until stopped",
	Long: `Play a song. With --loops 0 the loop window repeats until
interrupted; otherwise the song ends after that many iterations.`,
	Args: cobra.ExactArgs(1),
	RunE: runSong,
}

var renderCmd = &cobra.Command{
	Use:   "render <phrase-or-song.json>",
	Short: "Render a phrase or song to a float WAV file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

var exportMIDICmd = &cobra.Command{
	Use:   "export-midi <phrase-or-song.json>",
	Short: "Export a phrase or song as a Standard MIDI File",
	Args:  cobra.ExactArgs(1),
	RunE:  runExportMIDI,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the engine over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	f := noteCmd.Flags()
	f.StringVar(&noteTone, "tone", "", "tone id")
	f.Float64Var(&noteN, "n", math.NaN(), "MIDI note number")
	f.Float64Var(&noteFreq, "freq", 0, "frequency in Hz (overrides --n)")
	f.Float64Var(&noteDur, "dur", 0.5, "seconds until note-off")
	f.Float64Var(&noteVel, "vel", 1, "velocity 0..1")
	f.StringVar(&noteBus, "bus", "", "bus id")
	_ = noteCmd.MarkFlagRequired("tone")

	songCmd.Flags().IntVar(&songLoops, "loops", 0, "loop iterations (0 = until interrupted)")

	renderCmd.Flags().Float64Var(&renderSeconds, "seconds", 10, "length to render")
	renderCmd.Flags().IntVar(&renderLoops, "loops", 1, "loop iterations for songs")
	renderCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (- for stdout)")

	exportMIDICmd.Flags().IntVar(&exportLoops, "loops", 1, "loop iterations to unroll for songs")
	exportMIDICmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (- for stdout)")

	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func requireRealtime() error {
	if strings.EqualFold(driver, chiptone.DriverNone) {
		return errors.New("the none driver cannot play live; use render")
	}
	return nil
}

// waitUntil blocks until the engine clock reaches t or ctx ends.
func waitUntil(ctx context.Context, e *chiptone.Engine, t float64) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for e.CurrentTime() < t {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// maxRelease is the longest release tail in the loaded tone bank.
func maxRelease(e *chiptone.Engine) float64 {
	var r float64
	for _, t := range e.ToneBank().Tones {
		r = math.Max(r, t.ADSR.R)
	}
	return r
}

func runNote(cmd *cobra.Command, args []string) error {
	if err := requireRealtime(); err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()
	logger := newLogger()
	e, err := openEngine(ctx, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	p := chiptone.NoteParams{Tone: noteTone, Freq: noteFreq, Dur: noteDur, Vel: noteVel, Bus: noteBus}
	if !math.IsNaN(noteN) {
		p.N = &noteN
	}
	info, err := e.PlayNote(p)
	if err != nil {
		return err
	}
	logger.Info("note", "tone", noteTone, "freq", info.Freq, "start", info.Start, "off", info.Off, "end", info.End)
	return ignoreCancel(waitUntil(ctx, e, info.End+e.Lookahead()))
}

func runPhrase(cmd *cobra.Command, args []string) error {
	if err := requireRealtime(); err != nil {
		return err
	}
	sc, err := readScore(args[0])
	if err != nil {
		return err
	}
	if sc.phrase == nil {
		return fmt.Errorf("%s is a song; use the song command", args[0])
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()
	logger := newLogger()
	e, err := openEngine(ctx, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.PlayPhrase(sc.phrase, chiptone.PhraseOptions{})
	if err != nil {
		return err
	}
	logger.Info("phrase", "events", res.Events, "tempo", res.Tempo, "start", res.Start, "end", res.End)
	return ignoreCancel(waitUntil(ctx, e, res.End+maxRelease(e)+e.Lookahead()))
}

func runSong(cmd *cobra.Command, args []string) error {
	if err := requireRealtime(); err != nil {
		return err
	}
	sc, err := readScore(args[0])
	if err != nil {
		return err
	}
	if sc.song == nil {
		return fmt.Errorf("%s is a phrase; use the phrase command", args[0])
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()
	logger := newLogger()
	e, err := openEngine(ctx, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	events := e.Watch()
	h, err := e.PlaySong(sc.song, chiptone.SongOptions{Loops: songLoops})
	if err != nil {
		return err
	}
	logger.Info("song", "id", h.ID(), "tempo", h.Tempo(), "loopSeconds", h.LoopSeconds())

	for {
		select {
		case <-ctx.Done():
			h.Stop()
			return nil
		case ev := <-events:
			if ev.Song != h.ID() {
				continue
			}
			switch ev.Kind {
			case chiptone.EventLoopCompleted:
				logger.Info("loop completed", "iteration", ev.Iteration+1, "time", ev.Time)
			case chiptone.EventPlaybackEnded:
				logger.Info("playback completed", "time", ev.Time)
				return ignoreCancel(waitUntil(ctx, e, ev.Time+maxRelease(e)))
			}
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// output opens the -o target.
func output(def string) (io.WriteCloser, error) {
	path := outputPath
	if path == "" {
		path = def
	}
	if path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func runRender(cmd *cobra.Command, args []string) error {
	sc, err := readScore(args[0])
	if err != nil {
		return err
	}
	tb, wb, err := loadBanks()
	if err != nil {
		return err
	}
	logger := newLogger()
	opts, err := engineOptions(logger)
	if err != nil {
		return err
	}
	opts = append(opts, chiptone.WithMasterGain(math.Pow(10, masterDb/20)))

	start := time.Now()
	var samples []float32
	if sc.song != nil {
		samples, err = chiptone.RenderSong(tb, wb, sc.song, renderLoops, renderSeconds, opts...)
	} else {
		samples, err = chiptone.RenderPhrase(tb, wb, sc.phrase, renderSeconds, opts...)
	}
	if err != nil {
		return err
	}
	w, err := output(baseName(args[0]) + ".wav")
	if err != nil {
		return err
	}
	if _, err := w.Write(chiptone.EncodeWAVFloat32LE(samples, sampleRate, 2)); err != nil {
		w.Close()
		return err
	}
	logger.Info("rendered", "frames", len(samples)/2, "elapsed", time.Since(start))
	return w.Close()
}

func runExportMIDI(cmd *cobra.Command, args []string) error {
	sc, err := readScore(args[0])
	if err != nil {
		return err
	}
	name := baseName(args[0])
	var file *smf.SMF
	if sc.song != nil {
		file, err = midiexport.Song(sc.song, exportLoops, name)
	} else {
		file, err = midiexport.Phrase(sc.phrase, name)
	}
	if err != nil {
		return err
	}
	w, err := output(name + ".mid")
	if err != nil {
		return err
	}
	if err := midiexport.Write(w, file); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()
	logger := newLogger()
	opts, err := engineOptions(logger)
	if err != nil {
		return err
	}
	e, err := chiptone.NewEngine(opts...)
	if err != nil {
		return err
	}
	if tonesPath != "" {
		tb, wb, err := loadBanks()
		if err != nil {
			e.Close()
			return err
		}
		if err := e.LoadBanks(tb, wb); err != nil {
			e.Close()
			return err
		}
	}
	e.SetMasterDb(masterDb)

	srv := server.New(e, server.Config{Addr: addr}, logger)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		return e.Close()
	})
	return g.Wait()
}
