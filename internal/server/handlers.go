package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cbegin/chiptone-go"
	"github.com/cbegin/chiptone-go/internal/midiexport"
)

// maxRenderSeconds bounds offline renders requested over HTTP.
const maxRenderSeconds = 600

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chiptone.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, chiptone.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, chiptone.ErrUnknownTone),
		errors.Is(err, chiptone.ErrUnknownBus),
		errors.Is(err, chiptone.ErrUnknownWave),
		errors.Is(err, chiptone.ErrInvalid),
		errors.Is(err, midiexport.ErrEmpty):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	body := map[string]any{"error": err.Error()}
	var verr *chiptone.ValidationError
	if errors.As(err, &verr) {
		problems := make([]string, len(verr.Problems))
		for i, p := range verr.Problems {
			problems[i] = p.String()
		}
		body["problems"] = problems
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into v, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Armed      bool     `json:"armed"`
	Time       float64  `json:"time"`
	SampleRate int      `json:"sampleRate"`
	Voices     int      `json:"voices"`
	MasterGain float64  `json:"masterGain"`
	Buses      []string `json:"buses"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	e := s.engine
	writeJSON(w, http.StatusOK, statusResponse{
		Armed:      e.Armed(),
		Time:       e.CurrentTime(),
		SampleRate: e.SampleRate(),
		Voices:     e.ActiveVoices(),
		MasterGain: e.MasterGain(),
		Buses:      e.Buses(),
	})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Unlock(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Suspend(); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBackground(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hidden bool `json:"hidden"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.engine.SetBackgrounded(req.Hidden)
	w.WriteHeader(http.StatusNoContent)
}

type banksRequest struct {
	Tones json.RawMessage `json:"tones"`
	Waves json.RawMessage `json:"waves"`
}

func (s *Server) handleLoadBanks(w http.ResponseWriter, r *http.Request) {
	var req banksRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.LoadBanksJSON(req.Tones, req.Waves); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMaster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Gain *float64 `json:"gain"`
		Db   *float64 `json:"db"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	switch {
	case req.Db != nil:
		s.engine.SetMasterDb(*req.Db)
	case req.Gain != nil:
		s.engine.SetMasterGain(*req.Gain)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "gain or db required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"gain": s.engine.MasterGain()})
}

func (s *Server) handleListBuses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Buses())
}

func (s *Server) handleCreateBus(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Gain float64 `json:"gain"`
		Pan  float64 `json:"pan"`
	}{Gain: 1}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.CreateBus(chi.URLParam(r, "key"), req.Gain, req.Pan); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBusGain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Gain float64 `json:"gain"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.SetBusGain(chi.URLParam(r, "key"), req.Gain); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type noteRequest struct {
	Tone string           `json:"tone"`
	N    *float64         `json:"n"`
	Freq float64          `json:"freq"`
	Dur  float64          `json:"dur"`
	Vel  float64          `json:"vel"`
	At   float64          `json:"at"`
	Bus  string           `json:"bus"`
	Pan  *float64         `json:"pan"`
	FX   *chiptone.NoteFX `json:"fx"`
}

func (s *Server) handleNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !s.decode(w, r, &req) {
		return
	}
	info, err := s.engine.PlayNote(chiptone.NoteParams(req))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id": info.ID, "freq": info.Freq, "start": info.Start, "off": info.Off, "end": info.End,
	})
}

type phraseRequest struct {
	Phrase *chiptone.Phrase `json:"phrase"`
	At     float64          `json:"at"`
}

func (s *Server) handlePhrase(w http.ResponseWriter, r *http.Request) {
	var req phraseRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.PlayPhrase(req.Phrase, chiptone.PhraseOptions{At: req.At})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"start": res.Start, "tempo": res.Tempo, "events": res.Events})
}

type songRequest struct {
	Song  *chiptone.Song `json:"song"`
	At    float64        `json:"at"`
	Loops int            `json:"loops"`
}

func (s *Server) handleSong(w http.ResponseWriter, r *http.Request) {
	var req songRequest
	if !s.decode(w, r, &req) {
		return
	}
	h, err := s.engine.PlaySong(req.Song, chiptone.SongOptions{At: req.At, Loops: req.Loops})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.trackSong(h)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id": h.ID(), "start": h.Start(), "tempo": h.Tempo(), "loopSeconds": h.LoopSeconds(),
	})
}

func (s *Server) handleStopSong(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad song id"})
		return
	}
	h, ok := s.song(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown song"})
		return
	}
	h.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		At float64 `json:"at"`
	}
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	s.engine.StopAllVoices(req.At)
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams song events as server-sent events until the client
// goes away. Only the most recent subscriber receives events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	events := s.engine.Watch()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprint(w, ": watching\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			name := "loop"
			if ev.Kind == chiptone.EventPlaybackEnded {
				name = "ended"
			}
			data, _ := json.Marshal(map[string]any{
				"song": ev.Song, "iteration": ev.Iteration, "time": ev.Time,
			})
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
			flusher.Flush()
		}
	}
}

type exportRequest struct {
	Phrase  *chiptone.Phrase `json:"phrase"`
	Song    *chiptone.Song   `json:"song"`
	Loops   int              `json:"loops"`
	Name    string           `json:"name"`
	Seconds float64          `json:"seconds"`
}

func (s *Server) handleExportMIDI(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !s.decode(w, r, &req) {
		return
	}
	var buf bytes.Buffer
	var err error
	switch {
	case req.Song != nil:
		err = writeSongMIDI(&buf, req.Song, req.Loops, req.Name)
	case req.Phrase != nil:
		err = writePhraseMIDI(&buf, req.Phrase, req.Name)
	default:
		err = midiexport.ErrEmpty
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/midi")
	_, _ = w.Write(buf.Bytes())
}

func writeSongMIDI(buf *bytes.Buffer, song *chiptone.Song, loops int, name string) error {
	f, err := midiexport.Song(song, loops, name)
	if err != nil {
		return err
	}
	return midiexport.Write(buf, f)
}

func writePhraseMIDI(buf *bytes.Buffer, ph *chiptone.Phrase, name string) error {
	f, err := midiexport.Phrase(ph, name)
	if err != nil {
		return err
	}
	return midiexport.Write(buf, f)
}

func (s *Server) handleRenderWAV(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !(req.Seconds > 0) || req.Seconds > maxRenderSeconds {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("seconds must be in (0, %d]", maxRenderSeconds)})
		return
	}
	opts := []chiptone.Option{
		chiptone.WithSampleRate(s.engine.SampleRate()),
		chiptone.WithLogger(s.logger),
	}
	tones, waves := s.engine.ToneBank(), s.engine.WaveBank()
	var (
		samples []float32
		err     error
	)
	switch {
	case req.Song != nil:
		samples, err = chiptone.RenderSong(tones, waves, req.Song, req.Loops, req.Seconds, opts...)
	case req.Phrase != nil:
		samples, err = chiptone.RenderPhrase(tones, waves, req.Phrase, req.Seconds, opts...)
	default:
		err = midiexport.ErrEmpty
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	_, _ = w.Write(chiptone.EncodeWAVFloat32LE(samples, s.engine.SampleRate(), 2))
}
