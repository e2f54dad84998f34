// Package server exposes an engine over HTTP so tools and browsers can
// load banks and trigger notes, phrases and songs remotely.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cbegin/chiptone-go"
)

// Config holds server configuration.
type Config struct {
	Addr string
	// MaxBody caps request bodies in bytes.
	MaxBody int64
}

const defaultMaxBody = 4 << 20

// Server is the HTTP control surface of one engine.
type Server struct {
	config Config
	engine *chiptone.Engine
	router *chi.Mux
	logger *slog.Logger

	mu    sync.Mutex
	songs map[uint64]*chiptone.SongHandle
}

func New(engine *chiptone.Engine, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = defaultMaxBody
	}
	s := &Server{
		config: cfg,
		engine: engine,
		router: chi.NewRouter(),
		logger: logger,
		songs:  map[uint64]*chiptone.SongHandle{},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/events", s.handleEvents)

	r.Post("/unlock", s.handleUnlock)
	r.Post("/suspend", s.handleSuspend)
	r.Put("/background", s.handleBackground)
	r.Put("/banks", s.handleLoadBanks)
	r.Put("/master", s.handleMaster)

	r.Route("/buses", func(r chi.Router) {
		r.Get("/", s.handleListBuses)
		r.Put("/{key}", s.handleCreateBus)
		r.Put("/{key}/gain", s.handleBusGain)
	})

	r.Post("/notes", s.handleNote)
	r.Post("/phrases", s.handlePhrase)
	r.Route("/songs", func(r chi.Router) {
		r.Post("/", s.handleSong)
		r.Delete("/{id}", s.handleStopSong)
	})
	r.Post("/stop", s.handleStopAll)

	r.Post("/export/midi", s.handleExportMIDI)
	r.Post("/render/wav", s.handleRenderWAV)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"requestID", middleware.GetReqID(r.Context()))
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // /events streams
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) trackSong(h *chiptone.SongHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, old := range s.songs {
		if old.Stopped() {
			delete(s.songs, id)
		}
	}
	s.songs[h.ID()] = h
}

func (s *Server) song(id uint64) (*chiptone.SongHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.songs[id]
	return h, ok
}
