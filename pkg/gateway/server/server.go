package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kindred-labs/kin/pkg/chat/ai"
	"github.com/kindred-labs/kin/pkg/chat/emotion"
	"github.com/kindred-labs/kin/pkg/chat/filler"
	"github.com/kindred-labs/kin/pkg/chat/session"
	"github.com/kindred-labs/kin/pkg/chat/store"
	"github.com/kindred-labs/kin/pkg/gateway/config"
	"github.com/kindred-labs/kin/pkg/gateway/handlers"
	"github.com/kindred-labs/kin/pkg/gateway/mw"
)

// Deps are the collaborators the server wires into the chat pipeline. The
// binary constructs real providers; tests inject fakes.
type Deps struct {
	Completer   ai.Completer
	Classifier  ai.Classifier
	Transcriber ai.Transcriber
	Synthesizer ai.Synthesizer
	Store       store.Store
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	deps     Deps
	registry *session.Registry
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cancels := session.NewCancels()
	registry := session.NewRegistry(cancels, cfg.HistoryWindow)

	emotions := emotion.NewTracker(deps.Classifier, deps.Store, logger)

	var clips *filler.Dispatcher
	if cfg.FillerDir != "" {
		clips = filler.NewDispatcher(cfg.FillerDir, cfg.FillerLongFormThreshold, logger)
	}

	orch, err := session.NewOrchestrator(session.Config{
		Persona:              cfg.Persona,
		Voice:                cfg.TTSVoice,
		AudioFormat:          cfg.AudioFormat,
		TextChunkRunes:       cfg.TextChunkRunes,
		TextChunkDelay:       cfg.TextChunkDelay,
		AudioMinChunkBytes:   cfg.AudioMinChunkBytes,
		CompleteForceTimeout: cfg.CompleteForceTimeout,
	}, session.Deps{
		Logger:      logger,
		Completer:   deps.Completer,
		Transcriber: deps.Transcriber,
		Synthesizer: deps.Synthesizer,
		Emotions:    emotions,
		Filler:      clips,
		Store:       deps.Store,
		Cancels:     cancels,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		deps:     deps,
		registry: registry,
	}
	s.routes(orch)
	return s, nil
}

func (s *Server) routes(orch *session.Orchestrator) {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Store: s.deps.Store})
	s.mux.Handle("/metrics", promhttp.Handler())

	s.mux.Handle("/v1/chat", handlers.ChatHandler{
		Config:       s.cfg,
		Logger:       s.logger,
		Registry:     s.registry,
		Orchestrator: orch,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Sessions exposes the live session registry for shutdown accounting.
func (s *Server) Sessions() *session.Registry {
	return s.registry
}

// WaitSessions blocks until live sessions drain or ctx expires.
func (s *Server) WaitSessions(ctx context.Context) bool {
	return s.registry.Wait(ctx)
}

// CloseSessions force-closes every live connection.
func (s *Server) CloseSessions() {
	s.registry.CloseAll()
}
