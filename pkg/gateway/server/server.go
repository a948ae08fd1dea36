// Package server wires the gateway's routes, middleware, and shutdown
// sequencing together.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/config"
	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/handlers"
	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/history"
	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/live/sessions"
	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/metrics"
	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/mw"
	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/upstream"
	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/upstream/gemini"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	connector upstream.Connector
	store     history.Sink
	metrics   *metrics.Metrics

	liveSessions *sessions.Tracker
	draining     atomic.Bool
}

// Options overrides pieces of the default wiring, mainly for tests.
type Options struct {
	Connector upstream.Connector
	History   history.Sink
	Metrics   *metrics.Metrics
}

func New(cfg config.Config, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	connector := opts.Connector
	if connector == nil {
		connector = &gemini.Connector{
			APIKey:   cfg.GeminiAPIKey,
			Endpoint: cfg.GeminiEndpoint,
		}
	}
	store := opts.History
	if store == nil {
		store = history.NewMemoryStore()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mux:          http.NewServeMux(),
		connector:    connector,
		store:        store,
		metrics:      m,
		liveSessions: sessions.NewTracker(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/metrics", s.metrics.Handler())
	s.mux.Handle("/live", handlers.LiveHandler{
		Config:       s.cfg,
		Logger:       s.logger,
		Connector:    s.connector,
		History:      s.store,
		Metrics:      s.metrics,
		LiveSessions: s.liveSessions,
		Draining:     &s.draining,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining stops /live from accepting new sessions. Existing sessions
// keep running until they finish or are canceled.
func (s *Server) SetDraining(v bool) {
	s.draining.Store(v)
}

// NotifyLiveSessionsDraining tells every open session the gateway is going
// away.
func (s *Server) NotifyLiveSessionsDraining() int {
	return s.liveSessions.NotifyAll("Server is shutting down")
}

// WaitLiveSessions blocks until all sessions have unregistered or the
// context expires.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.liveSessions.Wait(ctx)
}

// CancelLiveSessions force-closes whatever is still running.
func (s *Server) CancelLiveSessions() int {
	return s.liveSessions.CancelAll()
}

// LiveSessionCount reports how many sessions are currently open.
func (s *Server) LiveSessionCount() int {
	return s.liveSessions.Count()
}
