// Package web provides an HTTP status and control server.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sweeney/presence-switch/internal/status"
	"github.com/sweeney/presence-switch/internal/store"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// Runner starts and stops the control loop.
type Runner interface {
	Start() bool
	Stop() bool
	Running() bool
}

// EventLog returns recent journaled events, newest first.
type EventLog interface {
	Recent(n int) ([]store.Record, error)
}

// Server serves the status page and control endpoints over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	runner     Runner
	events     EventLog
	logger     zerolog.Logger
}

// New creates a Server. events may be nil when the journal is disabled.
func New(addr string, tracker *status.Tracker, runner Runner, events EventLog, logger zerolog.Logger) *Server {
	s := &Server{tracker: tracker, runner: runner, events: events, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/events.json", s.handleEvents).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) snapshot() status.Snapshot {
	snap := s.tracker.Snapshot()
	if s.runner != nil {
		snap.Running = s.runner.Running()
	}
	return snap
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, s.snapshot()); err != nil {
		s.logger.Error().Err(err).Msg("render status page")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.snapshot()))
}

// EventsJSON is the /events.json response body.
type EventsJSON struct {
	Events []store.Record `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "event journal disabled", http.StatusServiceUnavailable)
		return
	}
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxEventLimit)
	}

	records, err := s.events.Recent(limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("read event journal")
		http.Error(w, "journal read failed", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	writeJSON(w, http.StatusOK, EventsJSON{Events: records})
}

// ControlJSON is the response to start/stop requests.
type ControlJSON struct {
	Running bool `json:"running"`
	Changed bool `json:"changed"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.control(w, s.runner.Start)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.control(w, s.runner.Stop)
}

func (s *Server) control(w http.ResponseWriter, op func() bool) {
	changed := op()
	running := s.runner.Running()
	s.tracker.SetRunning(running)
	s.logger.Info().Bool("running", running).Bool("changed", changed).Msg("controller state requested over http")
	writeJSON(w, http.StatusOK, ControlJSON{Running: running, Changed: changed})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
