// Package httpapi exposes read-only tracking state over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/callrank/callrank/internal/bootstrap"
	"github.com/callrank/callrank/internal/outcome"
	"github.com/callrank/callrank/internal/report"
	"github.com/callrank/callrank/internal/reputation"
	"github.com/callrank/callrank/internal/tdlearn"
)

// Server serves reputation, outcome, and prediction queries plus /metrics.
type Server struct {
	tracker  *outcome.Tracker
	coord    *bootstrap.Coordinator
	engine   *reputation.Engine
	learning *tdlearn.Service
	http     *http.Server
}

// NewServer wires the router. Any of the collaborators may be nil; their
// routes then return 503.
func NewServer(addr string, tracker *outcome.Tracker, coord *bootstrap.Coordinator, engine *reputation.Engine, learning *tdlearn.Service) *Server {
	s := &Server{
		tracker:  tracker,
		coord:    coord,
		engine:   engine,
		learning: learning,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/reputation", s.handleReputationList).Methods(http.MethodGet)
	v1.HandleFunc("/reputation/{channel}", s.handleReputation).Methods(http.MethodGet)
	v1.HandleFunc("/outcomes", s.handleActiveOutcomes).Methods(http.MethodGet)
	v1.HandleFunc("/outcomes/{address}", s.handleOutcome).Methods(http.MethodGet)
	v1.HandleFunc("/predictions/{channel}/{address}", s.handlePrediction).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops. http.ErrServerClosed is
// swallowed so a clean Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.http.Addr).Msg("http api listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReputationList(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "reputation engine not running")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.All())
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "reputation engine not running")
		return
	}
	channel := mux.Vars(r)["channel"]
	rep, ok := s.engine.Reputation(channel)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleActiveOutcomes(w http.ResponseWriter, _ *http.Request) {
	if s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "tracker not running")
		return
	}
	active := s.tracker.Active()
	rows := make([]report.PerformanceData, 0, len(active))
	for i := range active {
		rows = append(rows, report.Snapshot(&active[i]))
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "tracker not running")
		return
	}
	address := mux.Vars(r)["address"]
	if o, ok := s.tracker.Get(address); ok {
		writeJSON(w, http.StatusOK, o)
		return
	}
	if s.coord != nil {
		if o, ok := s.coord.History(address); ok {
			writeJSON(w, http.StatusOK, o)
			return
		}
	}
	writeError(w, http.StatusNotFound, "address not tracked")
}

func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	if s.learning == nil {
		writeError(w, http.StatusServiceUnavailable, "learning service not running")
		return
	}
	vars := mux.Vars(r)
	p := s.learning.MultiDimensionalPrediction(vars["channel"], vars["address"], r.URL.Query().Get("symbol"))
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
