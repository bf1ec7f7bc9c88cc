// Package web serves a small status endpoint in cron mode so an
// operator can see whether passes are running and what the last one
// did, without grepping logs.
package web

import (
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"calnotify/internal/dispatch"
	appLog "calnotify/internal/log"
)

// RunReport is the JSON shape of /api/status.
type RunReport struct {
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Summary    dispatch.Summary `json:"summary"`
}

// Server tracks the most recent pass and serves it over HTTP.
type Server struct {
	mux *http.ServeMux

	mu      sync.RWMutex
	lastRun *RunReport
}

func NewServer() *Server {
	s := &Server{mux: http.NewServeMux()}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// SetLastRun records the outcome of a finished pass.
func (s *Server) SetLastRun(r RunReport) {
	s.mu.Lock()
	s.lastRun = &r
	s.mu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n")) //nolint:errcheck
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	last := s.lastRun
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if last == nil {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"last_run":null}` + "\n")) //nolint:errcheck
		return
	}

	if err := json.NewEncoder(w).Encode(struct {
		LastRun *RunReport `json:"last_run"`
	}{LastRun: last}); err != nil {
		appLog.Error("status encode failed", err)
	}
}
