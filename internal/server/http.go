package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coffersTech/loadtrace/internal/metrics"
	"github.com/coffersTech/loadtrace/internal/registry"
	"github.com/coffersTech/loadtrace/internal/summary"
	"github.com/coffersTech/loadtrace/tracelog"
)

// DebugServer serves run introspection while a load run is active.
type DebugServer struct {
	logger   *tracelog.Logger
	registry *registry.Server
	gatherer prometheus.Gatherer
	token    string
	log      *slog.Logger
	srv      *http.Server

	phasesMu sync.RWMutex
	phases   []summary.Phase
}

// NewDebugServer creates a server over l. A non-empty token requires
// "Authorization: Bearer <token>" or ?token= on every /api route.
func NewDebugServer(l *tracelog.Logger, runID, token string, log *slog.Logger) *DebugServer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(l.Stats, runID))
	if log == nil {
		log = slog.Default()
	}
	return &DebugServer{
		logger:   l,
		registry: registry.NewServer(l.Registry()),
		gatherer: reg,
		token:    token,
		log:      log,
	}
}

// Handler returns the route mux.
func (s *DebugServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/stats", s.AuthMiddleware(http.HandlerFunc(s.handleStats)))
	mux.Handle("/api/phases", s.AuthMiddleware(http.HandlerFunc(s.handlePhases)))
	mux.Handle("/api/producers", s.AuthMiddleware(http.HandlerFunc(s.registry.HandleListInstances)))
	mux.Handle("/api/producers/", s.AuthMiddleware(http.HandlerFunc(s.registry.HandleGetInstance)))
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start runs the HTTP server until Shutdown.
func (s *DebugServer) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info("debug server listening", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *DebugServer) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// RecordPhase publishes a completed phase on /api/phases.
func (s *DebugServer) RecordPhase(p summary.Phase) {
	s.phasesMu.Lock()
	defer s.phasesMu.Unlock()
	s.phases = append(s.phases, p)
}

// AuthMiddleware checks for the configured token.
func (s *DebugServer) AuthMiddleware(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="loadtrace"`)
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleStats returns the pipeline counters.
// GET /api/stats
func (s *DebugServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.logger.Stats())
}

// handlePhases returns completed phase summaries, oldest first.
// GET /api/phases
func (s *DebugServer) handlePhases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.phasesMu.RLock()
	phases := append([]summary.Phase(nil), s.phases...)
	s.phasesMu.RUnlock()
	writeJSON(w, map[string]interface{}{"phases": phases})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
