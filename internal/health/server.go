package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/resilience"
	"github.com/vietddude/failover/internal/recovery"
)

// ResilienceReporter exposes breaker and limiter snapshots.
type ResilienceReporter interface {
	GetMetrics() resilience.Metrics
}

// StatisticsSource aggregates recovery logs.
type StatisticsSource interface {
	GetRecoveryStatistics(ctx context.Context, period string) (*domain.RecoveryStatistics, error)
}

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	monitor    *Monitor
	resilience ResilienceReporter
	stats      StatisticsSource
	server     *http.Server
}

// NewServer creates a new health server.
func NewServer(monitor *Monitor, res ResilienceReporter, stats StatisticsSource, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor:    monitor,
		resilience: res,
		stats:      stats,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.HandleFunc("/resilience", s.handleResilience)
	mux.HandleFunc("/recovery/stats", s.handleStats)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	status := http.StatusOK
	if report.SystemStatus == StatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.CheckHealth(r.Context()))
}

func (s *Server) handleResilience(w http.ResponseWriter, r *http.Request) {
	if s.resilience == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "resilience service not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.resilience.GetMetrics())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "recovery statistics not configured"})
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "24h"
	}

	stats, err := s.stats.GetRecoveryStatistics(r.Context(), period)
	switch {
	case errors.Is(err, recovery.ErrInvalidPeriod):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, recovery.ErrNoLogStore):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, stats)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
