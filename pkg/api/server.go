// Package api provides the HTTP trigger and read surface for the refresh
// pipeline.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pulsecache/pulsecache/internal/cache"
	"github.com/pulsecache/pulsecache/internal/window"
	"github.com/pulsecache/pulsecache/pkg/types"
)

// Runner triggers one full pipeline run. The server is agnostic to the
// pipeline's internals; it only relays the report.
type Runner interface {
	Run(ctx context.Context) (*types.RunReport, error)
}

// Server exposes the trigger endpoint, the cached-snapshot read endpoint,
// and operational endpoints.
type Server struct {
	httpServer *http.Server
	runner     Runner
	backend    cache.Backend
	brands     []string
	config     ServerConfig
	logger     *slog.Logger
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Address to bind the server to (e.g., ":8080").
	Address string `yaml:"address" json:"address"`

	// TriggerToken, when set, is required as a bearer credential on the
	// trigger endpoint. An empty token disables verification.
	TriggerToken string `yaml:"trigger_token" json:"-"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response. Runs
	// are synchronous, so this must cover a full pipeline run.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
}

// NewServer creates the API server. metricsHandler may be nil when the
// Prometheus endpoint is disabled.
func NewServer(config ServerConfig, runner Runner, backend cache.Backend,
	brands []string, metricsHandler http.Handler, logger *slog.Logger) *Server {

	s := &Server{
		runner:  runner,
		backend: backend,
		brands:  brands,
		config:  config,
		logger:  logger.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	mux.HandleFunc("GET /cache/{brand}/{date}", s.handleRead)
	mux.HandleFunc("GET /health", s.handleHealth)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// Start begins serving; it blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("api server listening", "address", s.config.Address)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the root handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// handleRefresh runs the pipeline synchronously and returns the full
// per-brand per-date report, even when every task failed.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.config.TriggerToken != "" {
		if r.Header.Get("Authorization") != "Bearer "+s.config.TriggerToken {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	report, err := s.runner.Run(r.Context())
	if err != nil {
		s.logger.Error("pipeline run failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"run_id":  report.RunID,
		"anchor":  report.Anchor,
		"results": report.Statuses(),
	})
}

// handleRead serves one cached snapshot payload verbatim.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	brand := r.PathValue("brand")
	dateStr := r.PathValue("date")

	date, err := time.Parse(window.DateFormat, dateStr)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}

	payload, found, err := s.backend.Get(r.Context(), cache.Key(brand, date))
	if err != nil {
		s.logger.Warn("cache read failed", "brand", brand, "date", dateStr, "error", err)
		s.writeError(w, http.StatusBadGateway, "cache unavailable")
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "not cached")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(payload))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"brands": s.brands,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// loggingMiddleware logs each request with method, path, status, and timing.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
