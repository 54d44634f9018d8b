// Package transport exposes the daemon's unix-socket HTTP surface: /ask
// submits a turn to the running Engine, /status reports daemon health,
// and /metrics serves Prometheus counters for the CLI and for scraping.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/ehrlich-b/localgpt/internal/logger"
	"github.com/ehrlich-b/localgpt/internal/turn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the Prometheus collectors the daemon registers at startup.
// Kept as a struct (rather than package globals) so tests can register
// their own registry without colliding with the default one.
type Metrics struct {
	TurnsTotal     *prometheus.CounterVec
	TurnDuration   prometheus.Histogram
	ToolCallsTotal *prometheus.CounterVec
}

// NewMetrics builds and registers the daemon's collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "localgpt_turns_total",
			Help: "Turns processed by the daemon, labeled by outcome.",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "localgpt_turn_duration_seconds",
			Help:    "Wall-clock duration of a single turn.",
			Buckets: prometheus.DefBuckets,
		}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "localgpt_tool_calls_total",
			Help: "Tool dispatches, labeled by tool name.",
		}, []string{"tool"}),
	}
	reg.MustRegister(m.TurnsTotal, m.TurnDuration, m.ToolCallsTotal)
	return m
}

// Server is the daemon's unix-socket HTTP endpoint. One Engine backs
// every request; sessions are keyed by the client-supplied session id.
type Server struct {
	socketPath string
	engine     *turn.Engine
	registry   *prometheus.Registry
	metrics    *Metrics
	startedAt  time.Time

	mu      sync.Mutex
	serving bool
}

// NewServer wires an Engine and a fresh Prometheus registry into a
// Server listening at socketPath.
func NewServer(socketPath string, engine *turn.Engine) *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		socketPath: socketPath,
		engine:     engine,
		registry:   reg,
		metrics:    NewMetrics(reg),
		startedAt:  time.Now(),
	}
}

// ListenAndServe binds the unix socket and serves until ctx is canceled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.RemoveAll(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	defer os.RemoveAll(s.socketPath)

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	httpServer := &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		s.mu.Lock()
		s.serving = true
		s.mu.Unlock()
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("daemon shutdown", "error", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}

type askRequest struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
}

type askResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, errors.New("prompt is required"))
		return
	}

	start := time.Now()
	reply, err := s.engine.Run(r.Context(), req.SessionID, req.Prompt, nil)
	s.metrics.TurnDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.TurnsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.TurnsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, askResponse{Reply: reply})
}

type statusResponse struct {
	Uptime string `json:"uptime"`
	Model  string `json:"model"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Uptime: time.Since(s.startedAt).String(),
		Model:  s.engine.Config.Model,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
