package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/moroshma/AssetRelay/internal/metrics"
	"github.com/moroshma/AssetRelay/internal/usecase"
	"github.com/moroshma/AssetRelay/pkg/logger"
)

// StatusReporter exposes the relay status
type StatusReporter interface {
	Status() usecase.Status
}

// ServerConfig represents the HTTP listener configuration
type ServerConfig struct {
	Port           int
	Path           string
	MetricsEnabled bool
	MetricsPath    string
}

// Server serves the WebSocket endpoint alongside status, health and metrics
type Server struct {
	httpServer *http.Server
	ws         *Handler
	status     StatusReporter
	logger     *logger.Logger
}

// NewServer wires the HTTP routes
func NewServer(cfg ServerConfig, ws *Handler, status StatusReporter, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		ws:     ws,
		status: status,
		logger: log,
	}

	path := cfg.Path
	if path == "" {
		path = "/ws"
	}

	mux := http.NewServeMux()
	mux.Handle(path, ws)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealth)
	if cfg.MetricsEnabled && m != nil {
		metricsPath := cfg.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		mux.Handle(metricsPath, m.Handler())
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve accepts connections on lis until Shutdown
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("HTTP server listening", logger.String("address", lis.Addr().String()))
	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured port
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(lis)
}

// Shutdown stops accepting requests and waits for WebSocket connections,
// which end once the hub is closed.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.ws.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"upstream": string(s.status.Status().State),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
