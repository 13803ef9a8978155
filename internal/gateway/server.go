// Package gateway exposes the channel lifecycle and webhook endpoints
// over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentline/agentline/internal/channels"
)

// Config holds HTTP server settings.
type Config struct {
	Host string
	Port int
}

// Server serves the management API, provider webhooks, health, and
// metrics endpoints.
type Server struct {
	config   Config
	manager  *channels.Manager
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
}

// NewServer creates the HTTP server around a connection manager.
func NewServer(cfg Config, manager *channels.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:  cfg,
		manager: manager,
		logger:  logger.With("component", "gateway"),
	}
}

// handler assembles the full route set, including the metrics registry
// carrying the manager's per-channel counters.
func (s *Server) handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.manager.Collector(),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)

	mux.HandleFunc("POST /agents/{agentID}/{channel}/deploy", s.handleDeploy)
	mux.HandleFunc("POST /agents/{agentID}/{channel}/restart", s.handleRestart)
	mux.HandleFunc("POST /agents/{agentID}/{channel}/disconnect", s.handleDisconnect)
	mux.HandleFunc("GET /agents/{agentID}/{channel}/status", s.handleStatus)
	mux.HandleFunc("POST /agents/{agentID}/telegram/webhook", s.handleTelegramWebhook)

	return s.withMiddleware(mux)
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.server = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("starting http server", "addr", addr)
	return nil
}

// Addr returns the bound listener address; useful when Port is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) {
	if s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
	s.server = nil
	s.listener = nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// writeJSON writes a JSON response body with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps a channel error onto an HTTP status and JSON body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := channels.GetErrorCode(err)
	status := httpStatus(code)

	message := "internal error"
	var chErr *channels.Error
	if errors.As(err, &chErr) {
		message = chErr.Message
	}

	s.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  string(code),
	})
}

func httpStatus(code channels.ErrorCode) int {
	switch code {
	case channels.ErrCodeInvalidCredential, channels.ErrCodeBadRequest:
		return http.StatusBadRequest
	case channels.ErrCodeAlreadyDeployed:
		return http.StatusConflict
	case channels.ErrCodeNotFound:
		return http.StatusNotFound
	case channels.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
