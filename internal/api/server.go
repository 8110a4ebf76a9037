// Package api exposes the REST and WebSocket surface over the running
// components: instances, monitoring, activities, and task execution.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Iron-Ham/beacon/internal/activity"
	"github.com/Iron-Ham/beacon/internal/executor"
	"github.com/Iron-Ham/beacon/internal/hub"
	"github.com/Iron-Ham/beacon/internal/logging"
	"github.com/Iron-Ham/beacon/internal/orchestrator"
	"github.com/Iron-Ham/beacon/internal/watcher"
)

// Config holds the server address and the components the handlers call into.
type Config struct {
	Host string
	Port int

	Hub          *hub.Hub
	Orchestrator *orchestrator.Orchestrator
	Watcher      *watcher.Watcher
	Store        *activity.Store
	Executor     *executor.Executor
	Logger       *logging.Logger
}

// Server is the HTTP front door. It owns the listener lifecycle; the
// components it serves are owned by the caller.
type Server struct {
	cfg     Config
	httpSrv *http.Server
	logger  *logging.Logger
}

// New validates the config and builds the route table.
func New(cfg Config) (*Server, error) {
	if cfg.Hub == nil {
		return nil, fmt.Errorf("api: Hub is required")
	}
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("api: Orchestrator is required")
	}
	if cfg.Watcher == nil {
		return nil, fmt.Errorf("api: Watcher is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("api: Store is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("api: Executor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.WithComponent("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", cfg.Hub.ServeWS)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/instances", s.handleListInstances)
	mux.HandleFunc("POST /api/instances", s.handleSpawnInstance)
	mux.HandleFunc("GET /api/instances/{id}", s.handleGetInstance)
	mux.HandleFunc("DELETE /api/instances/{id}", s.handleTerminateInstance)
	mux.HandleFunc("POST /api/instances/{id}/input", s.handleSendInput)

	mux.HandleFunc("POST /api/monitoring/start", s.handleStartMonitoring)
	mux.HandleFunc("POST /api/monitoring/stop", s.handleStopMonitoring)
	mux.HandleFunc("GET /api/monitoring/status", s.handleMonitoringStatus)

	mux.HandleFunc("GET /api/activities", s.handleListActivities)
	mux.HandleFunc("GET /api/activities/statistics", s.handleActivityStatistics)
	mux.HandleFunc("POST /api/activities/search", s.handleSearchActivities)
	mux.HandleFunc("DELETE /api/activities", s.handleClearActivities)

	mux.HandleFunc("POST /api/tasks/execute", s.handleExecuteTask)

	s.httpSrv = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpSrv.Addr
}

// Start begins serving and blocks until the listener closes. A shutdown
// initiated through Shutdown returns nil, not ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	return s.httpSrv.Shutdown(ctx)
}
