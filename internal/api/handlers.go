package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/Iron-Ham/beacon/internal/activity"
	"github.com/Iron-Ham/beacon/internal/errors"
	"github.com/Iron-Ham/beacon/internal/event"
	"github.com/Iron-Ham/beacon/internal/executor"
	"github.com/Iron-Ham/beacon/internal/orchestrator"
	"github.com/Iron-Ham/beacon/internal/watcher"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"instances":   s.cfg.Orchestrator.Count(),
		"connections": s.cfg.Hub.ConnectionCount(),
	})
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"instances": s.cfg.Orchestrator.List()})
}

type spawnRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`
	UsePTY  bool     `json:"usePty,omitempty"`
}

func (s *Server) handleSpawnInstance(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	info, err := s.cfg.Orchestrator.Spawn(req.Command, orchestrator.SpawnOptions{
		Args:   req.Args,
		Dir:    req.Dir,
		Env:    req.Env,
		UsePTY: req.UsePTY,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"instance": info})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, ok := s.cfg.Orchestrator.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "instance not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instance": info})
}

func (s *Server) handleTerminateInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.cfg.Orchestrator.Terminate(id) {
		writeError(w, http.StatusNotFound, "instance not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"terminated": id})
}

type inputRequest struct {
	Data string `json:"data"`
}

func (s *Server) handleSendInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.cfg.Orchestrator.SendInput(id, []byte(req.Data)) {
		writeError(w, http.StatusNotFound, "instance not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

type monitoringRequest struct {
	ProjectPath string   `json:"projectPath"`
	Ignore      []string `json:"ignore,omitempty"`
}

func (s *Server) handleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	var req monitoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.cfg.Watcher.Start(req.ProjectPath, watcher.Options{Ignore: req.Ignore}); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"monitoring": req.ProjectPath})
}

func (s *Server) handleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	var req monitoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.cfg.Watcher.Stop(req.ProjectPath) {
		writeError(w, http.StatusNotFound, "path not monitored: "+req.ProjectPath)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": req.ProjectPath})
}

func (s *Server) handleMonitoringStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Watcher.Status())
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	typ := activity.Type(r.URL.Query().Get("type"))
	writeJSON(w, http.StatusOK, map[string]any{"activities": s.cfg.Store.List(limit, typ)})
}

func (s *Server) handleActivityStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Store.Stats())
}

type searchRequest struct {
	Query   string                 `json:"query"`
	Filters activity.SearchFilters `json:"filters"`
}

func (s *Server) handleSearchActivities(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": s.cfg.Store.Search(req.Query, req.Filters)})
}

func (s *Server) handleClearActivities(w http.ResponseWriter, r *http.Request) {
	s.cfg.Store.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

// collectSink buffers execution events so a synchronous HTTP caller gets
// the full stream in one response.
type collectSink struct {
	mu     sync.Mutex
	events []map[string]any
}

func (cs *collectSink) Send(e event.Event) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.events = append(cs.events, map[string]any{
		"type": e.EventType(),
		"data": e.Payload(),
	})
}

func (s *Server) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	var req executor.StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sink := &collectSink{}
	err := s.cfg.Executor.ExecuteStreaming(r.Context(), req, sink)

	status := http.StatusOK
	if err != nil {
		// The failure detail is already in the terminal taskError event;
		// the status code just classifies it.
		status = failureStatus(err)
	}
	writeJSON(w, status, map[string]any{"events": sink.events})
}

// writeFailure maps component errors onto HTTP status codes.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	writeError(w, failureStatus(err), err.Error())
}

func failureStatus(err error) int {
	switch {
	case errors.IsCapacity(err):
		return http.StatusConflict
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsValidation(err) || errors.Is(err, errors.ErrTaskRequired):
		return http.StatusBadRequest
	case errors.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
