package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/beacon/internal/activity"
	"github.com/Iron-Ham/beacon/internal/event"
	"github.com/Iron-Ham/beacon/internal/executor"
	"github.com/Iron-Ham/beacon/internal/hub"
	"github.com/Iron-Ham/beacon/internal/orchestrator"
	"github.com/Iron-Ham/beacon/internal/session"
	"github.com/Iron-Ham/beacon/internal/watcher"
)

type fakeRunner struct{ result string }

func (f *fakeRunner) Execute(ctx context.Context, req orchestrator.ExecuteRequest) (string, error) {
	return f.result, nil
}

func newTestServer(t *testing.T) (*Server, *orchestrator.Orchestrator, *activity.Store) {
	t.Helper()
	bus := event.NewBus()

	orch, err := orchestrator.New(orchestrator.Config{Bus: bus, MaxInstances: 2})
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}
	t.Cleanup(orch.Close)

	w, err := watcher.New(watcher.Config{Bus: bus})
	if err != nil {
		t.Fatalf("watcher.New() error = %v", err)
	}
	t.Cleanup(w.Close)

	store := activity.NewStore(100)

	exec, err := executor.New(executor.Config{
		Runner:  &fakeRunner{result: "done"},
		Tracker: session.NewTracker(time.Minute),
	})
	if err != nil {
		t.Fatalf("executor.New() error = %v", err)
	}

	h, err := hub.New(hub.Config{
		Bus:          bus,
		Orchestrator: orch,
		Watcher:      w,
		Store:        store,
		Executor:     exec,
	})
	if err != nil {
		t.Fatalf("hub.New() error = %v", err)
	}
	if err := h.Start(); err != nil {
		t.Fatalf("hub.Start() error = %v", err)
	}
	t.Cleanup(h.Stop)

	srv, err := New(Config{
		Host:         "127.0.0.1",
		Port:         0,
		Hub:          h,
		Orchestrator: orch,
		Watcher:      w,
		Store:        store,
		Executor:     exec,
	})
	if err != nil {
		t.Fatalf("api.New() error = %v", err)
	}
	return srv, orch, store
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/health", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "ok" {
		t.Errorf("status = %q, want %q", payload.Status, "ok")
	}
}

func TestSpawnAndGetInstance(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/instances", spawnRequest{Command: "sleep", Args: []string{"5"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("spawn status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Instance event.InstanceInfo `json:"instance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/instances/"+created.Instance.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/instances/"+created.Instance.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rec.Code)
	}
}

func TestSpawnAtCapacityConflicts(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for range 2 {
		rec := doRequest(t, srv, http.MethodPost, "/api/instances", spawnRequest{Command: "sleep", Args: []string{"5"}})
		if rec.Code != http.StatusCreated {
			t.Fatalf("spawn status = %d, want 201", rec.Code)
		}
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/instances", spawnRequest{Command: "sleep", Args: []string{"5"}})
	if rec.Code != http.StatusConflict {
		t.Errorf("spawn at capacity status = %d, want 409", rec.Code)
	}
}

func TestGetUnknownInstance(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/instances/inst_missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSpawnInvalidBody(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/instances", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMonitoringEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	dir := t.TempDir()

	rec := doRequest(t, srv, http.MethodPost, "/api/monitoring/start", monitoringRequest{ProjectPath: dir})
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/monitoring/status", nil)
	var status watcher.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.Active {
		t.Error("monitoring inactive after start")
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/monitoring/stop", monitoringRequest{ProjectPath: dir})
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/monitoring/stop", monitoringRequest{ProjectPath: dir})
	if rec.Code != http.StatusNotFound {
		t.Errorf("double stop status = %d, want 404", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/monitoring/start", monitoringRequest{ProjectPath: "/does/not/exist"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad path status = %d, want 400", rec.Code)
	}
}

func TestActivityEndpoints(t *testing.T) {
	srv, _, store := newTestServer(t)
	store.Add(activity.Activity{ID: "a", Type: activity.TypeTestRun, Description: "go test ran", Score: 0.8})
	store.Add(activity.Activity{ID: "b", Type: activity.TypeError, Description: "panic: oops", Score: 0.95})

	rec := doRequest(t, srv, http.MethodGet, "/api/activities?limit=1", nil)
	var listed struct {
		Activities []activity.Activity `json:"activities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Activities) != 1 || listed.Activities[0].ID != "b" {
		t.Errorf("activities = %+v, want newest only", listed.Activities)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/activities?limit=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus limit status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/activities/search", searchRequest{Query: "panic"})
	var searched struct {
		Results []activity.Activity `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &searched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(searched.Results) != 1 || searched.Results[0].ID != "b" {
		t.Errorf("search results = %+v, want the panic record", searched.Results)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/activities/statistics", nil)
	var stats activity.Statistics
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("stats total = %d, want 2", stats.Total)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/activities", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d, want 200", rec.Code)
	}
	if store.Len() != 0 {
		t.Errorf("store len = %d after clear, want 0", store.Len())
	}
}

func TestExecuteTaskEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/tasks/execute", executor.StreamRequest{
		Task:           &session.Task{ID: "t1", Title: "run"},
		ProjectContext: session.ProjectContext{ProjectPath: t.TempDir()},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		Events []struct {
			Type string `json:"type"`
		} `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Events) < 2 {
		t.Fatalf("events = %d, want at least taskStarted and a terminal", len(payload.Events))
	}
	if payload.Events[0].Type != "taskStarted" {
		t.Errorf("first event = %q, want taskStarted", payload.Events[0].Type)
	}
	if last := payload.Events[len(payload.Events)-1].Type; last != "taskCompleted" {
		t.Errorf("terminal event = %q, want taskCompleted", last)
	}
}

func TestExecuteTaskMissingTask(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/tasks/execute", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
