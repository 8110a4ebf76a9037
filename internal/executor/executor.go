// Package executor implements the streaming task-execution protocol on top
// of the orchestrator's one-shot execution primitive. Each run emits
// taskStarted, zero or more taskProgress events, and exactly one terminal
// event (taskCompleted xor taskError) to the requesting sink.
package executor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Iron-Ham/beacon/internal/errors"
	"github.com/Iron-Ham/beacon/internal/event"
	"github.com/Iron-Ham/beacon/internal/logging"
	"github.com/Iron-Ham/beacon/internal/orchestrator"
	"github.com/Iron-Ham/beacon/internal/session"
)

// Defaults applied when a request or the configuration leaves them unset.
const (
	DefaultTimeout = 300 * time.Second
	DefaultModel   = "sonnet"
)

// EventSink receives the events of one task run. The hub's connection
// satisfies this; progress and terminal events go to the requesting
// connection only, never broadcast.
type EventSink interface {
	Send(event.Event)
}

// Runner is the execution primitive the executor drives. The orchestrator
// is the production implementation; tests substitute their own.
type Runner interface {
	Execute(ctx context.Context, req orchestrator.ExecuteRequest) (string, error)
}

// ExecutionOptions are per-request overrides.
type ExecutionOptions struct {
	// TimeoutMs overrides the configured wall-clock limit.
	TimeoutMs int `json:"timeoutMs,omitempty" mapstructure:"timeoutMs"`
	// Model overrides the configured model selector.
	Model string `json:"model,omitempty" mapstructure:"model"`
}

// StreamRequest is one streaming task execution request.
type StreamRequest struct {
	Task           *session.Task          `json:"task" mapstructure:"task"`
	ProjectContext session.ProjectContext `json:"projectContext" mapstructure:"projectContext"`
	Options        ExecutionOptions       `json:"executionOptions" mapstructure:"executionOptions"`
}

// Config holds dependencies for creating an Executor.
type Config struct {
	Runner  Runner
	Tracker *session.Tracker
	// DefaultExecutable is used when the project context names none.
	DefaultExecutable string
	// DefaultModel is used when the request names none. Empty falls back
	// to DefaultModel.
	DefaultModel string
	// Timeout is the wall-clock limit per run. Zero falls back to
	// DefaultTimeout.
	Timeout time.Duration
	Logger  *logging.Logger
}

// Executor runs streaming tasks. Concurrent runs are independent: the
// executor does not serialize tasks against the same project or sink, and
// callers own taskId uniqueness.
type Executor struct {
	runner  Runner
	tracker *session.Tracker
	logger  *logging.Logger

	defaultExecutable string
	defaultModel      string
	timeout           time.Duration
}

// New creates an Executor. Runner and Tracker are required.
func New(cfg Config) (*Executor, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("executor: Runner is required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("executor: Tracker is required")
	}
	if cfg.DefaultExecutable == "" {
		cfg.DefaultExecutable = "claude"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}

	return &Executor{
		runner:            cfg.Runner,
		tracker:           cfg.Tracker,
		logger:            cfg.Logger.WithComponent("executor"),
		defaultExecutable: cfg.DefaultExecutable,
		defaultModel:      cfg.DefaultModel,
		timeout:           cfg.Timeout,
	}, nil
}

// ExecuteStreaming runs one task, emitting its lifecycle to sink. It
// blocks until the terminal event has been sent; callers that must not
// block run it on its own goroutine. The returned error mirrors the
// terminal taskError, or is nil on success.
func (e *Executor) ExecuteStreaming(ctx context.Context, req StreamRequest, sink EventSink) error {
	if req.Task == nil {
		// Fail fast: nothing is spawned and no taskStarted is emitted.
		sink.Send(event.NewTaskErrorEvent("", errors.ErrTaskRequired.Error()))
		return errors.ErrTaskRequired
	}
	task := *req.Task

	projectPath := req.ProjectContext.ProjectPath
	if projectPath == "" {
		if wd, err := os.Getwd(); err == nil {
			projectPath = wd
		}
	}
	executable := req.ProjectContext.ExecutablePath
	if executable == "" {
		executable = e.defaultExecutable
	}
	model := req.Options.Model
	if model == "" {
		model = e.defaultModel
	}
	timeout := e.timeout
	if req.Options.TimeoutMs > 0 {
		timeout = time.Duration(req.Options.TimeoutMs) * time.Millisecond
	}

	prompt := session.BuildPrompt(task, req.ProjectContext)
	continued := e.tracker.ShouldContinue(projectPath)
	e.tracker.Touch(projectPath)

	logger := e.logger.With("task_id", task.ID, "project_path", projectPath)
	logger.Info("task started", "continued", continued, "model", model)
	sink.Send(event.NewTaskStartedEvent(task.ID, task.Title, projectPath, continued))

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := e.runner.Execute(runCtx, orchestrator.ExecuteRequest{
		Executable:      executable,
		Prompt:          prompt,
		Model:           model,
		Dir:             projectPath,
		ContinueSession: continued,
		OnProgress: func(line string) {
			sink.Send(event.NewTaskProgressEvent(task.ID, line))
		},
	})

	// Exactly one terminal event per run: this is the only place either
	// terminal is sent, and progress callbacks have ceased by the time
	// Execute returns.
	if err != nil {
		msg := err.Error()
		if errors.IsTimeout(err) || runCtx.Err() == context.DeadlineExceeded {
			msg = "Task execution timed out"
			err = errors.NewTaskTimeoutError(task.ID, err)
		}
		logger.Warn("task failed", "error", msg)
		sink.Send(event.NewTaskErrorEvent(task.ID, msg))
		return err
	}

	logger.Info("task completed")
	sink.Send(event.NewTaskCompletedEvent(task.ID, result))
	return nil
}
