package orchestrator

import (
	"bufio"
	"context"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/Iron-Ham/beacon/internal/errors"
)

// ExecuteRequest describes one prompt execution against the agent binary.
type ExecuteRequest struct {
	// Executable is the agent binary. Required.
	Executable string
	// Prompt is passed via -p for a non-interactive run. Required.
	Prompt string
	// Model is the model selector passed via --model.
	Model string
	// Dir is the working directory for the run.
	Dir string
	// ContinueSession adds --continue so the agent resumes its prior
	// conversation for this directory.
	ContinueSession bool
	// OnProgress, when non-nil, receives each output line as it is
	// produced. Called from the reader goroutine's perspective of the
	// caller; implementations must be fast or hand off.
	OnProgress func(line string)
}

// Execute runs the agent binary once with the given prompt and streams its
// output lines to the progress callback. It blocks until the process exits
// or ctx expires; on expiry the process is killed and the error is a
// TaskExecutionError with Timeout set. One-shot runs do not enter the
// instance registry and emit no lifecycle events.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (string, error) {
	if req.Executable == "" {
		return "", errors.NewValidationError("executable", "must not be empty")
	}
	if req.Prompt == "" {
		return "", errors.NewValidationError("prompt", "must not be empty")
	}

	args := []string{"-p", req.Prompt}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.ContinueSession {
		args = append(args, "--continue")
	}

	cmd := exec.CommandContext(ctx, req.Executable, args...)
	cmd.Dir = req.Dir
	// Run the agent in its own process group and cancel by killing the
	// whole group. Killing only the direct child would leave any of its
	// children holding the output pipe open, keeping the scanner below
	// blocked long past the deadline.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil && pgid > 0 {
			return syscall.Kill(-pgid, syscall.SIGKILL)
		}
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	cmd.Stderr = cmd.Stdout // interleave; one line stream for progress

	if err := cmd.Start(); err != nil {
		return "", err
	}
	o.logger.Info("executing prompt", "executable", req.Executable,
		"model", req.Model, "dir", req.Dir, "continue", req.ContinueSession)

	var out strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		out.WriteString(line)
		out.WriteByte('\n')
		if req.OnProgress != nil {
			req.OnProgress(line)
		}
	}

	waitErr := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		// CommandContext killed the process for us.
		return out.String(), errors.NewTaskTimeoutError("", ctxErr)
	}
	if waitErr != nil {
		return out.String(), waitErr
	}
	return out.String(), nil
}
