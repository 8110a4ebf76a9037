package orchestrator

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/beacon/internal/event"
)

// SpawnOptions controls how an agent process is started.
type SpawnOptions struct {
	// Args are passed to the executable after the command itself.
	Args []string
	// Dir is the working directory; empty means the server's cwd.
	Dir string
	// Env entries are appended to the server's environment.
	Env []string
	// UsePTY attaches the process to a pseudo-terminal instead of pipes.
	// Agents that refuse to run non-interactively need this. PTY output
	// arrives as a single stream tagged "out".
	UsePTY bool
}

// Instance is one externally spawned agent process under management.
// It lives in the orchestrator's registry only while the process is
// running; a terminal transition removes it immediately.
type Instance struct {
	ID        string
	Command   string
	Args      []string
	StartTime time.Time

	cmd   *exec.Cmd
	stdin io.WriteCloser
	ptmx  *os.File // non-nil when spawned with UsePTY

	// readers tracks the stream reader goroutines. The exit watcher must
	// not reap the process until they hit EOF: Wait closes the pipe read
	// ends, and a fast-exiting process would lose its output.
	readers sync.WaitGroup

	mu         sync.Mutex
	status     event.InstanceStatus
	exitCode   *int
	endTime    *time.Time
	terminated bool // explicit Terminate won the race against natural exit
}

// newInstanceID combines wall-clock nanoseconds with a random suffix so
// that IDs stay unique even under rapid spawn bursts.
func newInstanceID() string {
	return fmt.Sprintf("inst_%d_%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// PID returns the OS process ID, or 0 if the process never started.
func (i *Instance) PID() int {
	if i.cmd != nil && i.cmd.Process != nil {
		return i.cmd.Process.Pid
	}
	return 0
}

// Status returns the instance's current lifecycle status.
func (i *Instance) Status() event.InstanceStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// markTerminated records that the instance was explicitly terminated.
// Returns false if a terminal transition already happened.
func (i *Instance) markTerminated() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.terminated || i.status != event.StatusRunning {
		return false
	}
	i.terminated = true
	now := time.Now()
	i.endTime = &now
	i.status = event.StatusFailed
	return true
}

// markClosed records a natural process exit. Returns false if the instance
// was already explicitly terminated.
func (i *Instance) markClosed(exitCode int) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.terminated {
		return false
	}
	now := time.Now()
	i.endTime = &now
	i.exitCode = &exitCode
	if exitCode == 0 {
		i.status = event.StatusCompleted
	} else {
		i.status = event.StatusFailed
	}
	return true
}

// writeInput writes data to the process's input stream.
func (i *Instance) writeInput(data []byte) error {
	if i.ptmx != nil {
		_, err := i.ptmx.Write(data)
		return err
	}
	if i.stdin == nil {
		return fmt.Errorf("instance %s has no input stream", i.ID)
	}
	_, err := i.stdin.Write(data)
	return err
}

// closeStreams releases the instance's input side. Output streams are
// closed by the process exiting.
func (i *Instance) closeStreams() {
	if i.stdin != nil {
		i.stdin.Close()
	}
	if i.ptmx != nil {
		i.ptmx.Close()
	}
}

// Snapshot returns an immutable view of the instance for event payloads
// and API responses.
func (i *Instance) Snapshot() event.InstanceInfo {
	i.mu.Lock()
	defer i.mu.Unlock()

	return event.InstanceInfo{
		ID:        i.ID,
		Command:   i.Command,
		PID:       i.PID(),
		Status:    i.status,
		ExitCode:  i.exitCode,
		StartTime: i.StartTime,
		EndTime:   i.endTime,
	}
}
