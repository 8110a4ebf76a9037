// Package orchestrator owns the bounded registry of external agent
// processes. It spawns them, tracks lifecycle transitions, relays their
// output streams onto the event bus, and terminates them on request.
//
// The registry only ever holds running instances: the moment a process
// exits or is explicitly terminated it is deregistered, so List never
// reports a dead entry.
package orchestrator

import (
	"fmt"
	"io"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/Iron-Ham/beacon/internal/errors"
	"github.com/Iron-Ham/beacon/internal/event"
	"github.com/Iron-Ham/beacon/internal/logging"
)

// Defaults applied when Config fields are left zero.
const (
	DefaultMaxInstances    = 10
	DefaultOutputChunkSize = 4096
)

// Config holds dependencies and limits for creating an Orchestrator.
type Config struct {
	// Bus receives all lifecycle and output events. Required.
	Bus *event.Bus
	// MaxInstances is the concurrency ceiling. Zero or negative falls back
	// to DefaultMaxInstances.
	MaxInstances int
	// OutputChunkSize is the read buffer size for stream capture. Zero
	// falls back to DefaultOutputChunkSize.
	OutputChunkSize int
	Logger          *logging.Logger
}

// Orchestrator manages the active instance registry. All exported methods
// are safe for concurrent use.
type Orchestrator struct {
	bus       *event.Bus
	logger    *logging.Logger
	max       int
	chunkSize int

	mu        sync.Mutex
	instances map[string]*Instance
	// exiting holds instances that were explicitly terminated but whose
	// processes have not been reaped yet. Close hard-kills these too, so a
	// process that ignored its SIGTERM cannot stall shutdown.
	exiting map[string]*Instance
	closed  bool

	wg sync.WaitGroup
}

// New creates an Orchestrator. The bus is required.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("orchestrator: Bus is required")
	}
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = DefaultMaxInstances
	}
	if cfg.OutputChunkSize <= 0 {
		cfg.OutputChunkSize = DefaultOutputChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}

	return &Orchestrator{
		bus:       cfg.Bus,
		logger:    cfg.Logger.WithComponent("orchestrator"),
		max:       cfg.MaxInstances,
		chunkSize: cfg.OutputChunkSize,
		instances: make(map[string]*Instance),
		exiting:   make(map[string]*Instance),
	}, nil
}

// MaxInstances returns the configured concurrency ceiling.
func (o *Orchestrator) MaxInstances() int { return o.max }

// Spawn starts command as a managed instance and returns its snapshot
// immediately; it never waits for the process to finish. Fails with
// ErrCapacityExceeded when the active count is at the ceiling, leaving the
// registry unchanged.
func (o *Orchestrator) Spawn(command string, opts SpawnOptions) (event.InstanceInfo, error) {
	if command == "" {
		return event.InstanceInfo{}, errors.NewValidationError("command", "must not be empty")
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return event.InstanceInfo{}, fmt.Errorf("orchestrator: closed")
	}
	if len(o.instances) >= o.max {
		o.mu.Unlock()
		return event.InstanceInfo{}, fmt.Errorf("orchestrator: %w (max %d)", errors.ErrCapacityExceeded, o.max)
	}

	inst := &Instance{
		ID:        newInstanceID(),
		Command:   command,
		Args:      opts.Args,
		StartTime: time.Now(),
		status:    event.StatusRunning,
	}
	// Reserve the slot before the (slow) process start so that concurrent
	// spawns observe the ceiling correctly.
	o.instances[inst.ID] = inst
	o.mu.Unlock()

	if err := o.startProcess(inst, opts); err != nil {
		o.mu.Lock()
		delete(o.instances, inst.ID)
		o.mu.Unlock()
		return event.InstanceInfo{}, fmt.Errorf("orchestrator: spawn %q: %w", command, err)
	}

	o.logger.WithInstance(inst.ID).Info("instance spawned",
		"command", command, "pid", inst.PID(), "pty", opts.UsePTY)
	o.bus.Publish(event.NewInstanceCreatedEvent(inst.Snapshot()))
	return inst.Snapshot(), nil
}

// startProcess wires the instance's command, streams, reader goroutines,
// and exit watcher.
func (o *Orchestrator) startProcess(inst *Instance, opts SpawnOptions) error {
	cmd := exec.Command(inst.Command, opts.Args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), opts.Env...)
	}
	inst.cmd = cmd

	if opts.UsePTY {
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return err
		}
		inst.ptmx = ptmx

		o.wg.Add(1)
		inst.readers.Add(1)
		go o.readStream(inst, ptmx, event.StreamOut)
	} else {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return err
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return err
		}
		inst.stdin = stdin

		if err := cmd.Start(); err != nil {
			return err
		}

		o.wg.Add(2)
		inst.readers.Add(2)
		go o.readStream(inst, stdout, event.StreamOut)
		go o.readStream(inst, stderr, event.StreamErr)
	}

	o.wg.Add(1)
	go o.waitForExit(inst)
	return nil
}

// readStream publishes every chunk produced by one output stream. Chunk
// order within the stream is the order the process generated it.
func (o *Orchestrator) readStream(inst *Instance, r io.Reader, tag event.StreamTag) {
	defer o.wg.Done()
	defer inst.readers.Done()

	buf := make([]byte, o.chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			o.bus.Publish(event.NewProcessOutputEvent(inst.ID, tag, string(buf[:n])))
		}
		if err != nil {
			// PTY reads fail with EIO when the child exits; either way the
			// stream is done.
			return
		}
	}
}

// waitForExit reaps the process and performs the natural-exit terminal
// transition, unless an explicit Terminate got there first.
func (o *Orchestrator) waitForExit(inst *Instance) {
	defer o.wg.Done()

	// Drain both streams before reaping. Wait closes the pipe read ends,
	// so calling it while the readers are mid-read would drop whatever a
	// fast-exiting process wrote and emit instanceClosed ahead of its
	// processOutput.
	inst.readers.Wait()

	err := inst.cmd.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	if !inst.markClosed(exitCode) {
		// Explicitly terminated; instanceTerminated was already emitted.
		o.mu.Lock()
		delete(o.exiting, inst.ID)
		o.mu.Unlock()
		return
	}

	o.mu.Lock()
	delete(o.instances, inst.ID)
	delete(o.exiting, inst.ID)
	o.mu.Unlock()

	inst.closeStreams()
	o.logger.WithInstance(inst.ID).Info("instance closed",
		"exit_code", exitCode, "status", string(inst.Status()))
	o.bus.Publish(event.NewInstanceClosedEvent(inst.Snapshot()))
}

// Terminate sends SIGTERM to the instance's process and removes it from the
// registry. Returns false if the id is unknown; no event is emitted in that
// case. Signal delivery is best-effort: a failure is logged but the
// instance is still deregistered so the registry never leaks a dead entry.
// Terminate does not wait for the process to actually exit.
func (o *Orchestrator) Terminate(id string) bool {
	o.mu.Lock()
	inst, ok := o.instances[id]
	if !ok {
		o.mu.Unlock()
		return false
	}
	delete(o.instances, id)
	o.exiting[id] = inst
	o.mu.Unlock()

	if !inst.markTerminated() {
		// Natural exit won the race; instanceClosed covers this instance.
		o.mu.Lock()
		delete(o.exiting, id)
		o.mu.Unlock()
		return false
	}
	if inst.cmd != nil && inst.cmd.Process != nil {
		if err := inst.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			o.logger.WithInstance(id).Warn("failed to signal process", "error", err)
		}
	}
	inst.closeStreams()

	o.logger.WithInstance(id).Info("instance terminated")
	o.bus.Publish(event.NewInstanceTerminatedEvent(id))
	return true
}

// SendInput writes data to the instance's input stream. Returns false if
// the id is unknown or the write fails.
func (o *Orchestrator) SendInput(id string, data []byte) bool {
	o.mu.Lock()
	inst, ok := o.instances[id]
	o.mu.Unlock()
	if !ok {
		return false
	}

	if err := inst.writeInput(data); err != nil {
		o.logger.WithInstance(id).Warn("failed to write input", "error", err)
		return false
	}
	return true
}

// List returns snapshots of all active instances, ordered by start time.
func (o *Orchestrator) List() []event.InstanceInfo {
	o.mu.Lock()
	instances := make([]*Instance, 0, len(o.instances))
	for _, inst := range o.instances {
		instances = append(instances, inst)
	}
	o.mu.Unlock()

	sort.Slice(instances, func(a, b int) bool {
		return instances[a].StartTime.Before(instances[b].StartTime)
	})

	infos := make([]event.InstanceInfo, len(instances))
	for i, inst := range instances {
		infos[i] = inst.Snapshot()
	}
	return infos
}

// Get returns the snapshot for id, or false if it is not active.
func (o *Orchestrator) Get(id string) (event.InstanceInfo, bool) {
	o.mu.Lock()
	inst, ok := o.instances[id]
	o.mu.Unlock()
	if !ok {
		return event.InstanceInfo{}, false
	}
	return inst.Snapshot(), true
}

// Count returns the number of active instances.
func (o *Orchestrator) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.instances)
}

// Close terminates all remaining instances and waits for reader goroutines
// to drain. Further spawns fail. It is safe to call multiple times.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	remaining := make([]*Instance, 0, len(o.instances)+len(o.exiting))
	for _, inst := range o.instances {
		remaining = append(remaining, inst)
	}
	// Previously terminated instances may still be alive if they ignored
	// their SIGTERM; their exit watchers are still counted in o.wg.
	for _, inst := range o.exiting {
		remaining = append(remaining, inst)
	}
	o.mu.Unlock()

	for _, inst := range remaining {
		o.Terminate(inst.ID)
	}
	// Terminate only delivers SIGTERM; hard-kill so the exit watchers are
	// guaranteed to return before we wait on them.
	for _, inst := range remaining {
		if inst.cmd != nil && inst.cmd.Process != nil {
			_ = inst.cmd.Process.Kill()
		}
	}
	o.wg.Wait()
}
