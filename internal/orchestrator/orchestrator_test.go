package orchestrator

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/beacon/internal/errors"
	"github.com/Iron-Ham/beacon/internal/event"
)

func newTestOrchestrator(t *testing.T, max int) (*Orchestrator, *event.Bus) {
	t.Helper()
	bus := event.NewBus()
	orch, err := New(Config{Bus: bus, MaxInstances: max})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(orch.Close)
	return orch, bus
}

// collectEvents funnels matching bus events into a channel for the test to
// wait on.
func collectEvents(bus *event.Bus, types ...string) <-chan event.Event {
	ch := make(chan event.Event, 64)
	for _, typ := range types {
		bus.Subscribe(typ, func(e event.Event) { ch <- e })
	}
	return ch
}

func waitEvent(t *testing.T, ch <-chan event.Event, eventType string) event.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.EventType() == eventType {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}

func TestSpawnPublishesInstanceCreated(t *testing.T) {
	orch, bus := newTestOrchestrator(t, 4)
	ch := collectEvents(bus, "instanceCreated")

	info, err := orch.Spawn("sleep", SpawnOptions{Args: []string{"5"}})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if !strings.HasPrefix(info.ID, "inst_") {
		t.Errorf("instance ID = %q, want inst_ prefix", info.ID)
	}
	if info.Status != event.StatusRunning {
		t.Errorf("status = %q, want %q", info.Status, event.StatusRunning)
	}

	e := waitEvent(t, ch, "instanceCreated").(event.InstanceCreatedEvent)
	if e.Instance.ID != info.ID {
		t.Errorf("event instance ID = %q, want %q", e.Instance.ID, info.ID)
	}
}

func TestSpawnCapacityCeiling(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 2)

	for range 2 {
		if _, err := orch.Spawn("sleep", SpawnOptions{Args: []string{"5"}}); err != nil {
			t.Fatalf("Spawn() error = %v", err)
		}
	}

	_, err := orch.Spawn("sleep", SpawnOptions{Args: []string{"5"}})
	if !errors.IsCapacity(err) {
		t.Fatalf("Spawn() at capacity: error = %v, want capacity error", err)
	}
	if orch.Count() != 2 {
		t.Errorf("Count() = %d, want 2", orch.Count())
	}
}

func TestSpawnFailureReleasesSlot(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 1)

	if _, err := orch.Spawn("definitely-not-a-command-beacon", SpawnOptions{}); err == nil {
		t.Fatal("Spawn() with unknown command succeeded, want error")
	}
	if orch.Count() != 0 {
		t.Fatalf("Count() = %d after failed spawn, want 0", orch.Count())
	}

	// The reserved slot must have been rolled back.
	if _, err := orch.Spawn("sleep", SpawnOptions{Args: []string{"5"}}); err != nil {
		t.Errorf("Spawn() after rollback error = %v", err)
	}
}

func TestProcessOutputAndClose(t *testing.T) {
	orch, bus := newTestOrchestrator(t, 4)
	ch := collectEvents(bus, "processOutput", "instanceClosed")

	info, err := orch.Spawn("echo", SpawnOptions{Args: []string{"hello"}})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	out := waitEvent(t, ch, "processOutput").(event.ProcessOutputEvent)
	if out.InstanceID != info.ID {
		t.Errorf("output instance = %q, want %q", out.InstanceID, info.ID)
	}
	if out.StreamTag != event.StreamOut {
		t.Errorf("stream tag = %q, want %q", out.StreamTag, event.StreamOut)
	}
	if !strings.Contains(out.Data, "hello") {
		t.Errorf("output data = %q, want to contain %q", out.Data, "hello")
	}

	closed := waitEvent(t, ch, "instanceClosed").(event.InstanceClosedEvent)
	if closed.Instance.ID != info.ID {
		t.Errorf("closed instance = %q, want %q", closed.Instance.ID, info.ID)
	}
	if closed.Instance.ExitCode == nil || *closed.Instance.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", closed.Instance.ExitCode)
	}

	// The registry entry is removed the moment the instance is terminal.
	if _, ok := orch.Get(info.ID); ok {
		t.Error("terminal instance still in registry")
	}
}

// Fast-exiting processes race their output against the exit watcher: the
// watcher must drain both streams before reaping, or the output is lost and
// instanceClosed jumps ahead of processOutput.
func TestFastExitOutputPrecedesClose(t *testing.T) {
	orch, bus := newTestOrchestrator(t, 4)
	ch := collectEvents(bus, "processOutput", "instanceClosed")

	for i := range 50 {
		info, err := orch.Spawn("echo", SpawnOptions{Args: []string{"hi"}})
		if err != nil {
			t.Fatalf("run %d: Spawn() error = %v", i, err)
		}

		sawOutput := false
		deadline := time.After(5 * time.Second)
	run:
		for {
			select {
			case e := <-ch:
				switch ev := e.(type) {
				case event.ProcessOutputEvent:
					if ev.InstanceID == info.ID && strings.Contains(ev.Data, "hi") {
						sawOutput = true
					}
				case event.InstanceClosedEvent:
					if ev.Instance.ID != info.ID {
						continue
					}
					if !sawOutput {
						t.Fatalf("run %d: instanceClosed published before any processOutput", i)
					}
					break run
				}
			case <-deadline:
				t.Fatalf("run %d: timed out waiting for instanceClosed", i)
			}
		}
	}
}

func TestTerminate(t *testing.T) {
	orch, bus := newTestOrchestrator(t, 4)
	ch := collectEvents(bus, "instanceTerminated", "instanceClosed")

	info, err := orch.Spawn("cat", SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	if !orch.Terminate(info.ID) {
		t.Fatal("Terminate() = false, want true")
	}
	if orch.Count() != 0 {
		t.Errorf("Count() = %d after terminate, want 0", orch.Count())
	}

	term := waitEvent(t, ch, "instanceTerminated").(event.InstanceTerminatedEvent)
	if term.InstanceID != info.ID {
		t.Errorf("terminated instance = %q, want %q", term.InstanceID, info.ID)
	}

	// A terminated instance never also produces instanceClosed.
	drain := time.After(300 * time.Millisecond)
	for {
		select {
		case e := <-ch:
			if e.EventType() == "instanceClosed" {
				t.Fatal("instanceClosed published for a terminated instance")
			}
		case <-drain:
			goto done
		}
	}
done:

	if orch.Terminate(info.ID) {
		t.Error("second Terminate() = true, want false")
	}
}

func TestTerminateUnknownInstance(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 4)
	if orch.Terminate("inst_missing") {
		t.Error("Terminate(unknown) = true, want false")
	}
}

func TestSendInput(t *testing.T) {
	orch, bus := newTestOrchestrator(t, 4)
	ch := collectEvents(bus, "processOutput")

	info, err := orch.Spawn("cat", SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	if !orch.SendInput(info.ID, []byte("ping\n")) {
		t.Fatal("SendInput() = false, want true")
	}

	out := waitEvent(t, ch, "processOutput").(event.ProcessOutputEvent)
	if !strings.Contains(out.Data, "ping") {
		t.Errorf("echoed data = %q, want to contain %q", out.Data, "ping")
	}

	if orch.SendInput("inst_missing", []byte("x")) {
		t.Error("SendInput(unknown) = true, want false")
	}
}

func TestListSortedByStartTime(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 4)

	for range 3 {
		if _, err := orch.Spawn("sleep", SpawnOptions{Args: []string{"5"}}); err != nil {
			t.Fatalf("Spawn() error = %v", err)
		}
	}

	list := orch.List()
	if len(list) != 3 {
		t.Fatalf("List() len = %d, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].StartTime.Before(list[i-1].StartTime) {
			t.Errorf("List() not ordered by start time at index %d", i)
		}
	}
}

// A process that ignores SIGTERM must not stall Close: its exit watcher is
// still counted in the orchestrator's WaitGroup after Terminate, so Close
// has to hard-kill it even though it already left the registry.
func TestCloseReapsSigtermIgnoringInstance(t *testing.T) {
	bus := event.NewBus()
	orch, err := New(Config{Bus: bus, MaxInstances: 4})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	info, err := orch.Spawn("sh", SpawnOptions{
		Args: []string{"-c", `trap '' TERM; while :; do sleep 0.2; done`},
	})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	// Give the shell a moment to install its trap.
	time.Sleep(200 * time.Millisecond)

	if !orch.Terminate(info.ID) {
		t.Fatal("Terminate() = false, want true")
	}

	done := make(chan struct{})
	go func() {
		orch.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close() did not return; terminated instance was never hard-killed")
	}
}

func TestInstanceIDUniqueness(t *testing.T) {
	const n = 10000
	seen := make(map[string]bool, n)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range n / 8 {
				id := newInstanceID()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate instance ID %q", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}
