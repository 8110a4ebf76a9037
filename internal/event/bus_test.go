package event

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubscribePublish(t *testing.T) {
	bus := NewBus()

	var got []Event
	bus.Subscribe("instanceCreated", func(e Event) {
		got = append(got, e)
	})

	info := InstanceInfo{ID: "inst-1", Command: "echo", Status: StatusRunning}
	bus.Publish(NewInstanceCreatedEvent(info))

	if len(got) != 1 {
		t.Fatalf("handler called %d times, want 1", len(got))
	}
	if got[0].EventType() != "instanceCreated" {
		t.Errorf("event type = %q, want %q", got[0].EventType(), "instanceCreated")
	}
}

func TestPublishIsSynchronous(t *testing.T) {
	bus := NewBus()

	delivered := false
	bus.Subscribe("processOutput", func(Event) {
		delivered = true
	})
	bus.Publish(NewProcessOutputEvent("inst-1", StreamOut, "hello"))

	// No synchronization needed: delivery completes before Publish returns.
	if !delivered {
		t.Fatal("handler not invoked before Publish returned")
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()

	calls := 0
	id := bus.Subscribe("fileChange", func(Event) { calls++ })

	bus.Publish(NewFileChangeEvent("/p", "/p/a.go", "modify"))
	bus.Unsubscribe(id)
	bus.Publish(NewFileChangeEvent("/p", "/p/a.go", "modify"))

	if calls != 1 {
		t.Errorf("handler called %d times after unsubscribe, want 1", calls)
	}
}

func TestUnsubscribeUnknownIDIsNoop(t *testing.T) {
	bus := NewBus()
	bus.Unsubscribe("sub-999")
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus()

	var types []string
	bus.SubscribeAll(func(e Event) {
		types = append(types, e.EventType())
	})

	bus.Publish(NewFileChangeEvent("/p", "/p/a.go", "create"))
	bus.Publish(NewMonitoringStoppedEvent("/p"))

	want := []string{"fileChange", "monitoringStopped"}
	if len(types) != len(want) {
		t.Fatalf("got %d events, want %d", len(types), len(want))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus()

	bus.Subscribe("taskStarted", func(Event) { panic("boom") })
	called := false
	bus.Subscribe("taskStarted", func(Event) { called = true })

	bus.Publish(NewTaskStartedEvent("task-1", "do the thing", "/p", false))

	if !called {
		t.Error("second handler not called after first panicked")
	}
}

func TestSubscriptionIDsAreUnique(t *testing.T) {
	bus := NewBus()

	seen := make(map[string]bool)
	for range 100 {
		id := bus.Subscribe("x", func(Event) {})
		if seen[id] {
			t.Fatalf("duplicate subscription id %q", id)
		}
		seen[id] = true
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var count atomic.Int64
	bus.Subscribe("processOutput", func(Event) { count.Add(1) })

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				bus.Publish(NewProcessOutputEvent("inst-1", StreamErr, "x"))
			}
		}()
	}
	wg.Wait()

	if count.Load() != 1000 {
		t.Errorf("delivered %d events, want 1000", count.Load())
	}
}

func TestEventTimestamp(t *testing.T) {
	before := time.Now()
	e := NewInstanceTerminatedEvent("inst-1")
	after := time.Now()

	if e.Timestamp().Before(before) || e.Timestamp().After(after) {
		t.Errorf("timestamp %v outside [%v, %v]", e.Timestamp(), before, after)
	}
}
