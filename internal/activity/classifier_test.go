package activity

import (
	"strings"
	"testing"

	"github.com/Iron-Ham/beacon/internal/event"
)

func newTestClassifier(t *testing.T) (*Classifier, *Store, *event.Bus) {
	t.Helper()
	bus := event.NewBus()
	store := NewStore(100)
	c, err := NewClassifier(Config{Bus: bus, Store: store})
	if err != nil {
		t.Fatalf("NewClassifier() error = %v", err)
	}
	return c, store, bus
}

func TestClassifyLine(t *testing.T) {
	c, _, _ := newTestClassifier(t)

	tests := []struct {
		name     string
		line     string
		wantType Type
		minScore float64
	}{
		{name: "test command", line: "Running go test ./... now", wantType: TypeTestRun, minScore: 0.8},
		{name: "tests passed", line: "12 tests passed", wantType: TypeTestRun, minScore: 0.9},
		{name: "test failure", line: "FAIL: TestFoo", wantType: TypeTestRun, minScore: 0.9},
		{name: "tests failed count", line: "3 tests failed", wantType: TypeTestRun, minScore: 0.9},
		{name: "git operation", line: "git commit -m 'fix'", wantType: TypeGitOperation, minScore: 0.8},
		{name: "panic", line: "panic: runtime error", wantType: TypeError, minScore: 0.9},
		{name: "fatal with colon", line: "fatal: not a git repository", wantType: TypeError, minScore: 0.9},
		{name: "plain error", line: "an error occurred", wantType: TypeError, minScore: 0.7},
		{name: "completion", line: "Task completed.", wantType: TypeCompletion, minScore: 0.7},
		{name: "shell command", line: "$ ls -la", wantType: TypeCommandRun, minScore: 0.6},
		{name: "file edit", line: "editing file server.go", wantType: TypeFileEdit, minScore: 0.7},
		{name: "unmatched output", line: "some ordinary narration", wantType: TypeOutput, minScore: baselineScore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := c.ClassifyLine("inst-1", tt.line)
			if !ok {
				t.Fatal("ClassifyLine() ok = false, want true")
			}
			if rec.Type != tt.wantType {
				t.Errorf("type = %q, want %q", rec.Type, tt.wantType)
			}
			if rec.Score < tt.minScore {
				t.Errorf("score = %v, want >= %v", rec.Score, tt.minScore)
			}
			if rec.InstanceID != "inst-1" {
				t.Errorf("instance = %q, want %q", rec.InstanceID, "inst-1")
			}
		})
	}
}

func TestClassifyLineBlank(t *testing.T) {
	c, _, _ := newTestClassifier(t)
	if _, ok := c.ClassifyLine("inst-1", "   \t "); ok {
		t.Error("ClassifyLine(blank) ok = true, want false")
	}
}

func TestClassifyLineTruncatesDescription(t *testing.T) {
	c, _, _ := newTestClassifier(t)
	rec, ok := c.ClassifyLine("inst-1", strings.Repeat("x", 500))
	if !ok {
		t.Fatal("ClassifyLine() ok = false, want true")
	}
	if len(rec.Description) != maxDescription {
		t.Errorf("description length = %d, want %d", len(rec.Description), maxDescription)
	}
}

func TestClassifierConsumesProcessOutput(t *testing.T) {
	c, store, bus := newTestClassifier(t)
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	var parsed []event.ActivityParsedEvent
	bus.Subscribe("activityParsed", func(e event.Event) {
		parsed = append(parsed, e.(event.ActivityParsedEvent))
	})

	bus.Publish(event.NewProcessOutputEvent("inst-1", event.StreamOut, "git push origin main\n\nall tests pass"))

	if store.Len() != 2 {
		t.Fatalf("store has %d records, want 2 (blank line skipped)", store.Len())
	}
	if len(parsed) != 2 {
		t.Fatalf("published %d activityParsed events, want 2", len(parsed))
	}
	if parsed[0].Activity.Type != string(TypeGitOperation) {
		t.Errorf("first record type = %q, want %q", parsed[0].Activity.Type, TypeGitOperation)
	}
}

func TestClassifierConsumesFileChanges(t *testing.T) {
	c, store, bus := newTestClassifier(t)
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	bus.Publish(event.NewFileChangeEvent("/proj", "/proj/main.go", "modify"))

	list := store.List(0, TypeFileEdit)
	if len(list) != 1 {
		t.Fatalf("store has %d file_edit records, want 1", len(list))
	}
	if list[0].Path != "/proj/main.go" {
		t.Errorf("path = %q, want %q", list[0].Path, "/proj/main.go")
	}
}

func TestClassifierStartTwice(t *testing.T) {
	c, _, _ := newTestClassifier(t)
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()
	if err := c.Start(); err == nil {
		t.Error("second Start() = nil, want error")
	}
}

func TestClassifierStopDetaches(t *testing.T) {
	c, store, bus := newTestClassifier(t)
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	c.Stop()

	bus.Publish(event.NewProcessOutputEvent("inst-1", event.StreamOut, "error everywhere"))
	if store.Len() != 0 {
		t.Errorf("store has %d records after Stop, want 0", store.Len())
	}
}
