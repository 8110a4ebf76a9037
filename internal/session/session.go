// Package session decides whether a new task against a project should
// continue the agent's prior conversation, and builds the execution prompt
// handed to the agent binary.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultWindow is how recently a project must have been active for a new
// task to continue its session.
const DefaultWindow = 30 * time.Minute

// Tracker records per-project last-activity timestamps and answers
// continuation decisions. Safe for concurrent use. State is in-memory only.
type Tracker struct {
	window time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time
	now      func() time.Time // swapped in tests
}

// NewTracker creates a Tracker with the given continuation window.
// Non-positive window falls back to DefaultWindow.
func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		window:   window,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// ShouldContinue reports whether projectPath saw a task recently enough to
// continue its session rather than starting fresh.
func (t *Tracker) ShouldContinue(projectPath string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.lastSeen[projectPath]
	if !ok {
		return false
	}
	return t.now().Sub(last) <= t.window
}

// Touch records activity for projectPath now.
func (t *Tracker) Touch(projectPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen[projectPath] = t.now()
}

// Task is the caller-supplied description of work to execute.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ProjectContext describes where and with what a task runs.
type ProjectContext struct {
	ProjectPath    string `json:"projectPath"`
	ExecutablePath string `json:"executablePath"`
	ProjectType    string `json:"projectType"`
}

// BuildPrompt renders the execution prompt for one task. The prompt leads
// with the title so progress output stays attributable, then the longer
// description, then the project context.
func BuildPrompt(task Task, ctx ProjectContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Complete the following task: %s\n", task.Title)
	if task.Description != "" && task.Description != task.Title {
		fmt.Fprintf(&b, "\n%s\n", task.Description)
	}
	if ctx.ProjectPath != "" {
		fmt.Fprintf(&b, "\nWork in the project at %s.", ctx.ProjectPath)
	}
	if ctx.ProjectType != "" {
		fmt.Fprintf(&b, " The project is a %s project.", ctx.ProjectType)
	}
	b.WriteString(" When you are done, summarize what changed.")

	return b.String()
}
