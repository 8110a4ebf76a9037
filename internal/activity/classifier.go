package activity

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/beacon/internal/event"
	"github.com/Iron-Ham/beacon/internal/logging"
)

// rule maps a text pattern to an activity type and significance score.
type rule struct {
	pattern *regexp.Regexp
	typ     Type
	score   float64
}

// Ordered: the first matching rule wins, so specific patterns come before
// generic ones.
var rules = []rule{
	{regexp.MustCompile(`(?i)\b(go test|pytest|npm test|jest|cargo test)\b`), TypeTestRun, 0.8},
	{regexp.MustCompile(`(?i)\b(\d+ (tests? )?pass(ed)?|all tests pass)\b`), TypeTestRun, 0.9},
	// Colon-terminated literals carry no trailing \b: a boundary can never
	// match between the colon and the space that follows it.
	{regexp.MustCompile(`(?i)\b(\d+ (tests? )?fail(ed)?\b|FAIL:)`), TypeTestRun, 0.95},
	{regexp.MustCompile(`(?i)\bgit (commit|push|pull|merge|rebase|checkout|branch)\b`), TypeGitOperation, 0.85},
	{regexp.MustCompile(`(?i)\b(panic:|(fatal|exception|traceback)\b)`), TypeError, 0.95},
	{regexp.MustCompile(`(?i)\berror\b`), TypeError, 0.7},
	{regexp.MustCompile(`(?i)\b(task )?(complete[d]?|finished|done)[.!]?\s*$`), TypeCompletion, 0.75},
	{regexp.MustCompile(`(?i)^\s*\$\s+\S+`), TypeCommandRun, 0.6},
	{regexp.MustCompile(`(?i)\b(writing|editing|creating|updating) (file )?\S+\.\w+`), TypeFileEdit, 0.7},
}

// baselineScore is assigned to output that matches no rule.
const baselineScore = 0.2

// maxDescription caps how much of a matched line is kept.
const maxDescription = 200

// Classifier consumes processOutput and fileChange events from the bus,
// turns them into scored records in the Store, and publishes each record as
// an activityParsed event for broadcast.
type Classifier struct {
	bus    *event.Bus
	store  *Store
	logger *logging.Logger
	nextID atomic.Uint64
	scope  *event.Scope
}

// Config holds dependencies for creating a Classifier.
type Config struct {
	Bus    *event.Bus
	Store  *Store
	Logger *logging.Logger
}

// NewClassifier creates a Classifier. Bus and Store are required.
func NewClassifier(cfg Config) (*Classifier, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("activity: Bus is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("activity: Store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}

	return &Classifier{
		bus:    cfg.Bus,
		store:  cfg.Store,
		logger: cfg.Logger.WithComponent("activity"),
	}, nil
}

// Start subscribes the classifier to its event sources. Calling Start twice
// without an intervening Stop is an error.
func (c *Classifier) Start() error {
	if c.scope != nil {
		return fmt.Errorf("activity: classifier already started")
	}
	scope := event.NewScope(c.bus)
	scope.Subscribe("processOutput", c.onProcessOutput)
	scope.Subscribe("fileChange", c.onFileChange)
	c.scope = scope
	return nil
}

// Stop removes the classifier's subscriptions. Idempotent.
func (c *Classifier) Stop() {
	if c.scope != nil {
		c.scope.Close()
		c.scope = nil
	}
}

// ClassifyLine scores a single line of process output and returns the
// resulting record. Blank lines yield ok=false.
func (c *Classifier) ClassifyLine(instanceID, line string) (Activity, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Activity{}, false
	}
	if len(trimmed) > maxDescription {
		trimmed = trimmed[:maxDescription]
	}

	rec := Activity{
		ID:          c.newID(),
		Type:        TypeOutput,
		Description: trimmed,
		Score:       baselineScore,
		InstanceID:  instanceID,
		Timestamp:   time.Now(),
	}
	for _, r := range rules {
		if r.pattern.MatchString(trimmed) {
			rec.Type = r.typ
			rec.Score = r.score
			break
		}
	}
	return rec, true
}

func (c *Classifier) newID() string {
	return fmt.Sprintf("act_%d_%d", time.Now().UnixNano(), c.nextID.Add(1))
}

func (c *Classifier) onProcessOutput(e event.Event) {
	out, ok := e.(event.ProcessOutputEvent)
	if !ok {
		return
	}
	for _, line := range strings.Split(out.Data, "\n") {
		rec, ok := c.ClassifyLine(out.InstanceID, line)
		if !ok {
			continue
		}
		c.record(rec)
	}
}

func (c *Classifier) onFileChange(e event.Event) {
	fc, ok := e.(event.FileChangeEvent)
	if !ok {
		return
	}
	c.record(Activity{
		ID:          c.newID(),
		Type:        TypeFileEdit,
		Description: fmt.Sprintf("%s %s", fc.Op, fc.Path),
		Score:       0.6,
		Path:        fc.Path,
		Timestamp:   time.Now(),
	})
}

// record stores the activity and announces it for broadcast.
func (c *Classifier) record(rec Activity) {
	c.store.Add(rec)
	c.bus.Publish(event.NewActivityParsedEvent(event.ActivityRecord{
		ID:          rec.ID,
		Type:        string(rec.Type),
		Description: rec.Description,
		Score:       rec.Score,
		InstanceID:  rec.InstanceID,
		Path:        rec.Path,
		Timestamp:   rec.Timestamp,
	}))
}
