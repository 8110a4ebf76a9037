// Package watcher monitors project directories for file system changes and
// publishes typed change events on the bus. Each monitored project path
// gets a recursive fsnotify watch; noisy paths are filtered by glob
// patterns before any event leaves the package.
package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/Iron-Ham/beacon/internal/errors"
	"github.com/Iron-Ham/beacon/internal/event"
	"github.com/Iron-Ham/beacon/internal/logging"
)

// Options controls monitoring of one project path.
type Options struct {
	// Ignore adds glob patterns (matched against the path relative to the
	// project root) on top of the watcher-wide defaults.
	Ignore []string
}

// MonitoredPath describes one active monitor for status reporting.
type MonitoredPath struct {
	ProjectPath string    `json:"projectPath"`
	Since       time.Time `json:"since"`
}

// Status is the watcher's answer to a monitoring-status query.
type Status struct {
	Active bool            `json:"active"`
	Paths  []MonitoredPath `json:"paths"`
}

// monitor is one project-path watch.
type monitor struct {
	root    string
	since   time.Time
	watcher *fsnotify.Watcher
	ignore  []glob.Glob
	done    chan struct{}
}

// Watcher manages per-project fsnotify watches. Safe for concurrent use.
type Watcher struct {
	bus           *event.Bus
	logger        *logging.Logger
	defaultIgnore []glob.Glob

	mu       sync.Mutex
	monitors map[string]*monitor
	wg       sync.WaitGroup
}

// Config holds dependencies for creating a Watcher.
type Config struct {
	Bus *event.Bus
	// Ignore is the set of glob patterns filtered on every monitor,
	// matched against slash-separated paths relative to the project root.
	Ignore []string
	Logger *logging.Logger
}

// New creates a Watcher. The bus is required.
func New(cfg Config) (*Watcher, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("watcher: Bus is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}

	ignore, err := compileGlobs(cfg.Ignore)
	if err != nil {
		return nil, err
	}

	return &Watcher{
		bus:           cfg.Bus,
		logger:        cfg.Logger.WithComponent("watcher"),
		defaultIgnore: ignore,
		monitors:      make(map[string]*monitor),
	}, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("watcher: invalid ignore pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Start begins monitoring projectPath. Starting an already-monitored path
// is idempotent: the existing monitor is kept and no second
// monitoringStarted is emitted.
func (w *Watcher) Start(projectPath string, opts Options) error {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return errors.NewValidationError("projectPath", err.Error())
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return errors.NewValidationError("projectPath", fmt.Sprintf("%s is not a directory", projectPath))
	}

	extra, err := compileGlobs(opts.Ignore)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if _, ok := w.monitors[abs]; ok {
		w.mu.Unlock()
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("watcher: %w", err)
	}

	m := &monitor{
		root:    abs,
		since:   time.Now(),
		watcher: fsw,
		ignore:  append(append([]glob.Glob{}, w.defaultIgnore...), extra...),
		done:    make(chan struct{}),
	}
	w.monitors[abs] = m
	w.mu.Unlock()

	if err := w.addRecursive(m, abs); err != nil {
		w.mu.Lock()
		delete(w.monitors, abs)
		w.mu.Unlock()
		fsw.Close()
		return err
	}

	w.wg.Add(1)
	go w.run(m)

	w.logger.Info("monitoring started", "project_path", abs)
	w.bus.Publish(event.NewMonitoringStartedEvent(abs))
	return nil
}

// Stop ends monitoring for projectPath. Returns false if the path is not
// monitored; no event is emitted in that case.
func (w *Watcher) Stop(projectPath string) bool {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return false
	}

	w.mu.Lock()
	m, ok := w.monitors[abs]
	if !ok {
		w.mu.Unlock()
		return false
	}
	delete(w.monitors, abs)
	w.mu.Unlock()

	close(m.done)
	m.watcher.Close()

	w.logger.Info("monitoring stopped", "project_path", abs)
	w.bus.Publish(event.NewMonitoringStoppedEvent(abs))
	return true
}

// Status reports all currently monitored paths, ordered by path.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	paths := make([]MonitoredPath, 0, len(w.monitors))
	for _, m := range w.monitors {
		paths = append(paths, MonitoredPath{ProjectPath: m.root, Since: m.since})
	}
	w.mu.Unlock()

	sort.Slice(paths, func(a, b int) bool {
		return paths[a].ProjectPath < paths[b].ProjectPath
	})
	return Status{Active: len(paths) > 0, Paths: paths}
}

// Close stops all monitors. Safe to call multiple times.
func (w *Watcher) Close() {
	w.mu.Lock()
	roots := make([]string, 0, len(w.monitors))
	for root := range w.monitors {
		roots = append(roots, root)
	}
	w.mu.Unlock()

	for _, root := range roots {
		w.Stop(root)
	}
	w.wg.Wait()
}

// addRecursive registers fsnotify watches for dir and every non-ignored
// subdirectory.
func (w *Watcher) addRecursive(m *monitor, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		if path != m.root && w.ignored(m, path) {
			return filepath.SkipDir
		}
		if err := m.watcher.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// ignored reports whether path (absolute) matches any ignore glob.
func (w *Watcher) ignored(m *monitor, path string) bool {
	rel, err := filepath.Rel(m.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, g := range m.ignore {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// run pumps fsnotify events for one monitor until it is stopped.
func (w *Watcher) run(m *monitor) {
	defer w.wg.Done()

	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			w.handle(m, ev)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "project_path", m.root, "error", err)
		}
	}
}

// handle filters one raw fsnotify event and publishes the typed change.
func (w *Watcher) handle(m *monitor, ev fsnotify.Event) {
	if w.ignored(m, ev.Name) {
		return
	}

	op := opString(ev.Op)
	if op == "" {
		return
	}

	// A created directory is watched from now on, and reported as a
	// directory change rather than a file change.
	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
		if ev.Op.Has(fsnotify.Create) {
			if err := w.addRecursive(m, ev.Name); err != nil {
				w.logger.Warn("failed to extend watch", "path", ev.Name, "error", err)
			}
		}
		w.bus.Publish(event.NewDirectoryChangeEvent(m.root, ev.Name, op))
		return
	}

	// Removes and renames cannot be stat'd; treat them as file changes
	// unless fsnotify kept a watch on the path (directory case above).
	w.bus.Publish(event.NewFileChangeEvent(m.root, ev.Name, op))
}

// opString maps an fsnotify op bitmask onto the wire vocabulary.
func opString(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "modify"
	case op.Has(fsnotify.Remove):
		return "delete"
	case op.Has(fsnotify.Rename):
		return "rename"
	case op.Has(fsnotify.Chmod):
		return ""
	default:
		return ""
	}
}
