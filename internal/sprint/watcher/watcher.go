// Package watcher observes the team-config and task directory trees (plus
// the per-team inbox subtree nested under team configs) and emits
// stabilized, classified file events for the engine to process. Recursive
// tree watching, per-path debounce, and the startup-scan/ready split are
// adapted from the teacher's RuntimeConfigWatcher, generalized from a
// single watched file to two watched trees with path-based classification.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"teamclaude/internal/async"
	"teamclaude/internal/shared/logging"
)

// Kind classifies a routed file event by the path predicate table in spec §4.1.
type Kind int

const (
	KindIgnore Kind = iota
	KindTeamConfig
	KindInbox
	KindTaskFile
)

// Classify routes path to a Kind using the predicate table: team config
// files end in /teams/.../config.json, inbox files live under /inboxes/,
// task files live under /tasks/. Lock and high-watermark suffixes are never
// delivered.
func Classify(path string) Kind {
	if strings.HasSuffix(path, ".lock") || strings.HasSuffix(path, ".hwm") {
		return KindIgnore
	}
	if !strings.HasSuffix(path, ".json") {
		return KindIgnore
	}
	slashed := filepath.ToSlash(path)
	switch {
	case strings.Contains(slashed, "/inboxes/"):
		return KindInbox
	case strings.HasSuffix(slashed, "/config.json") && strings.Contains(slashed, "/teams/"):
		return KindTeamConfig
	case strings.Contains(slashed, "/tasks/"):
		return KindTaskFile
	default:
		return KindIgnore
	}
}

// Event is a stabilized, classified file change ready for processing.
type Event struct {
	Kind Kind
	Path string
}

// stalenessThreshold bounds the initial full scan: files untouched longer
// than this are assumed to belong to a long-finished sprint and are
// skipped, so a daemon restart doesn't reprocess stale inboxes.
const stalenessThreshold = 2 * time.Hour

// stabilizeDelay is the quiet period after a file's last write before its
// event is delivered, avoiding torn reads of an in-progress write.
const stabilizeDelay = 150 * time.Millisecond

// Watcher recursively watches the teams/ and tasks/ trees rooted at two
// directories, classifying and debouncing events before emitting them on
// Events().
type Watcher struct {
	teamsRoot string
	tasksRoot string
	logger    logging.Logger

	fsw    *fsnotify.Watcher
	events chan Event
	stopCh chan struct{}

	mu      sync.Mutex
	timers  map[string]*time.Timer
	ready   bool
}

// New constructs a Watcher over the two given root directories. Either may
// not exist yet; Start creates nothing and skips a missing root. A root
// that is missing when Start runs is not watched if it appears later.
func New(teamsRoot, tasksRoot string, logger logging.Logger) *Watcher {
	return &Watcher{
		teamsRoot: teamsRoot,
		tasksRoot: tasksRoot,
		logger:    logging.OrNop(logger),
		events:    make(chan Event, 256),
		stopCh:    make(chan struct{}),
		timers:    make(map[string]*time.Timer),
	}
}

// Events returns the channel of classified, stabilized file events.
func (w *Watcher) Events() <-chan Event { return w.events }

// Start performs the initial full scan (honoring the staleness threshold)
// and begins watching both trees for subsequent changes.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	for _, root := range []string{w.teamsRoot, w.tasksRoot} {
		if err := w.addTreeRecursive(root); err != nil {
			w.logger.Warn("watcher: add tree %s: %v", root, err)
		}
	}

	w.scanInitial()
	w.mu.Lock()
	w.ready = true
	w.mu.Unlock()

	async.Go(w.logger, "watcher.loop", w.watchLoop)
	if ctx != nil {
		async.Go(w.logger, "watcher.loop.ctx", func() {
			<-ctx.Done()
			w.Stop()
		})
	}
	return nil
}

// Stop closes the underlying fsnotify watcher and cancels pending timers.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
}

// addTreeRecursive walks root and adds every directory (including root
// itself) to the fsnotify watch set, since fsnotify does not watch
// subtrees automatically.
func (w *Watcher) addTreeRecursive(root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entry: skip, don't abort the whole walk
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				w.logger.Warn("watcher: add dir %s: %v", path, err)
			}
		}
		return nil
	})
}

// scanInitial walks both trees once at startup, delivering events for
// files no older than the staleness threshold. This runs before ready is
// set so events during the walk are attributed to the scan, not to a race
// with a concurrent fsnotify delivery.
func (w *Watcher) scanInitial() {
	cutoff := time.Now().Add(-stalenessThreshold)
	for _, root := range []string{w.teamsRoot, w.tasksRoot} {
		if _, err := os.Stat(root); os.IsNotExist(err) {
			continue
		}
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			kind := Classify(path)
			if kind == KindIgnore {
				return nil
			}
			info, err := d.Info()
			if err != nil || info.ModTime().Before(cutoff) {
				return nil
			}
			w.emit(Event{Kind: kind, Path: path})
			return nil
		})
	}
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher: fsnotify error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTreeRecursive(event.Name); err != nil {
				w.logger.Warn("watcher: add new dir %s: %v", event.Name, err)
			}
			return
		}
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	kind := Classify(event.Name)
	if kind == KindIgnore {
		return
	}
	w.scheduleStabilized(kind, event.Name)
}

// scheduleStabilized debounces per-path so a burst of writes to the same
// file collapses into one delivered event after stabilizeDelay of quiet.
func (w *Watcher) scheduleStabilized(kind Kind, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(stabilizeDelay, func() {
		w.emit(Event{Kind: kind, Path: path})
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
	})
}

func (w *Watcher) emit(e Event) {
	select {
	case w.events <- e:
	case <-w.stopCh:
	}
}
