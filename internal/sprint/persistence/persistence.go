// Package persistence implements the debounced state.json writer and the
// best-effort resume loader. Debounce-then-atomic-write is adapted from the
// teacher's InMemoryTaskStore.persistLocked; the 500ms trailing-delay
// coalescing policy is the spec's own (§4.3).
package persistence

import (
	"sync"
	"time"

	"teamclaude/internal/infra/filestore"
	jsonx "teamclaude/internal/shared/json"
	"teamclaude/internal/shared/logging"
	"teamclaude/internal/sprint/model"
)

const debounceDelay = 500 * time.Millisecond

// snapshot is the on-disk shape of state.json: SprintState's persisted
// fields only, with runtime-only fields (TmuxAvailable, TmuxSessionName,
// ProjectName) excluded via model.SprintState's own json tags.
type snapshot = model.SprintState

// StateFunc returns the current SprintState snapshot to persist. It is
// called on the engine goroutine inside SchedulePersist's caller, or on the
// debounce timer goroutine — callers must supply a thread-safe snapshot
// function (typically one that copies under the engine's own lock).
type StateFunc func() *model.SprintState

// Metrics counts every actual write to disk, debounced or forced. Satisfied
// by *telemetry.MetricsCollector; optional, nil by default.
type Metrics interface {
	RecordPersistenceWrite()
}

// Writer debounces writes of the current state to a single file path.
type Writer struct {
	path    string
	stateFn StateFunc
	logger  logging.Logger
	metrics Metrics

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
}

// NewWriter constructs a Writer that persists to path on demand.
func NewWriter(path string, stateFn StateFunc, logger logging.Logger) *Writer {
	return &Writer{path: path, stateFn: stateFn, logger: logging.OrNop(logger)}
}

// AttachMetrics attaches m so every future write is also counted.
func (w *Writer) AttachMetrics(m Metrics) { w.metrics = m }

// SchedulePersist (re)schedules a debounced write, cancelling any pending
// one. At most one write is ever in flight.
func (w *Writer) SchedulePersist() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.pending = true
	w.timer = time.AfterFunc(debounceDelay, w.flush)
}

func (w *Writer) flush() {
	w.mu.Lock()
	if !w.pending {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	state := w.stateFn()
	data, err := filestore.MarshalJSONIndent(state)
	if err != nil {
		w.logger.Error("persistence: marshal state: %v", err)
		return
	}
	if err := filestore.AtomicWrite(w.path, data, 0o644); err != nil {
		w.logger.Error("persistence: write %s: %v", w.path, err)
		return
	}
	if w.metrics != nil {
		w.metrics.RecordPersistenceWrite()
	}
}

// Flush forces an immediate synchronous write, cancelling any pending
// debounced write. Call this on shutdown so the last mutation is never
// lost to an un-fired timer.
func (w *Writer) Flush() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pending = false
	w.mu.Unlock()

	state := w.stateFn()
	data, err := filestore.MarshalJSONIndent(state)
	if err != nil {
		w.logger.Error("persistence: marshal state: %v", err)
		return
	}
	if err := filestore.AtomicWrite(w.path, data, 0o644); err != nil {
		w.logger.Error("persistence: flush %s: %v", w.path, err)
		return
	}
	if w.metrics != nil {
		w.metrics.RecordPersistenceWrite()
	}
}

// Load reads state.json and returns a resumed SprintState. Any read or
// parse error is swallowed and (nil, false) returned: resume is
// best-effort, per spec §4.3 — a malformed file must never abort startup.
func Load(path string, logger logging.Logger) (*model.SprintState, bool) {
	logger = logging.OrNop(logger)
	data, err := filestore.ReadFileOrEmpty(path)
	if err != nil {
		logger.Warn("persistence: read %s: %v", path, err)
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	state := model.New()
	if err := jsonx.Unmarshal(data, state); err != nil {
		logger.Warn("persistence: malformed state at %s, ignoring: %v", path, err)
		return nil, false
	}
	// Runtime-only fields carry json:"-" tags on model.SprintState, so they
	// were never populated by Unmarshal; nothing further to strip here.
	return state, true
}
