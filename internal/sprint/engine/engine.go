// Package engine owns the single mutable SprintState per spec §5: all
// mutations — whether sourced from the watcher, the control API, or a
// verification/webhook completion — are processed sequentially on one
// goroutine via a command queue, the idiomatic Go rendering of "a single
// main execution context processes all state mutations sequentially."
package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"

	"teamclaude/internal/shared/logging"
	"teamclaude/internal/sprint/broadcast"
	"teamclaude/internal/sprint/budget"
	"teamclaude/internal/sprint/config"
	"teamclaude/internal/sprint/memory"
	"teamclaude/internal/sprint/model"
	"teamclaude/internal/sprint/paths"
	"teamclaude/internal/sprint/persistence"
	"teamclaude/internal/sprint/plugin"
	"teamclaude/internal/sprint/protocol"
	"teamclaude/internal/sprint/replay"
	"teamclaude/internal/sprint/telemetry"
	"teamclaude/internal/sprint/verify"
	"teamclaude/internal/sprint/watcher"
	"teamclaude/internal/sprint/webhook"
)

// Engine coordinates every sprint-core component around one SprintState.
type Engine struct {
	roots  paths.Roots
	logger logging.Logger

	state   *model.SprintState
	cursors *lru.Cache[string, int] // inbox file path -> messages already processed

	bus        *broadcast.Bus
	persistW   *persistence.Writer
	budgetTr   *budget.Tracker
	notifier   webhook.Notifier
	plugins    *plugin.Runner
	memories   *memory.Store
	learnings  *memory.LearningsStore
	recorder   *replay.Recorder
	metrics    *telemetry.MetricsCollector

	cfg    config.Config
	cfgSet bool

	watch *watcher.Watcher

	commands chan func(*Engine)
	stopCh   chan struct{}

	sprintID             string
	processLearningCount int
}

// cursorCacheSize bounds the per-inbox-path cursor table. A single team
// produces at most a handful of inbox files, but a long-lived daemon that
// watches many project trees (or one whose teams churn over weeks) should
// not grow this map without bound.
const cursorCacheSize = 10_000

// New constructs an Engine rooted at project, wiring every component's
// persistence path from paths.Roots.
func New(project string, logger logging.Logger) (*Engine, error) {
	roots, err := paths.NewRoots(project)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve roots: %w", err)
	}
	if err := roots.EnsureDataRoot(); err != nil {
		return nil, fmt.Errorf("engine: ensure data root: %w", err)
	}
	logger = logging.OrNop(logger)

	memories, err := memory.NewStore(roots.MemoriesFile(), logger)
	if err != nil {
		return nil, err
	}
	learnings, err := memory.NewLearningsStore(roots.LearningsFile(), logger)
	if err != nil {
		return nil, err
	}
	cursors, err := lru.New[string, int](cursorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("engine: new cursor cache: %w", err)
	}

	e := &Engine{
		roots:     roots,
		logger:    logger,
		state:     model.New(),
		cursors:   cursors,
		memories:  memories,
		learnings: learnings,
		notifier:  webhook.NopNotifier{},
		budgetTr:  budget.NewTracker(""),
		commands:  make(chan func(*Engine), 256),
		stopCh:    make(chan struct{}),
	}
	e.persistW = persistence.NewWriter(roots.StateFile(), e.snapshotState, logger)
	e.bus = broadcast.New(e.persistW, logger)
	return e, nil
}

// snapshotState returns the current state for the persistence writer. It is
// safe to call off the engine goroutine because the debounce timer only
// ever fires after SchedulePersist, which itself is only invoked from
// within a command running on the engine goroutine — by the time the timer
// fires, the command that scheduled it has already returned, so no lock is
// required beyond Go's own happens-before guarantee on channel sends.
func (e *Engine) snapshotState() *model.SprintState {
	return e.state
}

// ApplyConfig installs cfg, wiring the webhook notifier and plugin runner.
// Called on load and on every hot-reload from config.Watcher. The budget
// tracker's model pricing and the telemetry
// pipeline (metrics collector, tracer provider) are set only on the
// first call: tearing down and rebuilding a MeterProvider/TracerProvider on
// every hot-reload would either leak the previous exporter's goroutines or
// require plumbing shutdown through every component that holds one, for a
// section of .sprint.yml nothing expects to change at runtime.
func (e *Engine) ApplyConfig(cfg config.Config) {
	e.Enqueue(func(e *Engine) {
		e.cfg = cfg
		// Cached on first detection and not re-read thereafter (spec §4.4):
		// a hot-reload that changes sprint.token_budget mid-sprint must not
		// reset thresholds already evaluated against the old limit.
		if e.state.TokenBudgetConfig == nil {
			e.state.TokenBudgetConfig = cfg.BudgetConfig()
		}
		if cfg.Notifications.Webhook != "" {
			notifier := webhook.NewHTTPNotifier(cfg.Notifications.Webhook, e.logger,
				webhook.WithEvents(cfg.Notifications.Events),
				webhook.WithHeaders(cfg.Notifications.Headers))
			if e.metrics != nil {
				notifier.AttachMetrics(e.metrics)
			}
			e.notifier = notifier
		} else {
			e.notifier = webhook.NopNotifier{}
		}
		e.plugins = plugin.NewRunner(cfg.Plugins, e.logger)

		if !e.cfgSet {
			e.cfgSet = true
			e.budgetTr = budget.NewTracker(cfg.Agents.Model)
			e.initTelemetry(cfg.Telemetry)
		}
	})
}

// initTelemetry constructs the metrics collector and tracer provider once,
// per ApplyConfig's first-call guard, then attaches the collector to every
// component that records against it.
func (e *Engine) initTelemetry(cfg config.Telemetry) {
	metrics, err := telemetry.NewMetricsCollector(cfg.Metrics)
	if err != nil {
		e.logger.Warn("engine: telemetry metrics disabled: %v", err)
		metrics, _ = telemetry.NewMetricsCollector(telemetry.MetricsConfig{Enabled: false})
	}
	e.metrics = metrics
	e.bus.AttachMetrics(metrics)
	e.persistW.AttachMetrics(metrics)
	if notifier, ok := e.notifier.(*webhook.HTTPNotifier); ok {
		notifier.AttachMetrics(metrics)
	}

	tp, err := telemetry.NewTracerProvider(context.Background(), cfg.Tracing)
	if err != nil {
		e.logger.Warn("engine: telemetry tracing disabled: %v", err)
		return
	}
	otel.SetTracerProvider(tp)
}

// Enqueue submits fn to run on the engine goroutine, serialized with every
// other mutation. Safe to call from any goroutine (HTTP handlers, watcher
// callbacks, timer callbacks).
func (e *Engine) Enqueue(fn func(*Engine)) {
	select {
	case e.commands <- fn:
	case <-e.stopCh:
	}
}

// AttachWatcher wires w as the engine's filesystem event source. Call
// before Run.
func (e *Engine) AttachWatcher(w *watcher.Watcher) { e.watch = w }

// Run is the engine's single processing loop: it drains the command queue
// and the watcher's event channel until ctx is cancelled. This is the one
// goroutine permitted to touch e.state directly.
func (e *Engine) Run(ctx context.Context) {
	var watchEvents <-chan watcher.Event
	if e.watch != nil {
		watchEvents = e.watch.Events()
	}
	for {
		select {
		case <-ctx.Done():
			e.persistW.Flush()
			return
		case fn := <-e.commands:
			fn(e)
		case ev, ok := <-watchEvents:
			if !ok {
				watchEvents = nil
				continue
			}
			e.handleWatcherEvent(ev)
		}
	}
}

// Shutdown signals Enqueue callers that the engine is shutting down. It
// does not itself stop Run; cancel the context passed to Run for that.
func (e *Engine) Shutdown() { close(e.stopCh) }

// StateSnapshot returns a shallow copy of the current state's top-level
// fields for HTTP handlers. Maps and slices are shared, not deep-copied:
// callers must treat the result as read-only, since writes still only ever
// happen on the engine goroutine.
func (e *Engine) StateSnapshot() *model.SprintState {
	result := make(chan *model.SprintState, 1)
	e.Enqueue(func(e *Engine) {
		cp := *e.state
		result <- &cp
	})
	select {
	case s := <-result:
		return s
	case <-time.After(5 * time.Second):
		e.logger.Error("engine: StateSnapshot timed out")
		return model.New()
	}
}

// Bus exposes the broadcast bus for the HTTP layer to register/unregister
// WebSocket clients.
func (e *Engine) Bus() *broadcast.Bus { return e.bus }

// Memories exposes the agent-memory store, which is independent of
// SprintState and safe to call directly from HTTP handlers.
func (e *Engine) Memories() *memory.Store { return e.memories }

// Learnings exposes the process-learnings store.
func (e *Engine) Learnings() *memory.LearningsStore { return e.learnings }

// Roots exposes the resolved on-disk layout.
func (e *Engine) Roots() paths.Roots { return e.roots }

// Metrics exposes the telemetry collector for the HTTP layer's /metrics
// route. Nil until the first ApplyConfig call; callers should treat a nil
// result the same as a disabled collector.
func (e *Engine) Metrics() *telemetry.MetricsCollector { return e.metrics }

// broadcast is a small wrapper kept for call-site readability inside the
// engine goroutine: it guarantees the broadcast happens strictly after the
// mutation that produced it, since Go evaluates arguments before the call.
func (e *Engine) broadcast(evType broadcast.EventType, payload any) {
	e.bus.Broadcast(broadcast.Event{Type: evType, Payload: payload})
}

// systemMessage appends and broadcasts a host-authored message (sender
// "system"), used for one-shot init notices and transition narration.
func (e *Engine) systemMessage(to, content string) {
	msg := model.Message{
		ID:        fmt.Sprintf("%d-%d", time.Now().UnixNano(), len(e.state.Messages)),
		Timestamp: time.Now(),
		From:      "system",
		To:        to,
		Content:   content,
	}
	e.state.Messages = append(e.state.Messages, msg)
	e.broadcast(broadcast.EventMessageSent, msg)
}

// resetSprintState reinitializes e.state for a new sprint attempt and
// clears the inbox cursor map, used at sprint stop per spec §3 lifecycles.
func (e *Engine) resetSprintState() {
	e.state = model.New()
	if e.cfgSet {
		e.state.TokenBudgetConfig = e.cfg.BudgetConfig()
	}
	e.cursors.Purge()
	e.processLearningCount = 0
}

// decodeIfPresent decodes content for a protocol tag, returning a
// zero-value protocol.Decoded if none is present.
func decodeIfPresent(content string) protocol.Decoded {
	return protocol.Decode(content)
}

// verificationGateFor constructs a verify.Gate from the currently loaded
// config's verification.commands. No configured commands means Run passes
// trivially, matching "no configured commands ⇒ pass trivially" (spec
// §4.5).
func (e *Engine) verificationGateFor() *verify.Gate {
	wd, _ := os.Getwd()
	commands := make([]verify.Command, len(e.cfg.Verification.Commands))
	for i, c := range e.cfg.Verification.Commands {
		commands[i] = verify.Command{Name: c.Name, Run: c.Run}
	}
	gate := verify.NewGate(commands, wd, e.logger)
	if e.metrics != nil {
		gate.AttachMetrics(e.metrics)
	}
	return gate
}
