// Package broadcast is the event bus: one call fans an event out to every
// connected WebSocket client, schedules a debounced state persist, and
// forwards to the replay recorder if one is attached. Modeled on the
// teacher's SSEBroadcaster client-registry shape, generalized from
// per-session SSE channels to team-scoped websocket connections.
package broadcast

import (
	"sync"

	jsonx "teamclaude/internal/shared/json"
	"teamclaude/internal/shared/logging"
)

// EventType discriminates the closed union of broadcastable events.
type EventType string

const (
	EventInit                  EventType = "init"
	EventTaskUpdated           EventType = "task_updated"
	EventMessageSent            EventType = "message_sent"
	EventAgentStatus            EventType = "agent_status"
	EventPaused                 EventType = "paused"
	EventEscalation             EventType = "escalation"
	EventMergeConflict           EventType = "merge_conflict"
	EventCycleInfo               EventType = "cycle_info"
	EventTokenUsage              EventType = "token_usage"
	EventCheckpoint              EventType = "checkpoint"
	EventValidation              EventType = "validation"
	EventTaskValidation          EventType = "task_validation"
	EventProcessStarted          EventType = "process_started"
	EventProcessExited           EventType = "process_exited"
	EventTerminalOutput          EventType = "terminal_output"
	EventPanesDiscovered         EventType = "panes_discovered"
	EventWebhookStatus           EventType = "webhook_status"
	EventTokenBudgetApproaching  EventType = "token_budget_approaching"
	EventTokenBudgetExceeded     EventType = "token_budget_exceeded"
	EventReplayStart             EventType = "replay_start"
	EventReplayComplete          EventType = "replay_complete"
)

// highVolumeEvents bypass persistence and recording: they're replay-irrelevant
// and would otherwise dominate both the persisted snapshot and the recording.
var highVolumeEvents = map[EventType]bool{
	EventTerminalOutput:  true,
	EventPanesDiscovered: true,
}

// Event is the envelope sent to every client: {type, ...payload fields}.
// Payload is flattened into the envelope at marshal time so clients see a
// single flat JSON object keyed by "type", matching the spec's closed union.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"-"`
}

// MarshalJSON flattens Payload's fields alongside Type.
func (e Event) MarshalJSON() ([]byte, error) {
	payloadBytes, err := jsonx.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	if e.Payload == nil || string(payloadBytes) == "null" {
		return jsonx.Marshal(map[string]any{"type": e.Type})
	}
	var fields map[string]any
	if err := jsonx.Unmarshal(payloadBytes, &fields); err != nil {
		// Payload wasn't object-shaped; nest it instead of dropping it.
		return jsonx.Marshal(map[string]any{"type": e.Type, "data": e.Payload})
	}
	fields["type"] = e.Type
	return jsonx.Marshal(fields)
}

// Client is anything that can receive a serialized event, satisfied by a
// websocket connection wrapper in internal/delivery/http.
type Client interface {
	Send(data []byte) error
}

// Recorder receives every non-excluded event for append-only replay logging.
type Recorder interface {
	Record(e Event)
}

// Persister is invoked, debounced, after any non-excluded event.
type Persister interface {
	SchedulePersist()
}

// Metrics receives a count of every broadcast event, keyed by type.
// Satisfied by *telemetry.MetricsCollector; optional, nil by default.
type Metrics interface {
	RecordEventBroadcast(eventType string)
}

// Bus fans events out to registered clients and drives the side effects
// (persistence scheduling, recording) the spec requires per broadcast.
type Bus struct {
	mu       sync.RWMutex
	clients  map[string]Client
	recorder Recorder
	persist  Persister
	metrics  Metrics
	logger   logging.Logger
}

// AttachMetrics attaches m so every future broadcast is also counted.
func (b *Bus) AttachMetrics(m Metrics) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = m
}

// New constructs an empty Bus. Attach/Detach manage the optional recorder.
func New(persist Persister, logger logging.Logger) *Bus {
	return &Bus{
		clients: make(map[string]Client),
		persist: persist,
		logger:  logging.OrNop(logger),
	}
}

// RegisterClient adds a client under id, replacing any existing registration.
func (b *Bus) RegisterClient(id string, c Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[id] = c
}

// UnregisterClient removes the client registered under id.
func (b *Bus) UnregisterClient(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, id)
}

// ClientCount reports the number of currently registered clients.
func (b *Bus) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// AttachRecorder attaches r so every future non-excluded broadcast is also
// recorded. Call DetachRecorder at sprint stop.
func (b *Bus) AttachRecorder(r Recorder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recorder = r
}

// DetachRecorder clears the attached recorder, if any.
func (b *Bus) DetachRecorder() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recorder = nil
}

// Broadcast sends e to every registered client, then — unless e's type is
// high-volume — schedules a debounced persist and forwards to the recorder.
// The order here (fan-out first) is what the spec means by "never
// re-orders events relative to the mutation that produced them": callers
// must call Broadcast synchronously, in mutation order, from the single
// engine goroutine.
func (b *Bus) Broadcast(e Event) {
	data, err := jsonx.Marshal(e)
	if err != nil {
		b.logger.Error("broadcast: marshal event %s: %v", e.Type, err)
		return
	}

	b.mu.RLock()
	clients := make([]Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	recorder := b.recorder
	metrics := b.metrics
	b.mu.RUnlock()

	for _, c := range clients {
		if err := c.Send(data); err != nil {
			b.logger.Debug("broadcast: client send failed: %v", err)
		}
	}

	if metrics != nil {
		metrics.RecordEventBroadcast(string(e.Type))
	}

	if highVolumeEvents[e.Type] {
		return
	}
	if recorder != nil {
		recorder.Record(e)
	}
	if b.persist != nil {
		b.persist.SchedulePersist()
	}
}

// SendInit sends the initial state snapshot to a single newly connected
// client, bypassing fan-out to every other client.
func (b *Bus) SendInit(c Client, state any) {
	e := Event{Type: EventInit, Payload: state}
	data, err := jsonx.Marshal(e)
	if err != nil {
		b.logger.Error("broadcast: marshal init event: %v", err)
		return
	}
	if err := c.Send(data); err != nil {
		b.logger.Debug("broadcast: init send failed: %v", err)
	}
}
