package replay

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"teamclaude/internal/sprint/broadcast"
)

func TestRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sprint-1.jsonl")
	r, err := NewRecorder(path, nil)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	r.Record(broadcast.Event{Type: broadcast.EventTaskUpdated, Payload: map[string]any{"taskId": "1"}})
	r.Record(broadcast.Event{Type: broadcast.EventMessageSent, Payload: map[string]any{"from": "a"}})
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Event.Type != broadcast.EventTaskUpdated {
		t.Errorf("expected first record type task_updated, got %v", records[0].Event.Type)
	}
	if records[0].Timestamp > records[1].Timestamp {
		t.Errorf("expected non-decreasing timestamps, got %d then %d", records[0].Timestamp, records[1].Timestamp)
	}
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	records, err := Load(filepath.Join(t.TempDir(), "missing.jsonl"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if records != nil {
		t.Errorf("expected nil records for missing file, got %v", records)
	}
}

type collectingSender struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (c *collectingSender) Send(e broadcast.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collectingSender) snapshot() []broadcast.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]broadcast.Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestSessionSendsStartAndComplete(t *testing.T) {
	records := []Record{
		{Timestamp: 10, Event: broadcast.Event{Type: broadcast.EventTaskUpdated}},
		{Timestamp: 20, Event: broadcast.Event{Type: broadcast.EventMessageSent}},
	}
	sender := &collectingSender{}
	session := NewSession(records, sender, 20.0) // fast-forwarded so the test doesn't block long

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for replay session to complete")
	}

	events := sender.snapshot()
	if len(events) != 4 { // start + 2 records + complete
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}
	if events[0].Type != broadcast.EventReplayStart {
		t.Errorf("expected first event replay_start, got %v", events[0].Type)
	}
	if events[len(events)-1].Type != broadcast.EventReplayComplete {
		t.Errorf("expected last event replay_complete, got %v", events[len(events)-1].Type)
	}
}
