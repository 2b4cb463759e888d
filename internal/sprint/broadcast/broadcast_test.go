package broadcast

import (
	"sync"
	"testing"

	jsonx "teamclaude/internal/shared/json"
)

type fakeClient struct {
	mu   sync.Mutex
	got  [][]byte
	fail bool
}

func (f *fakeClient) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errFailing
	}
	f.got = append(f.got, data)
	return nil
}

var errFailing = &sendError{}

type sendError struct{}

func (*sendError) Error() string { return "send failed" }

type fakePersister struct {
	mu    sync.Mutex
	calls int
}

func (p *fakePersister) SchedulePersist() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *fakeRecorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestBroadcastFansOutAndPersists(t *testing.T) {
	persist := &fakePersister{}
	bus := New(persist, nil)
	c1, c2 := &fakeClient{}, &fakeClient{}
	bus.RegisterClient("c1", c1)
	bus.RegisterClient("c2", c2)

	bus.Broadcast(Event{Type: EventTaskUpdated, Payload: map[string]any{"taskId": "1"}})

	if len(c1.got) != 1 || len(c2.got) != 1 {
		t.Fatalf("expected both clients to receive the event, got %d and %d", len(c1.got), len(c2.got))
	}
	if persist.calls != 1 {
		t.Fatalf("expected one persist schedule, got %d", persist.calls)
	}
}

func TestBroadcastHighVolumeSkipsPersistAndRecording(t *testing.T) {
	persist := &fakePersister{}
	rec := &fakeRecorder{}
	bus := New(persist, nil)
	bus.AttachRecorder(rec)

	bus.Broadcast(Event{Type: EventTerminalOutput, Payload: map[string]any{"line": "hello"}})

	if persist.calls != 0 {
		t.Fatalf("expected no persist schedule for high-volume event, got %d", persist.calls)
	}
	if len(rec.events) != 0 {
		t.Fatalf("expected no recording for high-volume event, got %d", len(rec.events))
	}
}

func TestBroadcastRecordsNonHighVolume(t *testing.T) {
	rec := &fakeRecorder{}
	bus := New(nil, nil)
	bus.AttachRecorder(rec)

	bus.Broadcast(Event{Type: EventEscalation, Payload: map[string]any{"reason": "stuck"}})
	if len(rec.events) != 1 {
		t.Fatalf("expected event to be recorded, got %d", len(rec.events))
	}

	bus.DetachRecorder()
	bus.Broadcast(Event{Type: EventEscalation})
	if len(rec.events) != 1 {
		t.Fatalf("expected no further recording after detach, got %d", len(rec.events))
	}
}

func TestEventMarshalJSONFlattensPayload(t *testing.T) {
	e := Event{Type: EventTaskUpdated, Payload: map[string]any{"taskId": "7", "status": "completed"}}
	data, err := jsonx.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := jsonx.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != "task_updated" {
		t.Errorf("expected type field task_updated, got %v", got["type"])
	}
	if got["taskId"] != "7" {
		t.Errorf("expected taskId flattened into envelope, got %v", got["taskId"])
	}
}

func TestClientCountAndUnregister(t *testing.T) {
	bus := New(nil, nil)
	bus.RegisterClient("a", &fakeClient{})
	bus.RegisterClient("b", &fakeClient{})
	if bus.ClientCount() != 2 {
		t.Fatalf("expected 2 clients, got %d", bus.ClientCount())
	}
	bus.UnregisterClient("a")
	if bus.ClientCount() != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", bus.ClientCount())
	}
}
