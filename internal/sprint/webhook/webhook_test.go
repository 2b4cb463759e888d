package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNotifyDeliversAllowedEvent(t *testing.T) {
	var gotBody Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, nil)
	err := n.Notify(context.Background(), Payload{Event: TaskCompleted, SprintID: "s1", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if gotBody.Event != TaskCompleted || gotBody.SprintID != "s1" {
		t.Fatalf("unexpected delivered payload: %+v", gotBody)
	}
}

func TestNotifyFiltersUnlistedEvents(t *testing.T) {
	var called atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, nil, WithEvents([]string{string(TaskCompleted)}))
	if err := n.Notify(context.Background(), Payload{Event: TaskEscalated}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if called.Load() {
		t.Fatal("expected delivery to be filtered out for an unlisted event")
	}
}

func TestNotifyDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, nil)
	err := n.Notify(context.Background(), Payload{Event: TaskCompleted})
	if err == nil {
		t.Fatal("expected error for a 4xx response")
	}
	if attempts.Load() != 1 {
		t.Fatalf("expected exactly one attempt for a permanent 4xx, got %d", attempts.Load())
	}
}

func TestNotifyRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, nil)
	err := n.Notify(context.Background(), Payload{Event: TaskCompleted})
	if err != nil {
		t.Fatalf("expected eventual success after retry, got %v", err)
	}
	if attempts.Load() < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts.Load())
	}
}
