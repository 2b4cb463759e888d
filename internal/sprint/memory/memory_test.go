package memory

import (
	"path/filepath"
	"testing"
)

func TestStoreUpsertIdempotentOnRoleKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memories.json")
	s, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	first, err := s.Upsert("engineer", "retry-policy", "use fixed backoff", "sprint-1")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	second, err := s.Upsert("engineer", "retry-policy", "use exponential backoff", "sprint-2")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected same record id on (role,key) collision, got %q vs %q", first.ID, second.ID)
	}
	all := s.List("", "")
	if len(all) != 1 {
		t.Fatalf("expected exactly one record after collision upsert, got %d", len(all))
	}
	if all[0].Value != "use exponential backoff" {
		t.Fatalf("expected value to be overwritten, got %q", all[0].Value)
	}
}

func TestStoreReloadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memories.json")
	s1, _ := NewStore(path, nil)
	if _, err := s1.Upsert("pm", "k", "v", "sprint-1"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	s2, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("NewStore reload: %v", err)
	}
	got := s2.List("pm", "")
	if len(got) != 1 || got[0].Value != "v" {
		t.Fatalf("expected reload to recover persisted record, got %+v", got)
	}
}

func TestLearningsStoreUpsertAccumulatesFrequency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learnings.json")
	s, err := NewLearningsStore(path, nil)
	if err != nil {
		t.Fatalf("NewLearningsStore: %v", err)
	}

	id := SignalLearningID("HIGH_ESCALATION", "manager")
	if _, err := s.Upsert(id, "manager", "review escalation triggers sooner", "sprint-1"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	rec, err := s.Upsert(id, "manager", "review escalation triggers sooner", "sprint-2")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if rec.Frequency != 2 {
		t.Fatalf("expected frequency 2 after second firing, got %d", rec.Frequency)
	}
	if len(rec.SprintIDs) != 2 {
		t.Fatalf("expected 2 distinct sprint ids, got %v", rec.SprintIDs)
	}
}

func TestAgentLearningIDDeterministic(t *testing.T) {
	a := AgentLearningID("Always write tests first", "engineer")
	b := AgentLearningID("always write tests first", "engineer")
	if a != b {
		t.Fatalf("expected case-insensitive deterministic id, got %q vs %q", a, b)
	}
	c := AgentLearningID("always write tests first", "manager")
	if a == c {
		t.Fatalf("expected different role to produce a different id")
	}
}
