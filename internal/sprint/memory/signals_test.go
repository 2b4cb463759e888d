package memory

import (
	"path/filepath"
	"testing"
)

func TestEvaluateSignalsFiresMatchingDetectors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learnings.json")
	store, err := NewLearningsStore(path, nil)
	if err != nil {
		t.Fatalf("NewLearningsStore: %v", err)
	}

	record := SprintRecord{EscalationCount: 3, MergeConflicts: 0, CheckpointsHit: 1}
	if err := EvaluateSignals(store, record, "sprint-1"); err != nil {
		t.Fatalf("EvaluateSignals: %v", err)
	}

	byRole := store.List()
	managerLearnings := byRole["manager"]
	if len(managerLearnings) != 1 {
		t.Fatalf("expected exactly one manager learning to fire, got %+v", managerLearnings)
	}
	if managerLearnings[0].ID != SignalLearningID("HIGH_ESCALATION", "manager") {
		t.Errorf("unexpected learning id: %q", managerLearnings[0].ID)
	}

	if len(byRole["engineer"]) != 0 {
		t.Fatalf("expected no engineer learning for this record, got %+v", byRole["engineer"])
	}
}

func TestEvaluateSignalsNoneFire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learnings.json")
	store, err := NewLearningsStore(path, nil)
	if err != nil {
		t.Fatalf("NewLearningsStore: %v", err)
	}
	if err := EvaluateSignals(store, SprintRecord{}, "sprint-1"); err != nil {
		t.Fatalf("EvaluateSignals: %v", err)
	}
	if len(store.List()) != 0 {
		t.Fatalf("expected no learnings for a quiet sprint, got %+v", store.List())
	}
}
