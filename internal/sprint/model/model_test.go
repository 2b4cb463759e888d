package model

import "testing"

func TestTaskStatusMonotonic(t *testing.T) {
	task := &Task{ID: "1", diskStatus: TaskPending, overrideStatus: TaskPending, Status: TaskPending}

	task.ApplyOverrideStatus(TaskInProgress)
	if task.Status != TaskInProgress {
		t.Fatalf("expected in_progress, got %s", task.Status)
	}

	// A lower-rank disk status must not overwrite the higher-rank override.
	task.ApplyDiskStatus(TaskPending)
	if task.Status != TaskInProgress {
		t.Fatalf("disk status regressed displayed status: got %s", task.Status)
	}

	task.ApplyDiskStatus(TaskCompleted)
	if task.Status != TaskCompleted {
		t.Fatalf("expected completed after higher-rank disk status, got %s", task.Status)
	}
}

func TestCascadeCompletion(t *testing.T) {
	s := New()
	a := s.EnsureTask("1")
	a.Status = TaskCompleted
	b := s.EnsureTask("2")
	b.BlockedBy = []string{"1", "3"}
	c := s.EnsureTask("3")
	c.BlockedBy = []string{"1"}

	changed := s.CascadeCompletion("1")
	if len(changed) != 2 {
		t.Fatalf("expected 2 changed tasks, got %d: %v", len(changed), changed)
	}
	if len(b.BlockedBy) != 1 || b.BlockedBy[0] != "3" {
		t.Fatalf("expected task 2 blockedBy [3], got %v", b.BlockedBy)
	}
	if len(c.BlockedBy) != 0 {
		t.Fatalf("expected task 3 blockedBy empty, got %v", c.BlockedBy)
	}
}

func TestReviewValidatingDisjoint(t *testing.T) {
	s := New()
	s.AppendReview("1")
	s.AppendReview("1") // duplicate append must not grow the list
	if len(s.ReviewTaskIDs) != 1 {
		t.Fatalf("expected dedup on append, got %v", s.ReviewTaskIDs)
	}

	s.RemoveReview("1")
	s.AppendValidating("1")
	if s.InReview("1") {
		t.Fatalf("task should no longer be in review")
	}
	if !s.InValidating("1") {
		t.Fatalf("task should be in validating")
	}
}

func TestOneShotInitFlag(t *testing.T) {
	s := New()
	if !s.MarkInitialized() {
		t.Fatalf("first MarkInitialized call should report true")
	}
	if s.MarkInitialized() {
		t.Fatalf("second MarkInitialized call should report false")
	}
}
