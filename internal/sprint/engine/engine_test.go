package engine

import (
	"path/filepath"
	"testing"

	"teamclaude/internal/sprint/model"
	"teamclaude/internal/sprint/watcher"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

const teamConfigJSON = `{
	"name": "sprint-alpha",
	"members": [
		{"name": "sprint-manager", "agentId": "m1"},
		{"name": "sprint-engineer-1", "agentId": "e1"}
	]
}`

func TestHandleTeamConfigInitializesOnce(t *testing.T) {
	e := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "teams", "alpha", "config.json")

	e.handleTeamConfig(path, []byte(teamConfigJSON))
	if e.state.TeamName != "sprint-alpha" {
		t.Fatalf("expected team name sprint-alpha, got %q", e.state.TeamName)
	}
	if e.state.Mode != model.ModeManual {
		t.Fatalf("expected manual mode (no sprint-pm member), got %q", e.state.Mode)
	}
	if len(e.state.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(e.state.Agents))
	}
	firstSprintID := e.sprintID
	if firstSprintID == "" {
		t.Fatal("expected sprintID to be set on first init")
	}

	// Re-delivering the same config (e.g. a second fsnotify write) must not
	// re-init: sprintID stays stable, no duplicate system message is sent.
	msgCountBefore := len(e.state.Messages)
	e.handleTeamConfig(path, []byte(teamConfigJSON))
	if e.sprintID != firstSprintID {
		t.Fatalf("expected sprintID to stay stable across repeated config delivery")
	}
	if len(e.state.Messages) != msgCountBefore {
		t.Fatalf("expected no additional system message on repeat config delivery")
	}
}

func TestHandleTaskFileCascadesCompletion(t *testing.T) {
	e := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "tasks", "alpha", "tasks.json")

	e.handleTaskFile(path, []byte(`[
		{"id":"1","title":"base task","status":"pending"},
		{"id":"2","title":"depends on 1","status":"pending","blockedBy":["1"]}
	]`))
	if e.state.Tasks["2"].BlockedBy[0] != "1" {
		t.Fatalf("expected task 2 blocked by task 1, got %v", e.state.Tasks["2"].BlockedBy)
	}

	e.handleTaskFile(path, []byte(`[
		{"id":"1","title":"base task","status":"completed"},
		{"id":"2","title":"depends on 1","status":"pending","blockedBy":["1"]}
	]`))
	if e.state.Tasks["1"].Status != model.TaskCompleted {
		t.Fatalf("expected task 1 completed, got %q", e.state.Tasks["1"].Status)
	}
	if len(e.state.Tasks["2"].BlockedBy) != 0 {
		t.Fatalf("expected cascade to clear task 2's blockedBy, got %v", e.state.Tasks["2"].BlockedBy)
	}
}

func TestInboxCheckpointGateAndApprovalFlow(t *testing.T) {
	e := newTestEngine(t)
	teamPath := filepath.Join(t.TempDir(), "teams", "alpha", "config.json")
	e.handleTeamConfig(teamPath, []byte(teamConfigJSON))

	e.state.Checkpoints["1"] = true

	inboxPath := filepath.Join(t.TempDir(), "teams", "alpha", "inboxes", "sprint-manager.json")
	e.handleInbox(inboxPath, []byte(`[{"from":"sprint-engineer-1","to":"sprint-manager","text":"READY_FOR_REVIEW #1 done"}]`))

	if !e.state.InReview("1") {
		t.Fatal("expected task 1 to be in review")
	}
	if e.state.PendingCheckpoint == nil || e.state.PendingCheckpoint.TaskID != "1" {
		t.Fatalf("expected checkpoint gate to fire for task 1, got %+v", e.state.PendingCheckpoint)
	}
	if e.state.Checkpoints["1"] {
		t.Fatal("expected the one-shot checkpoint flag to be consumed")
	}

	e.handleInbox(inboxPath, []byte(`[
		{"from":"sprint-engineer-1","to":"sprint-manager","text":"READY_FOR_REVIEW #1 done"},
		{"from":"sprint-manager","to":"sprint-engineer-1","text":"APPROVED #1"}
	]`))

	if e.state.InReview("1") {
		t.Fatal("expected task 1 to leave review on approval")
	}
	if !e.state.InValidating("1") {
		t.Fatal("expected task 1 to enter validating on approval")
	}
}

func TestInboxCursorDiscipline(t *testing.T) {
	e := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "teams", "alpha", "inboxes", "manager.json")

	e.handleInbox(path, []byte(`[{"from":"a","to":"manager","text":"first"}]`))
	if len(e.state.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(e.state.Messages))
	}

	// Re-delivering the same array (cursor already at 1) must not reprocess.
	e.handleInbox(path, []byte(`[{"from":"a","to":"manager","text":"first"}]`))
	if len(e.state.Messages) != 1 {
		t.Fatalf("expected cursor discipline to prevent reprocessing, got %d messages", len(e.state.Messages))
	}

	// A genuinely appended message is processed exactly once.
	e.handleInbox(path, []byte(`[
		{"from":"a","to":"manager","text":"first"},
		{"from":"a","to":"manager","text":"second"}
	]`))
	if len(e.state.Messages) != 2 {
		t.Fatalf("expected 2 messages after append, got %d", len(e.state.Messages))
	}
}

func TestInboxIdleSentinelSetsStatusWithoutMessage(t *testing.T) {
	e := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "teams", "alpha", "inboxes", "manager.json")

	e.handleInbox(path, []byte(`[{"from":"sprint-engineer-1","to":"manager","text":"[idle: waiting]"}]`))
	if len(e.state.Messages) != 0 {
		t.Fatalf("expected idle sentinel to not append a message, got %d", len(e.state.Messages))
	}
	agent := e.state.Agents["manager"]
	if agent == nil || agent.Status != model.AgentIdle {
		t.Fatalf("expected the inbox recipient to be marked idle, got %+v", agent)
	}
}

func TestWatcherEventUnreadableFileIsIgnored(t *testing.T) {
	e := newTestEngine(t)
	e.handleWatcherEvent(watcher.Event{Kind: watcher.KindTeamConfig, Path: filepath.Join(t.TempDir(), "missing.json")})
	if e.state.TeamName != "" {
		t.Fatalf("expected no state change for an unreadable file, got team name %q", e.state.TeamName)
	}
}
