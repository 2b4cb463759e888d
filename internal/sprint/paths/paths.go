// Package paths resolves the on-disk layout under a project's data root,
// <project>/.teamclaude/, used by every persistence-touching component.
package paths

import (
	"os"
	"path/filepath"

	"teamclaude/internal/infra/filestore"
)

// Roots resolves paths rooted at a single project directory.
type Roots struct {
	Project string // the directory being observed (contains teams/, tasks/)
	Data    string // <project>/.teamclaude
}

// NewRoots resolves a Roots for the given project directory.
func NewRoots(project string) (Roots, error) {
	abs, err := filepath.Abs(project)
	if err != nil {
		return Roots{}, err
	}
	return Roots{
		Project: abs,
		Data:    filepath.Join(abs, ".teamclaude"),
	}, nil
}

// TeamsDir is the root of per-team config/inbox trees.
func (r Roots) TeamsDir() string { return filepath.Join(r.Project, "teams") }

// TasksDir is the root of per-team task-record trees.
func (r Roots) TasksDir() string { return filepath.Join(r.Project, "tasks") }

// ConfigFile is the .sprint.yml path.
func (r Roots) ConfigFile() string { return filepath.Join(r.Project, ".sprint.yml") }

// StateFile is the persisted SprintState snapshot.
func (r Roots) StateFile() string { return filepath.Join(r.Data, "state.json") }

// AnalyticsFile is the append-grown sprint-record log.
func (r Roots) AnalyticsFile() string { return filepath.Join(r.Data, "analytics.json") }

// LearningsFile holds the process-learnings store.
func (r Roots) LearningsFile() string { return filepath.Join(r.Data, "learnings.json") }

// MemoriesFile holds the agent-memory store.
func (r Roots) MemoriesFile() string { return filepath.Join(r.Data, "memories.json") }

// GitignoreFile is seeded on first write so .teamclaude/ is never committed.
func (r Roots) GitignoreFile() string { return filepath.Join(r.Data, ".gitignore") }

// HistoryDir is the history subdirectory for one sprint id.
func (r Roots) HistoryDir(sprintID string) string {
	return filepath.Join(r.Data, "history", sprintID)
}

// HistoryTasksFile returns <history>/tasks.json for sprintID.
func (r Roots) HistoryTasksFile(sprintID string) string {
	return filepath.Join(r.HistoryDir(sprintID), "tasks.json")
}

// HistoryMessagesFile returns <history>/messages.json for sprintID.
func (r Roots) HistoryMessagesFile(sprintID string) string {
	return filepath.Join(r.HistoryDir(sprintID), "messages.json")
}

// HistoryRetroFile returns <history>/retro.md for sprintID.
func (r Roots) HistoryRetroFile(sprintID string) string {
	return filepath.Join(r.HistoryDir(sprintID), "retro.md")
}

// HistoryRecordFile returns <history>/record.json for sprintID.
func (r Roots) HistoryRecordFile(sprintID string) string {
	return filepath.Join(r.HistoryDir(sprintID), "record.json")
}

// HistoryReplayFile returns <history>/replay.jsonl for sprintID.
func (r Roots) HistoryReplayFile(sprintID string) string {
	return filepath.Join(r.HistoryDir(sprintID), "replay.jsonl")
}

// EnsureDataRoot creates .teamclaude/ and seeds its .gitignore if absent.
func (r Roots) EnsureDataRoot() error {
	if err := filestore.EnsureDir(r.Data); err != nil {
		return err
	}
	gitignore := r.GitignoreFile()
	if _, err := os.Stat(gitignore); os.IsNotExist(err) {
		return os.WriteFile(gitignore, []byte("*\n"), 0o644)
	}
	return nil
}
