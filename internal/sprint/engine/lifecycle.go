package engine

import (
	"fmt"
	"time"

	"teamclaude/internal/infra/filestore"
	jsonx "teamclaude/internal/shared/json"
	"teamclaude/internal/sprint/broadcast"
	"teamclaude/internal/sprint/memory"
	"teamclaude/internal/sprint/persistence"
	"teamclaude/internal/sprint/replay"
)

// attachRecorderIfEnabled opens a fresh replay recorder for the current
// sprintID when recording is enabled in config. Called once, from the
// team-config handler's one-shot init block.
func (e *Engine) attachRecorderIfEnabled() {
	if !e.cfg.Recording.Enabled {
		return
	}
	path := e.roots.HistoryReplayFile(e.sprintID)
	rec, err := replay.NewRecorder(path, e.logger)
	if err != nil {
		e.logger.Error("engine: attach recorder: %v", err)
		return
	}
	e.recorder = rec
	e.bus.AttachRecorder(recorderAdapter{rec})
}

// recorderAdapter satisfies broadcast.Recorder over *replay.Recorder,
// keeping the replay package free of a dependency on broadcast's Recorder
// interface declaration.
type recorderAdapter struct{ r *replay.Recorder }

func (a recorderAdapter) Record(e broadcast.Event) { a.r.Record(e) }

// Pause toggles the paused flag and broadcasts the change.
func (e *Engine) Pause() {
	e.Enqueue(func(e *Engine) {
		e.state.Paused = !e.state.Paused
		e.broadcast(broadcast.EventPaused, map[string]any{"paused": e.state.Paused})
	})
}

// Checkpoint adds taskID to the checkpoint gate set.
func (e *Engine) Checkpoint(taskID string) {
	e.Enqueue(func(e *Engine) {
		if e.state.Checkpoints == nil {
			e.state.Checkpoints = make(map[string]bool)
		}
		e.state.Checkpoints[taskID] = true
	})
}

// ReleaseCheckpoint clears the pending checkpoint and broadcasts it.
func (e *Engine) ReleaseCheckpoint() {
	e.Enqueue(func(e *Engine) {
		e.state.PendingCheckpoint = nil
		e.broadcast(broadcast.EventCheckpoint, nil)
	})
}

// DismissEscalation clears the current escalation.
func (e *Engine) DismissEscalation() {
	e.Enqueue(func(e *Engine) {
		e.state.Escalation = nil
		e.broadcast(broadcast.EventEscalation, nil)
	})
}

// DismissMergeConflict clears the current merge conflict, counting it
// toward this sprint's FREQUENT_MERGE_CONFLICT learning signal.
func (e *Engine) DismissMergeConflict() {
	e.Enqueue(func(e *Engine) {
		if e.state.MergeConflict != nil {
			e.state.MergeConflictCount++
		}
		e.state.MergeConflict = nil
		e.broadcast(broadcast.EventMergeConflict, nil)
	})
}

// StopResult is returned to the HTTP layer after a successful stop.
type StopResult struct {
	SprintID   string `json:"sprintId"`
	RetroPath  string `json:"retroPath"`
	RecordPath string `json:"recordPath"`
}

// Stop writes the history snapshot, evaluates learning signals, detaches
// the recorder, resets state, and reports the written paths. done
// receives the result once the (synchronous, in-process) work completes.
func (e *Engine) Stop(done chan<- StopResult) {
	e.Enqueue(func(e *Engine) {
		sprintID := e.sprintID
		if sprintID == "" {
			sprintID = fmt.Sprintf("sprint-%d", time.Now().UnixNano())
		}

		e.writeHistorySnapshot(sprintID)
		e.evaluateLearnings(sprintID)

		if e.recorder != nil {
			e.bus.DetachRecorder()
			_ = e.recorder.Close()
			e.recorder = nil
		}

		e.persistW.Flush()
		e.resetSprintState()

		done <- StopResult{
			SprintID:   sprintID,
			RetroPath:  e.roots.HistoryRetroFile(sprintID),
			RecordPath: e.roots.HistoryRecordFile(sprintID),
		}
		close(done)
	})
}

func (e *Engine) writeHistorySnapshot(sprintID string) {
	tasksData, err := filestore.MarshalJSONIndent(e.state.Tasks)
	if err == nil {
		if err := filestore.AtomicWrite(e.roots.HistoryTasksFile(sprintID), tasksData, 0o644); err != nil {
			e.logger.Error("engine: write history tasks: %v", err)
		}
	}
	msgsData, err := filestore.MarshalJSONIndent(e.state.Messages)
	if err == nil {
		if err := filestore.AtomicWrite(e.roots.HistoryMessagesFile(sprintID), msgsData, 0o644); err != nil {
			e.logger.Error("engine: write history messages: %v", err)
		}
	}

	record := e.buildSprintRecord()
	recordData, err := filestore.MarshalJSONIndent(record)
	if err == nil {
		if err := filestore.AtomicWrite(e.roots.HistoryRecordFile(sprintID), recordData, 0o644); err != nil {
			e.logger.Error("engine: write history record: %v", err)
		}
	}

	retro := e.buildRetroMarkdown(sprintID, record)
	if err := filestore.AtomicWrite(e.roots.HistoryRetroFile(sprintID), []byte(retro), 0o644); err != nil {
		e.logger.Error("engine: write retro: %v", err)
	}

	e.appendAnalytics(record)
}

func (e *Engine) buildSprintRecord() memory.SprintRecord {
	completed, abandoned := 0, 0
	for _, t := range e.state.Tasks {
		switch t.Status {
		case "completed":
			completed++
		case "deleted":
			abandoned++
		}
	}
	escalations := 0
	if e.state.Escalation != nil {
		escalations = 1
	}
	return memory.SprintRecord{
		Cycles:           e.state.Cycle,
		EscalationCount:  escalations,
		MergeConflicts:   e.state.MergeConflictCount,
		CheckpointsHit:   e.state.CheckpointHitCount,
		TasksCompleted:   completed,
		TasksAbandoned:   abandoned,
		VerificationFail: e.state.VerificationFailCount,
	}
}

func (e *Engine) buildRetroMarkdown(sprintID string, record memory.SprintRecord) string {
	return fmt.Sprintf("# Retro: %s\n\nTeam: %s\nCycles: %d\nTasks completed: %d\nTasks abandoned: %d\nEscalations: %d\n",
		sprintID, e.state.TeamName, record.Cycles, record.TasksCompleted, record.TasksAbandoned, record.EscalationCount)
}

func (e *Engine) appendAnalytics(record memory.SprintRecord) {
	var records []memory.SprintRecord
	data, err := filestore.ReadFileOrEmpty(e.roots.AnalyticsFile())
	if err == nil && len(data) > 0 {
		if err := jsonx.Unmarshal(data, &records); err != nil {
			e.logger.Warn("engine: malformed analytics file, overwriting: %v", err)
			records = nil
		}
	}
	records = append(records, record)
	out, err := filestore.MarshalJSONIndent(records)
	if err != nil {
		e.logger.Error("engine: marshal analytics: %v", err)
		return
	}
	if err := filestore.AtomicWrite(e.roots.AnalyticsFile(), out, 0o644); err != nil {
		e.logger.Error("engine: write analytics: %v", err)
	}
}

func (e *Engine) evaluateLearnings(sprintID string) {
	record := e.buildSprintRecord()
	if err := memory.EvaluateSignals(e.learnings, record, sprintID); err != nil {
		e.logger.Error("engine: evaluate learning signals: %v", err)
	}
}

// Resume restores state from the persisted state.json, if present.
func (e *Engine) Resume() {
	e.Enqueue(func(e *Engine) {
		if restored, ok := persistence.Load(e.roots.StateFile(), e.logger); ok {
			e.state = restored
			e.broadcast(broadcast.EventInit, e.state)
		}
	})
}

