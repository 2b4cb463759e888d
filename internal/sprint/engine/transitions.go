package engine

import (
	"context"
	"fmt"
	"time"

	"teamclaude/internal/async"
	"teamclaude/internal/sprint/broadcast"
	"teamclaude/internal/sprint/memory"
	"teamclaude/internal/sprint/model"
	"teamclaude/internal/sprint/plugin"
	"teamclaude/internal/sprint/protocol"
	"teamclaude/internal/sprint/verify"
	"teamclaude/internal/sprint/webhook"
)

// applyProtocolTag runs the state-machine transition table from spec §4.2
// for a single decoded protocol tag. from/to are the message's sender and
// recipient, used as the task owner on TASK_ASSIGNED.
func (e *Engine) applyProtocolTag(d protocol.Decoded, from, to string) {
	switch d.Tag {
	case protocol.TaskAssigned:
		e.overrideTaskStatus(d.TaskID, model.TaskInProgress, to)

	case protocol.ReadyForReview:
		if e.state.InReview(d.TaskID) {
			return // dedup: duplicate READY_FOR_REVIEW leaves reviewTaskIds unchanged
		}
		e.state.AppendReview(d.TaskID)
		e.overrideTaskStatus(d.TaskID, model.TaskInProgress, "")
		if e.state.Checkpoints[d.TaskID] {
			delete(e.state.Checkpoints, d.TaskID)
			cp := &model.PendingCheckpoint{TaskID: d.TaskID, CreatedAt: time.Now()}
			e.state.PendingCheckpoint = cp
			e.state.CheckpointHitCount++
			e.broadcast(broadcast.EventCheckpoint, cp)
			e.fireWebhook(webhook.CheckpointHit, d.TaskID)
		}

	case protocol.Approved:
		e.state.RemoveReview(d.TaskID)
		e.state.AppendValidating(d.TaskID)
		e.scheduleTaskVerification(d.TaskID)

	case protocol.RequestChanges, protocol.Resubmit:
		e.state.RemoveReview(d.TaskID)
		e.overrideTaskStatus(d.TaskID, model.TaskInProgress, "")

	case protocol.Escalate:
		esc := &model.Escalation{Source: from, Reason: d.Rest, TaskID: d.TaskID, CreatedAt: time.Now()}
		e.state.Escalation = esc
		e.broadcast(broadcast.EventEscalation, esc)
		e.fireWebhook(webhook.TaskEscalated, d.TaskID)
		e.firePluginHook(plugin.TaskEscalated, d.TaskID, d.Rest)

	case protocol.Memory:
		if key, value, ok := protocol.ParseMemoryBody(d.Rest); ok {
			role := roleOf(from)
			if rec, err := e.memories.Upsert(role, key, value, e.sprintID); err != nil {
				e.logger.Error("engine: memory upsert failed: %v", err)
			} else {
				_ = rec
			}
		}

	case protocol.RoadmapReady:
		if e.state.Mode != model.ModeAutonomous {
			return
		}
		e.state.Phase = model.PhaseSprinting
		if n, ok := protocol.ParseCycleNumber(d.Rest); ok {
			e.state.Cycle = n
		}
		e.broadcastCycleInfo("Roadmap ready, sprinting cycle " + fmt.Sprint(e.state.Cycle))

	case protocol.CycleComplete:
		if e.state.Mode != model.ModeAutonomous {
			return
		}
		e.state.Phase = model.PhaseValidating
		e.broadcastCycleInfo("Cycle complete, validating")
		e.scheduleScopedVerification(false)

	case protocol.SprintComplete:
		if e.state.Mode != model.ModeAutonomous {
			return
		}
		e.state.Phase = model.PhaseValidating
		e.broadcastCycleInfo("Sprint complete, validating")
		e.scheduleScopedVerification(true)
		e.fireWebhook(webhook.SprintComplete, "")

	case protocol.NextCycle:
		if e.state.Mode != model.ModeAutonomous {
			return
		}
		e.state.Phase = model.PhaseAnalyzing
		if n, ok := protocol.ParseCycleNumber(d.Rest); ok {
			e.state.Cycle = n
		} else {
			e.state.Cycle++
		}
		e.broadcastCycleInfo("Next cycle " + fmt.Sprint(e.state.Cycle))

	case protocol.Acceptance:
		if e.state.Mode != model.ModeAutonomous {
			return
		}
		e.state.Phase = model.PhaseAnalyzing
		e.broadcastCycleInfo("Acceptance, analyzing")
	}
}

func roleOf(agentName string) string {
	switch {
	case agentName == "sprint-pm":
		return "pm"
	case agentName == "sprint-manager":
		return "manager"
	default:
		return "engineer"
	}
}

// overrideTaskStatus applies a protocol-driven status override, respecting
// monotonic rank. A task id no task file has mentioned yet is created on
// the spot, and task_updated is broadcast for the task either way: the
// broadcast does not depend on the task having been seen on disk.
func (e *Engine) overrideTaskStatus(taskID string, status model.TaskStatus, owner string) {
	if taskID == "" {
		return
	}
	t := e.state.EnsureTask(taskID)
	t.ApplyOverrideStatus(status)
	if owner != "" {
		t.Owner = owner
	}
	e.broadcast(broadcast.EventTaskUpdated, t)
}

func (e *Engine) broadcastCycleInfo(note string) {
	e.broadcast(broadcast.EventCycleInfo, map[string]any{
		"mode":  e.state.Mode,
		"phase": e.state.Phase,
		"cycle": e.state.Cycle,
	})
	e.systemMessage("", note)
}

// fireWebhook delivers a webhook payload asynchronously; delivery never
// blocks the engine goroutine and its result never feeds back into state.
func (e *Engine) fireWebhook(kind webhook.EventKind, taskID string) {
	payload := webhook.Payload{Event: kind, SprintID: e.sprintID, TaskID: taskID, Timestamp: time.Now()}
	notifier := e.notifier
	async.Go(e.logger, "webhook."+string(kind), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = notifier.Notify(ctx, payload)
	})
}

// firePluginHook invokes every configured plugin command asynchronously, the
// same fire-and-forget discipline as fireWebhook: plugin output never feeds
// back into sprint state.
func (e *Engine) firePluginHook(hook plugin.HookKind, taskID, detail string) {
	runner := e.plugins
	if runner == nil {
		return
	}
	sprintID := e.sprintID
	async.Go(e.logger, "plugin."+string(hook), func() {
		runner.Invoke(context.Background(), hook, sprintID, taskID, detail)
	})
}

// scheduleTaskVerification runs the per-task verification gate
// asynchronously (external subprocesses are a suspension point per spec
// §5) and posts the result back onto the engine goroutine via Enqueue.
func (e *Engine) scheduleTaskVerification(taskID string) {
	gate := e.verificationGateFor()
	sprintID := e.sprintID
	async.Go(e.logger, "verify.task."+taskID, func() {
		result := gate.Run(context.Background())
		e.Enqueue(func(e *Engine) {
			if e.sprintID != sprintID {
				return // sprint was reset mid-verification; discard stale result
			}
			e.completeTaskVerification(taskID, result)
		})
	})
}

func (e *Engine) completeTaskVerification(taskID string, result verify.GateResult) {
	e.state.RemoveValidating(taskID)
	t, ok := e.state.Tasks[taskID]
	if !ok {
		return
	}
	if result.Passed {
		t.ApplyOverrideStatus(model.TaskCompleted)
		e.broadcast(broadcast.EventTaskUpdated, t)
		e.broadcast(broadcast.EventTaskValidation, map[string]any{"taskId": taskID, "passed": true})
		e.fireWebhook(webhook.TaskCompleted, taskID)
		e.firePluginHook(plugin.TaskCompleted, taskID, "")
		return
	}
	e.state.VerificationFailCount++
	e.broadcast(broadcast.EventTaskValidation, map[string]any{
		"taskId": taskID, "passed": false, "output": checksOutput(result),
	})
	e.systemMessage("", fmt.Sprintf("Approval for task %s reverted; verification failed", taskID))
}

// scheduleScopedVerification runs the cycle/sprint-scope verification gate
// asynchronously and posts the aggregate result back to the engine
// goroutine. sprintScope distinguishes the system message's phrasing only;
// both scopes broadcast the same validation event shape.
func (e *Engine) scheduleScopedVerification(sprintScope bool) {
	gate := e.verificationGateFor()
	sprintID := e.sprintID
	async.Go(e.logger, "verify.scope", func() {
		result := gate.Run(context.Background())
		e.Enqueue(func(e *Engine) {
			if e.sprintID != sprintID {
				return
			}
			e.completeScopedVerification(result, sprintScope)
		})
	})
}

func (e *Engine) completeScopedVerification(result verify.GateResult, sprintScope bool) {
	e.broadcast(broadcast.EventValidation, result)
	scope := "cycle"
	if sprintScope {
		scope = "sprint"
	}
	passed, reason := result.Passed, "verification failed"
	for _, c := range result.Checks {
		if !c.Invoked {
			// Invocation failures fail open only for per-task gates.
			passed, reason = false, "verification could not run: "+c.Name
		}
	}
	if passed {
		e.systemMessage("", fmt.Sprintf("%s verification passed", scope))
		return
	}
	e.state.VerificationFailCount++
	e.systemMessage("", fmt.Sprintf("%s verification failed", scope))
	e.state.Escalation = &model.Escalation{Source: "system", Reason: reason, CreatedAt: time.Now()}
	e.broadcast(broadcast.EventEscalation, e.state.Escalation)
}

func checksOutput(result verify.GateResult) string {
	out := ""
	for _, c := range result.Checks {
		if !c.Passed {
			out += c.Name + ": " + c.Output + "\n"
		}
	}
	return out
}

// recordProcessLearning parses an agent-supplied "PROCESS_LEARNING: <role>
// — <action>" body and upserts it, capped at five per sprint per spec §4.7.
// Not wired to a dedicated protocol tag (the tag set in §4.2 is closed);
// this is invoked from message processing when content carries the prefix.
func (e *Engine) recordProcessLearning(content string) {
	const prefix = "PROCESS_LEARNING:"
	if len(content) < len(prefix) || content[:len(prefix)] != prefix {
		return
	}
	if e.processLearningCount >= 5 {
		return
	}
	role, action, ok := protocol.ParseProcessLearningBody(content[len(prefix):])
	if !ok {
		return
	}
	id := memory.AgentLearningID(action, role)
	if _, err := e.learnings.Upsert(id, role, action, e.sprintID); err != nil {
		e.logger.Error("engine: learning upsert failed: %v", err)
		return
	}
	e.processLearningCount++
}
