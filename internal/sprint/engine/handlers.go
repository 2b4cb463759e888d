package engine

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"teamclaude/internal/sprint/broadcast"
	"teamclaude/internal/sprint/budget"
	"teamclaude/internal/sprint/model"
	"teamclaude/internal/sprint/protocol"
	"teamclaude/internal/sprint/telemetry"
	"teamclaude/internal/sprint/watcher"
	"teamclaude/internal/sprint/webhook"
)

// handleWatcherEvent reads the changed file and routes it to the handler
// named by its classified kind. Runs on the engine goroutine.
func (e *Engine) handleWatcherEvent(ev watcher.Event) {
	_, span := telemetry.StartSpan(context.Background(), "sprint.watcher.dispatch")
	defer func() { telemetry.EndSpan(span, nil) }()

	data, err := os.ReadFile(ev.Path)
	if err != nil {
		// File may have been removed between the stabilized-event fire and
		// this read; treat like any other malformed/missing input (spec §7).
		e.logger.Debug("engine: read %s: %v", ev.Path, err)
		return
	}

	switch ev.Kind {
	case watcher.KindTeamConfig:
		e.handleTeamConfig(ev.Path, data)
	case watcher.KindTaskFile:
		e.handleTaskFile(ev.Path, data)
	case watcher.KindInbox:
		e.handleInbox(ev.Path, data)
	}
}

// handleTeamConfig implements spec §4.1's team-config handler.
func (e *Engine) handleTeamConfig(path string, data []byte) {
	cfg, err := watcher.ParseTeamConfig(data)
	if err != nil {
		e.logger.Warn("engine: malformed team config %s: %v", path, err)
		return
	}
	if !cfg.IsSprintTeam() {
		return
	}

	teamName := cfg.Name
	if teamName == "" {
		teamName = watcher.TeamNameFromPath(path)
	}
	e.state.TeamName = teamName

	for _, m := range cfg.Members {
		a := e.state.EnsureAgent(m.Name)
		a.AgentID = m.AgentID
		a.AgentType = m.AgentType
	}

	if e.state.Mode == "" {
		if cfg.IsAutonomous() {
			e.state.Mode = model.ModeAutonomous
			e.state.Phase = model.PhaseAnalyzing
		} else {
			e.state.Mode = model.ModeManual
			e.state.Phase = model.PhaseSprinting
		}
	}

	if !e.state.MarkInitialized() {
		return
	}
	e.sprintID = "sprint-" + uuid.NewString()
	e.attachRecorderIfEnabled()
	e.broadcast(broadcast.EventInit, e.state)
	e.systemMessage("", "Sprint initialized for team "+teamName)
}

// handleTaskFile implements spec §4.1's task-file handler, including the
// completion cascade over other tasks' blockedBy.
func (e *Engine) handleTaskFile(path string, data []byte) {
	records, err := watcher.ParseTaskFile(data)
	if err != nil {
		e.logger.Warn("engine: malformed task file %s: %v", path, err)
		return
	}

	for _, rec := range records {
		if rec.ID == "" || e.isAgentName(rec.ID) {
			continue // host bookkeeping entries keyed by agent name are filtered out
		}
		t := e.state.EnsureTask(rec.ID)
		t.Subject = rec.DisplaySubject()
		if rec.Owner != "" {
			t.Owner = rec.Owner
		}
		if rec.Description != "" {
			t.Description = rec.Description
		}
		var blockedBy []string
		for _, id := range rec.BlockedBy {
			if dep, ok := e.state.Tasks[id]; ok && dep.Status == model.TaskCompleted {
				continue // completion already cascaded; keep it removed
			}
			blockedBy = append(blockedBy, id)
		}
		t.BlockedBy = blockedBy

		prevStatus := t.Status
		t.ApplyDiskStatus(model.TaskStatus(rec.Status))
		e.broadcast(broadcast.EventTaskUpdated, t)

		if prevStatus != model.TaskCompleted && t.Status == model.TaskCompleted {
			e.cascadeCompletion(rec.ID)
		}
	}
}

func (e *Engine) isAgentName(id string) bool {
	_, ok := e.state.Agents[id]
	return ok
}

func (e *Engine) cascadeCompletion(id string) {
	for _, changedID := range e.state.CascadeCompletion(id) {
		if t, ok := e.state.Tasks[changedID]; ok {
			e.broadcast(broadcast.EventTaskUpdated, t)
		}
	}
}

// handleInbox implements spec §4.2's cursor discipline and per-message
// processing.
func (e *Engine) handleInbox(path string, data []byte) {
	msgs, err := watcher.ParseInbox(data)
	if err != nil {
		e.logger.Warn("engine: malformed inbox %s: %v", path, err)
		return
	}

	cursor, _ := e.cursors.Get(path)
	if cursor > len(msgs) {
		// File shrank: cursor inconsistency, reset to file length, no backfill.
		cursor = len(msgs)
	}
	recipient := watcher.RecipientFromInboxPath(path)

	for i := cursor; i < len(msgs); i++ {
		e.processInboxMessage(recipient, msgs[i])
	}
	e.cursors.Add(path, len(msgs))
}

func (e *Engine) processInboxMessage(recipient string, raw watcher.InboxMessage) {
	from := raw.From
	if from == "" {
		from = "unknown"
	}
	to := raw.To
	if to == "" {
		to = recipient
	}
	e.state.EnsureAgent(from)
	e.state.EnsureAgent(to)

	rawContent := raw.RawContent()
	if raw.Usage != nil {
		event := e.budgetTr.Accumulate(e.state, to, raw.Usage.InputTokens, raw.Usage.OutputTokens)
		e.broadcast(broadcast.EventTokenUsage, e.state.TokenUsage)
		e.handleBudgetEvent(event)
	} else if rawContent != "" {
		// Agent didn't report usage: estimate from content so budget tracking
		// still reflects what was actually sent (spec §4.4).
		event := e.budgetTr.Accumulate(e.state, to, 0, budget.EstimateTokens(rawContent))
		e.broadcast(broadcast.EventTokenUsage, e.state.TokenUsage)
		e.handleBudgetEvent(event)
	}

	content := protocol.StripEnvelope(rawContent)

	if protocol.IsIdleSentinel(content) {
		e.setAgentStatus(to, model.AgentIdle)
		return
	}

	if sender := e.state.Agents[from]; sender.Status != model.AgentActive {
		e.setAgentStatus(from, model.AgentActive)
	}

	msg := model.Message{
		ID:        fmt.Sprintf("%d-%d", e.messageTimestamp(raw).UnixNano(), len(e.state.Messages)),
		Timestamp: e.messageTimestamp(raw),
		From:      from,
		To:        to,
		Content:   content,
	}

	decoded := protocol.Decode(content)
	if decoded.Tag != "" {
		msg.Protocol = string(decoded.Tag)
	}
	e.state.Messages = append(e.state.Messages, msg)
	e.broadcast(broadcast.EventMessageSent, msg)

	if decoded.Tag != "" {
		e.applyProtocolTag(decoded, from, to)
	}
	e.recordProcessLearning(content)
}

func (e *Engine) messageTimestamp(raw watcher.InboxMessage) time.Time {
	if raw.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, raw.Timestamp); err == nil {
			return t
		}
		if ms, err := strconv.ParseInt(raw.Timestamp, 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
	}
	return time.Now()
}

func (e *Engine) setAgentStatus(name string, status model.AgentStatus) {
	a := e.state.EnsureAgent(name)
	a.Status = status
	e.broadcast(broadcast.EventAgentStatus, a)
}

func (e *Engine) handleBudgetEvent(ev budget.Event) {
	switch ev {
	case budget.Approaching:
		e.broadcast(broadcast.EventTokenBudgetApproaching, nil)
	case budget.Exceeded:
		e.broadcast(broadcast.EventPaused, map[string]any{"paused": true})
		e.broadcast(broadcast.EventTokenBudgetExceeded, nil)
		e.fireWebhook(webhook.TokenBudgetExceeded, "")
	}
}
