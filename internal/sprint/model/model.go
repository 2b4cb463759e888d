// Package model holds the core sprint-domain types: teams, agents, tasks,
// messages, and the composed SprintState. These are plain data structures;
// behavior lives in the packages that mutate them (watcher, engine, budget).
package model

import "time"

// AgentStatus is the lifecycle status of a single agent.
type AgentStatus string

const (
	AgentActive  AgentStatus = "active"
	AgentIdle    AgentStatus = "idle"
	AgentUnknown AgentStatus = "unknown"
)

// Agent is a member of a team, discovered from config or inbox traffic.
type Agent struct {
	Name      string      `json:"name"`
	AgentID   string      `json:"agentId"`
	AgentType string      `json:"agentType"`
	Status    AgentStatus `json:"status"`
}

// TaskStatus is the lifecycle status of a task, with a total order used to
// resolve races between the on-disk task file and protocol overrides.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskDeleted    TaskStatus = "deleted"
)

// taskRank gives TaskStatus its total order: pending < in_progress <
// completed < deleted. Status may never decrease from this order.
var taskRank = map[TaskStatus]int{
	TaskPending:    0,
	TaskInProgress: 1,
	TaskCompleted:  2,
	TaskDeleted:    3,
}

// Rank returns s's position in the monotonic status order.
func (s TaskStatus) Rank() int { return taskRank[s] }

// MaxStatus returns the higher-ranked of a and b.
func MaxStatus(a, b TaskStatus) TaskStatus {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Task is the merged view of an on-disk task file and any protocol-driven
// override. Displayed status is always MaxStatus(disk, override).
type Task struct {
	ID          string     `json:"id"`
	Subject     string     `json:"subject"`
	Status      TaskStatus `json:"status"`
	Owner       string     `json:"owner"`
	BlockedBy   []string   `json:"blockedBy"`
	Description string     `json:"description,omitempty"`

	// diskStatus is the last status read from the task file; overrideStatus
	// is the last protocol-driven status. Status (above) is their max.
	// Neither is serialized: callers only ever see the merged view.
	diskStatus     TaskStatus
	overrideStatus TaskStatus
}

// ApplyDiskStatus merges a status observed on disk, respecting monotonicity.
func (t *Task) ApplyDiskStatus(s TaskStatus) {
	t.diskStatus = MaxStatus(s, t.diskStatus)
	t.recomputeStatus()
}

// ApplyOverrideStatus merges a protocol-driven status, respecting monotonicity.
func (t *Task) ApplyOverrideStatus(s TaskStatus) {
	t.overrideStatus = MaxStatus(s, t.overrideStatus)
	t.recomputeStatus()
}

func (t *Task) recomputeStatus() {
	t.Status = MaxStatus(t.diskStatus, t.overrideStatus)
}

// RemoveBlockedBy removes id from BlockedBy, reporting whether it changed.
func (t *Task) RemoveBlockedBy(id string) bool {
	for i, b := range t.BlockedBy {
		if b == id {
			t.BlockedBy = append(t.BlockedBy[:i], t.BlockedBy[i+1:]...)
			return true
		}
	}
	return false
}

// Message is an append-only inbox-derived event in the live sprint state.
type Message struct {
	ID        string    `json:"id"` // <timestamp>-<index>
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	Protocol  string    `json:"protocol,omitempty"`
}

// MergeConflict describes an at-most-one sprint-level merge conflict.
type MergeConflict struct {
	TaskID    string    `json:"taskId"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"createdAt"`
}

// Escalation describes an at-most-one sprint-level escalation.
type Escalation struct {
	Source    string    `json:"source"` // agent name, or "system"
	Reason    string    `json:"reason"`
	TaskID    string    `json:"taskId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PendingCheckpoint describes an at-most-one human-approval gate.
type PendingCheckpoint struct {
	TaskID    string    `json:"taskId"`
	CreatedAt time.Time `json:"createdAt"`
}

// SprintMode selects how phase transitions are driven.
type SprintMode string

const (
	ModeManual     SprintMode = "manual"
	ModeAutonomous SprintMode = "autonomous"
)

// Phase is the current autonomous-cycle phase.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseAnalyzing  Phase = "analyzing"
	PhaseSprinting  Phase = "sprinting"
	PhaseValidating Phase = "validating"
)

// TokenUsage accumulates token consumption and estimated spend.
type TokenUsage struct {
	Total           int64            `json:"total"`
	ByAgent         map[string]int64 `json:"byAgent"`
	EstimatedCostUS float64          `json:"estimatedCostUsd"`
}

// NewTokenUsage returns a zeroed TokenUsage ready for accumulation.
func NewTokenUsage() TokenUsage {
	return TokenUsage{ByAgent: make(map[string]int64)}
}

// BudgetConfig is the cached .sprint.yml budget configuration.
type BudgetConfig struct {
	TokenLimit int64   `json:"tokenLimit,omitempty"`
	DollarLimit float64 `json:"dollarLimit,omitempty"`
}

// HasLimit reports whether any limit is configured.
func (b BudgetConfig) HasLimit() bool {
	return b.TokenLimit > 0 || b.DollarLimit > 0
}

// SprintState is the single mutable aggregate root for one observed team's
// sprint. All mutation is expected to happen on the engine's owning
// goroutine; see internal/sprint/engine.
type SprintState struct {
	TeamName string             `json:"teamName"`
	Agents   map[string]*Agent  `json:"agents"`
	Tasks    map[string]*Task   `json:"tasks"`
	Messages []Message          `json:"messages"`

	Mode  SprintMode `json:"mode"`
	Cycle int        `json:"cycle"`
	Phase Phase      `json:"phase"`

	ReviewTaskIDs     []string `json:"reviewTaskIds"`
	ValidatingTaskIDs []string `json:"validatingTaskIds"`

	TokenUsage TokenUsage `json:"tokenUsage"`

	Checkpoints       map[string]bool    `json:"checkpoints"`
	PendingCheckpoint *PendingCheckpoint `json:"pendingCheckpoint,omitempty"`

	MergeConflict *MergeConflict `json:"mergeConflict,omitempty"`
	Escalation    *Escalation    `json:"escalation,omitempty"`

	TokenBudgetApproaching bool          `json:"tokenBudgetApproaching,omitempty"`
	TokenBudgetExceeded    bool          `json:"tokenBudgetExceeded,omitempty"`
	TokenBudgetConfig      *BudgetConfig `json:"tokenBudgetConfig,omitempty"`

	// Sprint-scoped counters feeding memory.SprintRecord's learning-signal
	// detectors at sprint stop. Reset along with the rest of state.
	MergeConflictCount    int `json:"mergeConflictCount,omitempty"`
	CheckpointHitCount    int `json:"checkpointHitCount,omitempty"`
	VerificationFailCount int `json:"verificationFailCount,omitempty"`

	Paused bool `json:"paused"`

	// Runtime-only fields, stripped before persistence (see §4.3 resume rule).
	TmuxAvailable   bool   `json:"-"`
	TmuxSessionName string `json:"-"`
	ProjectName     string `json:"-"`

	// sprintInitialized guards the one-shot "Sprint initialized" message
	// across repeated config.json events. No team-discovered hook is fired
	// on initialization.
	sprintInitialized bool
}

// New returns a freshly reset SprintState, as produced on sprint stop/start.
func New() *SprintState {
	return &SprintState{
		Agents:      make(map[string]*Agent),
		Tasks:       make(map[string]*Task),
		Phase:       PhaseIdle,
		Checkpoints: make(map[string]bool),
		TokenUsage:  NewTokenUsage(),
	}
}

// MarkInitialized reports whether this is the first call since New/Reset,
// consuming the one-shot flag atomically with the report.
func (s *SprintState) MarkInitialized() bool {
	if s.sprintInitialized {
		return false
	}
	s.sprintInitialized = true
	return true
}

// InReview reports whether taskID is currently under review.
func (s *SprintState) InReview(taskID string) bool {
	for _, id := range s.ReviewTaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// AppendReview appends taskID to ReviewTaskIDs unless already present.
func (s *SprintState) AppendReview(taskID string) {
	if s.InReview(taskID) {
		return
	}
	s.ReviewTaskIDs = append(s.ReviewTaskIDs, taskID)
}

// RemoveReview removes taskID from ReviewTaskIDs, reporting whether found.
func (s *SprintState) RemoveReview(taskID string) bool {
	return removeString(&s.ReviewTaskIDs, taskID)
}

// InValidating reports whether taskID is currently being validated.
func (s *SprintState) InValidating(taskID string) bool {
	for _, id := range s.ValidatingTaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// AppendValidating appends taskID to ValidatingTaskIDs unless already present.
func (s *SprintState) AppendValidating(taskID string) {
	if s.InValidating(taskID) {
		return
	}
	s.ValidatingTaskIDs = append(s.ValidatingTaskIDs, taskID)
}

// RemoveValidating removes taskID from ValidatingTaskIDs, reporting whether found.
func (s *SprintState) RemoveValidating(taskID string) bool {
	return removeString(&s.ValidatingTaskIDs, taskID)
}

func removeString(list *[]string, v string) bool {
	for i, x := range *list {
		if x == v {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// EnsureAgent returns the agent named name, creating it unknown-status if absent.
func (s *SprintState) EnsureAgent(name string) *Agent {
	if a, ok := s.Agents[name]; ok {
		return a
	}
	a := &Agent{Name: name, Status: AgentUnknown}
	s.Agents[name] = a
	return a
}

// EnsureTask returns the task identified by id, creating an empty pending
// task if absent.
func (s *SprintState) EnsureTask(id string) *Task {
	if t, ok := s.Tasks[id]; ok {
		return t
	}
	t := &Task{ID: id, Status: TaskPending, diskStatus: TaskPending, overrideStatus: TaskPending}
	s.Tasks[id] = t
	return t
}

// CascadeCompletion removes id from every other task's BlockedBy list,
// returning the ids of tasks that changed so callers can re-broadcast them.
func (s *SprintState) CascadeCompletion(id string) []string {
	var changed []string
	for otherID, t := range s.Tasks {
		if otherID == id {
			continue
		}
		if t.RemoveBlockedBy(id) {
			changed = append(changed, otherID)
		}
	}
	return changed
}
