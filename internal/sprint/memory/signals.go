package memory

// SprintRecord is the minimal analytics view signal detectors inspect —
// a subset of the analytics.json record shape, not the whole history.
type SprintRecord struct {
	Cycles           int
	EscalationCount  int
	MergeConflicts   int
	CheckpointsHit   int
	TasksCompleted   int
	TasksAbandoned   int
	VerificationFail int
}

// Signal is one named condition evaluated against a finished sprint's
// record. Firing upserts a learning under Role with Action as its text.
type Signal struct {
	Name   string
	Role   string // pm, manager, or engineer
	Action string
	Fires  func(SprintRecord) bool
}

// Registry is the fixed set of signal detectors run at sprint stop.
var Registry = []Signal{
	{
		Name:   "HIGH_ESCALATION",
		Role:   "manager",
		Action: "Escalate blocking issues earlier; this sprint escalated more than twice",
		Fires:  func(r SprintRecord) bool { return r.EscalationCount > 2 },
	},
	{
		Name:   "FREQUENT_MERGE_CONFLICT",
		Role:   "engineer",
		Action: "Coordinate file ownership before starting overlapping tasks",
		Fires:  func(r SprintRecord) bool { return r.MergeConflicts > 1 },
	},
	{
		Name:   "CHECKPOINT_HEAVY",
		Role:   "pm",
		Action: "Reduce checkpoint gating on low-risk tasks to improve cycle throughput",
		Fires:  func(r SprintRecord) bool { return r.CheckpointsHit > 3 },
	},
	{
		Name:   "HIGH_ABANDON_RATE",
		Role:   "manager",
		Action: "Break down tasks further; several tasks were abandoned mid-sprint",
		Fires: func(r SprintRecord) bool {
			return r.TasksCompleted+r.TasksAbandoned > 0 &&
				r.TasksAbandoned*2 > r.TasksCompleted
		},
	},
	{
		Name:   "VERIFICATION_INSTABILITY",
		Role:   "engineer",
		Action: "Investigate flaky or broken verification commands flagged this sprint",
		Fires:  func(r SprintRecord) bool { return r.VerificationFail > 0 },
	},
}

// EvaluateSignals upserts a learning for every firing signal, keyed by
// SignalLearningID(signal, role), attributing sprintID.
func EvaluateSignals(store *LearningsStore, record SprintRecord, sprintID string) error {
	for _, sig := range Registry {
		if !sig.Fires(record) {
			continue
		}
		id := SignalLearningID(sig.Name, sig.Role)
		if _, err := store.Upsert(id, sig.Role, sig.Action, sprintID); err != nil {
			return err
		}
	}
	return nil
}
