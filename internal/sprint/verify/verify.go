// Package verify runs the configured external verification commands for a
// gate (per-task or cycle/sprint scope) concurrently, using errgroup the
// way the teacher's concurrent-task-fan-out code does, and reports a single
// pass/fail result. Invocation failures fail the gate open: a broken
// toolchain must never livelock the sprint (spec §4.5, §7).
package verify

import (
	"bytes"
	"context"
	"os/exec"

	"golang.org/x/sync/errgroup"

	"teamclaude/internal/shared/logging"
	"teamclaude/internal/sprint/telemetry"
)

// Metrics records one counted observation per Gate.Run invocation.
// Satisfied by *telemetry.MetricsCollector; optional, nil by default.
type Metrics interface {
	RecordVerificationRun(ctx context.Context, passed bool)
}

// Command is one configured external check: a shell command string run via
// "sh -c".
type Command struct {
	Name string
	Run  string
}

// CheckResult is one command's outcome.
type CheckResult struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Output   string `json:"output,omitempty"`
	Invoked  bool   `json:"invoked"` // false if the invocation itself errored
}

// GateResult is the aggregate result of running every configured command
// for one gate invocation.
type GateResult struct {
	Passed bool          `json:"passed"`
	Checks []CheckResult `json:"checks"`
}

// Gate runs a fixed set of commands against a working directory.
type Gate struct {
	commands []Command
	dir      string
	logger   logging.Logger
	metrics  Metrics
}

// NewGate constructs a Gate. No configured commands means every Run call
// passes trivially, per spec §4.5. Invocations carry no timeout of their
// own (spec §5): a long-running check blocks its gate until ctx is
// cancelled by the caller, never internally.
func NewGate(commands []Command, dir string, logger logging.Logger) *Gate {
	return &Gate{commands: commands, dir: dir, logger: logging.OrNop(logger)}
}

// AttachMetrics attaches m so every future Run is also counted.
func (g *Gate) AttachMetrics(m Metrics) { g.metrics = m }

// Run executes every configured command concurrently and aggregates the
// result. A command that fails to even start (e.g. its working directory
// is missing) is reported as passed with Invoked=false, so the gate fails
// open; Invoked lets callers tell the two failure modes apart (the
// engine's cycle/sprint gates treat Invoked=false as a failure and name
// the check in the escalation reason).
func (g *Gate) Run(ctx context.Context) GateResult {
	ctx, span := telemetry.StartSpan(ctx, "sprint.verify.run")
	defer func() { telemetry.EndSpan(span, nil) }()

	if len(g.commands) == 0 {
		if g.metrics != nil {
			g.metrics.RecordVerificationRun(ctx, true)
		}
		return GateResult{Passed: true}
	}

	results := make([]CheckResult, len(g.commands))
	grp, grpCtx := errgroup.WithContext(ctx)

	for i, cmd := range g.commands {
		i, cmd := i, cmd
		grp.Go(func() error {
			results[i] = g.runOne(grpCtx, cmd)
			return nil
		})
	}
	_ = grp.Wait() // runOne never returns an error; aggregation is in results

	passed := true
	for _, r := range results {
		if !r.Passed {
			passed = false
		}
	}
	if g.metrics != nil {
		g.metrics.RecordVerificationRun(ctx, passed)
	}
	return GateResult{Passed: passed, Checks: results}
}

func (g *Gate) runOne(ctx context.Context, cmd Command) CheckResult {
	execCmd := exec.CommandContext(ctx, "sh", "-c", cmd.Run)
	execCmd.Dir = g.dir
	var out bytes.Buffer
	execCmd.Stdout = &out
	execCmd.Stderr = &out

	if err := execCmd.Start(); err != nil {
		g.logger.Error("verify: start %q failed: %v", cmd.Name, err)
		// Fail open at the invocation level: callers distinguish this via
		// Invoked=false if they need to escalate rather than pass.
		return CheckResult{Name: cmd.Name, Passed: true, Invoked: false, Output: err.Error()}
	}

	err := execCmd.Wait()
	if err != nil {
		return CheckResult{Name: cmd.Name, Passed: false, Invoked: true, Output: out.String()}
	}
	return CheckResult{Name: cmd.Name, Passed: true, Invoked: true, Output: out.String()}
}
