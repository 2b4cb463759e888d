// Package plugin invokes the project's configured plugins list (.sprint.yml
// "plugins") as external commands on sprint lifecycle hook points. Each
// entry is an executable path or name on PATH; the event and task id are
// passed as environment variables rather than argv, matching the webhook
// payload's shape so a plugin can read either transport the same way.
package plugin

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"teamclaude/internal/shared/logging"
)

// HookKind names a plugin-eligible lifecycle hook point.
type HookKind string

const (
	// TaskEscalated fires on an ESCALATE protocol tag.
	TaskEscalated HookKind = "task_escalated"
	// TaskCompleted fires after a per-task verification pass (fail does not
	// invoke the hook — only completion does).
	TaskCompleted HookKind = "task_completed"
)

// Runner invokes every configured plugin command for a hook. The zero value
// (nil Commands) runs nothing, matching "no plugins configured ⇒ no-op".
type Runner struct {
	Commands []string
	logger   logging.Logger
}

// NewRunner constructs a Runner over the plugin command list from config.
func NewRunner(commands []string, logger logging.Logger) *Runner {
	return &Runner{Commands: commands, logger: logging.OrNop(logger)}
}

// Invoke runs every configured plugin command synchronously relative to the
// caller; callers that must not block the engine goroutine wrap this in
// async.Go the same way fireWebhook does. A plugin's exit code and output
// are logged, never fed back into sprint state — plugins observe, they
// don't gate.
func (r *Runner) Invoke(ctx context.Context, hook HookKind, sprintID, taskID, detail string) {
	if r == nil {
		return
	}
	for _, cmd := range r.Commands {
		r.run(ctx, cmd, hook, sprintID, taskID, detail)
	}
}

func (r *Runner) run(ctx context.Context, command string, hook HookKind, sprintID, taskID, detail string) {
	runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command)
	cmd.Env = append(cmd.Environ(),
		"SPRINT_HOOK="+string(hook),
		"SPRINT_ID="+sprintID,
		"SPRINT_TASK_ID="+taskID,
		"SPRINT_DETAIL="+detail,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		r.logger.Warn("plugin: %s hook %s failed: %v (stderr: %s)", command, hook, err, stderr.String())
	}
}
