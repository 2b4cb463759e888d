package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestInvokeRunsEveryConfiguredCommand(t *testing.T) {
	dir := t.TempDir()
	outFile := filepath.Join(dir, "out.txt")

	script := filepath.Join(dir, "hook.sh")
	contents := "#!/bin/sh\necho \"$SPRINT_HOOK $SPRINT_TASK_ID\" >> \"" + outFile + "\"\n"
	if err := os.WriteFile(script, []byte(contents), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	r := NewRunner([]string{script}, nil)
	r.Invoke(context.Background(), TaskEscalated, "sprint-1", "42", "")

	got, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("expected plugin to write output file: %v", err)
	}
	if want := "task_escalated 42\n"; string(got) != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestInvokeNilRunnerIsNoop(t *testing.T) {
	var r *Runner
	r.Invoke(context.Background(), TaskCompleted, "s", "t", "")
}

func TestInvokeWithNoCommandsIsNoop(t *testing.T) {
	r := NewRunner(nil, nil)
	r.Invoke(context.Background(), TaskCompleted, "s", "t", "")
}
