package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunNoCommandsPassesTrivially(t *testing.T) {
	g := NewGate(nil, t.TempDir(), nil)
	result := g.Run(context.Background())
	assert.True(t, result.Passed, "expected trivial pass with no configured commands")
	assert.Empty(t, result.Checks)
}

func TestRunAllPass(t *testing.T) {
	g := NewGate([]Command{{Name: "ok1", Run: "true"}, {Name: "ok2", Run: "exit 0"}}, t.TempDir(), nil)
	result := g.Run(context.Background())
	require.True(t, result.Passed, "expected gate to pass, got %+v", result)
	assert.Len(t, result.Checks, 2)
}

func TestRunOneFailureFailsGate(t *testing.T) {
	g := NewGate([]Command{{Name: "ok", Run: "true"}, {Name: "bad", Run: "exit 1"}}, t.TempDir(), nil)
	result := g.Run(context.Background())
	assert.False(t, result.Passed, "expected gate to fail when one command fails")

	var sawBad bool
	for _, c := range result.Checks {
		if c.Name == "bad" {
			sawBad = true
			assert.False(t, c.Passed, "expected bad check to be marked not passed")
			assert.True(t, c.Invoked, "expected bad check to have been invoked")
		}
	}
	assert.True(t, sawBad, "expected to find the 'bad' check result")
}

func TestRunInvocationFailureFailsOpen(t *testing.T) {
	g := NewGate([]Command{{Name: "missing-interpreter", Run: "true"}}, "/no/such/directory", nil)
	result := g.Run(context.Background())
	require.True(t, result.Passed, "expected fail-open pass when invocation itself fails, got %+v", result)
	require.Len(t, result.Checks, 1)
	assert.False(t, result.Checks[0].Invoked, "expected Invoked=false for a command that could not start")
}
