package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvVarNames(t *testing.T) {
	assert.Equal(t, []string{"ANTHROPIC_API_KEY", "CLAUDE_API_KEY"}, TypeClaude.EnvVarNames())
	assert.Equal(t, []string{"CURSOR_API_KEY"}, TypeCursor.EnvVarNames())
	assert.Equal(t, []string{"COPILOT_GITHUB_TOKEN", "GH_TOKEN", "GITHUB_TOKEN"}, TypeCopilot.EnvVarNames())
	assert.Nil(t, Type("bogus").EnvVarNames())
}

func TestDetectCredential(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("CLAUDE_API_KEY", "")

	_, err := TypeClaude.DetectCredential()
	assert.ErrorIs(t, err, ErrMissingCredential)

	t.Setenv("CLAUDE_API_KEY", "sk-test")
	key, err := TypeClaude.DetectCredential()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", key)

	// The primary variable wins when both are set.
	t.Setenv("ANTHROPIC_API_KEY", "sk-primary")
	key, err = TypeClaude.DetectCredential()
	require.NoError(t, err)
	assert.Equal(t, "sk-primary", key)
}

func TestCapabilityDescriptors(t *testing.T) {
	claude := CapabilitiesFor(TypeClaude)
	assert.True(t, claude.SystemPrompt)
	assert.True(t, claude.ToolControl)
	assert.True(t, claude.PermissionMode)
	assert.True(t, claude.CostControl)
	assert.True(t, claude.Streaming)

	cursor := CapabilitiesFor(TypeCursor)
	assert.True(t, cursor.SystemPrompt)
	assert.False(t, cursor.Streaming)
	assert.False(t, cursor.ToolControl)
}

func TestFactory(t *testing.T) {
	a, err := New(TypeClaude, "claude-sonnet-4-20250514", "")
	require.NoError(t, err)
	assert.Equal(t, TypeClaude, a.Type())

	_, err = New(TypeCursor, "", "")
	assert.ErrorIs(t, err, ErrNotImplemented)

	_, err = New(TypeCopilot, "", "")
	assert.ErrorIs(t, err, ErrNotImplemented)

	_, err = New(Type("bogus"), "", "")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestClaudeBuildArgs(t *testing.T) {
	c := NewClaude(ClaudeConfig{Model: "claude-sonnet-4-20250514"})
	args, cleanup, err := c.buildArgs(Request{
		Prompt:          "do the thing",
		SystemPrompt:    "be careful",
		AllowedTools:    []string{"Read", "Write"},
		DisallowedTools: []string{"Bash"},
		PermissionMode:  "accept_edits",
		MaxTurns:        15,
	})
	require.NoError(t, err)
	defer cleanup()

	joined := ""
	for _, a := range args {
		joined += a + " "
	}
	assert.Contains(t, joined, "--output-format stream-json")
	assert.Contains(t, joined, "--model claude-sonnet-4-20250514")
	assert.Contains(t, joined, "--allowedTools Read,Write")
	assert.Contains(t, joined, "--disallowedTools Bash")
	assert.Contains(t, joined, "--max-turns 15")
	assert.Contains(t, joined, "--permission-mode accept_edits")
	assert.Equal(t, "do the thing", args[len(args)-1])
}

func TestMockScriptedOutputs(t *testing.T) {
	m := NewMock("NEEDS_CHANGES", "NEEDS_CHANGES", "APPROVED")

	for i, want := range []string{"NEEDS_CHANGES", "NEEDS_CHANGES", "APPROVED", "APPROVED"} {
		res, err := m.Execute(context.Background(), Request{ID: "r"}, nil)
		require.NoError(t, err)
		assert.Equal(t, want, res.Output, "call %d", i)
	}
	assert.Len(t, m.Calls, 4)
}

func TestMockScriptedError(t *testing.T) {
	wantErr := errors.New("transport down")
	m := NewMock("ok")
	m.Errs = map[int]error{1: wantErr}

	_, err := m.Execute(context.Background(), Request{}, nil)
	require.NoError(t, err)
	_, err = m.Execute(context.Background(), Request{}, nil)
	assert.ErrorIs(t, err, wantErr)
}
