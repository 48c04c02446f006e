package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLevels(t *testing.T) {
	t.Setenv(EnvLevel, "")
	t.Cleanup(func() { Setup(false, false, false) })

	tests := []struct {
		name    string
		verbose bool
		quiet   bool
		want    log.Level
	}{
		{"default is info", false, false, log.InfoLevel},
		{"verbose is debug", true, false, log.DebugLevel},
		{"quiet is error", false, true, log.ErrorLevel},
		{"quiet wins over verbose", true, true, log.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Setup(tt.verbose, tt.quiet, false)
			assert.Equal(t, tt.want, log.GetLevel())
		})
	}
}

func TestSetupEnvOverride(t *testing.T) {
	t.Cleanup(func() { Setup(false, false, false) })

	t.Setenv(EnvLevel, "debug")
	Setup(false, false, false)
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	t.Setenv(EnvLevel, "warn")
	Setup(false, false, false)
	assert.Equal(t, log.WarnLevel, log.GetLevel())

	// Flags beat the environment.
	t.Setenv(EnvLevel, "debug")
	Setup(false, true, false)
	assert.Equal(t, log.ErrorLevel, log.GetLevel())

	// Unknown values fall back to Info.
	t.Setenv(EnvLevel, "chatty")
	Setup(false, false, false)
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}

func TestNewWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	Setup(false, false, false)
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	logger := New("worktree")
	logger.Info("created", "path", ".trees/001-add-auth")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "worktree")
	assert.Contains(t, out, "created")
}

func TestNewEmptyComponent(t *testing.T) {
	var buf bytes.Buffer
	Setup(false, false, false)
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	logger := New("")
	logger.Info("no prefix")

	assert.Contains(t, buf.String(), "no prefix")
}
