package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribe-cli/scribe/internal/agent"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, agent.TypeClaude, cfg.AgentType())
	assert.Equal(t, 3, cfg.Review.MaxIterations)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, Default().Agent.Model, cfg.Agent.Model)
}

func TestLoadFromRepoRoot(t *testing.T) {
	root := t.TempDir()
	content := `default_repo = "/work/repo"

[agent]
type = "claude"
model = "claude-opus-4-1"

[review]
max_iterations = 5
`
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(content), 0o644))

	cfg, err := Load(root, "")
	require.NoError(t, err)
	assert.Equal(t, "/work/repo", cfg.DefaultRepo)
	assert.Equal(t, "claude-opus-4-1", cfg.Agent.Model)
	assert.Equal(t, 5, cfg.Review.MaxIterations)
}

func TestLoadExplicitPathMissing(t *testing.T) {
	_, err := Load(t.TempDir(), filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("agent = ["), 0o644))
	_, err := Load(root, "")
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Agent.Type = "hal9000"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = Default()
	cfg.Agent.Model = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = Default()
	cfg.Review.MaxIterations = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestDotenvLoaded(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("SCRIBE_TEST_ENV_KEY=from-dotenv\n"), 0o644))
	t.Setenv("SCRIBE_TEST_ENV_KEY", "")
	os.Unsetenv("SCRIBE_TEST_ENV_KEY") //nolint:errcheck

	_, err := Load(root, "")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", os.Getenv("SCRIBE_TEST_ENV_KEY"))
}

func TestDotenvDoesNotOverrideExisting(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("SCRIBE_TEST_ENV_KEY2=from-dotenv\n"), 0o644))
	t.Setenv("SCRIBE_TEST_ENV_KEY2", "from-shell")

	_, err := Load(root, "")
	require.NoError(t, err)
	assert.Equal(t, "from-shell", os.Getenv("SCRIBE_TEST_ENV_KEY2"))
}
