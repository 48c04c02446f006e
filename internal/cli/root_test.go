package cli

import (
	"bytes"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := NewRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"plan", "run", "status", "list", "clean", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestPersistentFlagSurface(t *testing.T) {
	root := NewRootCommand()

	flags := map[string]*pflag.Flag{}
	root.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		flags[f.Name] = f
	})

	for _, want := range []string{"verbose", "quiet", "json", "repo", "config"} {
		require.NotNil(t, flags[want], want)
	}
	assert.Equal(t, "v", flags["verbose"].Shorthand)
	assert.Equal(t, "q", flags["quiet"].Shorthand)
	assert.Equal(t, "false", flags["verbose"].DefValue)
	assert.Equal(t, "", flags["repo"].DefValue)
}

func TestRunFlagDefaults(t *testing.T) {
	root := NewRootCommand()
	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)

	defaults := map[string]string{}
	run.Flags().VisitAll(func(f *pflag.Flag) {
		defaults[f.Name] = f.DefValue
	})

	assert.Equal(t, "0", defaults["phase"])
	assert.Equal(t, "false", defaults["resume"])
	assert.Equal(t, "false", defaults["dry-run"])
	assert.Equal(t, "false", defaults["skip-review"])
	assert.Equal(t, "false", defaults["skip-test"])
}

func TestPlanRequiresSlug(t *testing.T) {
	_, err := execute(t, "plan")
	assert.Error(t, err)
}

func TestPlanRequiresDescription(t *testing.T) {
	_, err := execute(t, "plan", "add-auth", "--repo", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "description")
}

func TestRunUnknownFeatureFails(t *testing.T) {
	_, err := execute(t, "run", "nope", "--repo", t.TempDir())
	assert.Error(t, err)
}

func TestStatusUnknownFeatureFails(t *testing.T) {
	_, err := execute(t, "status", "nope", "--repo", t.TempDir())
	assert.Error(t, err)
}

func TestListEmptyRepo(t *testing.T) {
	_, err := execute(t, "list", "--repo", t.TempDir())
	assert.NoError(t, err)
}

func TestCleanDryRunOutsideGitRepo(t *testing.T) {
	_, err := execute(t, "clean", "--dry-run", "--repo", t.TempDir())
	assert.NoError(t, err)
}

func TestVersionCommand(t *testing.T) {
	_, err := execute(t, "version")
	assert.NoError(t, err)
}
