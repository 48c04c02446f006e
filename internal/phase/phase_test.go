package phase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinCatalogShape(t *testing.T) {
	c := NewCatalog()

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, c.RunOrdinals())

	plan, ok := c.Get(OrdinalPlan)
	require.True(t, ok)
	assert.Equal(t, "Plan Feature", plan.Name)
	assert.Equal(t, "plan/feature_analysis", plan.TemplateID)

	observer, ok := c.Get(OrdinalObserver)
	require.True(t, ok)
	assert.Equal(t, []string{"Read"}, observer.AllowedTools)
	assert.Equal(t, ModePlan, observer.Mode)
	assert.Equal(t, 5, observer.MaxTurns)

	_, ok = c.Get(8)
	assert.False(t, ok)
	_, ok = c.Get(-1)
	assert.False(t, ok)
}

func TestWriteCapablePhases(t *testing.T) {
	c := NewCatalog()

	writers := map[int]bool{3: true, 4: true, 6: true}
	for _, n := range c.RunOrdinals() {
		cfg, ok := c.Get(n)
		require.True(t, ok)
		assert.Equal(t, writers[n], cfg.WritesFiles(), "phase %d", n)
	}
}

func TestDecisionProfiles(t *testing.T) {
	c := NewCatalog()

	review, _ := c.Get(OrdinalReview)
	assert.Equal(t, ProfileReview, review.Profile)

	verification, _ := c.Get(OrdinalVerification)
	assert.Equal(t, ProfileVerification, verification.Profile)

	for _, n := range []int{0, 1, 2, 3, 4, 6} {
		cfg, _ := c.Get(n)
		assert.Equal(t, ProfileNone, cfg.Profile, "phase %d", n)
	}
}

func TestExecutePhaseBudgets(t *testing.T) {
	c := NewCatalog()
	for _, n := range []int{3, 4} {
		cfg, _ := c.Get(n)
		assert.Equal(t, 5.0, cfg.MaxBudgetUSD, "phase %d", n)
	}
	review, _ := c.Get(OrdinalReview)
	assert.Zero(t, review.MaxBudgetUSD)
}

func TestLoadCatalogMissingDir(t *testing.T) {
	c, err := LoadCatalog(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Equal(t, NewCatalog().RunOrdinals(), c.RunOrdinals())
}

func TestLoadCatalogOverride(t *testing.T) {
	dir := t.TempDir()
	override := `ordinal = 5
name = "Strict Review"
max_turns = 20
permission_mode = "plan"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "review.toml"), []byte(override), 0o644))

	c, err := LoadCatalog(dir)
	require.NoError(t, err)

	review, ok := c.Get(OrdinalReview)
	require.True(t, ok)
	assert.Equal(t, "Strict Review", review.Name)
	assert.Equal(t, 20, review.MaxTurns)
	// Untouched fields keep their bundled values.
	assert.Equal(t, ProfileReview, review.Profile)
	assert.Equal(t, []string{"Read"}, review.AllowedTools)
}

func TestLoadCatalogRejectsUnknownOrdinal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bogus.toml"), []byte("ordinal = 42\n"), 0o644))

	_, err := LoadCatalog(dir)
	assert.Error(t, err)
}

func TestLoadCatalogRejectsInvalidMode(t *testing.T) {
	dir := t.TempDir()
	content := "ordinal = 3\npermission_mode = \"yolo\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "exec.toml"), []byte(content), 0o644))

	_, err := LoadCatalog(dir)
	assert.Error(t, err)
}

func TestPermissionModeValidity(t *testing.T) {
	assert.True(t, ModeDefault.IsValid())
	assert.True(t, ModeAcceptEdits.IsValid())
	assert.True(t, ModePlan.IsValid())
	assert.True(t, ModeBypassPermissions.IsValid())
	assert.False(t, PermissionMode("yolo").IsValid())
}
