package worktree

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribe-cli/scribe/internal/state"
)

// fakePRStater returns canned PR states per number.
type fakePRStater struct {
	states map[int]string
}

func (f *fakePRStater) PRState(_ context.Context, number int) (string, error) {
	if s, ok := f.states[number]; ok {
		return s, nil
	}
	return "", errors.New("no such pr")
}

func TestIsGitRepo(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)
	assert.False(t, m.IsGitRepo())

	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	assert.True(t, m.IsGitRepo())
}

func TestIsGitRepoWorktreeFile(t *testing.T) {
	dir := t.TempDir()
	// A worktree checkout has a .git *file* pointing at the real gitdir.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git"), []byte("gitdir: /elsewhere"), 0o644))
	assert.True(t, NewManager(dir, nil).IsGitRepo())
}

func TestCreateFailsOutsideGitRepo(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	_, err := m.Create(context.Background(), "add-auth", 1, "")
	assert.ErrorIs(t, err, ErrNotGitRepo)
}

func TestCreateFailsWhenPathExists(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".trees", "001-add-auth"), 0o755))

	m := NewManager(dir, nil)
	_, err := m.Create(context.Background(), "add-auth", 1, "")
	assert.ErrorIs(t, err, ErrWorktreeExists)
}

func TestRemoveMissingWorktree(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	err := m.Remove(context.Background(), "001-add-auth")
	assert.ErrorIs(t, err, ErrWorktreeMissing)
}

func TestWorktreePathLayout(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)
	assert.Equal(t, filepath.Join(dir, ".trees", "001-add-auth"), m.Path("001-add-auth"))
	assert.False(t, m.Exists("001-add-auth"))
}

func TestParsePorcelain(t *testing.T) {
	out := `worktree /repo
HEAD aaaa
branch refs/heads/main

worktree /repo/.trees/001-add-auth
HEAD bbbb
branch refs/heads/feature/001-add-auth

worktree /repo/.trees/002-fix-login
HEAD cccc
detached
`
	infos := parsePorcelain(out)
	require.Len(t, infos, 3)
	assert.Equal(t, "main", infos[0].Branch)
	assert.Equal(t, "001-add-auth", infos[1].Name)
	assert.Equal(t, "feature/001-add-auth", infos[1].Branch)
	assert.Equal(t, "002-fix-login", infos[2].Name)
	assert.Empty(t, infos[2].Branch)
}

// writeCompletedState writes a completed feature state with the given PR
// info and a matching worktree directory.
func writeCompletedState(t *testing.T, root, slug string, ordinal, prNumber int, merged bool) {
	t.Helper()
	st, err := state.LoadOrInit(slug, ordinal, root, "claude", "m", "test")
	require.NoError(t, err)
	require.NoError(t, st.SetDelivery(state.DeliveryInfo{
		PRURL:    "https://github.com/o/r/pull/0",
		PRNumber: prNumber,
		Merged:   merged,
	}))
	require.NoError(t, st.MarkCompleted())
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".trees", state.DirName(ordinal, slug)), 0o755))
}

func TestCleanCompletedDryRunHonorsPRState(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))

	writeCompletedState(t, root, "merged-feat", 1, 11, false)
	writeCompletedState(t, root, "open-feat", 2, 22, false)

	m := NewManager(root, &fakePRStater{states: map[int]string{11: "MERGED", 22: "OPEN"}})
	candidates, err := m.CleanCompleted(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"001-merged-feat"}, candidates)

	// specs/ entries remain for both features.
	for _, name := range []string{"001-merged-feat", "002-open-feat"} {
		_, err := os.Stat(filepath.Join(root, "specs", name, state.StateFileName))
		assert.NoError(t, err, name)
	}
}

func TestCleanCompletedFallsBackToMergedFlag(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))

	// No PR number recorded; the stored merged flag decides.
	writeCompletedState(t, root, "flagged", 3, 0, true)
	writeCompletedState(t, root, "unflagged", 4, 0, false)

	m := NewManager(root, &fakePRStater{})
	candidates, err := m.CleanCompleted(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"003-flagged"}, candidates)
}

func TestCleanCompletedSkipsInProgress(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))

	st, err := state.LoadOrInit("busy", 5, root, "claude", "m", "test")
	require.NoError(t, err)
	require.NoError(t, st.StartPhase(3, "Execute Phase 1"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".trees", "005-busy"), 0o755))

	m := NewManager(root, &fakePRStater{})
	candidates, err := m.CleanCompleted(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
