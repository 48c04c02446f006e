package status

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribe-cli/scribe/internal/state"
)

func newTestState(t *testing.T) (*state.Store, string) {
	t.Helper()
	root := t.TempDir()
	st, err := state.LoadOrInit("add-auth", 1, root, "claude", "claude-sonnet-4-20250514", "test")
	require.NoError(t, err)
	return st, root
}

func TestProjectorWritesDocumentOnPhaseStart(t *testing.T) {
	st, root := newTestState(t)
	specsDir := filepath.Join(root, "specs")
	st.Hooks().Add(NewProjector(specsDir, "Add OAuth login"))

	require.NoError(t, st.StartPhase(1, "Build Observer"))

	path := filepath.Join(specsDir, "001-add-auth", DocumentName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	doc := string(data)
	assert.Contains(t, doc, "# Feature Status: add auth")
	assert.Contains(t, doc, "Add OAuth login")
	assert.Contains(t, doc, "Started Phase 1 - Build Observer")
}

func TestPhaseTableHasAllSevenRows(t *testing.T) {
	st, _ := newTestState(t)
	p := NewProjector(t.TempDir(), "")

	require.NoError(t, st.StartPhase(1, "Build Observer"))
	doc := p.Render(st.State())

	for n := 1; n <= 7; n++ {
		assert.Contains(t, doc, fmt.Sprintf("| %d | ", n), "row for phase %d", n)
	}
	// Not-yet-started phases show pending.
	assert.Contains(t, doc, "| 7 | Verification | ⏳ pending")
}

func TestOverallProgressAfterPlan(t *testing.T) {
	st, _ := newTestState(t)
	p := NewProjector(t.TempDir(), "")

	// One completed run phase: progress between 9 and 11 percent.
	require.NoError(t, st.StartPhase(1, "Build Observer"))
	require.NoError(t, st.CompletePhase(1, state.PhaseResult{Success: true}))

	doc := p.Render(st.State())
	found := false
	for pct := 9; pct <= 11; pct++ {
		if strings.Contains(doc, fmt.Sprintf("Overall progress: %d%%", pct)) {
			found = true
		}
	}
	assert.True(t, found, "expected progress 9-11%% in:\n%s", doc)
}

func TestBudgetBands(t *testing.T) {
	assert.Equal(t, "🟢 green", BudgetBand(0, 0))
	assert.Equal(t, "🟢 green", BudgetBand(1, 9))   // 10%
	assert.Equal(t, "🟢 green", BudgetBand(5.9, 4.1)) // 59%
	assert.Equal(t, "🟡 yellow", BudgetBand(6, 4))  // 60%
	assert.Equal(t, "🟡 yellow", BudgetBand(8, 2))  // 80%
	assert.Equal(t, "🔴 red", BudgetBand(9, 1))     // 90%
}

func TestIssuesSectionFromErrors(t *testing.T) {
	st, _ := newTestState(t)
	p := NewProjector(t.TempDir(), "")

	require.NoError(t, st.StartPhase(5, "Code Review"))
	require.NoError(t, st.RecordError(state.ExecutionError{
		Phase: 5, Kind: "scribe_error", Message: "review iterations exhausted",
	}))

	doc := p.Render(st.State())
	assert.Contains(t, doc, "🔴 critical")
	assert.Contains(t, doc, "scribe_error")
	assert.Contains(t, doc, "review iterations exhausted")
}

func TestChangeLogBounded(t *testing.T) {
	st, root := newTestState(t)
	specsDir := filepath.Join(root, "specs")
	p := NewProjector(specsDir, "")
	st.Hooks().Add(p)

	// 15 start/complete pairs produce 30 entries; only the last 20 survive.
	for i := 0; i < 15; i++ {
		require.NoError(t, st.StartPhase(1, "Build Observer"))
		require.NoError(t, st.UpdatePhaseStatus(1, state.StatusCompleted))
	}

	doc := p.Render(st.State())
	logSection := doc[strings.Index(doc, "## Change Log"):]
	logSection = logSection[:strings.Index(logSection, "## Next Steps")]
	assert.Equal(t, changeLogLimit, strings.Count(logSection, "\n- "))
}

func TestNextStepsListsPendingTasks(t *testing.T) {
	st, _ := newTestState(t)
	p := NewProjector(t.TempDir(), "")

	require.NoError(t, st.StartPhase(3, "Execute Phase 1"))
	require.NoError(t, st.AddTask(state.Task{ID: "T-001", Kind: state.TaskImplementation, Description: "wire handler", Status: state.StatusPending, AssignedPhase: 3}))

	doc := p.Render(st.State())
	assert.Contains(t, doc, "Finish Phase 3")
	assert.Contains(t, doc, "Then Phase 4")
	assert.Contains(t, doc, "T-001: wire handler")
}
