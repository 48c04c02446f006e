package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	st, err := LoadOrInit("add-auth", 1, root, "claude", "claude-sonnet-4-20250514", "test")
	require.NoError(t, err)
	return st, root
}

func TestLoadOrInitDefaults(t *testing.T) {
	st, _ := newTestStore(t)

	fs := st.State()
	assert.Equal(t, "add-auth", fs.Feature.Slug)
	assert.Equal(t, 1, fs.Feature.Ordinal)
	assert.Equal(t, "add auth", fs.Feature.Name)
	assert.Equal(t, StatusPending, fs.Status.OverallStatus)
	assert.Equal(t, "feature/001-add-auth", fs.Metadata.TargetBranch)
	assert.NotEmpty(t, fs.Agent.SessionID)
	assert.False(t, st.CanResume())
}

func TestLoadOrInitRoundTrip(t *testing.T) {
	st, root := newTestStore(t)
	require.NoError(t, st.StartPhase(1, "Build Observer"))
	require.NoError(t, st.CompletePhase(1, PhaseResult{Success: true, OutputFile: "phase1_output.md"}))

	reloaded, err := LoadOrInit("add-auth", 1, root, "claude", "claude-sonnet-4-20250514", "test")
	require.NoError(t, err)

	fs := reloaded.State()
	require.Len(t, fs.Phases, 1)
	assert.Equal(t, "Build Observer", fs.Phases[0].Name)
	assert.Equal(t, StatusCompleted, fs.Phases[0].Status)
	require.NotNil(t, fs.Phases[0].Result)
	assert.Equal(t, "phase1_output.md", fs.Phases[0].Result.OutputFile)
}

func TestLoadOrInitCorruptFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "specs", "001-add-auth")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFileName), []byte("{{{not yaml"), 0o644))

	_, err := LoadOrInit("add-auth", 1, root, "claude", "m", "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptState)
}

func TestStartPhaseCreatesSingleRecordPerOrdinal(t *testing.T) {
	st, _ := newTestStore(t)

	require.NoError(t, st.StartPhase(3, "Execute Phase 1"))
	require.NoError(t, st.StartPhase(3, "Execute Phase 1")) // restart, e.g. resume

	count := 0
	for _, p := range st.State().Phases {
		if p.Phase == 3 {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 3, st.State().Status.CurrentPhase)
	assert.True(t, st.CanResume())
}

func TestCompletePhaseTimingInvariant(t *testing.T) {
	st, _ := newTestStore(t)
	require.NoError(t, st.StartPhase(1, "Build Observer"))
	require.NoError(t, st.CompletePhase(1, PhaseResult{Success: true}))

	rec := st.State().PhaseByOrdinal(1)
	require.NotNil(t, rec)
	require.NotNil(t, rec.StartedAt)
	require.NotNil(t, rec.CompletedAt)
	assert.False(t, rec.CompletedAt.Before(*rec.StartedAt))
	// Duration approximates completed-started (sub-second runs round to 0).
	assert.InDelta(t, rec.CompletedAt.Sub(*rec.StartedAt).Seconds(), float64(rec.DurationSec), 1.0)
}

func TestCompletePhaseRequiresInProgress(t *testing.T) {
	st, _ := newTestStore(t)

	err := st.CompletePhase(2, PhaseResult{Success: true})
	assert.ErrorIs(t, err, ErrNoSuchPhase)

	require.NoError(t, st.StartPhase(2, "Build Plan"))
	require.NoError(t, st.CompletePhase(2, PhaseResult{Success: true}))
	// Completing twice fails: the record is no longer in progress.
	err = st.CompletePhase(2, PhaseResult{Success: true})
	assert.ErrorIs(t, err, ErrNoSuchPhase)
}

func TestUpdatePhaseStatusBackfillsCompletion(t *testing.T) {
	st, _ := newTestStore(t)
	require.NoError(t, st.StartPhase(5, "Code Review"))
	require.NoError(t, st.UpdatePhaseStatus(5, StatusCompleted))

	rec := st.State().PhaseByOrdinal(5)
	require.NotNil(t, rec)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.NotNil(t, rec.CompletedAt)
}

func TestCostSummaryEqualsSumOfPhaseCosts(t *testing.T) {
	st, _ := newTestStore(t)
	require.NoError(t, st.StartPhase(3, "Execute Phase 1"))
	require.NoError(t, st.AddCost(3, PhaseCost{TokensInput: 1000, TokensOutput: 500, CostUSD: 0.25}))
	require.NoError(t, st.AddCost(3, PhaseCost{TokensInput: 200, TokensOutput: 100, CostUSD: 0.05}))
	require.NoError(t, st.StartPhase(4, "Execute Phase 2"))
	require.NoError(t, st.AddCost(4, PhaseCost{TokensInput: 300, TokensOutput: 150, CostUSD: 0.10}))

	fs := st.State()
	var sumIn, sumOut int
	var sumUSD float64
	for _, p := range fs.Phases {
		if p.Cost != nil {
			sumIn += p.Cost.TokensInput
			sumOut += p.Cost.TokensOutput
			sumUSD += p.Cost.CostUSD
		}
	}
	assert.Equal(t, sumIn, fs.CostSummary.TotalTokensInput)
	assert.Equal(t, sumOut, fs.CostSummary.TotalTokensOutput)
	assert.InDelta(t, sumUSD, fs.CostSummary.TotalCostUSD, 1e-9)
}

func TestCompletionPercentage(t *testing.T) {
	st, _ := newTestStore(t)

	// One completed run phase out of seven, no tasks: ~10%.
	require.NoError(t, st.StartPhase(1, "Build Observer"))
	require.NoError(t, st.CompletePhase(1, PhaseResult{Success: true}))
	pct := st.State().CompletionPercentage()
	assert.GreaterOrEqual(t, pct, 9)
	assert.LessOrEqual(t, pct, 11)

	// Tasks weigh in at 30%.
	require.NoError(t, st.AddTask(Task{ID: "T-001", Kind: TaskImplementation, Description: "wire handler", Status: StatusPending, AssignedPhase: 3}))
	require.NoError(t, st.AddTask(Task{ID: "T-002", Kind: TaskTesting, Description: "add tests", Status: StatusPending, AssignedPhase: 3}))
	require.NoError(t, st.UpdateTaskStatus("T-001", StatusCompleted))
	// 0.7*(1/7) + 0.3*(1/2) = 25%
	assert.Equal(t, 25, st.State().CompletionPercentage())
}

func TestCheckpointAndResumeContext(t *testing.T) {
	st, _ := newTestStore(t)
	require.NoError(t, st.StartPhase(3, "Execute Phase 1"))
	require.NoError(t, st.AddTask(Task{ID: "T-001", Kind: TaskImplementation, Description: "d", Status: StatusCompleted, AssignedPhase: 3}))
	require.NoError(t, st.Checkpoint("phase3-midway", "implementing handler"))

	assert.True(t, st.CanResume())
	assert.Equal(t, 3, st.State().Resume.CanResumeFromPhase)

	recap := st.GenerateResumeContext()
	assert.Contains(t, recap, "add-auth")
	assert.Contains(t, recap, "phase 3")
	assert.Contains(t, recap, "phase3-midway")
	assert.Contains(t, recap, "1 tasks completed")
}

func TestAtomicPersistenceNoTornFile(t *testing.T) {
	st, _ := newTestStore(t)
	require.NoError(t, st.StartPhase(1, "Build Observer"))

	// After every mutation the target file decodes cleanly and no temp file
	// is left behind.
	for i := 0; i < 5; i++ {
		require.NoError(t, st.AddCost(1, PhaseCost{TokensInput: 10, TokensOutput: 5, CostUSD: 0.01}))
		fs, err := ReadStateFile(st.Path())
		require.NoError(t, err)
		assert.Equal(t, "add-auth", fs.Feature.Slug)
		_, err = os.Stat(st.Path() + ".tmp")
		assert.True(t, os.IsNotExist(err))
	}
}

func TestRecordFileChangeAndError(t *testing.T) {
	st, _ := newTestStore(t)
	require.NoError(t, st.StartPhase(3, "Execute Phase 1"))
	require.NoError(t, st.RecordFileChange(FileModification{
		Path: "internal/auth/login.go", Operation: "added", Phase: 3, SizeBytes: 1024,
	}))
	require.NoError(t, st.RecordError(ExecutionError{
		Phase: 3, Kind: "agent_error", Message: "transport reset",
	}))

	fs := st.State()
	require.Len(t, fs.FilesModified, 1)
	require.Len(t, fs.Errors, 1)
	assert.False(t, fs.Errors[0].Timestamp.IsZero())
}

func TestPausePhaseWritesCheckpoint(t *testing.T) {
	st, _ := newTestStore(t)
	require.NoError(t, st.StartPhase(4, "Execute Phase 2"))
	require.NoError(t, st.PausePhase(4, "interrupted", "cancelled by user"))

	fs := st.State()
	assert.Equal(t, StatusPaused, fs.PhaseByOrdinal(4).Status)
	assert.Equal(t, StatusPaused, fs.Status.OverallStatus)
	assert.True(t, st.CanResume())
	assert.Equal(t, "interrupted", fs.Resume.LastCheckpoint)
}

func TestMarkCompletedClearsResume(t *testing.T) {
	st, _ := newTestStore(t)
	require.NoError(t, st.StartPhase(7, "Verification"))
	require.NoError(t, st.CompletePhase(7, PhaseResult{Success: true}))
	require.NoError(t, st.MarkCompleted())

	assert.Equal(t, StatusCompleted, st.State().Status.OverallStatus)
	assert.False(t, st.CanResume())
}

func TestDirAndBranchNames(t *testing.T) {
	assert.Equal(t, "001-add-auth", DirName(1, "add-auth"))
	assert.Equal(t, "042-fix-login", DirName(42, "fix-login"))
	assert.Equal(t, "feature/001-add-auth", BranchName(1, "add-auth"))
}
