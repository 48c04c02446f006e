package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scribe-cli/scribe/internal/logging"
)

// StateFileName is the machine-readable state file inside a feature dir.
const StateFileName = "state.yml"

// ErrCorruptState is returned when an existing state file cannot be decoded.
// Corruption is fatal for the affected feature and is never auto-repaired.
var ErrCorruptState = errors.New("corrupt state file")

// ErrNoSuchPhase is returned by mutations that require an existing
// PhaseRecord for the ordinal.
var ErrNoSuchPhase = errors.New("no phase record for ordinal")

var storeLogger = logging.New("state")

// DirName returns the feature directory name, e.g. "001-add-auth".
func DirName(ordinal int, slug string) string {
	return fmt.Sprintf("%03d-%s", ordinal, slug)
}

// BranchName returns the feature branch name, e.g. "feature/001-add-auth".
func BranchName(ordinal int, slug string) string {
	return "feature/" + DirName(ordinal, slug)
}

// Store owns one feature's state record and its file path. All mutations
// persist the whole record atomically and then fire the matching hook.
// Store is single-writer: the driving goroutine is the only mutator; hooks
// receive read snapshots.
type Store struct {
	stateFile string
	state     *FeatureState
	hooks     *HookRegistry
}

// LoadOrInit opens the store for the feature directory NNN-<slug> under
// <repoRoot>/specs. An existing state.yml is deserialized; otherwise a
// Pending state with default fields is constructed (but not yet persisted).
// The only failure mode for an existing file is corruption.
func LoadOrInit(slug string, ordinal int, repoRoot, agentType, model, version string) (*Store, error) {
	stateFile := filepath.Join(repoRoot, "specs", DirName(ordinal, slug), StateFileName)

	st := &Store{
		stateFile: stateFile,
		hooks:     NewHookRegistry(),
	}

	data, err := os.ReadFile(stateFile)
	switch {
	case err == nil:
		var fs FeatureState
		if err := yaml.Unmarshal(data, &fs); err != nil {
			return nil, fmt.Errorf("state: %w: %s: %v", ErrCorruptState, stateFile, err)
		}
		st.state = &fs
	case os.IsNotExist(err):
		name := displayName(slug)
		st.state = NewFeatureState(slug, ordinal, name, agentType, model, version)
	default:
		return nil, fmt.Errorf("state: reading %q: %w", stateFile, err)
	}

	return st, nil
}

// displayName derives a human name from the slug ("add-auth" -> "add auth").
func displayName(slug string) string {
	out := []byte(slug)
	for i := range out {
		if out[i] == '-' {
			out[i] = ' '
		}
	}
	return string(out)
}

// Hooks returns the registry so callers can attach observers.
func (s *Store) Hooks() *HookRegistry {
	return s.hooks
}

// State returns the current state. Callers treat it as read-only; all
// mutation goes through Store methods.
func (s *Store) State() *FeatureState {
	return s.state
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.stateFile
}

// Save persists the current state without firing hooks. Used for the
// initial write after LoadOrInit and for metadata-only updates.
func (s *Store) Save() error {
	return s.persist()
}

// StartPhase appends a PhaseRecord in in_progress, sets current_phase,
// persists, and fires on_phase_start. Starting an ordinal that already has
// a record restarts it in place (resume re-enters the interrupted phase)
// so the one-record-per-ordinal invariant holds.
func (s *Store) StartPhase(ordinal int, name string) error {
	now := time.Now().UTC()
	s.state.Feature.UpdatedAt = now
	s.state.Status.OverallStatus = StatusInProgress

	if rec := s.state.PhaseByOrdinal(ordinal); rec != nil {
		rec.Status = StatusInProgress
		rec.Name = name
		rec.StartedAt = &now
		rec.CompletedAt = nil
		rec.DurationSec = 0
	} else {
		s.state.Phases = append(s.state.Phases, PhaseRecord{
			Phase:     ordinal,
			Name:      name,
			Status:    StatusInProgress,
			StartedAt: &now,
		})
	}

	s.state.recomputeDerived()
	if err := s.persist(); err != nil {
		return err
	}
	s.hooks.firePhaseStart(s.state, ordinal)
	return nil
}

// CompletePhase marks the record completed, fills completed_at and
// duration, stores the result, persists, and fires on_phase_complete.
// Fails if the ordinal has no in_progress record.
func (s *Store) CompletePhase(ordinal int, result PhaseResult) error {
	rec := s.state.PhaseByOrdinal(ordinal)
	if rec == nil || rec.Status != StatusInProgress {
		return fmt.Errorf("state: completing phase %d: %w", ordinal, ErrNoSuchPhase)
	}

	now := time.Now().UTC()
	s.state.Feature.UpdatedAt = now
	rec.Status = StatusCompleted
	rec.CompletedAt = &now
	rec.Result = &result
	if rec.StartedAt != nil {
		rec.DurationSec = int64(now.Sub(*rec.StartedAt).Seconds())
	}

	s.state.recomputeDerived()
	if err := s.persist(); err != nil {
		return err
	}
	s.hooks.firePhaseComplete(s.state, ordinal)
	return nil
}

// UpdatePhaseStatus is the narrower transition form. For completed it also
// backfills completed_at and duration. The same persistence and hook rules
// apply as for CompletePhase.
func (s *Store) UpdatePhaseStatus(ordinal int, status Status) error {
	rec := s.state.PhaseByOrdinal(ordinal)
	if rec == nil {
		return fmt.Errorf("state: updating phase %d: %w", ordinal, ErrNoSuchPhase)
	}

	now := time.Now().UTC()
	s.state.Feature.UpdatedAt = now
	rec.Status = status
	if status == StatusCompleted {
		rec.CompletedAt = &now
		if rec.StartedAt != nil {
			rec.DurationSec = int64(now.Sub(*rec.StartedAt).Seconds())
		}
	}

	s.state.recomputeDerived()
	if err := s.persist(); err != nil {
		return err
	}
	if status == StatusCompleted {
		s.hooks.firePhaseComplete(s.state, ordinal)
	}
	return nil
}

// AddTask appends a task and persists.
func (s *Store) AddTask(task Task) error {
	s.state.Feature.UpdatedAt = time.Now().UTC()
	s.state.Tasks = append(s.state.Tasks, task)
	s.state.recomputeDerived()
	return s.persist()
}

// UpdateTaskStatus mutates a task's status, persists, and fires
// on_task_complete when the status becomes completed.
func (s *Store) UpdateTaskStatus(taskID string, status Status) error {
	task := s.state.TaskByID(taskID)
	if task == nil {
		return fmt.Errorf("state: no task %q", taskID)
	}

	s.state.Feature.UpdatedAt = time.Now().UTC()
	task.Status = status
	s.state.recomputeDerived()
	if err := s.persist(); err != nil {
		return err
	}
	if status == StatusCompleted {
		s.hooks.fireTaskComplete(s.state, taskID)
	}
	return nil
}

// RecordFileChange appends a file modification and persists.
func (s *Store) RecordFileChange(mod FileModification) error {
	s.state.Feature.UpdatedAt = time.Now().UTC()
	s.state.FilesModified = append(s.state.FilesModified, mod)
	return s.persist()
}

// AddCost attaches cost to a phase record (summing with any prior cost for
// that phase) and updates the cumulative summary so that the summary always
// equals the sum of per-phase costs.
func (s *Store) AddCost(ordinal int, cost PhaseCost) error {
	s.state.Feature.UpdatedAt = time.Now().UTC()

	if rec := s.state.PhaseByOrdinal(ordinal); rec != nil {
		if rec.Cost == nil {
			rec.Cost = &PhaseCost{}
		}
		rec.Cost.TokensInput += cost.TokensInput
		rec.Cost.TokensOutput += cost.TokensOutput
		rec.Cost.CostUSD += cost.CostUSD
	}

	s.state.CostSummary.TotalTokensInput += cost.TokensInput
	s.state.CostSummary.TotalTokensOutput += cost.TokensOutput
	s.state.CostSummary.TotalCostUSD += cost.CostUSD

	return s.persist()
}

// RecordError appends an execution error, persists, and fires
// on_error_recorded.
func (s *Store) RecordError(execErr ExecutionError) error {
	if execErr.Timestamp.IsZero() {
		execErr.Timestamp = time.Now().UTC()
	}
	s.state.Feature.UpdatedAt = time.Now().UTC()
	s.state.Errors = append(s.state.Errors, execErr)
	if err := s.persist(); err != nil {
		return err
	}
	s.hooks.fireErrorRecorded(s.state)
	return nil
}

// Checkpoint updates the resume checkpoint and marks the feature resumable.
func (s *Store) Checkpoint(label, context string) error {
	s.state.Feature.UpdatedAt = time.Now().UTC()
	s.state.Resume.LastCheckpoint = label
	s.state.Resume.ResumePromptCtx = context
	s.state.Resume.CanResumeFromPhase = s.state.Status.CurrentPhase
	s.state.Status.CanResume = true
	return s.persist()
}

// MarkCompleted transitions the overall status to completed and clears the
// resume flag.
func (s *Store) MarkCompleted() error {
	s.state.Feature.UpdatedAt = time.Now().UTC()
	s.state.Status.OverallStatus = StatusCompleted
	s.state.Status.CanResume = false
	return s.persist()
}

// MarkFailed transitions the overall status to failed.
func (s *Store) MarkFailed() error {
	s.state.Feature.UpdatedAt = time.Now().UTC()
	s.state.Status.OverallStatus = StatusFailed
	return s.persist()
}

// PausePhase transitions the given phase to paused and writes a checkpoint.
// Used on cancellation so the next run can resume.
func (s *Store) PausePhase(ordinal int, label, context string) error {
	if rec := s.state.PhaseByOrdinal(ordinal); rec != nil {
		rec.Status = StatusPaused
	}
	s.state.Status.OverallStatus = StatusPaused
	s.state.Status.CanResume = true
	return s.Checkpoint(label, context)
}

// SetDelivery records the PR info and persists.
func (s *Store) SetDelivery(info DeliveryInfo) error {
	s.state.Feature.UpdatedAt = time.Now().UTC()
	s.state.Delivery = info
	return s.persist()
}

// CanResume reports whether an interrupted run can be resumed.
func (s *Store) CanResume() bool {
	return s.state.Status.CanResume
}

// GenerateResumeContext yields a compact recap used to seed the next agent
// call after an interruption.
func (s *Store) GenerateResumeContext() string {
	current := s.state.Status.CurrentPhase
	phaseName := "Unknown"
	if rec := s.state.PhaseByOrdinal(current); rec != nil {
		phaseName = rec.Name
	}

	completedTasks := 0
	for _, t := range s.state.Tasks {
		if t.Status == StatusCompleted {
			completedTasks++
		}
	}

	return fmt.Sprintf(
		"Resuming feature %q from phase %d (%s). Last checkpoint: %s. %d tasks completed.",
		s.state.Feature.Slug, current, phaseName,
		s.state.Resume.LastCheckpoint, completedTasks,
	)
}

// persist writes the entire state to a temporary sibling file and atomically
// renames it over the target, so readers never observe a torn file.
// Serialization failures abort the mutation's durability but the in-memory
// mutation has already happened; callers surface the error.
func (s *Store) persist() error {
	dir := filepath.Dir(s.stateFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: creating %q: %w", dir, err)
	}

	data, err := yaml.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("state: serializing: %w", err)
	}

	tmp := s.stateFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: writing %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.stateFile); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("state: renaming to %q: %w", s.stateFile, err)
	}

	storeLogger.Debug("state saved", "path", s.stateFile)
	return nil
}

// ReadStateFile loads a feature state directly from a file without opening
// a Store. Used by list/clean, which scan many features read-only.
func ReadStateFile(path string) (*FeatureState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("state: reading %q: %w", path, err)
	}
	var fs FeatureState
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("state: %w: %s: %v", ErrCorruptState, path, err)
	}
	return &fs, nil
}
