// Package state owns the durable record of one feature's lifecycle and the
// hook mechanism that observes it.
//
// The record is serialized as YAML to specs/<dir>/state.yml. Every mutating
// Store operation persists the whole record atomically (temp file + rename)
// and then fires the matching hook, so a crash leaves either the prior or
// the new state on disk and observers always see a consistent post-mutation
// snapshot.
package state

import (
	"time"

	"github.com/google/uuid"
)

// stateVersion is written into every state file for forward compatibility.
const stateVersion = "1.0"

// totalRunPhases is the number of run phases a feature moves through.
const totalRunPhases = 7

// Status is the lifecycle state shared by phases, tasks, and the feature.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusPaused     Status = "paused"
)

// TaskKind classifies the work a task represents.
type TaskKind string

const (
	TaskImplementation TaskKind = "implementation"
	TaskRefactoring    TaskKind = "refactoring"
	TaskBugfix         TaskKind = "bugfix"
	TaskTesting        TaskKind = "testing"
	TaskVerification   TaskKind = "verification"
)

// FeatureState is the full serializable record of one feature.
type FeatureState struct {
	Version       string             `yaml:"version"`
	Feature       FeatureInfo        `yaml:"feature"`
	Status        ExecutionStatus    `yaml:"status"`
	Agent         AgentInfo          `yaml:"agent"`
	Phases        []PhaseRecord      `yaml:"phases"`
	Tasks         []Task             `yaml:"tasks"`
	Resume        ResumeCheckpoint   `yaml:"resume"`
	CostSummary   CostSummary        `yaml:"cost_summary"`
	FilesModified []FileModification `yaml:"files_modified"`
	Delivery      DeliveryInfo       `yaml:"delivery"`
	Metadata      Metadata           `yaml:"metadata"`
	Errors        []ExecutionError   `yaml:"errors"`
}

// FeatureInfo identifies a feature. Slug and Ordinal are assigned at
// creation and never change.
type FeatureInfo struct {
	Slug      string    `yaml:"slug"`
	Ordinal   int       `yaml:"ordinal"`
	Name      string    `yaml:"name"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// ExecutionStatus summarizes overall progress.
type ExecutionStatus struct {
	CurrentPhase         int    `yaml:"current_phase"`
	OverallStatus        Status `yaml:"overall_status"`
	CompletionPercentage int    `yaml:"completion_percentage"`
	CanResume            bool   `yaml:"can_resume"`
}

// AgentInfo describes the agent driving this feature.
type AgentInfo struct {
	Type      string `yaml:"type"`
	Model     string `yaml:"model"`
	SessionID string `yaml:"session_id"`
}

// PhaseRecord tracks one phase that has ever started, keyed by ordinal.
type PhaseRecord struct {
	Phase       int          `yaml:"phase"`
	Name        string       `yaml:"name"`
	Status      Status       `yaml:"status"`
	StartedAt   *time.Time   `yaml:"started_at,omitempty"`
	CompletedAt *time.Time   `yaml:"completed_at,omitempty"`
	DurationSec int64        `yaml:"duration_seconds,omitempty"`
	Cost        *PhaseCost   `yaml:"cost,omitempty"`
	Result      *PhaseResult `yaml:"result,omitempty"`
}

// PhaseCost holds per-phase token and dollar spend.
type PhaseCost struct {
	TokensInput  int     `yaml:"tokens_input"`
	TokensOutput int     `yaml:"tokens_output"`
	CostUSD      float64 `yaml:"cost_usd"`
}

// PhaseResult records the outcome of a completed phase.
type PhaseResult struct {
	Success    bool              `yaml:"success"`
	OutputFile string            `yaml:"output_file,omitempty"`
	Extra      map[string]string `yaml:"extra,omitempty"`
}

// Task is an optional finer-grained unit recorded by phases.
type Task struct {
	ID            string   `yaml:"id"`
	Kind          TaskKind `yaml:"kind"`
	Description   string   `yaml:"description"`
	Status        Status   `yaml:"status"`
	AssignedPhase int      `yaml:"assigned_phase"`
	Files         []string `yaml:"files,omitempty"`
}

// FileModification records a file the agent touched.
type FileModification struct {
	Path      string `yaml:"path"`
	Operation string `yaml:"operation"` // added, modified, deleted
	Phase     int    `yaml:"phase"`
	SizeBytes int64  `yaml:"size_bytes"`
	Backup    string `yaml:"backup,omitempty"`
}

// ExecutionError is one recorded failure.
type ExecutionError struct {
	Phase      int       `yaml:"phase"`
	Task       string    `yaml:"task,omitempty"`
	Timestamp  time.Time `yaml:"timestamp"`
	Kind       string    `yaml:"kind"`
	Message    string    `yaml:"message"`
	Resolved   bool      `yaml:"resolved"`
	Resolution string    `yaml:"resolution,omitempty"`
}

// ResumeCheckpoint marks where an interrupted run can re-enter.
type ResumeCheckpoint struct {
	LastCheckpoint     string `yaml:"last_checkpoint"`
	ResumePromptCtx    string `yaml:"resume_prompt_context"`
	CanResumeFromPhase int    `yaml:"can_resume_from_phase"`
}

// CostSummary aggregates spend across all phases. Totals always equal the
// sum of per-phase costs.
type CostSummary struct {
	TotalTokensInput  int     `yaml:"total_tokens_input"`
	TotalTokensOutput int     `yaml:"total_tokens_output"`
	TotalCostUSD      float64 `yaml:"total_cost_usd"`
	EstRemainingUSD   float64 `yaml:"estimated_remaining_cost_usd"`
}

// DeliveryInfo records the PR that delivers the feature.
type DeliveryInfo struct {
	PRURL      string     `yaml:"pr_url,omitempty"`
	PRNumber   int        `yaml:"pr_number,omitempty"`
	Merged     bool       `yaml:"merged"`
	MergedAt   *time.Time `yaml:"merged_at,omitempty"`
	BranchName string     `yaml:"branch_name"`
}

// Metadata carries repository context for the feature.
type Metadata struct {
	Repository    string `yaml:"repository"`
	BaseBranch    string `yaml:"base_branch"`
	TargetBranch  string `yaml:"target_branch"`
	ScribeVersion string `yaml:"scribe_version"`
}

// NewFeatureState constructs a Pending state with default fields.
func NewFeatureState(slug string, ordinal int, name, agentType, model, scribeVersion string) *FeatureState {
	now := time.Now().UTC()
	return &FeatureState{
		Version: stateVersion,
		Feature: FeatureInfo{
			Slug:      slug,
			Ordinal:   ordinal,
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Status: ExecutionStatus{
			CurrentPhase:  0,
			OverallStatus: StatusPending,
		},
		Agent: AgentInfo{
			Type:      agentType,
			Model:     model,
			SessionID: uuid.NewString(),
		},
		Phases:        []PhaseRecord{},
		Tasks:         []Task{},
		FilesModified: []FileModification{},
		Errors:        []ExecutionError{},
		Metadata: Metadata{
			BaseBranch:    "main",
			TargetBranch:  BranchName(ordinal, slug),
			ScribeVersion: scribeVersion,
		},
	}
}

// PhaseByOrdinal returns the record for the given ordinal, or nil.
func (s *FeatureState) PhaseByOrdinal(ordinal int) *PhaseRecord {
	for i := range s.Phases {
		if s.Phases[i].Phase == ordinal {
			return &s.Phases[i]
		}
	}
	return nil
}

// TaskByID returns the task with the given id, or nil.
func (s *FeatureState) TaskByID(id string) *Task {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i]
		}
	}
	return nil
}

// CompletionPercentage computes overall progress: 70% weight on completed
// phases out of 7, 30% on completed tasks, rounded.
func (s *FeatureState) CompletionPercentage() int {
	completedPhases := 0
	for _, p := range s.Phases {
		if p.Status == StatusCompleted {
			completedPhases++
		}
	}
	// Plan (phase 0) counts toward progress; the ratio still caps at 7/7.
	if completedPhases > totalRunPhases {
		completedPhases = totalRunPhases
	}

	completedTasks := 0
	for _, t := range s.Tasks {
		if t.Status == StatusCompleted {
			completedTasks++
		}
	}

	phasePct := float64(completedPhases) * 100 / totalRunPhases
	taskPct := 0.0
	if len(s.Tasks) > 0 {
		taskPct = float64(completedTasks) * 100 / float64(len(s.Tasks))
	}

	return int(phasePct*0.7 + taskPct*0.3 + 0.5)
}

// recomputeDerived refreshes the derived ExecutionStatus fields after a
// mutation: current_phase is the highest ordinal in progress or completed,
// can_resume is true iff any record is in progress or paused (Checkpoint
// raises it explicitly on top of this).
func (s *FeatureState) recomputeDerived() {
	current := 0
	canResume := false
	for _, p := range s.Phases {
		switch p.Status {
		case StatusInProgress, StatusCompleted:
			if p.Phase > current {
				current = p.Phase
			}
		}
		if p.Status == StatusInProgress || p.Status == StatusPaused {
			canResume = true
		}
	}
	s.Status.CurrentPhase = current
	s.Status.CanResume = canResume
	s.Status.CompletionPercentage = s.CompletionPercentage()
}
