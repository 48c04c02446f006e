package state

import (
	"github.com/charmbracelet/log"

	"github.com/scribe-cli/scribe/internal/logging"
)

// Hook observes state changes. Implementations receive a read-only snapshot
// of the post-mutation state and must not call back into the Store. Hook
// errors are logged and dropped; they never abort the mutation that fired
// them.
type Hook interface {
	// OnPhaseStart fires after a phase transitions to in_progress.
	OnPhaseStart(state *FeatureState, ordinal int) error

	// OnPhaseComplete fires after a phase transitions to completed.
	OnPhaseComplete(state *FeatureState, ordinal int) error

	// OnTaskComplete fires after a task transitions to completed.
	OnTaskComplete(state *FeatureState, taskID string) error

	// OnErrorRecorded fires after an ExecutionError is appended.
	OnErrorRecorded(state *FeatureState) error
}

// HookRegistry invokes hooks in registration order. An error from one hook
// does not short-circuit the rest.
type HookRegistry struct {
	hooks  []Hook
	logger *log.Logger
}

// NewHookRegistry creates an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{logger: logging.New("hooks")}
}

// Add appends a hook. Hooks fire in the order they were added.
func (r *HookRegistry) Add(h Hook) {
	if h == nil {
		return
	}
	r.hooks = append(r.hooks, h)
}

// Len returns the number of registered hooks.
func (r *HookRegistry) Len() int {
	return len(r.hooks)
}

func (r *HookRegistry) firePhaseStart(state *FeatureState, ordinal int) {
	for _, h := range r.hooks {
		if err := h.OnPhaseStart(state, ordinal); err != nil {
			r.logger.Warn("hook on_phase_start failed", "phase", ordinal, "error", err)
		}
	}
}

func (r *HookRegistry) firePhaseComplete(state *FeatureState, ordinal int) {
	for _, h := range r.hooks {
		if err := h.OnPhaseComplete(state, ordinal); err != nil {
			r.logger.Warn("hook on_phase_complete failed", "phase", ordinal, "error", err)
		}
	}
}

func (r *HookRegistry) fireTaskComplete(state *FeatureState, taskID string) {
	for _, h := range r.hooks {
		if err := h.OnTaskComplete(state, taskID); err != nil {
			r.logger.Warn("hook on_task_complete failed", "task", taskID, "error", err)
		}
	}
}

func (r *HookRegistry) fireErrorRecorded(state *FeatureState) {
	for _, h := range r.hooks {
		if err := h.OnErrorRecorded(state); err != nil {
			r.logger.Warn("hook on_error_recorded failed", "error", err)
		}
	}
}
