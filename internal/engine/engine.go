// Package engine executes one pipeline phase at a time against the agent.
//
// The engine owns the contract between a phase and the rest of the system:
// it resolves the phase configuration, opens the phase in the state store,
// streams agent events into the fan-out, accumulates output and cost,
// applies the decision gate, captures the phase output file, and closes the
// phase. It never retries; retry policy belongs to the feature driver.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/scribe-cli/scribe/internal/agent"
	"github.com/scribe-cli/scribe/internal/decision"
	"github.com/scribe-cli/scribe/internal/event"
	"github.com/scribe-cli/scribe/internal/logging"
	"github.com/scribe-cli/scribe/internal/phase"
	"github.com/scribe-cli/scribe/internal/state"
)

// ErrInvalidPhase is returned for ordinals outside the catalog.
var ErrInvalidPhase = errors.New("invalid phase ordinal")

// ErrCancelled is returned when the run was stopped cooperatively. The
// phase record has already been transitioned to paused with a checkpoint.
var ErrCancelled = errors.New("execution cancelled")

// PhaseOutcome is the result of one ExecutePhase call.
type PhaseOutcome struct {
	// Success is the phase verdict. For decision-gated phases it is the
	// matcher's verdict over the concatenated output; undecided counts as
	// failure for Review and success for Verification.
	Success bool

	// Verdict is the raw matcher verdict for gated phases.
	Verdict decision.Verdict

	// Output is the concatenated agent text.
	Output string

	// FilesChanged is the number of file modifications observed.
	FilesChanged int

	// TokensUsed is input+output tokens for the phase.
	TokensUsed int

	// CostUSD is the session cost reported by the agent.
	CostUSD float64
}

// Invocation describes one phase execution.
type Invocation struct {
	// Ordinal selects the phase from the catalog.
	Ordinal int

	// SystemPrompt is the optional rendered system prompt.
	SystemPrompt string

	// UserPrompt is the rendered user prompt.
	UserPrompt string

	// ConfigOverride, when non-nil, replaces the catalog entry for this
	// invocation only (template side-car configuration).
	ConfigOverride *phase.Config
}

// Engine drives phases one at a time.
type Engine struct {
	catalog    *phase.Catalog
	agent      agent.Agent
	store      *state.Store
	bus        *event.Bus
	featureDir string
	workDir    string
	logger     interface {
		Info(msg interface{}, keyvals ...interface{})
		Debug(msg interface{}, keyvals ...interface{})
		Warn(msg interface{}, keyvals ...interface{})
	}
}

// New creates an engine. featureDir is the specs/<NNN>-<slug> directory
// where phase outputs are captured; workDir is where the agent runs.
func New(catalog *phase.Catalog, ag agent.Agent, store *state.Store, bus *event.Bus, featureDir, workDir string) *Engine {
	return &Engine{
		catalog:    catalog,
		agent:      ag,
		store:      store,
		bus:        bus,
		featureDir: featureDir,
		workDir:    workDir,
		logger:     logging.New("engine"),
	}
}

// Validate checks agent connectivity.
func (e *Engine) Validate(ctx context.Context) bool {
	return e.agent.Validate(ctx)
}

// ExecutePhase runs one phase to completion. On transport error the phase
// record transitions to failed, a PhaseFailed event is emitted, and the
// error is surfaced. On cooperative cancellation the record transitions to
// paused with a checkpoint and ErrCancelled is returned.
func (e *Engine) ExecutePhase(ctx context.Context, inv Invocation) (*PhaseOutcome, error) {
	cfg, ok := e.catalog.Get(inv.Ordinal)
	if !ok {
		return nil, fmt.Errorf("engine: phase %d: %w", inv.Ordinal, ErrInvalidPhase)
	}
	if inv.ConfigOverride != nil {
		cfg = *inv.ConfigOverride
	}

	if err := e.store.StartPhase(inv.Ordinal, cfg.Name); err != nil {
		return nil, fmt.Errorf("engine: starting phase %d: %w", inv.Ordinal, err)
	}
	e.bus.Publish(event.Event{Kind: event.KindPhaseStart, Phase: inv.Ordinal, PhaseName: cfg.Name})
	e.logger.Info("phase started", "phase", inv.Ordinal, "name", cfg.Name)

	req := agent.Request{
		ID:              uuid.NewString(),
		Prompt:          inv.UserPrompt,
		SystemPrompt:    inv.SystemPrompt,
		AllowedTools:    cfg.AllowedTools,
		DisallowedTools: cfg.DisallowedTools,
		PermissionMode:  string(cfg.Mode),
		MaxTurns:        cfg.MaxTurns,
		MaxBudgetUSD:    cfg.MaxBudgetUSD,
		WorkDir:         e.workDir,
	}

	result, filesChanged, err := e.runAgent(ctx, inv.Ordinal, req)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			// runAgent has already paused the record and written the checkpoint.
			return nil, err
		}
		return nil, e.failPhase(inv.Ordinal, err)
	}

	if result.CostUSD > 0 || result.TokensInput > 0 || result.TokensOutput > 0 {
		if err := e.store.AddCost(inv.Ordinal, state.PhaseCost{
			TokensInput:  result.TokensInput,
			TokensOutput: result.TokensOutput,
			CostUSD:      result.CostUSD,
		}); err != nil {
			e.logger.Warn("recording phase cost failed", "phase", inv.Ordinal, "error", err)
		}
	}

	outputFile := e.capturePhaseOutput(inv.Ordinal, result.Output)

	outcome := &PhaseOutcome{
		Output:       result.Output,
		FilesChanged: filesChanged,
		TokensUsed:   result.TokensInput + result.TokensOutput,
		CostUSD:      result.CostUSD,
	}
	outcome.Success, outcome.Verdict = e.decide(cfg, result)

	if err := e.store.CompletePhase(inv.Ordinal, state.PhaseResult{
		Success:    outcome.Success,
		OutputFile: outputFile,
	}); err != nil {
		return nil, fmt.Errorf("engine: completing phase %d: %w", inv.Ordinal, err)
	}
	e.bus.Publish(event.Event{Kind: event.KindPhaseComplete, Phase: inv.Ordinal})
	e.logger.Info("phase completed",
		"phase", inv.Ordinal,
		"success", outcome.Success,
		"cost_usd", outcome.CostUSD,
	)

	return outcome, nil
}

// runAgent invokes the agent and pumps its stream events into the fan-out
// until the run finishes or the cancellation flag is observed. It returns
// the agent result and the number of file modifications recorded.
func (e *Engine) runAgent(ctx context.Context, ordinal int, req agent.Request) (*agent.Result, int, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	streamCh := make(chan agent.StreamEvent, event.DefaultQueueSize)
	filesChanged := 0

	var result *agent.Result
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		res, err := e.agent.Execute(gctx, req, streamCh)
		close(streamCh)
		if err != nil {
			return err
		}
		result = res
		return nil
	})

	g.Go(func() error {
		for ev := range streamCh {
			// The cancellation flag is observed between chunks.
			if e.bus.Stopped() {
				cancel()
				// Drain the channel so the producer's sends never block.
				for range streamCh {
				}
				return ErrCancelled
			}
			filesChanged += e.forward(ordinal, ev)
		}
		return nil
	})

	err := g.Wait()
	if e.bus.Stopped() || errors.Is(err, ErrCancelled) {
		if pauseErr := e.store.PausePhase(ordinal, fmt.Sprintf("phase%d-interrupted", ordinal), "run cancelled by user"); pauseErr != nil {
			e.logger.Warn("pausing phase after cancel failed", "phase", ordinal, "error", pauseErr)
		}
		return nil, filesChanged, ErrCancelled
	}
	if err != nil {
		return nil, filesChanged, err
	}
	if result != nil && result.IsError {
		return nil, filesChanged, fmt.Errorf("engine: agent reported a failed session: %s", tail(result.Output, 200))
	}
	return result, filesChanged, nil
}

// forward translates one stream event into fan-out events and records file
// modifications from write-capable tool calls. Returns the number of file
// modifications recorded.
func (e *Engine) forward(ordinal int, ev agent.StreamEvent) int {
	files := 0
	switch ev.Type {
	case agent.StreamEventAssistant:
		if text := ev.TextContent(); text != "" {
			e.bus.Publish(event.Event{Kind: event.KindStreamText, Text: text})
		}
		for _, block := range ev.ToolUseBlocks() {
			e.bus.Publish(event.Event{Kind: event.KindToolUse, Tool: block.Name, Input: block.Input})
			if mod, ok := fileModificationFor(ordinal, block); ok {
				if err := e.store.RecordFileChange(mod); err != nil {
					e.logger.Warn("recording file change failed", "path", mod.Path, "error", err)
				} else {
					files++
				}
			}
		}
	case agent.StreamEventUser:
		for _, block := range ev.ToolResultBlocks() {
			e.bus.Publish(event.Event{Kind: event.KindToolResult, Result: tail(block.ContentString(), 200)})
		}
	case agent.StreamEventResult:
		e.bus.Publish(event.Event{Kind: event.KindStatsUpdate, Turns: ev.NumTurns, CostUSD: ev.CostUSD})
	}
	return files
}

// decide applies the phase's decision gate to the final output. Review
// defaults cautious (undecided is failure); Verification defaults
// optimistic (undecided is success).
func (e *Engine) decide(cfg phase.Config, result *agent.Result) (bool, decision.Verdict) {
	switch cfg.Profile {
	case phase.ProfileReview:
		v := decision.ForReview().Check(result.Output)
		return v == decision.Success, v
	case phase.ProfileVerification:
		v := decision.ForVerification().Check(result.Output)
		return v != decision.Failure, v
	default:
		return !result.IsError, decision.Undecided
	}
}

// failPhase transitions the record to failed, records the error, and emits
// PhaseFailed.
func (e *Engine) failPhase(ordinal int, cause error) error {
	code := errorCode(cause)
	if err := e.store.UpdatePhaseStatus(ordinal, state.StatusFailed); err != nil {
		e.logger.Warn("marking phase failed", "phase", ordinal, "error", err)
	}
	if err := e.store.RecordError(state.ExecutionError{
		Phase:   ordinal,
		Kind:    code,
		Message: cause.Error(),
	}); err != nil {
		e.logger.Warn("recording phase error", "phase", ordinal, "error", err)
	}
	e.bus.Publish(event.Event{Kind: event.KindPhaseFailed, Phase: ordinal, Code: code, Message: cause.Error()})
	return fmt.Errorf("engine: phase %d failed: %w", ordinal, cause)
}

// capturePhaseOutput writes the phase's final text to
// <featureDir>/phase<N>_output.md and returns the file name (empty when the
// write failed; output capture is best-effort).
func (e *Engine) capturePhaseOutput(ordinal int, output string) string {
	name := fmt.Sprintf("phase%d_output.md", ordinal)
	path := filepath.Join(e.featureDir, name)
	if err := os.MkdirAll(e.featureDir, 0o755); err != nil {
		e.logger.Warn("creating feature dir failed", "dir", e.featureDir, "error", err)
		return ""
	}
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		e.logger.Warn("writing phase output failed", "path", path, "error", err)
		return ""
	}
	return name
}

// fileModificationFor extracts a FileModification from a write-capable tool
// call. The backup reference is a content digest of the tool input so later
// snapshotting can dedupe.
func fileModificationFor(ordinal int, block agent.ContentBlock) (state.FileModification, bool) {
	var op string
	switch block.Name {
	case "Write":
		op = "added"
	case "Edit":
		op = "modified"
	default:
		return state.FileModification{}, false
	}

	var input struct {
		FilePath string `json:"file_path"`
		Path     string `json:"path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(block.Input, &input); err != nil {
		return state.FileModification{}, false
	}
	path := input.FilePath
	if path == "" {
		path = input.Path
	}
	if path == "" {
		return state.FileModification{}, false
	}

	return state.FileModification{
		Path:      path,
		Operation: op,
		Phase:     ordinal,
		SizeBytes: int64(len(input.Content)),
		Backup:    fmt.Sprintf("%016x", xxhash.Sum64(block.Input)),
	}, true
}

// errorCode maps a transport error to the short user-visible code.
func errorCode(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, agent.ErrMissingCredential) || strings.Contains(msg, "auth") || strings.Contains(msg, "credential"):
		return "auth_error"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		return "network_error"
	default:
		return "agent_error"
	}
}

// tail returns the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
