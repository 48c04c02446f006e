// Package driver sequences a feature through Plan and the seven run
// phases.
//
// The driver owns everything above single-phase execution: feature
// directory resolution and ordinal assignment, worktree setup with
// main-directory fallback, resume, the skip flags, the bounded Review/Fix
// loop, and the delivery step that opens the pull request.
package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/scribe-cli/scribe/internal/agent"
	"github.com/scribe-cli/scribe/internal/config"
	"github.com/scribe-cli/scribe/internal/engine"
	"github.com/scribe-cli/scribe/internal/event"
	"github.com/scribe-cli/scribe/internal/hosting"
	"github.com/scribe-cli/scribe/internal/logging"
	"github.com/scribe-cli/scribe/internal/phase"
	"github.com/scribe-cli/scribe/internal/repos"
	"github.com/scribe-cli/scribe/internal/state"
	"github.com/scribe-cli/scribe/internal/status"
	"github.com/scribe-cli/scribe/internal/template"
	"github.com/scribe-cli/scribe/internal/worktree"
)

// ErrFeatureNotFound is returned by Run for a slug with no specs directory.
var ErrFeatureNotFound = errors.New("feature not found")

// ErrOrdinalsExhausted is returned when specs/ already holds feature 999.
var ErrOrdinalsExhausted = errors.New("feature ordinals exhausted (max 999)")

// ErrReviewExhausted is returned when the review/fix loop runs out of
// iterations without an approval.
var ErrReviewExhausted = errors.New("review iterations exhausted")

// featureDirRe matches feature directory names: three digits, dash, slug.
var featureDirRe = regexp.MustCompile(`^(\d{3})-(.+)$`)

// Driver runs the plan and run flows for one repository.
type Driver struct {
	cfg      *config.Config
	repoRoot string
	catalog  *phase.Catalog
	agent    agent.Agent
	renderer *template.Renderer
	bus      *event.Bus
	version  string
	logger   interface {
		Info(msg interface{}, keyvals ...interface{})
		Warn(msg interface{}, keyvals ...interface{})
		Debug(msg interface{}, keyvals ...interface{})
	}
}

// New creates a driver. bus carries the run's streamed events and its
// cancellation flag.
func New(cfg *config.Config, repoRoot string, catalog *phase.Catalog, ag agent.Agent, renderer *template.Renderer, bus *event.Bus, version string) *Driver {
	return &Driver{
		cfg:      cfg,
		repoRoot: repoRoot,
		catalog:  catalog,
		agent:    ag,
		renderer: renderer,
		bus:      bus,
		version:  version,
		logger:   logging.New("driver"),
	}
}

// RunOptions are the run-flow knobs.
type RunOptions struct {
	// Slug names the feature.
	Slug string
	// Phase, when 1..7, runs only that phase.
	Phase int
	// Resume re-enters at the last current_phase.
	Resume bool
	// DryRun renders prompts without invoking the agent.
	DryRun bool
	// SkipReview marks phase 5 completed without running it.
	SkipReview bool
	// SkipTest marks phase 7 completed without running it.
	SkipTest bool
}

// Plan runs the plan flow: resolve or create the feature directory, open
// the store, and execute phase 0 with the feature description.
func (d *Driver) Plan(ctx context.Context, slug, description string) error {
	ordinal, created, err := d.resolveOrCreate(slug)
	if err != nil {
		return err
	}
	dir := state.DirName(ordinal, slug)
	featureDir := filepath.Join(d.repoRoot, "specs", dir)
	d.logger.Info("planning feature", "dir", dir, "created", created)

	st, err := d.openStore(slug, ordinal)
	if err != nil {
		return err
	}
	if err := st.Save(); err != nil {
		return err
	}

	userPrompt, err := d.renderer.Render("plan/feature_analysis", template.Context{
		"feature_slug":   slug,
		"feature_dir":    dir,
		"description":    description,
		"file_inventory": d.fileInventory(),
	})
	if err != nil {
		return fmt.Errorf("driver: rendering plan prompt: %w", err)
	}

	eng := engine.New(d.catalog, d.agent, st, d.bus, featureDir, d.repoRoot)
	inv := engine.Invocation{
		Ordinal:      phase.OrdinalPlan,
		SystemPrompt: systemPrompt(phase.OrdinalPlan),
		UserPrompt:   userPrompt,
	}
	d.applySidecar(&inv)

	outcome, err := eng.ExecutePhase(ctx, inv)
	if err != nil {
		return err
	}
	if !outcome.Success {
		return fmt.Errorf("driver: plan phase did not succeed")
	}
	d.bus.Publish(event.Event{Kind: event.KindComplete})
	return nil
}

// Run executes the run flow for an already-planned feature.
func (d *Driver) Run(ctx context.Context, opts RunOptions) error {
	ordinal, err := d.resolve(opts.Slug)
	if err != nil {
		return err
	}
	dir := state.DirName(ordinal, opts.Slug)
	featureDir := filepath.Join(d.repoRoot, "specs", dir)

	workDir := d.setupWorktree(ctx, opts.Slug, ordinal)

	st, err := d.openStore(opts.Slug, ordinal)
	if err != nil {
		return err
	}

	eng := engine.New(d.catalog, d.agent, st, d.bus, featureDir, workDir)

	if !opts.DryRun && !eng.Validate(ctx) {
		return fmt.Errorf("driver: agent validation failed (binary or credential missing)")
	}

	ordinals := []int{1, 2, 3, 4, 5, 6, 7}
	resuming := opts.Resume || st.CanResume()
	switch {
	case opts.Phase >= 1 && opts.Phase <= 7:
		ordinals = []int{opts.Phase}
		resuming = false
	case resuming:
		start := st.State().Status.CurrentPhase
		if start < 1 {
			start = 1
		}
		ordinals = ordinals[start-1:]
		d.logger.Info("resuming", "from_phase", start)
	}

	reviewApproved := false
	fixRan := false
	for _, n := range ordinals {
		if d.bus.Stopped() {
			if err := st.Checkpoint(fmt.Sprintf("before-phase%d", n), "run cancelled between phases"); err != nil {
				d.logger.Warn("checkpoint on cancel failed", "error", err)
			}
			return engine.ErrCancelled
		}

		// Phases already completed are not re-run when resuming, except the
		// interrupted phase itself.
		if resuming {
			if rec := st.State().PhaseByOrdinal(n); rec != nil && rec.Status == state.StatusCompleted {
				d.logger.Debug("phase already completed, skipping", "phase", n)
				continue
			}
		}

		if (opts.SkipReview && n == phase.OrdinalReview) || (opts.SkipTest && n == phase.OrdinalVerification) {
			d.logger.Info("skipping phase by flag", "phase", n)
			if err := d.markSkipped(st, n); err != nil {
				return err
			}
			continue
		}

		if n == phase.OrdinalFix && reviewApproved {
			if fixRan {
				// The fix/review loop already ran phase 6; its record stands.
				continue
			}
			// A clean first review leaves nothing to fix.
			d.logger.Info("review approved first try, skipping fix phase")
			if err := d.markSkipped(st, n); err != nil {
				return err
			}
			continue
		}

		prompt, err := d.buildPhasePrompt(n, featureDir, workDir, st, resuming && n == ordinals[0])
		if err != nil {
			return err
		}

		if opts.DryRun {
			d.logger.Info("[dry-run] would execute phase", "phase", n, "prompt_bytes", len(prompt))
			continue
		}

		inv := engine.Invocation{Ordinal: n, SystemPrompt: systemPrompt(n), UserPrompt: prompt}
		d.applySidecar(&inv)
		outcome, err := eng.ExecutePhase(ctx, inv)
		if err != nil {
			if errors.Is(err, engine.ErrCancelled) {
				return err
			}
			if markErr := st.MarkFailed(); markErr != nil {
				d.logger.Warn("marking feature failed", "error", markErr)
			}
			return err
		}

		if n == phase.OrdinalReview {
			if outcome.Success {
				reviewApproved = true
				continue
			}
			// Failure or undecided enters the bounded fix/review loop.
			if err := d.reviewFixLoop(ctx, eng, st, featureDir, workDir, outcome.Output); err != nil {
				return err
			}
			reviewApproved = true
			fixRan = true
			continue
		}

		if !outcome.Success {
			if markErr := st.MarkFailed(); markErr != nil {
				d.logger.Warn("marking feature failed", "error", markErr)
			}
			return fmt.Errorf("driver: phase %d did not succeed", n)
		}

		if err := st.Checkpoint(fmt.Sprintf("phase%d-complete", n), st.GenerateResumeContext()); err != nil {
			d.logger.Warn("checkpoint failed", "phase", n, "error", err)
		}
	}

	if opts.DryRun || (opts.Phase >= 1 && opts.Phase < 7) {
		return nil
	}

	if err := d.deliver(ctx, opts.Slug, ordinal, featureDir, st); err != nil {
		d.logger.Warn("delivery failed; create the PR manually", "error", err)
	}

	if err := st.MarkCompleted(); err != nil {
		return err
	}
	d.bus.Publish(event.Event{Kind: event.KindComplete})
	return nil
}

// reviewFixLoop alternates Fix and Review until approval or the iteration
// budget runs out. Each iteration feeds the previous review text into the
// fix prompt and checkpoints so the loop itself is resumable.
func (d *Driver) reviewFixLoop(ctx context.Context, eng *engine.Engine, st *state.Store, featureDir, workDir, reviewText string) error {
	maxIter := d.cfg.Review.MaxIterations

	for i := 1; i <= maxIter; i++ {
		d.logger.Info("review/fix iteration", "iteration", i, "max", maxIter)

		fixPrompt, err := d.renderer.Render("run/phase6_fix", template.Context{
			"feature_slug":  st.State().Feature.Slug,
			"review_output": reviewText,
		})
		if err != nil {
			return fmt.Errorf("driver: rendering fix prompt: %w", err)
		}
		fixInv := engine.Invocation{Ordinal: phase.OrdinalFix, SystemPrompt: systemPrompt(phase.OrdinalFix), UserPrompt: fixPrompt}
		d.applySidecar(&fixInv)
		if _, err := eng.ExecutePhase(ctx, fixInv); err != nil {
			return err
		}

		reviewPrompt, err := d.buildPhasePrompt(phase.OrdinalReview, featureDir, workDir, st, false)
		if err != nil {
			return err
		}
		revInv := engine.Invocation{Ordinal: phase.OrdinalReview, SystemPrompt: systemPrompt(phase.OrdinalReview), UserPrompt: reviewPrompt}
		d.applySidecar(&revInv)
		outcome, err := eng.ExecutePhase(ctx, revInv)
		if err != nil {
			return err
		}
		if outcome.Success {
			return nil
		}
		reviewText = outcome.Output

		if err := st.Checkpoint(fmt.Sprintf("review-fix-%d", i), st.GenerateResumeContext()); err != nil {
			d.logger.Warn("checkpoint failed", "iteration", i, "error", err)
		}
	}

	if err := st.RecordError(state.ExecutionError{
		Phase:   phase.OrdinalReview,
		Kind:    "scribe_error",
		Message: fmt.Sprintf("review not approved after %d fix iterations", maxIter),
	}); err != nil {
		d.logger.Warn("recording review exhaustion failed", "error", err)
	}
	if err := st.MarkFailed(); err != nil {
		d.logger.Warn("marking feature failed", "error", err)
	}
	return fmt.Errorf("driver: %w after %d iterations", ErrReviewExhausted, d.cfg.Review.MaxIterations)
}

// buildPhasePrompt renders the user prompt for a run phase, loading the
// feature documents and any phase-specific context. When resume is true
// the recap prompt is prepended.
func (d *Driver) buildPhasePrompt(n int, featureDir, workDir string, st *state.Store, resume bool) (string, error) {
	cfg, ok := d.catalog.Get(n)
	if !ok {
		return "", fmt.Errorf("driver: phase %d: %w", n, engine.ErrInvalidPhase)
	}

	ctx := template.Context{
		"feature_slug": st.State().Feature.Slug,
		"spec":         readFeatureDoc(featureDir, "spec.md"),
		"design":       readFeatureDoc(featureDir, "design.md"),
		"plan":         readFeatureDoc(featureDir, "plan.md"),
		"tasks":        readFeatureDoc(featureDir, "tasks.md"),
	}

	switch n {
	case phase.OrdinalExecute4:
		ctx["phase3_output"] = readFeatureDoc(featureDir, "phase3_output.md")
	case phase.OrdinalReview:
		ctx["changes"] = collectChanges(workDir)
	case phase.OrdinalFix:
		ctx["review_output"] = readFeatureDoc(featureDir, "phase5_output.md")
	}

	prompt, err := d.renderer.Render(cfg.TemplateID, ctx)
	if err != nil {
		return "", fmt.Errorf("driver: rendering phase %d prompt: %w", n, err)
	}

	if resume {
		recap, err := d.renderer.Render("run/resume", template.Context{
			"resume_context": st.GenerateResumeContext(),
			"current_phase":  n,
		})
		if err != nil {
			return "", fmt.Errorf("driver: rendering resume prompt: %w", err)
		}
		prompt = recap + "\n\n" + prompt
	}

	return prompt, nil
}

// applySidecar merges template side-car configuration into the invocation,
// overriding the catalog for this call only.
func (d *Driver) applySidecar(inv *engine.Invocation) {
	cfg, ok := d.catalog.Get(inv.Ordinal)
	if !ok {
		return
	}
	sc, ok := d.renderer.Sidecar(cfg.TemplateID)
	if !ok {
		return
	}

	merged := cfg
	if sc.AllowedTools != nil {
		merged.AllowedTools = sc.AllowedTools
	}
	if sc.DisallowedTools != nil {
		merged.DisallowedTools = sc.DisallowedTools
	}
	if sc.PermissionMode != "" {
		merged.Mode = phase.PermissionMode(sc.PermissionMode)
	}
	if sc.MaxTurns > 0 {
		merged.MaxTurns = sc.MaxTurns
	}
	if sc.MaxBudgetUSD > 0 {
		merged.MaxBudgetUSD = sc.MaxBudgetUSD
	}
	if sc.SystemPrompt != "" {
		inv.SystemPrompt = sc.SystemPrompt
	}
	inv.ConfigOverride = &merged
}

// markSkipped records a phase as completed without executing it.
func (d *Driver) markSkipped(st *state.Store, n int) error {
	if err := st.StartPhase(n, d.catalog.Name(n)); err != nil {
		return err
	}
	return st.CompletePhase(n, state.PhaseResult{
		Success: true,
		Extra:   map[string]string{"skipped": "true"},
	})
}

// setupWorktree creates or locates the feature worktree and returns the
// working directory for agent execution. Worktree failures fall back to
// the main directory with a warning.
func (d *Driver) setupWorktree(ctx context.Context, slug string, ordinal int) string {
	mgr := worktree.NewManagerWithHostingCLI(d.repoRoot)
	name := state.DirName(ordinal, slug)

	if mgr.Exists(name) {
		return mgr.Path(name)
	}

	path, err := mgr.Create(ctx, slug, ordinal, "")
	if err != nil {
		d.logger.Warn("worktree unavailable, running in main directory", "error", err)
		return d.repoRoot
	}
	return path
}

// deliver opens the pull request and persists DeliveryInfo.
func (d *Driver) deliver(ctx context.Context, slug string, ordinal int, featureDir string, st *state.Store) error {
	spec := readFeatureDoc(featureDir, "spec.md")
	summary := extractOverview(spec)
	if summary == "" {
		summary = st.State().Feature.Name
	}

	dir := state.DirName(ordinal, slug)
	body := fmt.Sprintf(`## Summary

%s

## Specs

See `+"`specs/%s/`"+` for detailed specifications.

## Checklist

- [x] Implementation complete
- [x] Tests added
- [x] Code reviewed
- [x] Verification passed
`, summary, dir)

	client := hosting.NewClient(d.repoRoot)
	result, err := client.CreatePR(ctx, hosting.CreateOpts{
		Title: "feat: " + strings.ReplaceAll(slug, "-", " "),
		Body:  body,
		Head:  state.BranchName(ordinal, slug),
		Base:  st.State().Metadata.BaseBranch,
	})
	if err != nil {
		return fmt.Errorf("driver: creating pull request: %w", err)
	}

	d.logger.Info("pull request created", "url", result.URL, "number", result.Number)
	return st.SetDelivery(state.DeliveryInfo{
		PRURL:      result.URL,
		PRNumber:   result.Number,
		BranchName: state.BranchName(ordinal, slug),
	})
}

// openStore opens the feature store and attaches the status projector.
func (d *Driver) openStore(slug string, ordinal int) (*state.Store, error) {
	st, err := state.LoadOrInit(slug, ordinal, d.repoRoot, d.cfg.Agent.Type, d.cfg.Agent.Model, d.version)
	if err != nil {
		return nil, err
	}
	st.State().Metadata.Repository = d.repoRoot
	st.State().CostSummary.EstRemainingUSD = remainingBudget(d.cfg.Budget.EstimatedTotalUSD, st.State().CostSummary.TotalCostUSD)

	featureDir := filepath.Join(d.repoRoot, "specs", state.DirName(ordinal, slug))
	overview := extractOverview(readFeatureDoc(featureDir, "spec.md"))
	st.Hooks().Add(status.NewProjector(filepath.Join(d.repoRoot, "specs"), overview))
	return st, nil
}

// resolve finds the ordinal of an existing feature directory for the slug.
func (d *Driver) resolve(slug string) (int, error) {
	ordinal, found, err := findFeature(filepath.Join(d.repoRoot, "specs"), slug)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("driver: %w: %s", ErrFeatureNotFound, slug)
	}
	return ordinal, nil
}

// resolveOrCreate finds the existing directory for the slug or assigns the
// next free ordinal (idempotent: planning twice never re-increments).
func (d *Driver) resolveOrCreate(slug string) (ordinal int, created bool, err error) {
	specsDir := filepath.Join(d.repoRoot, "specs")

	ordinal, found, err := findFeature(specsDir, slug)
	if err != nil {
		return 0, false, err
	}
	if found {
		return ordinal, false, nil
	}

	next, err := nextOrdinal(specsDir)
	if err != nil {
		return 0, false, err
	}

	dir := filepath.Join(specsDir, state.DirName(next, slug))
	if err := os.MkdirAll(filepath.Join(dir, ".ca-state", "backups"), 0o755); err != nil {
		return 0, false, fmt.Errorf("driver: creating %q: %w", dir, err)
	}
	return next, true, nil
}

// findFeature scans specs/ for a directory named NNN-<slug>.
func findFeature(specsDir, slug string) (int, bool, error) {
	entries, err := os.ReadDir(specsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("driver: reading %q: %w", specsDir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := featureDirRe.FindStringSubmatch(entry.Name())
		if m == nil || m[2] != slug {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return n, true, nil
	}
	return 0, false, nil
}

// nextOrdinal returns one past the highest assigned ordinal, capped at 999.
func nextOrdinal(specsDir string) (int, error) {
	highest := 0
	entries, err := os.ReadDir(specsDir)
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("driver: reading %q: %w", specsDir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if m := featureDirRe.FindStringSubmatch(entry.Name()); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
				highest = n
			}
		}
	}
	if highest >= 999 {
		return 0, ErrOrdinalsExhausted
	}
	return highest + 1, nil
}

// inventoryLimit caps the number of files listed in the plan prompt.
const inventoryLimit = 200

// fileInventory lists the repository's files for the plan prompt, bounded
// to keep the prompt small. Scanner failures degrade to an empty inventory.
func (d *Driver) fileInventory() string {
	repo, err := repos.New(d.repoRoot)
	if err != nil {
		return ""
	}
	files, err := repo.List(repos.Filter{})
	if err != nil {
		return ""
	}

	var sb strings.Builder
	for i, f := range files {
		if i == inventoryLimit {
			fmt.Fprintf(&sb, "... and %d more files\n", len(files)-inventoryLimit)
			break
		}
		fmt.Fprintf(&sb, "%s (%d bytes)\n", f.Path, f.Size)
	}
	return sb.String()
}

// readFeatureDoc reads a document from the feature directory, returning ""
// when it does not exist.
func readFeatureDoc(featureDir, name string) string {
	data, err := os.ReadFile(filepath.Join(featureDir, name))
	if err != nil {
		return ""
	}
	return string(data)
}

// collectChanges gathers the working-tree diff the Review phase inspects.
func collectChanges(workDir string) string {
	var out bytes.Buffer
	cmd := exec.Command("git", "diff", "HEAD")
	cmd.Dir = workDir
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return ""
	}
	return out.String()
}

// extractOverview pulls the "## Overview" section body from a spec document.
func extractOverview(spec string) string {
	lines := strings.Split(spec, "\n")
	var collected []string
	inSection := false
	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			if inSection {
				break
			}
			if strings.HasPrefix(line, "## Overview") {
				inSection = true
			}
			continue
		}
		if inSection {
			collected = append(collected, line)
		}
	}
	return strings.TrimSpace(strings.Join(collected, "\n"))
}

// remainingBudget computes the estimate fed to the status budget band.
func remainingBudget(estimatedTotal, spent float64) float64 {
	if remaining := estimatedTotal - spent; remaining > 0 {
		return remaining
	}
	return 0
}

// systemPrompt composes the per-phase system prompt from its components:
// role and output format for every phase, plus quality standards for the
// write-capable phases.
func systemPrompt(ordinal int) string {
	const role = "You are an expert software engineer with deep knowledge of software architecture, " +
		"design patterns, and best practices. You write clean, maintainable, and well-tested code."
	const outputFormat = "Provide clear, structured responses. Use markdown formatting for readability. " +
		"Include code examples when relevant."
	const quality = "Follow these quality standards:\n" +
		"- Write clean, readable code with proper naming\n" +
		"- Handle errors gracefully\n" +
		"- Consider edge cases and validation\n" +
		"- Write tests for new functionality"

	parts := []string{role, outputFormat}
	switch ordinal {
	case phase.OrdinalExecute3, phase.OrdinalExecute4, phase.OrdinalFix:
		parts = append(parts, quality)
	}
	return strings.Join(parts, "\n\n")
}
