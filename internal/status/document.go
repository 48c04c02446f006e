// Package status projects a feature's state into a human-readable progress
// document at specs/<dir>/status.md.
//
// The projector is a state hook: on every phase start/complete, task
// completion, and recorded error it reads the latest snapshot, regenerates
// the whole document, and writes it atomically. Projection failures are
// swallowed by the hook registry and never block execution.
package status

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scribe-cli/scribe/internal/logging"
	"github.com/scribe-cli/scribe/internal/state"
)

// DocumentName is the projected file inside a feature directory.
const DocumentName = "status.md"

// changeLogLimit bounds the change log to the most recent entries.
const changeLogLimit = 20

// Budget band thresholds over used/(used+estimated remaining).
const (
	budgetYellowThreshold = 0.60
	budgetRedThreshold    = 0.80
)

// phaseNames maps run ordinals to display names for rows that have no
// record yet.
var phaseNames = map[int]string{
	1: "Build Observer",
	2: "Build Plan",
	3: "Execute Phase 1",
	4: "Execute Phase 2",
	5: "Code Review",
	6: "Apply Fixes",
	7: "Verification",
}

// Projector renders status.md for one feature. It implements state.Hook.
type Projector struct {
	specsDir  string
	overview  string
	changeLog []changeEntry
	logger    interface {
		Debug(msg interface{}, keyvals ...interface{})
		Warn(msg interface{}, keyvals ...interface{})
	}
}

type changeEntry struct {
	at      time.Time
	message string
}

// Compile-time check that Projector implements state.Hook.
var _ state.Hook = (*Projector)(nil)

// NewProjector creates a projector writing under specsDir. overview is the
// feature summary text shown at the top of the document (usually the spec's
// overview section); it may be empty.
func NewProjector(specsDir, overview string) *Projector {
	return &Projector{
		specsDir: specsDir,
		overview: overview,
		logger:   logging.New("status"),
	}
}

// OnPhaseStart regenerates the document after a phase starts.
func (p *Projector) OnPhaseStart(s *state.FeatureState, ordinal int) error {
	p.appendChange(fmt.Sprintf("Started Phase %d - %s", ordinal, phaseName(s, ordinal)))
	return p.render(s)
}

// OnPhaseComplete regenerates the document after a phase completes.
func (p *Projector) OnPhaseComplete(s *state.FeatureState, ordinal int) error {
	p.appendChange(fmt.Sprintf("Completed Phase %d - %s", ordinal, phaseName(s, ordinal)))
	return p.render(s)
}

// OnTaskComplete regenerates the document after a task completes.
func (p *Projector) OnTaskComplete(s *state.FeatureState, taskID string) error {
	desc := taskID
	if task := s.TaskByID(taskID); task != nil {
		desc = fmt.Sprintf("%s - %s", taskID, task.Description)
	}
	p.appendChange("Completed task: " + desc)
	return p.render(s)
}

// OnErrorRecorded regenerates the document after an error is recorded.
func (p *Projector) OnErrorRecorded(s *state.FeatureState) error {
	if len(s.Errors) > 0 {
		last := s.Errors[len(s.Errors)-1]
		p.appendChange(fmt.Sprintf("Recorded error: %s (Phase %d)", last.Kind, last.Phase))
	}
	return p.render(s)
}

// appendChange records a change log entry, keeping only the most recent
// changeLogLimit entries.
func (p *Projector) appendChange(message string) {
	p.changeLog = append(p.changeLog, changeEntry{at: time.Now().UTC(), message: message})
	if len(p.changeLog) > changeLogLimit {
		p.changeLog = p.changeLog[len(p.changeLog)-changeLogLimit:]
	}
}

// render regenerates the full document and writes it atomically.
func (p *Projector) render(s *state.FeatureState) error {
	dir := filepath.Join(p.specsDir, state.DirName(s.Feature.Ordinal, s.Feature.Slug))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("status: creating %q: %w", dir, err)
	}

	doc := p.Render(s)
	path := filepath.Join(dir, DocumentName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("status: writing %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("status: renaming to %q: %w", path, err)
	}

	p.logger.Debug("status document rendered", "path", path)
	return nil
}

// Render produces the full markdown document for the given state.
func (p *Projector) Render(s *state.FeatureState) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Feature Status: %s\n\n", s.Feature.Name)
	fmt.Fprintf(&sb, "- Slug: `%s`\n", state.DirName(s.Feature.Ordinal, s.Feature.Slug))
	fmt.Fprintf(&sb, "- Status: %s\n", statusLabel(s.Status.OverallStatus))
	fmt.Fprintf(&sb, "- Overall progress: %d%%\n", s.CompletionPercentage())
	fmt.Fprintf(&sb, "- Updated: %s\n\n", s.Feature.UpdatedAt.UTC().Format(time.RFC3339))

	if p.overview != "" {
		sb.WriteString("## Overview\n\n")
		sb.WriteString(strings.TrimSpace(p.overview))
		sb.WriteString("\n\n")
	}

	p.writePhaseTable(&sb, s)
	p.writeCostSection(&sb, s)
	p.writeIssues(&sb, s)
	p.writeChangeLog(&sb)
	p.writeNextSteps(&sb, s)

	return sb.String()
}

// writePhaseTable emits all seven run-phase rows, including phases that
// have not started yet.
func (p *Projector) writePhaseTable(sb *strings.Builder, s *state.FeatureState) {
	sb.WriteString("## Phases\n\n")
	sb.WriteString("| Phase | Name | Status | Duration | Cost |\n")
	sb.WriteString("|-------|------|--------|----------|------|\n")

	for n := 1; n <= 7; n++ {
		name := phaseNames[n]
		status := "⏳ pending"
		duration := "-"
		cost := "-"

		if rec := s.PhaseByOrdinal(n); rec != nil {
			name = rec.Name
			status = statusLabel(rec.Status)
			if rec.DurationSec > 0 {
				duration = (time.Duration(rec.DurationSec) * time.Second).String()
			}
			if rec.Cost != nil {
				cost = fmt.Sprintf("$%.4f", rec.Cost.CostUSD)
			}
		}
		fmt.Fprintf(sb, "| %d | %s | %s | %s | %s |\n", n, name, status, duration, cost)
	}
	sb.WriteString("\n")
}

// writeCostSection emits the cost summary with the budget band.
func (p *Projector) writeCostSection(sb *strings.Builder, s *state.FeatureState) {
	cs := s.CostSummary
	sb.WriteString("## Cost\n\n")
	fmt.Fprintf(sb, "- Tokens: %d in / %d out\n", cs.TotalTokensInput, cs.TotalTokensOutput)
	fmt.Fprintf(sb, "- Spent: $%.4f\n", cs.TotalCostUSD)
	fmt.Fprintf(sb, "- Estimated remaining: $%.4f\n", cs.EstRemainingUSD)
	fmt.Fprintf(sb, "- Budget band: %s\n\n", BudgetBand(cs.TotalCostUSD, cs.EstRemainingUSD))
}

// writeIssues derives the issues section from recorded errors.
func (p *Projector) writeIssues(sb *strings.Builder, s *state.FeatureState) {
	sb.WriteString("## Issues\n\n")
	if len(s.Errors) == 0 {
		sb.WriteString("None.\n\n")
		return
	}

	sb.WriteString("| Severity | Phase | Kind | Message | Status |\n")
	sb.WriteString("|----------|-------|------|---------|--------|\n")
	for _, e := range s.Errors {
		issueStatus := "🟡 in progress"
		if e.Resolved {
			issueStatus = "✅ resolved"
		}
		severity := "🟠 high"
		if !e.Resolved && e.Kind == "scribe_error" {
			severity = "🔴 critical"
		}
		fmt.Fprintf(sb, "| %s | %d | %s | %s | %s |\n",
			severity, e.Phase, e.Kind, sanitizeCell(e.Message), issueStatus)
	}
	sb.WriteString("\n")
}

// writeChangeLog emits the bounded change log, most recent last.
func (p *Projector) writeChangeLog(sb *strings.Builder) {
	sb.WriteString("## Change Log\n\n")
	if len(p.changeLog) == 0 {
		sb.WriteString("No events yet.\n\n")
		return
	}
	for _, entry := range p.changeLog {
		fmt.Fprintf(sb, "- %s — %s\n", entry.at.Format("2006-01-02 15:04:05"), entry.message)
	}
	sb.WriteString("\n")
}

// writeNextSteps derives next steps from the current phase and pending tasks.
func (p *Projector) writeNextSteps(sb *strings.Builder, s *state.FeatureState) {
	sb.WriteString("## Next Steps\n\n")

	current := s.Status.CurrentPhase
	if current >= 1 && current <= 7 {
		fmt.Fprintf(sb, "- Finish Phase %d - %s\n", current, phaseName(s, current))
		if current < 7 {
			fmt.Fprintf(sb, "- Then Phase %d - %s\n", current+1, phaseNames[current+1])
		}
	} else {
		sb.WriteString("- Run phase 1 to begin execution\n")
	}

	shown := 0
	for _, t := range s.Tasks {
		if t.Status == state.StatusCompleted {
			continue
		}
		fmt.Fprintf(sb, "- %s: %s\n", t.ID, t.Description)
		shown++
		if shown == 3 {
			break
		}
	}
	sb.WriteString("\n")
}

// BudgetBand classifies spend against the projected total:
// green below 60%, yellow from 60% to 80%, red above 80%.
func BudgetBand(spent, estimatedRemaining float64) string {
	total := spent + estimatedRemaining
	if total <= 0 {
		return "🟢 green"
	}
	ratio := spent / total
	switch {
	case ratio > budgetRedThreshold:
		return "🔴 red"
	case ratio >= budgetYellowThreshold:
		return "🟡 yellow"
	default:
		return "🟢 green"
	}
}

// phaseName resolves the display name for an ordinal, preferring the
// recorded name.
func phaseName(s *state.FeatureState, ordinal int) string {
	if rec := s.PhaseByOrdinal(ordinal); rec != nil && rec.Name != "" {
		return rec.Name
	}
	if name, ok := phaseNames[ordinal]; ok {
		return name
	}
	return fmt.Sprintf("Phase %d", ordinal)
}

// statusLabel renders a lifecycle status with its marker.
func statusLabel(st state.Status) string {
	switch st {
	case state.StatusPending:
		return "⏳ pending"
	case state.StatusInProgress:
		return "🟢 in progress"
	case state.StatusCompleted:
		return "✅ completed"
	case state.StatusFailed:
		return "🔴 failed"
	case state.StatusPaused:
		return "🟡 paused"
	default:
		return string(st)
	}
}

// sanitizeCell keeps table cells on one line.
func sanitizeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "\\|")
}
