// Package tui renders the interactive run dashboard.
//
// The dashboard is a pure event consumer: it drains its own fan-out queue
// on the bubbletea thread and never calls back into the engine. Quitting
// raises the run's stop flag so the producer can pause and checkpoint the
// in-flight phase.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/scribe-cli/scribe/internal/event"
)

// maxLogLines bounds the in-memory event log.
const maxLogLines = 500

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	phaseStyle  = lipgloss.NewStyle().Bold(true)
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
	statusStyle = lipgloss.NewStyle().Faint(true).BorderStyle(lipgloss.NormalBorder()).BorderTop(true)
)

// eventMsg wraps a fan-out event for the bubbletea update loop.
type eventMsg event.Event

// closedMsg signals that the consumer channel was closed.
type closedMsg struct{}

// stopper is the cancellation surface the dashboard raises on quit.
type stopper interface {
	Stop()
}

// Dashboard is the bubbletea model for one run.
type Dashboard struct {
	slug     string
	consumer *event.Consumer
	stop     stopper

	viewport  viewport.Model
	spinner   spinner.Model
	lines     []string
	phase     int
	phaseName string
	turns     int
	costUSD   float64
	finished  bool
	quitting  bool
	ready     bool
}

// NewDashboard creates a dashboard for a feature run.
func NewDashboard(slug string, consumer *event.Consumer, stop stopper) *Dashboard {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &Dashboard{
		slug:     slug,
		consumer: consumer,
		stop:     stop,
		spinner:  sp,
	}
}

// Run starts the bubbletea program and blocks until exit.
func (d *Dashboard) Run() error {
	_, err := tea.NewProgram(d, tea.WithAltScreen()).Run()
	return err
}

// Init starts the spinner and the event pump.
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.spinner.Tick, d.nextEvent())
}

// nextEvent reads one event from the consumer queue.
func (d *Dashboard) nextEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-d.consumer.C
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

// Update handles input, resizes, and incoming events.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			d.quitting = true
			d.stop.Stop()
			return d, tea.Quit
		}

	case tea.WindowSizeMsg:
		headerHeight := 2
		footerHeight := 3
		if !d.ready {
			d.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			d.ready = true
		} else {
			d.viewport.Width = msg.Width
			d.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		d.refreshViewport()

	case spinner.TickMsg:
		var cmd tea.Cmd
		d.spinner, cmd = d.spinner.Update(msg)
		return d, cmd

	case eventMsg:
		d.apply(event.Event(msg))
		return d, d.nextEvent()

	case closedMsg:
		d.finished = true
		return d, nil
	}

	var cmd tea.Cmd
	d.viewport, cmd = d.viewport.Update(msg)
	return d, cmd
}

// apply folds one event into the log and the status line.
func (d *Dashboard) apply(ev event.Event) {
	switch ev.Kind {
	case event.KindStreamText:
		d.appendText(ev.Text)
	case event.KindToolUse:
		d.appendLine(toolStyle.Render("⚙ " + ev.Tool))
	case event.KindToolResult:
		if ev.Result != "" {
			d.appendLine(faintStyle.Render("  ↳ " + firstLine(ev.Result)))
		}
	case event.KindPhaseStart:
		d.phase = ev.Phase
		d.phaseName = ev.PhaseName
		d.appendLine("")
		d.appendLine(phaseStyle.Render(fmt.Sprintf("━━ Phase %d: %s ━━", ev.Phase, ev.PhaseName)))
	case event.KindPhaseComplete:
		d.appendLine(okStyle.Render(fmt.Sprintf("✓ Phase %d complete", ev.Phase)))
	case event.KindPhaseFailed:
		d.appendLine(errStyle.Render(fmt.Sprintf("✗ Phase %d failed [%s]: %s", ev.Phase, ev.Code, ev.Message)))
	case event.KindError:
		d.appendLine(errStyle.Render(fmt.Sprintf("error [%s]: %s", ev.Code, ev.Message)))
	case event.KindStatsUpdate:
		d.turns = ev.Turns
		d.costUSD = ev.CostUSD
	case event.KindComplete:
		d.finished = true
		d.appendLine(okStyle.Render("✔ run complete"))
	}
	d.refreshViewport()
}

// appendText appends streamed text, splitting on newlines.
func (d *Dashboard) appendText(text string) {
	for i, part := range strings.Split(text, "\n") {
		if i == 0 && len(d.lines) > 0 {
			d.lines[len(d.lines)-1] += part
			continue
		}
		d.appendLine(part)
	}
}

// appendLine appends one log line, trimming the buffer to maxLogLines.
func (d *Dashboard) appendLine(line string) {
	d.lines = append(d.lines, line)
	if len(d.lines) > maxLogLines {
		d.lines = d.lines[len(d.lines)-maxLogLines:]
	}
}

// refreshViewport re-renders the log into the viewport, pinned to bottom.
func (d *Dashboard) refreshViewport() {
	if !d.ready {
		return
	}
	d.viewport.SetContent(strings.Join(d.lines, "\n"))
	d.viewport.GotoBottom()
}

// View renders the dashboard.
func (d *Dashboard) View() string {
	if !d.ready {
		return "loading..."
	}

	header := titleStyle.Render("scribe run "+d.slug) + "\n"

	indicator := d.spinner.View()
	if d.finished {
		indicator = okStyle.Render("✔")
	}
	phaseLabel := "waiting"
	if d.phase > 0 {
		phaseLabel = fmt.Sprintf("phase %d/7 %s", d.phase, d.phaseName)
	}
	footer := statusStyle.Width(d.viewport.Width).Render(fmt.Sprintf(
		"%s %s · turns %d · $%.4f · q to stop",
		indicator, phaseLabel, d.turns, d.costUSD,
	))

	return header + d.viewport.View() + "\n" + footer
}

// firstLine truncates multi-line tool results for display.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	if len(s) > 120 {
		return s[:120] + "…"
	}
	return s
}
