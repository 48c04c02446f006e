package cli

import (
	"fmt"
	"os"

	"github.com/muesli/termenv"

	"github.com/scribe-cli/scribe/internal/event"
)

// cliSink drains a bus consumer and prints agent activity to stdout as it
// arrives. It never calls back into the engine; a slow terminal only costs
// dropped bulk events, never stalled execution.
type cliSink struct {
	consumer *event.Consumer
	output   *termenv.Output
	done     chan struct{}
}

// newCLISink starts draining the consumer on its own goroutine.
func newCLISink(consumer *event.Consumer) *cliSink {
	s := &cliSink{
		consumer: consumer,
		output:   termenv.NewOutput(os.Stdout),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

// Wait blocks until the consumer channel is closed and fully drained.
func (s *cliSink) Wait() {
	<-s.done
}

func (s *cliSink) loop() {
	defer close(s.done)
	for ev := range s.consumer.C {
		s.print(ev)
	}
}

func (s *cliSink) print(ev event.Event) {
	p := s.output.ColorProfile()
	switch ev.Kind {
	case event.KindStreamText:
		fmt.Print(ev.Text)
	case event.KindToolUse:
		fmt.Println()
		fmt.Println(s.output.String("⚙ " + ev.Tool).Foreground(p.Color("6")))
	case event.KindToolResult:
		if ev.Result != "" {
			fmt.Println(s.output.String("  ↳ " + firstLine(ev.Result)).Faint())
		}
	case event.KindPhaseStart:
		fmt.Println()
		fmt.Println(s.output.String(fmt.Sprintf("━━ Phase %d: %s ━━", ev.Phase, ev.PhaseName)).Bold())
	case event.KindPhaseComplete:
		fmt.Println(s.output.String(fmt.Sprintf("✓ Phase %d complete", ev.Phase)).Foreground(p.Color("2")))
	case event.KindPhaseFailed:
		fmt.Println(s.output.String(fmt.Sprintf("✗ Phase %d failed [%s]: %s", ev.Phase, ev.Code, ev.Message)).Foreground(p.Color("1")))
	case event.KindError:
		fmt.Println(s.output.String(fmt.Sprintf("error [%s]: %s", ev.Code, ev.Message)).Foreground(p.Color("1")))
	case event.KindStatsUpdate:
		fmt.Println(s.output.String(fmt.Sprintf("  turns=%d cost=$%.4f", ev.Turns, ev.CostUSD)).Faint())
	case event.KindComplete:
		fmt.Println(s.output.String("✔ done").Foreground(p.Color("2")))
	}
}

// firstLine truncates multi-line tool results for terminal display.
func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i] + " …"
		}
		if i > 120 {
			return s[:i] + "…"
		}
	}
	return s
}
