package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// newPlanCommand builds `scribe plan <slug>`.
func newPlanCommand(flags *rootFlags) *cobra.Command {
	var (
		description string
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "plan <slug>",
		Short: "Plan a feature: create its specs directory and run phase 0",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := args[0]

			if interactive {
				var err error
				description, err = promptDescription(slug)
				if err != nil {
					return err
				}
			}
			if description == "" {
				return errors.New("a feature description is required (--description or --interactive)")
			}

			d, err := resolveDeps(flags)
			if err != nil {
				return err
			}
			ag, err := d.newAgent()
			if err != nil {
				return err
			}

			sink := newCLISink(d.bus.Subscribe())
			ctx, stop := signalContext(cmd.Context(), d.bus)
			defer stop()

			runErr := d.newDriver(ag).Plan(ctx, slug, description)
			d.bus.Close()
			sink.Wait()
			if runErr != nil {
				return runErr
			}

			fmt.Printf("planned feature %q — review the documents under specs/ then run `scribe run %s`\n", slug, slug)
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "free-form feature description")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt for the description interactively")
	return cmd
}

// promptDescription collects the description through a terminal form.
func promptDescription(slug string) (string, error) {
	var description string
	form := huh.NewForm(huh.NewGroup(
		huh.NewText().
			Title(fmt.Sprintf("Describe the feature %q", slug)).
			Description("What should be built, and why? A few sentences is enough.").
			Value(&description),
	))
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("collecting description: %w", err)
	}
	return description, nil
}

// signalContext wires Ctrl+C to both context cancellation and the bus stop
// flag so the producer can pause the in-flight phase and checkpoint.
func signalContext(parent context.Context, stopper interface{ Stop() }) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stopper.Stop()
	}()
	return ctx, cancel
}
