package cli

import (
	"github.com/spf13/cobra"

	"github.com/scribe-cli/scribe/internal/driver"
	"github.com/scribe-cli/scribe/internal/tui"
)

// newRunCommand builds `scribe run <slug>`.
func newRunCommand(flags *rootFlags) *cobra.Command {
	var (
		phaseNum    int
		resume      bool
		dryRun      bool
		skipReview  bool
		skipTest    bool
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "run <slug>",
		Short: "Run the seven execution phases for a planned feature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := resolveDeps(flags)
			if err != nil {
				return err
			}
			ag, err := d.newAgent()
			if err != nil {
				return err
			}

			opts := driver.RunOptions{
				Slug:       args[0],
				Phase:      phaseNum,
				Resume:     resume,
				DryRun:     dryRun,
				SkipReview: skipReview,
				SkipTest:   skipTest,
			}

			ctx, stop := signalContext(cmd.Context(), d.bus)
			defer stop()

			if interactive {
				// The dashboard drains its own consumer on the UI thread.
				dash := tui.NewDashboard(opts.Slug, d.bus.Subscribe(), d.bus)
				errCh := make(chan error, 1)
				go func() {
					errCh <- d.newDriver(ag).Run(ctx, opts)
					d.bus.Close()
				}()
				if err := dash.Run(); err != nil {
					return err
				}
				return <-errCh
			}

			sink := newCLISink(d.bus.Subscribe())
			runErr := d.newDriver(ag).Run(ctx, opts)
			d.bus.Close()
			sink.Wait()
			return runErr
		},
	}

	cmd.Flags().IntVar(&phaseNum, "phase", 0, "run a single phase (1-7)")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume an interrupted run at its last phase")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "render prompts without invoking the agent")
	cmd.Flags().BoolVar(&skipReview, "skip-review", false, "mark the review phase completed without running it")
	cmd.Flags().BoolVar(&skipTest, "skip-test", false, "mark the verification phase completed without running it")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "show the interactive run dashboard")
	return cmd
}
