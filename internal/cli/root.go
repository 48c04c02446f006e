// Package cli wires the scribe command tree.
//
// Subcommands: plan, run, status, list, clean, version. Exit status is 0
// on success and non-zero with a short message on error; all diagnostics
// go to stderr, leaving stdout for structured output.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/scribe-cli/scribe/internal/logging"
)

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	verbose bool
	quiet   bool
	json    bool
	repo    string
	config  string
}

// NewRootCommand builds the scribe command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "scribe",
		Short: "Drive an AI coding agent through a resumable feature pipeline",
		Long: `Scribe turns a short feature description into a reviewed, verified,
branch-isolated code change. A feature is planned once (producing its
specification documents) and then run through seven phases: Observer,
Planning, two Execute phases, Review, Fix, and Verification. Progress is
persisted after every step so an interrupted run can be resumed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(flags.verbose, flags.quiet, flags.json)
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.quiet, "quiet", "q", false, "only log errors")
	pf.BoolVar(&flags.json, "json", false, "log as NDJSON")
	pf.StringVar(&flags.repo, "repo", "", "repository root (default: configured or current directory)")
	pf.StringVar(&flags.config, "config", "", "path to scribe.toml")

	root.AddCommand(
		newPlanCommand(flags),
		newRunCommand(flags),
		newStatusCommand(flags),
		newListCommand(flags),
		newCleanCommand(flags),
		newVersionCommand(),
	)

	return root
}
