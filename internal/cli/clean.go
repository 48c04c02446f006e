package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scribe-cli/scribe/internal/worktree"
)

// newCleanCommand builds `scribe clean`.
func newCleanCommand(flags *rootFlags) *cobra.Command {
	var (
		dryRun bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove worktrees of completed features whose PR is merged or closed",
		Long: `Clean scans specs/*/state.yml for features that are completed and whose
pull request is MERGED or CLOSED, then removes their worktrees under
.trees/. The specs/ directory is permanent and is never touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := resolveDeps(flags)
			if err != nil {
				return err
			}

			mgr := worktree.NewManagerWithHostingCLI(d.repoRoot)

			if dryRun {
				candidates, err := mgr.CleanCompleted(cmd.Context(), true)
				if err != nil {
					return err
				}
				if len(candidates) == 0 {
					fmt.Println("nothing to clean")
					return nil
				}
				for _, name := range candidates {
					fmt.Printf("would remove .trees/%s\n", name)
				}
				return nil
			}

			if !force {
				candidates, err := mgr.CleanCompleted(cmd.Context(), true)
				if err != nil {
					return err
				}
				if len(candidates) == 0 {
					fmt.Println("nothing to clean")
					return nil
				}
				fmt.Printf("about to remove %d worktree(s); re-run with --force to proceed or --dry-run to inspect\n", len(candidates))
				return nil
			}

			removed, err := mgr.CleanCompleted(cmd.Context(), false)
			if err != nil {
				return err
			}
			for _, name := range removed {
				fmt.Printf("removed .trees/%s\n", name)
			}
			fmt.Printf("cleaned %d worktree(s)\n", len(removed))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list candidates without removing")
	cmd.Flags().BoolVar(&force, "force", false, "remove without confirmation")
	return cmd
}
