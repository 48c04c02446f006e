package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/scribe-cli/scribe/internal/state"
)

// featureDirRe matches specs/ entries: three digits, dash, slug.
var featureDirRe = regexp.MustCompile(`^(\d{3})-(.+)$`)

// newStatusCommand builds `scribe status <slug>`.
func newStatusCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <slug>",
		Short: "Show a feature's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := resolveDeps(flags)
			if err != nil {
				return err
			}

			fs, dir, err := loadFeatureState(d.repoRoot, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Feature:  %s (%s)\n", fs.Feature.Name, dir)
			fmt.Printf("Status:   %s\n", fs.Status.OverallStatus)
			fmt.Printf("Progress: %d%%\n", fs.CompletionPercentage())
			fmt.Printf("Phase:    %d\n", fs.Status.CurrentPhase)
			fmt.Printf("Branch:   %s\n", fs.Metadata.TargetBranch)
			fmt.Printf("Cost:     $%.4f (%d in / %d out tokens)\n",
				fs.CostSummary.TotalCostUSD,
				fs.CostSummary.TotalTokensInput,
				fs.CostSummary.TotalTokensOutput)
			if fs.Delivery.PRURL != "" {
				fmt.Printf("PR:       %s\n", fs.Delivery.PRURL)
			}
			if fs.Status.CanResume {
				fmt.Printf("Resume:   scribe run %s --resume (checkpoint %q)\n", fs.Feature.Slug, fs.Resume.LastCheckpoint)
			}

			fmt.Println("\nPhases:")
			for n := 1; n <= 7; n++ {
				rec := fs.PhaseByOrdinal(n)
				if rec == nil {
					fmt.Printf("  %d  %-18s pending\n", n, "-")
					continue
				}
				dur := ""
				if rec.DurationSec > 0 {
					dur = (time.Duration(rec.DurationSec) * time.Second).String()
				}
				fmt.Printf("  %d  %-18s %-12s %s\n", n, rec.Name, rec.Status, dur)
			}
			return nil
		},
	}
}

// loadFeatureState finds the feature directory for a slug and reads its
// state file.
func loadFeatureState(repoRoot, slug string) (*state.FeatureState, string, error) {
	specsDir := filepath.Join(repoRoot, "specs")
	entries, err := os.ReadDir(specsDir)
	if err != nil {
		return nil, "", fmt.Errorf("no specs directory at %q", specsDir)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := featureDirRe.FindStringSubmatch(entry.Name())
		if m == nil || m[2] != slug {
			continue
		}
		fs, err := state.ReadStateFile(filepath.Join(specsDir, entry.Name(), state.StateFileName))
		if err != nil {
			return nil, "", err
		}
		return fs, entry.Name(), nil
	}
	return nil, "", fmt.Errorf("feature %q not found under %s", slug, specsDir)
}

// listFeatureStates reads every feature state under specs/, skipping
// unreadable entries.
func listFeatureStates(repoRoot string) []*state.FeatureState {
	specsDir := filepath.Join(repoRoot, "specs")
	entries, err := os.ReadDir(specsDir)
	if err != nil {
		return nil
	}
	var states []*state.FeatureState
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		fs, err := state.ReadStateFile(filepath.Join(specsDir, entry.Name(), state.StateFileName))
		if err != nil {
			continue
		}
		states = append(states, fs)
	}
	return states
}
