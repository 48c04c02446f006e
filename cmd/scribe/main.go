// Command scribe drives an AI coding agent through a resumable,
// phase-based feature pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/scribe-cli/scribe/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
