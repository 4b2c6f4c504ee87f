package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tpm-validate",
	Short: "Offline validation of the alpha detector",
	Long: `tpm-validate replays a seeded synthetic price path through the alpha
detector and scores it with five statistical tests.

Subcommands:
  run        full harness, writes the JSON record and markdown report
  backtest   detector output only, no statistics
  synthetic  dump the generated price path as CSV`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
