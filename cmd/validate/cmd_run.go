package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"TPMForge/internal/services/alpha"
	"TPMForge/internal/services/validation"
	"TPMForge/pkg/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the validation harness",
	Example: `  tpm-validate run
  tpm-validate run --seed 7 --permutations 1000 --out ./reports
  tpm-validate run --config config/config.yaml --strict`,
	RunE: runValidation,
}

var (
	runConfigPath   string
	runTicks        int
	runSeed         int64
	runPermutations int
	runOut          string
	runJSON         bool
	runStrict       bool
	runNoWrite      bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	addHarnessFlags(runCmd)
	runCmd.Flags().IntVar(&runPermutations, "permutations", 0, "permutations per null distribution (0 keeps the config value)")
	runCmd.Flags().StringVar(&runOut, "out", "", "artifact directory (empty keeps validation.output_dir)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the report as JSON instead of a table")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "exit non-zero unless every test passes")
	runCmd.Flags().BoolVar(&runNoWrite, "no-write", false, "skip writing artifacts")
}

func addHarnessFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&runConfigPath, "config", "config/config.yaml", "config file; missing means defaults")
	cmd.Flags().IntVar(&runTicks, "ticks", 0, "synthetic ticks (0 keeps the config value)")
	cmd.Flags().Int64Var(&runSeed, "seed", -1, "generator seed (-1 keeps the config value)")
}

// harnessConfig loads validation and detector settings from the config file
// and applies flag overrides.
func harnessConfig() (validation.Config, error) {
	cfg, err := config.Load(runConfigPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
	case err != nil:
		return validation.Config{}, err
	}

	v := validation.Config{
		Ticks:          cfg.Validation.Ticks,
		Seed:           cfg.Validation.Seed,
		PreEventWindow: cfg.Validation.PreEventWindow,
		Permutations:   cfg.Validation.Permutations,
		OutputDir:      cfg.Validation.OutputDir,
		Config:         alpha.Config(cfg.Detector),
	}
	if runTicks > 0 {
		v.Ticks = runTicks
	}
	if runSeed >= 0 {
		v.Seed = runSeed
	}
	if runPermutations > 0 {
		v.Permutations = runPermutations
	}
	if runOut != "" {
		v.OutputDir = runOut
	}
	return v, v.Validate()
}

func runValidation(cmd *cobra.Command, _ []string) error {
	cfg, err := harnessConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rep, _, err := validation.Run(ctx, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TEST\tMETRIC\tP-VALUE\tPASS\tNOTES")
		for _, t := range rep.Tests {
			fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%t\t%s\n", t.Name, t.Metric, t.PValue, t.Passed, t.Notes)
		}
		_ = tw.Flush()
		fmt.Fprintf(out, "\npassed %d/%d (run %s)\n", rep.PassCount, len(rep.Tests), rep.RunID)
	}

	if !runNoWrite {
		jsonPath, mdPath, err := validation.WriteArtifacts(cfg.OutputDir, rep)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s and %s\n", jsonPath, mdPath)
	}

	if runStrict && rep.PassCount < len(rep.Tests) {
		return fmt.Errorf("%d of %d tests failed", len(rep.Tests)-rep.PassCount, len(rep.Tests))
	}
	return nil
}
