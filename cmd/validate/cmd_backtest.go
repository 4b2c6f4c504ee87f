package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"TPMForge/internal/services/validation"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay the synthetic path and summarise detector output",
	RunE:  runBacktest,
}

func init() {
	rootCmd.AddCommand(backtestCmd)
	addHarnessFlags(backtestCmd)
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	cfg, err := harnessConfig()
	if err != nil {
		return err
	}
	ds := validation.GenerateSynthetic(cfg.Seed, cfg.Ticks)
	bt := validation.RunBacktest(ds.Prices, cfg.Config)
	c := validation.NewConfusion(ds.Labels, bt.Preds)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ticks=%d segments=%d predictions=%d\n", len(ds.Prices), len(ds.Segments), c.TP+c.FP)
	fmt.Fprintf(out, "tp=%d fp=%d fn=%d tn=%d\n", c.TP, c.FP, c.FN, c.TN)
	fmt.Fprintf(out, "precision=%.4f recall=%.4f f1=%.4f fpr=%.4f\n", c.Precision(), c.Recall(), c.F1(), c.FalsePositiveRate())
	for _, lt := range validation.LeadTimes(ds.Labels, bt.Preds, cfg.PreEventWindow) {
		fmt.Fprintf(out, "lead_time=%d\n", lt)
	}
	return nil
}
