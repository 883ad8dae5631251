package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig  string // path to YAML config
	flagVerbose bool   // debug logging
)

var rootCmd = &cobra.Command{
	Use:   "regremedy",
	Short: "Diagnose linear-model assumption violations and select remediations",
	Long: `regremedy runs a fitted regression model's residuals through the
assumption checks (residual shape, homoscedasticity across groups,
independence of observations) and recommends the matching remediation:
a response transformation, a distributional family, a clustering strategy
for grouped data, or variance-based reweighting.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if flagVerbose {
			level = slog.LevelDebug
		}
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		slog.SetDefault(slog.New(handler))
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(diagnoseCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
