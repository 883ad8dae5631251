package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"regremedy"
	"regremedy/dataset"
	"regremedy/fit"
)

var (
	analyzeData     string   // CSV path
	analyzeResponse string   // response column
	analyzeKind     string   // response support kind
	analyzeUnit     string   // grouping-key column
	analyzeFactors  []string // categorical columns
	analyzeOut      string   // report output path, "-" for stdout
)

// analyzeCmd runs the full remediation loop on a CSV dataset with the
// bundled least-squares fitter and writes the JSON report.
//
// # Examples
//
//	regremedy analyze --data oysters.csv --response growth --unit tank --factor treatment
//	regremedy analyze --data counts.csv --response n --kind count --out report.json
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the full diagnose/remediate loop on a CSV dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		frame, cfg, err := loadInputs()
		if err != nil {
			return err
		}

		report, m, runErr := regremedy.Run(cmd.Context(), frame, fit.OLS{}, cfg, slog.Default())
		if report != nil {
			if werr := writeReport(report, analyzeOut); werr != nil {
				return werr
			}
		}
		if runErr != nil {
			return fmt.Errorf("remediation failed: %w", runErr)
		}

		slog.Info("analysis complete",
			"terminal", string(report.Terminal),
			"iterations", report.Iterations,
			"df", m.DF)
		return nil
	},
}

// diagnoseCmd runs a single diagnostic pass: fit once, classify, recommend,
// and report, without applying any remediation.
var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Run a single diagnostic pass without refitting",
	RunE: func(cmd *cobra.Command, args []string) error {
		frame, cfg, err := loadInputs()
		if err != nil {
			return err
		}

		m, err := fit.Baseline(cmd.Context(), frame)
		if err != nil {
			return fmt.Errorf("baseline fit: %w", err)
		}

		report, diagErr := regremedy.Diagnose(frame, m, cfg)
		if report != nil {
			if werr := writeReport(report, analyzeOut); werr != nil {
				return werr
			}
		}
		if diagErr != nil {
			return fmt.Errorf("diagnosis failed: %w", diagErr)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, diagnoseCmd} {
		c.Flags().StringVar(&analyzeData, "data", "", "CSV dataset path (required)")
		c.Flags().StringVar(&analyzeResponse, "response", "", "response column name (required)")
		c.Flags().StringVar(&analyzeKind, "kind", "continuous", "response support: continuous, binary, count, proportion")
		c.Flags().StringVar(&analyzeUnit, "unit", "", "grouping-key column name")
		c.Flags().StringSliceVar(&analyzeFactors, "factor", nil, "categorical column (repeatable)")
		c.Flags().StringVar(&analyzeOut, "out", "-", "report output path, - for stdout")
		_ = c.MarkFlagRequired("data")
		_ = c.MarkFlagRequired("response")
	}
}

func loadInputs() (*dataset.Frame, regremedy.Config, error) {
	cfg, err := regremedy.LoadConfig(flagConfig)
	if err != nil {
		return nil, cfg, err
	}

	kind, err := dataset.ParseSupportKind(analyzeKind)
	if err != nil {
		return nil, cfg, err
	}

	frame, err := dataset.LoadCSV(analyzeData, dataset.Schema{
		Response:     analyzeResponse,
		ResponseKind: kind,
		Unit:         analyzeUnit,
		Factors:      analyzeFactors,
	})
	if err != nil {
		return nil, cfg, err
	}
	slog.Debug("dataset loaded", "observations", frame.Len(), "kind", kind.String())
	return frame, cfg, nil
}

func writeReport(report interface{ JSON() ([]byte, error) }, out string) error {
	data, err := report.JSON()
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if out == "-" || out == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(out, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	slog.Info("report written", "path", out)
	return nil
}
